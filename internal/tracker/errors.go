package tracker

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrInvalidStatus = errors.New("invalid race status")

	ErrRaceNotFound     error = notFoundError("race not found")
	ErrRunnerNotFound   error = notFoundError("runner not found")
	ErrTagNotFound      error = notFoundError("tag not found")
	ErrEmailJobNotFound error = notFoundError("email job not found")

	ErrTagInUse              = errors.New("tag already assigned to another runner in this race")
	ErrInvalidTag            = errors.New("tag must be a hexadecimal identifier")
	ErrRaceNotStarted        = errors.New("race has not been started")
	ErrAnotherRaceInProgress = errors.New("another race is already in progress")
	ErrInvalidTimestamp      = errors.New("invalid timestamp")
	ErrMissingField          = errors.New("missing required field")
	ErrFieldTooLong          = errors.New("field too long")
	ErrInvalidGender         = errors.New("gender must be male or female")
	ErrInvalidAgeBracket     = errors.New("unknown age bracket")
	ErrInvalidShirtSize      = errors.New("unknown shirt size")
	ErrSignupClosed          = errors.New("signup is closed for this race")
	ErrRaceFull              = errors.New("race is full")
)

// notFoundError is a specific lookup miss that also matches ErrNotFound.
type notFoundError string

func (e notFoundError) Error() string { return string(e) }

func (e notFoundError) Is(target error) bool { return target == ErrNotFound }
