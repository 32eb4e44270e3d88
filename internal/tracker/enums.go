package tracker

import "fmt"

type RaceStatus string

const (
	RaceSignupClosed RaceStatus = "signup_closed"
	RaceSignupOpen   RaceStatus = "signup_open"
	RaceInProgress   RaceStatus = "in_progress"
	RaceCompleted    RaceStatus = "completed"
)

var raceStatusLabels = map[RaceStatus]string{
	RaceSignupClosed: "Signup closed",
	RaceSignupOpen:   "Signup open",
	RaceInProgress:   "In progress",
	RaceCompleted:    "Completed",
}

func (s RaceStatus) Valid() bool {
	_, ok := raceStatusLabels[s]
	return ok
}

func (s RaceStatus) Label() string {
	return raceStatusLabels[s]
}

// Started reports whether the race clock has been started at least once.
func (s RaceStatus) Started() bool {
	return s == RaceInProgress || s == RaceCompleted
}

func ParseRaceStatus(s string) (RaceStatus, error) {
	st := RaceStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("race status %q: %w", s, ErrInvalidStatus)
	}
	return st, nil
}

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Genders lists the placement cohorts in reporting order.
var Genders = []Gender{GenderFemale, GenderMale}

var genderLabels = map[Gender]string{
	GenderMale:   "Male",
	GenderFemale: "Female",
}

func (g Gender) Valid() bool {
	_, ok := genderLabels[g]
	return ok
}

func (g Gender) Label() string {
	return genderLabels[g]
}

func ParseGender(s string) (Gender, error) {
	g := Gender(s)
	if !g.Valid() {
		return "", fmt.Errorf("gender %q: %w", s, ErrInvalidGender)
	}
	return g, nil
}

type AgeBracket string

const (
	AgeUnder18 AgeBracket = "under_18"
	Age18To29  AgeBracket = "18_29"
	Age30To39  AgeBracket = "30_39"
	Age40To49  AgeBracket = "40_49"
	Age50To59  AgeBracket = "50_59"
	Age60Plus  AgeBracket = "60_plus"
)

var ageBracketLabels = map[AgeBracket]string{
	AgeUnder18: "Under 18",
	Age18To29:  "18-29",
	Age30To39:  "30-39",
	Age40To49:  "40-49",
	Age50To59:  "50-59",
	Age60Plus:  "60+",
}

// Valid accepts the empty bracket; age is optional at signup.
func (a AgeBracket) Valid() bool {
	if a == "" {
		return true
	}
	_, ok := ageBracketLabels[a]
	return ok
}

func (a AgeBracket) Label() string {
	return ageBracketLabels[a]
}

type ShirtSize string

const (
	ShirtXS  ShirtSize = "xs"
	ShirtS   ShirtSize = "s"
	ShirtM   ShirtSize = "m"
	ShirtL   ShirtSize = "l"
	ShirtXL  ShirtSize = "xl"
	ShirtXXL ShirtSize = "xxl"
)

// ShirtSizes lists the sizes smallest first, the order of the pickup
// summary.
var ShirtSizes = []ShirtSize{ShirtXS, ShirtS, ShirtM, ShirtL, ShirtXL, ShirtXXL}

var shirtSizeLabels = map[ShirtSize]string{
	ShirtXS:  "Extra Small",
	ShirtS:   "Small",
	ShirtM:   "Medium",
	ShirtL:   "Large",
	ShirtXL:  "Extra Large",
	ShirtXXL: "XXL",
}

// Valid accepts the empty size; not every race hands out shirts.
func (s ShirtSize) Valid() bool {
	if s == "" {
		return true
	}
	_, ok := shirtSizeLabels[s]
	return ok
}

func (s ShirtSize) Label() string {
	return shirtSizeLabels[s]
}

type EmailJobStatus string

const (
	EmailJobQueued    EmailJobStatus = "queued"
	EmailJobSending   EmailJobStatus = "sending"
	EmailJobCompleted EmailJobStatus = "completed"
	EmailJobFailed    EmailJobStatus = "failed"
)
