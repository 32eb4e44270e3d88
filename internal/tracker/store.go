package tracker

import (
	"context"
	"time"
)

// Tx is the set of Timing Store operations available inside one atomic
// unit of work. Lookups that match nothing return an error wrapping
// ErrNotFound.
type Tx interface {
	RaceByID(ctx context.Context, id int64) (Race, error)
	InProgressRace(ctx context.Context) (Race, error)
	UpdateRaceClock(ctx context.Context, id int64, status RaceStatus, start, end *time.Time) error

	TagByRFID(ctx context.Context, rfidHex string) (Tag, error)
	CreateTag(ctx context.Context, rfidHex string) (Tag, error)

	RunnerByID(ctx context.Context, id int64) (Runner, error)
	RunnerByTag(ctx context.Context, raceID, tagID int64) (Runner, error)
	RunnerByNumber(ctx context.Context, raceID int64, number int) (Runner, error)
	RunnersByRace(ctx context.Context, raceID int64) ([]Runner, error)
	UnnumberedRunners(ctx context.Context, raceID int64) ([]Runner, error)
	UsedNumbers(ctx context.Context, from int) ([]int, error)
	SetRunnerNumber(ctx context.Context, runnerID int64, number int) error
	SetRunnerTag(ctx context.Context, runnerID int64, tagID *int64) error

	// Finishers returns completed runners of one cohort ordered by
	// total race time, then id.
	Finishers(ctx context.Context, raceID int64, gender Gender) ([]Runner, error)
	MaxPlace(ctx context.Context, raceID int64, gender Gender) (int, error)
	SaveResult(ctx context.Context, r Runner) error
	SetPlace(ctx context.Context, runnerID int64, place int) error

	LastLap(ctx context.Context, runnerID, raceID int64) (LapRecord, error)
	LapByNumber(ctx context.Context, runnerID, raceID int64, lap int) (LapRecord, error)
	CreateLap(ctx context.Context, lap *LapRecord) error
}

// Store runs fn atomically: if fn returns an error nothing it wrote is kept.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error
}
