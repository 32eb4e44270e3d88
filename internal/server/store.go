package server

import (
	"context"
	"time"

	"github.com/playperu/simple5k/internal/live"
	"github.com/playperu/simple5k/internal/store"
	"github.com/playperu/simple5k/internal/timing"
	"github.com/playperu/simple5k/internal/tracker"
)

// Store is what the HTTP layer reads and writes directly. Anything that
// touches the race clock, laps or placements goes through Timing instead.
type Store interface {
	ListRaces(ctx context.Context) ([]tracker.Race, error)
	AvailableRaces(ctx context.Context) ([]tracker.Race, error)
	RaceByID(ctx context.Context, id int64) (tracker.Race, error)
	CreateRace(ctx context.Context, r tracker.Race) (tracker.Race, error)
	UpdateRace(ctx context.Context, r tracker.Race) (tracker.Race, error)

	CountRunners(ctx context.Context, raceID int64) (int, error)
	RunnerByID(ctx context.Context, id int64) (tracker.Runner, error)
	RunnersByRace(ctx context.Context, raceID int64) ([]tracker.Runner, error)
	CreateRunner(ctx context.Context, r tracker.Runner) (tracker.Runner, error)
	SignUp(ctx context.Context, r tracker.Runner) (tracker.Runner, error)
	UpdateRunner(ctx context.Context, r tracker.Runner) (tracker.Runner, error)

	ShirtSizes(ctx context.Context, raceID int64) ([]tracker.ShirtCount, error)

	CreateEmailJob(ctx context.Context, j tracker.EmailJob) (tracker.EmailJob, error)
	EmailJobs(ctx context.Context, raceID int64) ([]tracker.EmailJob, error)
	ResetStuckEmailJobs(ctx context.Context, cutoff, now time.Time) (int, error)

	LapsByRace(ctx context.Context, raceID int64) (map[int64][]tracker.LapRecord, error)
	LapsByRunner(ctx context.Context, runnerID int64) ([]tracker.LapRecord, error)

	AdminByEmail(ctx context.Context, email string) (store.Admin, error)
	CreateAdminSession(ctx context.Context, adminID int64) (string, error)
	DeleteAdminSession(ctx context.Context, sessionID string) error
	AdminFromSession(ctx context.Context, sessionID string) (store.Admin, error)

	CreateAPIKey(ctx context.Context, name string) (store.APIKey, string, error)
	ListAPIKeys(ctx context.Context) ([]store.APIKey, error)
	DeactivateAPIKey(ctx context.Context, id string) error
	VerifyAPIKey(ctx context.Context, plain string) (store.APIKey, error)
}

// Timing is the race timing engine.
type Timing interface {
	Now() time.Time
	RecordBatch(ctx context.Context, events []timing.Event) []timing.Result
	StartRace(ctx context.Context, raceID int64, at time.Time) (tracker.Race, error)
	StopRace(ctx context.Context, raceID int64, at time.Time) (tracker.Race, error)
	SetSignup(ctx context.Context, raceID int64, open bool) (tracker.Race, error)
	AssignTag(ctx context.Context, raceID int64, bib int, rfid string, mode timing.TagMode) (timing.Assignment, error)
	AssignNumbers(ctx context.Context, raceID int64) ([]timing.NumberAssignment, error)
	RecomputePlacements(ctx context.Context, raceID int64) (timing.Summary, error)
}

var (
	_ Store       = (*store.SQLiteStore)(nil)
	_ Timing      = (*timing.Engine)(nil)
	_ live.Broker = (*live.MemoryBroker)(nil)
	_ live.Broker = (*live.RedisBroker)(nil)
)
