// Package timing turns RFID timing events into lap records, finishes and
// placements, and drives the race clock.
//
// Every event runs in its own store transaction. Ingestion holds a shared
// lock on the race and an exclusive lock on the runner; finishing
// additionally locks the race+gender cohort while it hands out a place.
// Start, stop and recompute take the race lock exclusively so they never
// interleave with live ingestion for the same race.
package timing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/playperu/simple5k/internal/tracker"
)

// Update is pushed to live-feed subscribers after a change commits.
type Update struct {
	Type       string         `json:"type"`
	RaceID     int64          `json:"raceId"`
	RunnerID   int64          `json:"runnerId,omitempty"`
	Bib        *int           `json:"bib,omitempty"`
	Name       string         `json:"name,omitempty"`
	Gender     tracker.Gender `json:"gender,omitempty"`
	Lap        int            `json:"lap,omitempty"`
	LapsCount  int            `json:"lapsCount,omitempty"`
	At         time.Time      `json:"at"`
	DurationMS int64          `json:"durationMs,omitempty"`
	Place      *int           `json:"place,omitempty"`
	Status     string         `json:"status,omitempty"`
}

const (
	UpdateLap        = "lap"
	UpdateFinish     = "finish"
	UpdateRaceStatus = "race_status"
	UpdatePlacements = "placements"
	UpdateChipStart  = "chip_start"
)

// Publisher receives committed updates. Implementations must not block.
type Publisher interface {
	Publish(ctx context.Context, u Update)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Update) {}

type Engine struct {
	store   tracker.Store
	clock   clockwork.Clock
	logger  *slog.Logger
	pub     Publisher
	metrics *Metrics

	races   *keyedLocks[int64]
	runners *keyedLocks[int64]
	cohorts *keyedLocks[cohortKey]

	// clockMu serialises race clock transitions across races so the
	// single in-progress check cannot race with another start. numbersMu
	// does the same for system-wide bib allocation.
	clockMu   sync.Mutex
	numbersMu sync.Mutex
}

type cohortKey struct {
	raceID int64
	gender tracker.Gender
}

type Option func(*Engine)

func WithClock(c clockwork.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithPublisher(p Publisher) Option { return func(e *Engine) { e.pub = p } }

func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }

func New(store tracker.Store, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
		pub:     nopPublisher{},
		races:   newKeyedLocks[int64](),
		runners: newKeyedLocks[int64](),
		cohorts: newKeyedLocks[cohortKey](),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now is the engine's clock, used when a command carries no timestamp.
func (e *Engine) Now() time.Time { return e.clock.Now().UTC() }

// Kind is the wire name of a per-event failure.
type Kind string

const (
	KindRunnerNotFound   Kind = "RunnerNotFound"
	KindRaceNotFound     Kind = "RaceNotFound"
	KindInvalidTimestamp Kind = "InvalidTimestamp"
	KindMissingField     Kind = "MissingField"
	KindRaceNotStarted   Kind = "RaceNotStarted"
	KindInvalidGender    Kind = "InvalidGender"
	KindInternal         Kind = "Internal"
)

// KindOf maps an ingestion error onto the failure taxonomy.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, tracker.ErrRaceNotFound):
		return KindRaceNotFound
	case errors.Is(err, tracker.ErrRunnerNotFound), errors.Is(err, tracker.ErrTagNotFound):
		return KindRunnerNotFound
	case errors.Is(err, tracker.ErrInvalidTimestamp):
		return KindInvalidTimestamp
	case errors.Is(err, tracker.ErrMissingField):
		return KindMissingField
	case errors.Is(err, tracker.ErrRaceNotStarted):
		return KindRaceNotStarted
	case errors.Is(err, tracker.ErrInvalidGender):
		return KindInvalidGender
	default:
		return KindInternal
	}
}

func logLevel(k Kind) slog.Level {
	if k == KindInternal {
		return slog.LevelError
	}
	return slog.LevelWarn
}
