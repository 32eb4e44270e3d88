package timing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playperu/simple5k/internal/tracker"
)

// Outcome describes what an accepted event did.
type Outcome string

const (
	OutcomeLapRecorded      Outcome = "lap_recorded"
	OutcomeFinished         Outcome = "finished"
	OutcomeChipStart        Outcome = "chip_start"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeAlreadyCompleted Outcome = "already_completed"
	OutcomeBeyondFinalLap   Outcome = "beyond_final_lap"
)

// Event is one crossing as reported by timing hardware.
type Event struct {
	Tag       string `json:"tag"`
	RaceID    int64  `json:"raceId"`
	Timestamp string `json:"timestamp"`
}

// Result is the per-event answer returned to the timing client.
type Result struct {
	Tag      string  `json:"tag,omitempty"`
	RaceID   int64   `json:"raceId,omitempty"`
	Status   string  `json:"status"`
	Outcome  Outcome `json:"outcome,omitempty"`
	RunnerID int64   `json:"runnerId,omitempty"`
	Lap      *int    `json:"lap,omitempty"`
	Place    *int    `json:"place,omitempty"`
	Error    Kind    `json:"error,omitempty"`
	Message  string  `json:"message,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Recorded is the typed result of Record.
type Recorded struct {
	Outcome  Outcome
	RunnerID int64
	Lap      int
	Place    *int
}

// errTagMoved means the tag changed hands between resolving the runner and
// locking it.
var errTagMoved = errors.New("tag reassigned during ingestion")

// TimestampLayout is the only form timing hardware may send: UTC with
// exactly six fractional digits.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// ParseTimestamp parses a timing event timestamp in TimestampLayout.
func ParseTimestamp(s string) (time.Time, error) {
	return parseTime(s, TimestampLayout)
}

// ParseInstant parses any RFC 3339 instant and returns it in UTC. Race clock
// commands typed by an operator use it.
func ParseInstant(s string) (time.Time, error) {
	return parseTime(s, time.RFC3339Nano)
}

func parseTime(s, layout string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: timestamp", tracker.ErrMissingField)
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", tracker.ErrInvalidTimestamp, s)
	}
	return t.UTC(), nil
}

// RecordBatch processes events independently, in order. A failing event
// never affects its siblings.
func (e *Engine) RecordBatch(ctx context.Context, events []Event) []Result {
	results := make([]Result, len(events))
	for i, ev := range events {
		results[i] = e.RecordEvent(ctx, ev)
	}
	return results
}

// RecordEvent validates a wire event and records it.
func (e *Engine) RecordEvent(ctx context.Context, ev Event) Result {
	res := Result{Tag: ev.Tag, RaceID: ev.RaceID}

	rec, err := e.recordEvent(ctx, ev)
	if err != nil {
		res.Status = StatusFailed
		res.Error = KindOf(err)
		res.Message = err.Error()
		if res.Error == KindInternal {
			res.Message = "internal error"
		}
		return res
	}

	res.Status = StatusSuccess
	res.Outcome = rec.Outcome
	res.RunnerID = rec.RunnerID
	if rec.Outcome != OutcomeAlreadyCompleted {
		lap := rec.Lap
		res.Lap = &lap
	}
	res.Place = rec.Place
	return res
}

func (e *Engine) recordEvent(ctx context.Context, ev Event) (Recorded, error) {
	at, err := validateEvent(ev)
	if err != nil {
		e.metrics.event(string(KindOf(err)))
		return Recorded{}, err
	}
	return e.Record(ctx, ev.Tag, ev.RaceID, at)
}

func validateEvent(ev Event) (time.Time, error) {
	if strings.TrimSpace(ev.Tag) == "" {
		return time.Time{}, fmt.Errorf("%w: tag", tracker.ErrMissingField)
	}
	if ev.RaceID == 0 {
		return time.Time{}, fmt.Errorf("%w: raceId", tracker.ErrMissingField)
	}
	return ParseTimestamp(ev.Timestamp)
}

// Record ingests one crossing of the tag rfid in race raceID at time at.
// Live updates go out once the race and runner locks are released.
func (e *Engine) Record(ctx context.Context, rfid string, raceID int64, at time.Time) (Recorded, error) {
	rfid = tracker.NormalizeRFID(rfid)
	at = at.UTC().Truncate(time.Microsecond)

	rec, updates, err := e.record(ctx, rfid, raceID, at)
	if err != nil {
		kind := KindOf(err)
		e.metrics.event(string(kind))
		e.logger.Log(ctx, logLevel(kind), "timing event rejected",
			"race_id", raceID, "tag", rfid, "at", at, "kind", kind, "error", err)
		return Recorded{}, err
	}

	e.metrics.event(string(rec.Outcome))
	if rec.Outcome == OutcomeFinished {
		e.metrics.finish()
		e.logger.Info("runner finished",
			"runner_id", rec.RunnerID, "race_id", raceID, "lap", rec.Lap, "place", derefInt(rec.Place))
	}
	for _, u := range updates {
		e.pub.Publish(ctx, u)
	}
	return rec, nil
}

func (e *Engine) record(ctx context.Context, rfid string, raceID int64, at time.Time) (Recorded, []Update, error) {
	unlock := e.races.RLock(raceID)
	defer unlock()

	var (
		rec     Recorded
		updates []Update
		err     error
	)
	for attempt := 0; attempt < 3; attempt++ {
		var runnerID int64
		runnerID, err = e.resolve(ctx, rfid, raceID)
		if err != nil {
			break
		}
		rec, updates, err = e.ingestRunner(ctx, runnerID, rfid, raceID, at)
		if !errors.Is(err, errTagMoved) {
			break
		}
	}
	return rec, updates, err
}

// resolve finds the runner of raceID currently holding the tag.
func (e *Engine) resolve(ctx context.Context, rfid string, raceID int64) (int64, error) {
	var runnerID int64
	err := e.store.InTx(ctx, func(tx tracker.Tx) error {
		race, err := tx.RaceByID(ctx, raceID)
		if err != nil {
			return err
		}
		if race.StartTime == nil {
			return fmt.Errorf("race %d: %w", raceID, tracker.ErrRaceNotStarted)
		}
		tag, err := tx.TagByRFID(ctx, rfid)
		if err != nil {
			return fmt.Errorf("tag %s: %w", rfid, err)
		}
		runner, err := tx.RunnerByTag(ctx, raceID, tag.ID)
		if err != nil {
			return fmt.Errorf("tag %s in race %d: %w", rfid, raceID, err)
		}
		runnerID = runner.ID
		return nil
	})
	return runnerID, err
}

func (e *Engine) ingestRunner(ctx context.Context, runnerID int64, rfid string, raceID int64, at time.Time) (Recorded, []Update, error) {
	unlock := e.runners.Lock(runnerID)
	defer unlock()

	var (
		rec     Recorded
		updates []Update
	)
	err := e.store.InTx(ctx, func(tx tracker.Tx) error {
		var err error
		rec, updates, err = e.ingest(ctx, tx, runnerID, rfid, raceID, at)
		return err
	})
	return rec, updates, err
}

// ingest is the per-event read-modify-write. The next lap number always
// derives from the runner's highest stored lap, never from the payload.
func (e *Engine) ingest(ctx context.Context, tx tracker.Tx, runnerID int64, rfid string, raceID int64, at time.Time) (Recorded, []Update, error) {
	race, err := tx.RaceByID(ctx, raceID)
	if err != nil {
		return Recorded{}, nil, err
	}
	if race.StartTime == nil {
		return Recorded{}, nil, fmt.Errorf("race %d: %w", raceID, tracker.ErrRaceNotStarted)
	}
	tag, err := tx.TagByRFID(ctx, rfid)
	if errors.Is(err, tracker.ErrNotFound) {
		return Recorded{}, nil, errTagMoved
	}
	if err != nil {
		return Recorded{}, nil, err
	}
	runner, err := tx.RunnerByTag(ctx, raceID, tag.ID)
	if errors.Is(err, tracker.ErrNotFound) || (err == nil && runner.ID != runnerID) {
		return Recorded{}, nil, errTagMoved
	}
	if err != nil {
		return Recorded{}, nil, err
	}

	rec := Recorded{RunnerID: runner.ID}
	if runner.RaceCompleted {
		rec.Outcome = OutcomeAlreadyCompleted
		rec.Place = runner.Place
		return rec, nil, nil
	}

	start := *race.StartTime
	lap := tracker.LapRecord{RunnerID: runner.ID, RaceID: race.ID, Time: at}

	prev, err := tx.LastLap(ctx, runner.ID, race.ID)
	switch {
	case errors.Is(err, tracker.ErrNotFound):
		lap.Duration = at.Sub(start)
		if lap.Duration <= race.MinLapTime {
			// Too close to the gun to be a lap: anchor chip time instead.
			lap.Lap = 0
			if err := tx.CreateLap(ctx, &lap); err != nil {
				return rec, nil, err
			}
			rec.Outcome = OutcomeChipStart
			return rec, []Update{lapUpdate(UpdateChipStart, race, runner, lap)}, nil
		}
		lap.Lap = 1
	case err != nil:
		return rec, nil, err
	default:
		if at.Sub(prev.Time) <= race.MinLapTime {
			rec.Outcome = OutcomeDuplicate
			rec.Lap = prev.Lap
			return rec, nil, nil
		}
		lap.Lap = prev.Lap + 1
		if lap.Lap > race.LapsCount {
			rec.Outcome = OutcomeBeyondFinalLap
			rec.Lap = prev.Lap
			return rec, nil, nil
		}
		lap.Duration = at.Sub(prev.Time)
	}

	lapKm := race.LapDistanceKm()
	lap.AverageSpeed = tracker.LapSpeedMPH(lapKm, lap.Duration)
	lap.AveragePace = tracker.LapPace(lapKm, lap.Duration)
	if err := tx.CreateLap(ctx, &lap); err != nil {
		return rec, nil, err
	}
	rec.Lap = lap.Lap
	rec.Outcome = OutcomeLapRecorded
	updates := []Update{lapUpdate(UpdateLap, race, runner, lap)}

	if lap.Lap < race.LapsCount {
		return rec, updates, nil
	}

	done, renumbered, err := e.finalize(ctx, tx, race, runner, at)
	if err != nil {
		return rec, nil, err
	}
	rec.Outcome = OutcomeFinished
	rec.Place = done.Place
	updates = append(updates, Update{
		Type:       UpdateFinish,
		RaceID:     race.ID,
		RunnerID:   done.ID,
		Bib:        done.Number,
		Name:       done.Name(),
		Gender:     done.Gender,
		Lap:        lap.Lap,
		LapsCount:  race.LapsCount,
		At:         at,
		DurationMS: done.TotalRaceTime.Milliseconds(),
		Place:      done.Place,
	})
	if renumbered {
		updates = append(updates, Update{Type: UpdatePlacements, RaceID: race.ID, At: at})
	}
	return rec, updates, nil
}

func lapUpdate(typ string, race tracker.Race, runner tracker.Runner, lap tracker.LapRecord) Update {
	return Update{
		Type:       typ,
		RaceID:     race.ID,
		RunnerID:   runner.ID,
		Bib:        runner.Number,
		Name:       runner.Name(),
		Gender:     runner.Gender,
		Lap:        lap.Lap,
		LapsCount:  race.LapsCount,
		At:         lap.Time,
		DurationMS: lap.Duration.Milliseconds(),
	}
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
