package timing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playperu/simple5k/internal/tracker"
)

// completion fills the result fields of a runner who crossed the line at
// finish. Chip time runs from the lap-0 crossing when one exists.
func completion(ctx context.Context, tx tracker.Tx, race tracker.Race, r tracker.Runner, finish time.Time) (tracker.Runner, error) {
	if race.StartTime == nil {
		return r, fmt.Errorf("race %d: %w", race.ID, tracker.ErrRaceNotStarted)
	}
	gun := finish.Sub(*race.StartTime)

	chipStart := *race.StartTime
	lap0, err := tx.LapByNumber(ctx, r.ID, race.ID, 0)
	switch {
	case err == nil:
		chipStart = lap0.Time
	case !errors.Is(err, tracker.ErrNotFound):
		return r, err
	}
	chip := finish.Sub(chipStart)

	speed := tracker.RaceSpeedMPH(race.DistanceKm(), gun)
	pace := tracker.RacePace(race.DistanceMeters, gun)

	r.RaceCompleted = true
	r.TotalRaceTime = &gun
	r.ChipTime = &chip
	r.RaceAvgSpeed = &speed
	r.RaceAvgPace = &pace
	return r, nil
}

// finalize completes a runner on their final lap. The place handed out is
// the cohort's next counter value; the cohort is then reconciled against
// gun-time order so an out-of-order finisher cannot leave places wrong.
func (e *Engine) finalize(ctx context.Context, tx tracker.Tx, race tracker.Race, r tracker.Runner, finish time.Time) (tracker.Runner, bool, error) {
	if !r.Gender.Valid() {
		return r, false, fmt.Errorf("runner %d: %w", r.ID, tracker.ErrInvalidGender)
	}
	done, err := completion(ctx, tx, race, r, finish)
	if err != nil {
		return r, false, err
	}

	unlock := e.cohorts.Lock(cohortKey{raceID: race.ID, gender: r.Gender})
	defer unlock()

	last, err := tx.MaxPlace(ctx, race.ID, r.Gender)
	if err != nil {
		return r, false, err
	}
	place := last + 1
	done.Place = &place
	if err := tx.SaveResult(ctx, done); err != nil {
		return r, false, err
	}

	moved, err := reassignPlaces(ctx, tx, race.ID, r.Gender)
	if err != nil {
		return r, false, err
	}
	if len(moved) == 0 {
		return done, false, nil
	}
	e.metrics.correction()
	if p, ok := moved[done.ID]; ok {
		done.Place = &p
	}
	e.logger.Info("cohort renumbered after out-of-order finish",
		"race_id", race.ID, "gender", r.Gender, "runner_id", done.ID, "renumbered", len(moved))
	return done, true, nil
}

// reassignPlaces numbers a cohort's finishers 1..N by ascending gun time,
// id breaking ties, and writes only the places that changed.
func reassignPlaces(ctx context.Context, tx tracker.Tx, raceID int64, gender tracker.Gender) (map[int64]int, error) {
	finishers, err := tx.Finishers(ctx, raceID, gender)
	if err != nil {
		return nil, fmt.Errorf("loading %s finishers of race %d: %w", gender, raceID, err)
	}
	moved := make(map[int64]int)
	for i, r := range finishers {
		want := i + 1
		if r.Place != nil && *r.Place == want {
			continue
		}
		if err := tx.SetPlace(ctx, r.ID, want); err != nil {
			return nil, err
		}
		moved[r.ID] = want
	}
	return moved, nil
}

// Summary reports a RecomputePlacements run.
type Summary struct {
	RaceID     int64 `json:"raceId"`
	Recomputed int   `json:"recomputed"`
	Skipped    int   `json:"skipped"`
	Renumbered int   `json:"renumbered"`
}

// RecomputePlacements rebuilds every runner's results from stored laps and
// renumbers each gender cohort. Runners that cannot be recomputed are
// skipped. Repeated runs are no-ops.
func (e *Engine) RecomputePlacements(ctx context.Context, raceID int64) (Summary, error) {
	sum, err := e.recomputeRace(ctx, raceID)
	if err != nil {
		return Summary{}, err
	}

	e.metrics.recompute()
	e.logger.Info("placements recomputed",
		"race_id", raceID, "recomputed", sum.Recomputed, "skipped", sum.Skipped, "renumbered", sum.Renumbered)
	e.pub.Publish(ctx, Update{Type: UpdatePlacements, RaceID: raceID, At: e.Now()})
	return sum, nil
}

func (e *Engine) recomputeRace(ctx context.Context, raceID int64) (Summary, error) {
	unlock := e.races.Lock(raceID)
	defer unlock()

	sum := Summary{RaceID: raceID}
	err := e.store.InTx(ctx, func(tx tracker.Tx) error {
		race, err := tx.RaceByID(ctx, raceID)
		if err != nil {
			return err
		}
		runners, err := tx.RunnersByRace(ctx, raceID)
		if err != nil {
			return err
		}
		for _, r := range runners {
			ok, err := recomputeRunner(ctx, tx, race, r)
			if err != nil {
				return fmt.Errorf("recomputing runner %d: %w", r.ID, err)
			}
			if ok {
				sum.Recomputed++
			} else {
				sum.Skipped++
			}
		}
		for _, g := range tracker.Genders {
			moved, err := reassignPlaces(ctx, tx, raceID, g)
			if err != nil {
				return err
			}
			sum.Renumbered += len(moved)
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// recomputeRunner reports false when the runner has nothing to recompute
// from: no race start, no final lap, or a non-positive gun time.
func recomputeRunner(ctx context.Context, tx tracker.Tx, race tracker.Race, r tracker.Runner) (bool, error) {
	if race.StartTime == nil || !r.Gender.Valid() {
		return false, nil
	}
	final, err := tx.LapByNumber(ctx, r.ID, race.ID, race.LapsCount)
	if errors.Is(err, tracker.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !final.Time.After(*race.StartTime) {
		return false, nil
	}
	done, err := completion(ctx, tx, race, r, final.Time)
	if err != nil {
		return false, err
	}
	if err := tx.SaveResult(ctx, done); err != nil {
		return false, err
	}
	return true, nil
}
