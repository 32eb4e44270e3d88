package timing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playperu/simple5k/internal/tracker"
)

// StartRace moves a race to in_progress and fixes its start time. A race
// already in progress or completed is returned unchanged, so a repeated
// start never shifts the time every lap is measured against. A zero at
// means now.
func (e *Engine) StartRace(ctx context.Context, raceID int64, at time.Time) (tracker.Race, error) {
	if at.IsZero() {
		at = e.Now()
	}
	at = at.UTC().Truncate(time.Microsecond)

	race, changed, err := e.startRace(ctx, raceID, at)
	if err != nil {
		return tracker.Race{}, err
	}

	if !changed {
		e.logger.Info("start ignored", "race_id", raceID, "status", race.Status)
		return race, nil
	}
	e.logger.Info("race started", "race_id", raceID, "start_time", at)
	e.pub.Publish(ctx, Update{Type: UpdateRaceStatus, RaceID: raceID, At: at, Status: string(race.Status)})
	return race, nil
}

func (e *Engine) startRace(ctx context.Context, raceID int64, at time.Time) (race tracker.Race, changed bool, err error) {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	unlock := e.races.Lock(raceID)
	defer unlock()

	err = e.store.InTx(ctx, func(tx tracker.Tx) error {
		var err error
		race, err = tx.RaceByID(ctx, raceID)
		if err != nil {
			return err
		}
		if race.Status.Started() {
			return nil
		}

		current, err := tx.InProgressRace(ctx)
		switch {
		case err == nil && current.ID != race.ID:
			return fmt.Errorf("race %d (%s): %w", current.ID, current.Name, tracker.ErrAnotherRaceInProgress)
		case err != nil && !errors.Is(err, tracker.ErrNotFound):
			return err
		}

		if err := tx.UpdateRaceClock(ctx, race.ID, tracker.RaceInProgress, &at, race.EndTime); err != nil {
			return err
		}
		race.Status = tracker.RaceInProgress
		race.StartTime = &at
		changed = true
		return nil
	})
	return race, changed, err
}

// StopRace completes a race, records its end time and runs the full
// placement re-sort. Stopping a completed race is a no-op.
func (e *Engine) StopRace(ctx context.Context, raceID int64, at time.Time) (tracker.Race, error) {
	if at.IsZero() {
		at = e.Now()
	}
	at = at.UTC().Truncate(time.Microsecond)

	race, changed, err := e.stopRace(ctx, raceID, at)
	if err != nil {
		return tracker.Race{}, err
	}

	if !changed {
		e.logger.Info("stop ignored", "race_id", raceID, "status", race.Status)
		return race, nil
	}
	e.logger.Info("race stopped", "race_id", raceID, "end_time", at)
	e.pub.Publish(ctx, Update{Type: UpdateRaceStatus, RaceID: raceID, At: at, Status: string(race.Status)})
	return race, nil
}

func (e *Engine) stopRace(ctx context.Context, raceID int64, at time.Time) (race tracker.Race, changed bool, err error) {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	unlock := e.races.Lock(raceID)
	defer unlock()

	err = e.store.InTx(ctx, func(tx tracker.Tx) error {
		var err error
		race, err = tx.RaceByID(ctx, raceID)
		if err != nil {
			return err
		}
		if race.Status == tracker.RaceCompleted {
			return nil
		}
		if err := tx.UpdateRaceClock(ctx, race.ID, tracker.RaceCompleted, race.StartTime, &at); err != nil {
			return err
		}
		race.Status = tracker.RaceCompleted
		race.EndTime = &at
		changed = true

		for _, g := range tracker.Genders {
			if _, err := reassignPlaces(ctx, tx, race.ID, g); err != nil {
				return err
			}
		}
		return nil
	})
	return race, changed, err
}

// SetSignup opens or closes signup. Once a race has started its status is
// owned by the clock and the call is ignored.
func (e *Engine) SetSignup(ctx context.Context, raceID int64, open bool) (tracker.Race, error) {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()

	var race tracker.Race
	err := e.store.InTx(ctx, func(tx tracker.Tx) error {
		var err error
		race, err = tx.RaceByID(ctx, raceID)
		if err != nil {
			return err
		}
		if race.Status.Started() {
			return nil
		}
		status := tracker.RaceSignupClosed
		if open {
			status = tracker.RaceSignupOpen
		}
		if status == race.Status {
			return nil
		}
		if err := tx.UpdateRaceClock(ctx, race.ID, status, race.StartTime, race.EndTime); err != nil {
			return err
		}
		race.Status = status
		return nil
	})
	if err != nil {
		return tracker.Race{}, err
	}
	return race, nil
}
