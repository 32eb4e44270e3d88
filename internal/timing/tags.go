package timing

import (
	"context"
	"errors"
	"fmt"

	"github.com/playperu/simple5k/internal/tracker"
)

// TagMode selects how AssignTag treats an unknown tag.
type TagMode int

const (
	// TagUpsert registers an unknown tag on the fly. Used by timing
	// hardware pairing bibs with tags at packet pickup.
	TagUpsert TagMode = iota
	// TagStrict only binds tags that are already registered.
	TagStrict
)

// Assignment is the outcome of AssignTag.
type Assignment struct {
	Runner     tracker.Runner
	Tag        tracker.Tag
	TagCreated bool
}

// AssignTag binds the tag rfid to the runner wearing bib in race raceID.
// A tag held by another runner of the same race is never taken over. The
// runner's previous tag, if any, is released.
func (e *Engine) AssignTag(ctx context.Context, raceID int64, bib int, rfid string, mode TagMode) (Assignment, error) {
	rfid = tracker.NormalizeRFID(rfid)
	if rfid == "" {
		return Assignment{}, fmt.Errorf("%w: tag", tracker.ErrMissingField)
	}
	if !tracker.ValidRFID(rfid) {
		return Assignment{}, fmt.Errorf("%q: %w", rfid, tracker.ErrInvalidTag)
	}

	unlock := e.races.RLock(raceID)
	defer unlock()

	var a Assignment
	err := e.store.InTx(ctx, func(tx tracker.Tx) error {
		if _, err := tx.RaceByID(ctx, raceID); err != nil {
			return err
		}
		runner, err := tx.RunnerByNumber(ctx, raceID, bib)
		if err != nil {
			return fmt.Errorf("bib %d: %w", bib, err)
		}

		tag, err := tx.TagByRFID(ctx, rfid)
		switch {
		case errors.Is(err, tracker.ErrNotFound) && mode == TagUpsert:
			if tag, err = tx.CreateTag(ctx, rfid); err != nil {
				return err
			}
			a.TagCreated = true
		case err != nil:
			return err
		}

		holder, err := tx.RunnerByTag(ctx, raceID, tag.ID)
		switch {
		case err == nil && holder.ID != runner.ID:
			return fmt.Errorf("tag %s held by bib %s: %w", rfid, bibString(holder.Number), tracker.ErrTagInUse)
		case err != nil && !errors.Is(err, tracker.ErrNotFound):
			return err
		}

		if err := tx.SetRunnerTag(ctx, runner.ID, &tag.ID); err != nil {
			return err
		}
		runner.TagID = &tag.ID
		a.Runner = runner
		a.Tag = tag
		return nil
	})
	if err != nil {
		return Assignment{}, err
	}

	e.logger.Info("tag assigned",
		"race_id", raceID, "bib", bib, "tag", a.Tag.RFIDHex, "tag_number", a.Tag.TagNumber, "created", a.TagCreated)
	return a, nil
}

func bibString(n *int) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprint(*n)
}

// NumberAssignment records a bib handed out by AssignNumbers.
type NumberAssignment struct {
	RunnerID int64  `json:"runnerId"`
	Name     string `json:"name"`
	Number   int    `json:"number"`
}

// AssignNumbers gives every runner of the race without a bib the lowest
// unused number at or above the race's number_start, in signup order.
// Bibs are unique across all races. Runners that already have one keep it.
func (e *Engine) AssignNumbers(ctx context.Context, raceID int64) ([]NumberAssignment, error) {
	e.numbersMu.Lock()
	defer e.numbersMu.Unlock()

	var out []NumberAssignment
	err := e.store.InTx(ctx, func(tx tracker.Tx) error {
		race, err := tx.RaceByID(ctx, raceID)
		if err != nil {
			return err
		}
		pending, err := tx.UnnumberedRunners(ctx, raceID)
		if err != nil || len(pending) == 0 {
			return err
		}
		start := max(race.NumberStart, 1)
		used, err := tx.UsedNumbers(ctx, start)
		if err != nil {
			return err
		}

		next := freeNumbers(start, used)
		for _, r := range pending {
			n := next()
			if err := tx.SetRunnerNumber(ctx, r.ID, n); err != nil {
				return fmt.Errorf("numbering runner %d: %w", r.ID, err)
			}
			out = append(out, NumberAssignment{RunnerID: r.ID, Name: r.Name(), Number: n})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) > 0 {
		e.logger.Info("bib numbers assigned", "race_id", raceID, "count", len(out))
	}
	return out, nil
}

// freeNumbers yields ascending integers from start, skipping the sorted
// used list.
func freeNumbers(start int, used []int) func() int {
	n, i := start, 0
	return func() int {
		for {
			for i < len(used) && used[i] < n {
				i++
			}
			if i < len(used) && used[i] == n {
				n++
				continue
			}
			v := n
			n++
			return v
		}
	}
}
