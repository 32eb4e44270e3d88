package store

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/playperu/simple5k/internal/tracker"
)

func (q *Queries) ListRaces(ctx context.Context) ([]tracker.Race, error) {
	return q.races(ctx, `SELECT `+raceColumns+` FROM races ORDER BY date DESC, id DESC`)
}

// AvailableRaces lists races timing hardware may still report against.
func (q *Queries) AvailableRaces(ctx context.Context) ([]tracker.Race, error) {
	return q.races(ctx, `SELECT `+raceColumns+` FROM races WHERE status <> ? ORDER BY date, id`,
		tracker.RaceCompleted)
}

func (q *Queries) races(ctx context.Context, query string, args ...any) ([]tracker.Race, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var races []tracker.Race
	for rows.Next() {
		r, err := scanRace(rows)
		if err != nil {
			return nil, err
		}
		races = append(races, r)
	}
	return races, rows.Err()
}

// CreateRace inserts r. Status, start and end time always start empty;
// only the race clock moves them.
func (q *Queries) CreateRace(ctx context.Context, r tracker.Race) (tracker.Race, error) {
	if err := validateRace(r); err != nil {
		return tracker.Race{}, err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	var id int64
	err := q.q.QueryRowContext(ctx, `
		INSERT INTO races (name, status, entry_fee_cents, date, scheduled_time, distance_m,
			laps_count, max_runners, number_start, min_lap_time_us, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, strings.TrimSpace(r.Name), tracker.RaceSignupClosed, r.EntryFeeCents, r.Date, r.ScheduledTime,
		r.DistanceMeters, r.LapsCount, r.MaxRunners, r.NumberStart, micros(r.MinLapTime), r.Notes,
		formatTime(r.CreatedAt),
	).Scan(&id)
	if err != nil {
		return tracker.Race{}, conflict(err, fmt.Sprintf("race %q", r.Name))
	}
	return q.RaceByID(ctx, id)
}

// UpdateRace rewrites the descriptive fields of a race.
func (q *Queries) UpdateRace(ctx context.Context, r tracker.Race) (tracker.Race, error) {
	if err := validateRace(r); err != nil {
		return tracker.Race{}, err
	}
	err := checkAffected(q.q.ExecContext(ctx, `
		UPDATE races SET name = ?, entry_fee_cents = ?, date = ?, scheduled_time = ?,
			distance_m = ?, laps_count = ?, max_runners = ?, number_start = ?,
			min_lap_time_us = ?, notes = ?
		WHERE id = ?
	`, strings.TrimSpace(r.Name), r.EntryFeeCents, r.Date, r.ScheduledTime, r.DistanceMeters,
		r.LapsCount, r.MaxRunners, r.NumberStart, micros(r.MinLapTime), r.Notes, r.ID))
	if err != nil {
		return tracker.Race{}, conflict(notFound(err, tracker.ErrRaceNotFound), fmt.Sprintf("race %q", r.Name))
	}
	return q.RaceByID(ctx, r.ID)
}

func validateRace(r tracker.Race) error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return fmt.Errorf("%w: name", tracker.ErrMissingField)
	case r.DistanceMeters <= 0:
		return fmt.Errorf("%w: distance", tracker.ErrMissingField)
	case r.LapsCount < 1:
		return fmt.Errorf("%w: lapsCount", tracker.ErrMissingField)
	case r.MinLapTime < 0:
		return fmt.Errorf("%w: minLapTime", tracker.ErrFieldTooLong)
	}
	return nil
}

func (q *Queries) CountRunners(ctx context.Context, raceID int64) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM runners WHERE race_id = ?`, raceID).Scan(&n)
	return n, err
}

// CreateRunner inserts r. Gender must be male or female.
func (q *Queries) CreateRunner(ctx context.Context, r tracker.Runner) (tracker.Runner, error) {
	if err := validateRunner(r); err != nil {
		return tracker.Runner{}, err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	var id int64
	err := q.q.QueryRowContext(ctx, `
		INSERT INTO runners (race_id, first_name, last_name, email, age_bracket, gender,
			shirt_size, runner_type, number, paid, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, r.RaceID, strings.TrimSpace(r.FirstName), strings.TrimSpace(r.LastName),
		strings.ToLower(strings.TrimSpace(r.Email)), r.AgeBracket, r.Gender,
		r.ShirtSize, strings.TrimSpace(r.Type), nullInt(r.Number),
		r.Paid, r.Notes, formatTime(r.CreatedAt),
	).Scan(&id)
	if err != nil {
		return tracker.Runner{}, conflict(err, "runner bib")
	}
	return q.RunnerByID(ctx, id)
}

// SignUp registers r for its race while signup is open and the race has
// room. The capacity check and the insert share one transaction.
func (s *SQLiteStore) SignUp(ctx context.Context, r tracker.Runner) (tracker.Runner, error) {
	var created tracker.Runner
	err := s.Tx(ctx, func(q *Queries) error {
		race, err := q.RaceByID(ctx, r.RaceID)
		if err != nil {
			return err
		}
		if race.Status != tracker.RaceSignupOpen {
			return fmt.Errorf("race %d: %w", race.ID, tracker.ErrSignupClosed)
		}
		if race.MaxRunners > 0 {
			n, err := q.CountRunners(ctx, race.ID)
			if err != nil {
				return err
			}
			if n >= race.MaxRunners {
				return fmt.Errorf("race %d: %w", race.ID, tracker.ErrRaceFull)
			}
		}
		created, err = q.CreateRunner(ctx, r)
		return err
	})
	return created, err
}

// UpdateRunner rewrites the registration fields of a runner. Timing
// results are left alone.
func (q *Queries) UpdateRunner(ctx context.Context, r tracker.Runner) (tracker.Runner, error) {
	if err := validateRunner(r); err != nil {
		return tracker.Runner{}, err
	}
	err := checkAffected(q.q.ExecContext(ctx, `
		UPDATE runners SET first_name = ?, last_name = ?, email = ?, age_bracket = ?, gender = ?,
			shirt_size = ?, runner_type = ?, number = ?, paid = ?, notes = ?
		WHERE id = ?
	`, strings.TrimSpace(r.FirstName), strings.TrimSpace(r.LastName),
		strings.ToLower(strings.TrimSpace(r.Email)), r.AgeBracket, r.Gender,
		r.ShirtSize, strings.TrimSpace(r.Type), nullInt(r.Number),
		r.Paid, r.Notes, r.ID))
	if err != nil {
		return tracker.Runner{}, conflict(notFound(err, tracker.ErrRunnerNotFound), "runner bib")
	}
	return q.RunnerByID(ctx, r.ID)
}

// maxRunnerType bounds the free-text runner category ("walker", "stroller").
const maxRunnerType = 64

func validateRunner(r tracker.Runner) error {
	switch {
	case strings.TrimSpace(r.FirstName) == "":
		return fmt.Errorf("%w: firstName", tracker.ErrMissingField)
	case strings.TrimSpace(r.LastName) == "":
		return fmt.Errorf("%w: lastName", tracker.ErrMissingField)
	case !r.Gender.Valid():
		return fmt.Errorf("gender %q: %w", r.Gender, tracker.ErrInvalidGender)
	case !r.AgeBracket.Valid():
		return fmt.Errorf("age bracket %q: %w", r.AgeBracket, tracker.ErrInvalidAgeBracket)
	case !r.ShirtSize.Valid():
		return fmt.Errorf("shirt size %q: %w", r.ShirtSize, tracker.ErrInvalidShirtSize)
	case utf8.RuneCountInString(strings.TrimSpace(r.Type)) > maxRunnerType:
		return fmt.Errorf("runner type longer than %d characters: %w", maxRunnerType, tracker.ErrFieldTooLong)
	}
	return nil
}

// conflict maps a SQLite unique-constraint failure to tracker.ErrConflict.
func conflict(err error, what string) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s already exists: %w", what, tracker.ErrConflict)
	}
	return err
}
