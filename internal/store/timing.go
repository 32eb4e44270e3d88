package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/playperu/simple5k/internal/tracker"
)

const raceColumns = `id, name, status, entry_fee_cents, date, scheduled_time, distance_m,
	laps_count, max_runners, number_start, start_time, end_time, min_lap_time_us,
	all_emails_sent, notes, created_at`

func scanRace(s scanner) (tracker.Race, error) {
	var (
		r          tracker.Race
		status     string
		start, end sql.NullString
		minLap     sql.NullInt64
		createdAt  string
	)
	err := s.Scan(&r.ID, &r.Name, &status, &r.EntryFeeCents, &r.Date, &r.ScheduledTime,
		&r.DistanceMeters, &r.LapsCount, &r.MaxRunners, &r.NumberStart, &start, &end,
		&minLap, &r.AllEmailsSent, &r.Notes, &createdAt)
	if err != nil {
		return r, err
	}
	r.Status = tracker.RaceStatus(status)
	if r.StartTime, err = timePtr(start); err != nil {
		return r, err
	}
	if r.EndTime, err = timePtr(end); err != nil {
		return r, err
	}
	if minLap.Valid {
		r.MinLapTime = fromMicros(minLap.Int64)
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return r, err
	}
	return r, nil
}

const runnerColumns = `id, race_id, first_name, last_name, email, age_bracket, gender,
	shirt_size, runner_type, number,
	tag_id, race_completed, total_race_time_us, chip_time_us, race_avg_speed, race_avg_pace_us,
	place, paid, signup_confirmation_sent, results_email_sent, notes, created_at`

func scanRunner(s scanner) (tracker.Runner, error) {
	var (
		r                      tracker.Runner
		age, gender, createdAt string
		shirt                  string
		number, place          sql.NullInt64
		tagID                  sql.NullInt64
		total, chip, pace      sql.NullInt64
		speed                  sql.NullFloat64
	)
	err := s.Scan(&r.ID, &r.RaceID, &r.FirstName, &r.LastName, &r.Email, &age, &gender,
		&shirt, &r.Type, &number,
		&tagID, &r.RaceCompleted, &total, &chip, &speed, &pace,
		&place, &r.Paid, &r.SignupConfirmationSent, &r.ResultsEmailSent, &r.Notes, &createdAt)
	if err != nil {
		return r, err
	}
	r.AgeBracket = tracker.AgeBracket(age)
	r.Gender = tracker.Gender(gender)
	r.ShirtSize = tracker.ShirtSize(shirt)
	r.Number = intPtr(number)
	r.TagID = int64Ptr(tagID)
	r.TotalRaceTime = durationPtr(total)
	r.ChipTime = durationPtr(chip)
	r.RaceAvgSpeed = floatPtr(speed)
	r.RaceAvgPace = durationPtr(pace)
	r.Place = intPtr(place)
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return r, err
	}
	return r, nil
}

func collectRunners(rows *sql.Rows, err error) ([]tracker.Runner, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runners []tracker.Runner
	for rows.Next() {
		r, err := scanRunner(rows)
		if err != nil {
			return nil, err
		}
		runners = append(runners, r)
	}
	return runners, rows.Err()
}

const lapColumns = `id, runner_id, race_id, lap, time, duration_us, average_speed, average_pace_us`

func scanLap(s scanner) (tracker.LapRecord, error) {
	var (
		l         tracker.LapRecord
		at        string
		dur, pace int64
	)
	if err := s.Scan(&l.ID, &l.RunnerID, &l.RaceID, &l.Lap, &at, &dur, &l.AverageSpeed, &pace); err != nil {
		return l, err
	}
	t, err := parseTime(at)
	if err != nil {
		return l, err
	}
	l.Time = t
	l.Duration = fromMicros(dur)
	l.AveragePace = fromMicros(pace)
	return l, nil
}

func (q *Queries) RaceByID(ctx context.Context, id int64) (tracker.Race, error) {
	r, err := scanRace(q.q.QueryRowContext(ctx,
		`SELECT `+raceColumns+` FROM races WHERE id = ?`, id))
	if err != nil {
		return r, notFound(err, tracker.ErrRaceNotFound)
	}
	return r, nil
}

func (q *Queries) InProgressRace(ctx context.Context) (tracker.Race, error) {
	r, err := scanRace(q.q.QueryRowContext(ctx,
		`SELECT `+raceColumns+` FROM races WHERE status = ? ORDER BY id LIMIT 1`, tracker.RaceInProgress))
	if err != nil {
		return r, notFound(err, tracker.ErrRaceNotFound)
	}
	return r, nil
}

func (q *Queries) UpdateRaceClock(ctx context.Context, id int64, status tracker.RaceStatus, start, end *time.Time) error {
	err := checkAffected(q.q.ExecContext(ctx, `
		UPDATE races SET status = ?, start_time = ?, end_time = ? WHERE id = ?
	`, status, nullTime(start), nullTime(end), id))
	return notFound(err, tracker.ErrRaceNotFound)
}

func (q *Queries) TagByRFID(ctx context.Context, rfidHex string) (tracker.Tag, error) {
	var t tracker.Tag
	err := q.q.QueryRowContext(ctx,
		`SELECT id, tag_number, rfid_hex FROM tags WHERE rfid_hex = ?`, tracker.NormalizeRFID(rfidHex),
	).Scan(&t.ID, &t.TagNumber, &t.RFIDHex)
	return t, notFound(err, tracker.ErrTagNotFound)
}

// CreateTag registers a new physical tag with the next free tag number.
func (q *Queries) CreateTag(ctx context.Context, rfidHex string) (tracker.Tag, error) {
	t := tracker.Tag{RFIDHex: tracker.NormalizeRFID(rfidHex)}
	err := q.q.QueryRowContext(ctx, `
		INSERT INTO tags (tag_number, rfid_hex)
		VALUES ((SELECT COALESCE(MAX(tag_number), 0) + 1 FROM tags), ?)
		RETURNING id, tag_number
	`, t.RFIDHex).Scan(&t.ID, &t.TagNumber)
	if err != nil {
		return t, fmt.Errorf("creating tag %s: %w", t.RFIDHex, err)
	}
	return t, nil
}

func (q *Queries) RunnerByID(ctx context.Context, id int64) (tracker.Runner, error) {
	r, err := scanRunner(q.q.QueryRowContext(ctx,
		`SELECT `+runnerColumns+` FROM runners WHERE id = ?`, id))
	return r, notFound(err, tracker.ErrRunnerNotFound)
}

func (q *Queries) RunnerByTag(ctx context.Context, raceID, tagID int64) (tracker.Runner, error) {
	r, err := scanRunner(q.q.QueryRowContext(ctx,
		`SELECT `+runnerColumns+` FROM runners WHERE race_id = ? AND tag_id = ? ORDER BY id LIMIT 1`,
		raceID, tagID))
	return r, notFound(err, tracker.ErrRunnerNotFound)
}

func (q *Queries) RunnerByNumber(ctx context.Context, raceID int64, number int) (tracker.Runner, error) {
	r, err := scanRunner(q.q.QueryRowContext(ctx,
		`SELECT `+runnerColumns+` FROM runners WHERE race_id = ? AND number = ?`, raceID, number))
	return r, notFound(err, tracker.ErrRunnerNotFound)
}

func (q *Queries) RunnersByRace(ctx context.Context, raceID int64) ([]tracker.Runner, error) {
	return collectRunners(q.q.QueryContext(ctx,
		`SELECT `+runnerColumns+` FROM runners WHERE race_id = ? ORDER BY id`, raceID))
}

func (q *Queries) UnnumberedRunners(ctx context.Context, raceID int64) ([]tracker.Runner, error) {
	return collectRunners(q.q.QueryContext(ctx,
		`SELECT `+runnerColumns+` FROM runners WHERE race_id = ? AND number IS NULL ORDER BY created_at, id`,
		raceID))
}

func (q *Queries) UsedNumbers(ctx context.Context, from int) ([]int, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT number FROM runners WHERE number >= ? ORDER BY number`, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nums []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		nums = append(nums, n)
	}
	return nums, rows.Err()
}

func (q *Queries) SetRunnerNumber(ctx context.Context, runnerID int64, number int) error {
	err := checkAffected(q.q.ExecContext(ctx,
		`UPDATE runners SET number = ? WHERE id = ?`, number, runnerID))
	return notFound(err, tracker.ErrRunnerNotFound)
}

func (q *Queries) SetRunnerTag(ctx context.Context, runnerID int64, tagID *int64) error {
	err := checkAffected(q.q.ExecContext(ctx,
		`UPDATE runners SET tag_id = ? WHERE id = ?`, nullInt64(tagID), runnerID))
	return notFound(err, tracker.ErrRunnerNotFound)
}

func (q *Queries) Finishers(ctx context.Context, raceID int64, gender tracker.Gender) ([]tracker.Runner, error) {
	return collectRunners(q.q.QueryContext(ctx, `
		SELECT `+runnerColumns+` FROM runners
		WHERE race_id = ? AND gender = ? AND race_completed = 1 AND total_race_time_us IS NOT NULL
		ORDER BY total_race_time_us, id
	`, raceID, gender))
}

func (q *Queries) MaxPlace(ctx context.Context, raceID int64, gender tracker.Gender) (int, error) {
	var place int
	err := q.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(place), 0) FROM runners
		WHERE race_id = ? AND gender = ? AND race_completed = 1
	`, raceID, gender).Scan(&place)
	return place, err
}

// SaveResult writes the completion fields of r in one statement.
func (q *Queries) SaveResult(ctx context.Context, r tracker.Runner) error {
	err := checkAffected(q.q.ExecContext(ctx, `
		UPDATE runners SET
			race_completed = ?, total_race_time_us = ?, chip_time_us = ?,
			race_avg_speed = ?, race_avg_pace_us = ?, place = ?
		WHERE id = ?
	`, r.RaceCompleted, nullDuration(r.TotalRaceTime), nullDuration(r.ChipTime),
		nullFloat(r.RaceAvgSpeed), nullDuration(r.RaceAvgPace), nullInt(r.Place), r.ID))
	return notFound(err, tracker.ErrRunnerNotFound)
}

func (q *Queries) SetPlace(ctx context.Context, runnerID int64, place int) error {
	err := checkAffected(q.q.ExecContext(ctx,
		`UPDATE runners SET place = ? WHERE id = ?`, place, runnerID))
	return notFound(err, tracker.ErrRunnerNotFound)
}

func (q *Queries) LastLap(ctx context.Context, runnerID, raceID int64) (tracker.LapRecord, error) {
	l, err := scanLap(q.q.QueryRowContext(ctx, `
		SELECT `+lapColumns+` FROM laps
		WHERE runner_id = ? AND race_id = ?
		ORDER BY lap DESC LIMIT 1
	`, runnerID, raceID))
	return l, notFound(err, tracker.ErrNotFound)
}

func (q *Queries) LapByNumber(ctx context.Context, runnerID, raceID int64, lap int) (tracker.LapRecord, error) {
	l, err := scanLap(q.q.QueryRowContext(ctx, `
		SELECT `+lapColumns+` FROM laps WHERE runner_id = ? AND race_id = ? AND lap = ?
	`, runnerID, raceID, lap))
	return l, notFound(err, tracker.ErrNotFound)
}

func (q *Queries) CreateLap(ctx context.Context, l *tracker.LapRecord) error {
	err := q.q.QueryRowContext(ctx, `
		INSERT INTO laps (runner_id, race_id, lap, time, duration_us, average_speed, average_pace_us)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, l.RunnerID, l.RaceID, l.Lap, formatTime(l.Time), micros(l.Duration),
		l.AverageSpeed, micros(l.AveragePace)).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("creating lap %d for runner %d: %w", l.Lap, l.RunnerID, err)
	}
	return nil
}

// LapsByRace returns every lap of a race grouped by runner, in lap order.
func (q *Queries) LapsByRace(ctx context.Context, raceID int64) (map[int64][]tracker.LapRecord, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+lapColumns+` FROM laps WHERE race_id = ? ORDER BY runner_id, lap
	`, raceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	laps := make(map[int64][]tracker.LapRecord)
	for rows.Next() {
		l, err := scanLap(rows)
		if err != nil {
			return nil, err
		}
		laps[l.RunnerID] = append(laps[l.RunnerID], l)
	}
	return laps, rows.Err()
}

func (q *Queries) LapsByRunner(ctx context.Context, runnerID int64) ([]tracker.LapRecord, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+lapColumns+` FROM laps WHERE runner_id = ? ORDER BY race_id, lap
	`, runnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var laps []tracker.LapRecord
	for rows.Next() {
		l, err := scanLap(rows)
		if err != nil {
			return nil, err
		}
		laps = append(laps, l)
	}
	return laps, rows.Err()
}
