package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playperu/simple5k/internal/tracker"
)

const emailJobColumns = `id, race_id, unpaid_reminder, subject, body, status, error_message,
	sent, created_at, updated_at`

// maxJobError bounds the stored failure message.
const maxJobError = 2000

func scanEmailJob(s scanner) (tracker.EmailJob, error) {
	var (
		j                tracker.EmailJob
		status           string
		created, updated string
	)
	err := s.Scan(&j.ID, &j.RaceID, &j.UnpaidReminder, &j.Subject, &j.Body, &status,
		&j.Error, &j.Sent, &created, &updated)
	if err != nil {
		return j, err
	}
	j.Status = tracker.EmailJobStatus(status)
	if j.CreatedAt, err = parseTime(created); err != nil {
		return j, err
	}
	if j.UpdatedAt, err = parseTime(updated); err != nil {
		return j, err
	}
	return j, nil
}

// CreateEmailJob queues j for raceID's runners.
func (q *Queries) CreateEmailJob(ctx context.Context, j tracker.EmailJob) (tracker.EmailJob, error) {
	switch {
	case strings.TrimSpace(j.Subject) == "":
		return tracker.EmailJob{}, fmt.Errorf("%w: subject", tracker.ErrMissingField)
	case strings.TrimSpace(j.Body) == "":
		return tracker.EmailJob{}, fmt.Errorf("%w: body", tracker.ErrMissingField)
	}
	if _, err := q.RaceByID(ctx, j.RaceID); err != nil {
		return tracker.EmailJob{}, err
	}
	now := time.Now()
	if !j.CreatedAt.IsZero() {
		now = j.CreatedAt
	}
	return q.emailJob(ctx, `
		INSERT INTO email_jobs (race_id, unpaid_reminder, subject, body, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING `+emailJobColumns,
		j.RaceID, j.UnpaidReminder, strings.TrimSpace(j.Subject), j.Body, tracker.EmailJobQueued,
		formatTime(now), formatTime(now))
}

func (q *Queries) EmailJobByID(ctx context.Context, id int64) (tracker.EmailJob, error) {
	return q.emailJob(ctx, `SELECT `+emailJobColumns+` FROM email_jobs WHERE id = ?`, id)
}

// EmailJobs lists jobs newest first. A zero raceID lists every race.
func (q *Queries) EmailJobs(ctx context.Context, raceID int64) ([]tracker.EmailJob, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+emailJobColumns+` FROM email_jobs
		WHERE ? = 0 OR race_id = ?
		ORDER BY id DESC
	`, raceID, raceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []tracker.EmailJob
	for rows.Next() {
		j, err := scanEmailJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ClaimEmailJob moves the oldest queued job to sending and returns it.
// It reports ErrEmailJobNotFound when nothing is queued.
func (q *Queries) ClaimEmailJob(ctx context.Context, now time.Time) (tracker.EmailJob, error) {
	return q.emailJob(ctx, `
		UPDATE email_jobs SET status = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM email_jobs WHERE status = ? ORDER BY id LIMIT 1
		)
		RETURNING `+emailJobColumns,
		tracker.EmailJobSending, formatTime(now), tracker.EmailJobQueued)
}

// FinishEmailJob records the outcome of a sending job. A non-nil failure
// marks it failed.
func (q *Queries) FinishEmailJob(ctx context.Context, id int64, sent int, failure error, now time.Time) error {
	status, msg := tracker.EmailJobCompleted, ""
	if failure != nil {
		status, msg = tracker.EmailJobFailed, failure.Error()
		if len(msg) > maxJobError {
			msg = msg[:maxJobError]
		}
	}
	err := checkAffected(q.q.ExecContext(ctx, `
		UPDATE email_jobs SET status = ?, error_message = ?, sent = ?, updated_at = ?
		WHERE id = ?
	`, status, msg, sent, formatTime(now), id))
	return notFound(err, tracker.ErrEmailJobNotFound)
}

// StuckJobMessage is stored on jobs that ResetStuckEmailJobs fails.
const StuckJobMessage = "reset: job was stuck in sending, the worker may have stopped; queue it again if needed"

// ResetStuckEmailJobs fails every sending job last touched before cutoff
// and returns how many it reset. A zero cutoff resets them all.
func (q *Queries) ResetStuckEmailJobs(ctx context.Context, cutoff, now time.Time) (int, error) {
	query := `UPDATE email_jobs SET status = ?, error_message = ?, updated_at = ? WHERE status = ?`
	args := []any{tracker.EmailJobFailed, StuckJobMessage, formatTime(now), tracker.EmailJobSending}
	if !cutoff.IsZero() {
		query += ` AND updated_at < ?`
		args = append(args, formatTime(cutoff))
	}
	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// EmailJobRecipients returns the runners of j's race with an email
// address, only the unpaid ones for a reminder.
func (q *Queries) EmailJobRecipients(ctx context.Context, j tracker.EmailJob) ([]tracker.Runner, error) {
	return collectRunners(q.q.QueryContext(ctx, `
		SELECT `+runnerColumns+` FROM runners
		WHERE race_id = ? AND email <> '' AND (? = 0 OR paid = 0)
		ORDER BY id
	`, j.RaceID, j.UnpaidReminder))
}

// ShirtSizes counts raceID's runners per shirt size, every size listed
// smallest first. Runners who gave no size are counted under "".
func (q *Queries) ShirtSizes(ctx context.Context, raceID int64) ([]tracker.ShirtCount, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT shirt_size, COUNT(*) FROM runners WHERE race_id = ? GROUP BY shirt_size
	`, raceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[tracker.ShirtSize]int)
	for rows.Next() {
		var (
			size string
			n    int
		)
		if err := rows.Scan(&size, &n); err != nil {
			return nil, err
		}
		counts[tracker.ShirtSize(size)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]tracker.ShirtCount, 0, len(tracker.ShirtSizes)+1)
	for _, s := range tracker.ShirtSizes {
		out = append(out, tracker.ShirtCount{Size: s, Count: counts[s]})
	}
	return append(out, tracker.ShirtCount{Count: counts[""]}), nil
}

func (q *Queries) emailJob(ctx context.Context, query string, args ...any) (tracker.EmailJob, error) {
	j, err := scanEmailJob(q.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return j, tracker.ErrEmailJobNotFound
	}
	return j, err
}
