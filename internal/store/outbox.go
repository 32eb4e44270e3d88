package store

import (
	"context"
	"time"

	"github.com/playperu/simple5k/internal/tracker"
)

// The outbox works claim-then-process: a runner's sent flag is flipped
// before the message goes out and flipped back if sending fails, so two
// workers never mail the same runner.

// ClaimSignupConfirmations claims up to limit runners who signed up after
// since and are either paid or were created before unpaidBefore.
func (q *Queries) ClaimSignupConfirmations(ctx context.Context, since, unpaidBefore time.Time, limit int) ([]tracker.Runner, error) {
	return collectRunners(q.q.QueryContext(ctx, `
		UPDATE runners SET signup_confirmation_sent = 1
		WHERE id IN (
			SELECT id FROM runners
			WHERE signup_confirmation_sent = 0 AND email <> ''
				AND created_at >= ? AND (paid = 1 OR created_at <= ?)
			ORDER BY created_at, id
			LIMIT ?
		)
		RETURNING `+runnerColumns,
		formatTime(since), formatTime(unpaidBefore), limit))
}

func (q *Queries) ReleaseSignupConfirmation(ctx context.Context, runnerID int64) error {
	_, err := q.q.ExecContext(ctx,
		`UPDATE runners SET signup_confirmation_sent = 0 WHERE id = ?`, runnerID)
	return err
}

// RacesAwaitingResults lists completed races whose result emails are not
// all out yet.
func (q *Queries) RacesAwaitingResults(ctx context.Context) ([]tracker.Race, error) {
	return q.races(ctx, `
		SELECT `+raceColumns+` FROM races
		WHERE status = ? AND all_emails_sent = 0
		ORDER BY id
	`, tracker.RaceCompleted)
}

// ClaimResultsEmails claims up to limit finishers of raceID still owed a
// results email.
func (q *Queries) ClaimResultsEmails(ctx context.Context, raceID int64, limit int) ([]tracker.Runner, error) {
	return collectRunners(q.q.QueryContext(ctx, `
		UPDATE runners SET results_email_sent = 1
		WHERE id IN (
			SELECT id FROM runners
			WHERE race_id = ? AND race_completed = 1 AND results_email_sent = 0 AND email <> ''
			ORDER BY gender, place, id
			LIMIT ?
		)
		RETURNING `+runnerColumns,
		raceID, limit))
}

func (q *Queries) ReleaseResultsEmail(ctx context.Context, runnerID int64) error {
	_, err := q.q.ExecContext(ctx,
		`UPDATE runners SET results_email_sent = 0 WHERE id = ?`, runnerID)
	return err
}

func (q *Queries) PendingResultsEmails(ctx context.Context, raceID int64) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM runners
		WHERE race_id = ? AND race_completed = 1 AND results_email_sent = 0 AND email <> ''
	`, raceID).Scan(&n)
	return n, err
}

func (q *Queries) MarkAllEmailsSent(ctx context.Context, raceID int64) error {
	err := checkAffected(q.q.ExecContext(ctx,
		`UPDATE races SET all_emails_sent = 1 WHERE id = ?`, raceID))
	return notFound(err, tracker.ErrRaceNotFound)
}
