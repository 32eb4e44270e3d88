package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/playperu/simple5k/internal/tracker"
)

// Only registrations from the last day get a confirmation; older ones
// predate the outbox or were imported.
const (
	signupLookback = 24 * time.Hour
	batchSize      = 30

	// A job left sending this long belongs to a worker that died mid-job.
	stuckJobAfter = 15 * time.Minute
)

// Outbox is the slice of the store the worker claims work from.
type Outbox interface {
	RaceByID(ctx context.Context, id int64) (tracker.Race, error)
	ClaimSignupConfirmations(ctx context.Context, since, unpaidBefore time.Time, limit int) ([]tracker.Runner, error)
	ReleaseSignupConfirmation(ctx context.Context, runnerID int64) error
	RacesAwaitingResults(ctx context.Context) ([]tracker.Race, error)
	ClaimResultsEmails(ctx context.Context, raceID int64, limit int) ([]tracker.Runner, error)
	ReleaseResultsEmail(ctx context.Context, runnerID int64) error
	PendingResultsEmails(ctx context.Context, raceID int64) (int, error)
	MarkAllEmailsSent(ctx context.Context, raceID int64) error

	ClaimEmailJob(ctx context.Context, now time.Time) (tracker.EmailJob, error)
	EmailJobRecipients(ctx context.Context, job tracker.EmailJob) ([]tracker.Runner, error)
	FinishEmailJob(ctx context.Context, id int64, sent int, failure error, now time.Time) error
	ResetStuckEmailJobs(ctx context.Context, cutoff, now time.Time) (int, error)
}

type Config struct {
	Interval time.Duration
	// JobInterval is how often queued admin email jobs are picked up.
	JobInterval time.Duration
	// PerMinute caps outgoing messages; zero means unthrottled.
	PerMinute int
	// UnpaidGrace is how long an unpaid registration waits for payment
	// before it is confirmed anyway.
	UnpaidGrace time.Duration
	BaseURL     string
	PaymentURL  string
}

type Worker struct {
	outbox  Outbox
	sender  Sender
	cfg     Config
	clock   clockwork.Clock
	logger  *slog.Logger
	limiter *rate.Limiter
	sent    *prometheus.CounterVec
}

type Option func(*Worker)

func WithClock(c clockwork.Clock) Option {
	return func(w *Worker) { w.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithRegisterer exports simple5k_notifications_sent_total on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(w *Worker) {
		w.sent = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "simple5k_notifications_sent_total",
			Help: "Runner emails handed to the sender, by kind and status.",
		}, []string{"kind", "status"})
		reg.MustRegister(w.sent)
	}
}

func NewWorker(outbox Outbox, sender Sender, cfg Config, opts ...Option) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.JobInterval <= 0 {
		cfg.JobInterval = 5 * time.Second
	}
	w := &Worker{
		outbox:  outbox,
		sender:  sender,
		cfg:     cfg,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	if cfg.PerMinute > 0 {
		w.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.PerMinute)), 1)
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run drains the outbox once immediately and then on every tick until ctx
// is cancelled. Admin email jobs are also checked on the shorter job tick.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("notify worker started", "interval", w.cfg.Interval, "job_interval", w.cfg.JobInterval)
	ticker := w.clock.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	jobs := w.clock.NewTicker(w.cfg.JobInterval)
	defer jobs.Stop()

	all := true
	for {
		var err error
		if all {
			_, err = w.RunOnce(ctx)
		} else {
			err = w.sendJobs(ctx, &Stats{})
		}
		if err != nil && ctx.Err() == nil {
			w.logger.Error("notify pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			w.logger.Info("notify worker stopped")
			return nil
		case <-ticker.Chan():
			all = true
		case <-jobs.Chan():
			all = false
		}
	}
}

type Stats struct {
	Confirmations int
	Results       int
	Failed        int
	RacesClosed   int
	// Jobs counts admin email jobs finished this pass, failed or not.
	Jobs int
}

// RunOnce sends whatever is due right now.
func (w *Worker) RunOnce(ctx context.Context) (Stats, error) {
	var st Stats
	if err := w.sendConfirmations(ctx, &st); err != nil {
		return st, fmt.Errorf("signup confirmations: %w", err)
	}
	if err := w.sendResults(ctx, &st); err != nil {
		return st, fmt.Errorf("results emails: %w", err)
	}
	if err := w.sendJobs(ctx, &st); err != nil {
		return st, fmt.Errorf("email jobs: %w", err)
	}
	return st, nil
}

func (w *Worker) sendConfirmations(ctx context.Context, st *Stats) error {
	now := w.clock.Now().UTC()
	runners, err := w.outbox.ClaimSignupConfirmations(ctx,
		now.Add(-signupLookback), now.Add(-w.cfg.UnpaidGrace), batchSize)
	if err != nil {
		return err
	}

	races := make(map[int64]tracker.Race)
	for i, r := range runners {
		race, ok := races[r.RaceID]
		if !ok {
			if race, err = w.outbox.RaceByID(ctx, r.RaceID); err != nil {
				w.releaseConfirmations(runners[i:])
				return err
			}
			races[r.RaceID] = race
		}
		if err := w.deliver(ctx, signupConfirmation(w.cfg.BaseURL, race, r)); err != nil {
			st.Failed++
			if rerr := w.outbox.ReleaseSignupConfirmation(context.WithoutCancel(ctx), r.ID); rerr != nil {
				w.logger.Error("releasing signup confirmation", "runner_id", r.ID, "error", rerr)
			}
			if ctx.Err() != nil {
				w.releaseConfirmations(runners[i+1:])
				return ctx.Err()
			}
			continue
		}
		st.Confirmations++
	}
	return nil
}

func (w *Worker) releaseConfirmations(runners []tracker.Runner) {
	for _, r := range runners {
		if err := w.outbox.ReleaseSignupConfirmation(context.Background(), r.ID); err != nil {
			w.logger.Error("releasing signup confirmation", "runner_id", r.ID, "error", err)
		}
	}
}

func (w *Worker) sendResults(ctx context.Context, st *Stats) error {
	races, err := w.outbox.RacesAwaitingResults(ctx)
	if err != nil {
		return err
	}
	for _, race := range races {
		runners, err := w.outbox.ClaimResultsEmails(ctx, race.ID, batchSize)
		if err != nil {
			return err
		}
		for i, r := range runners {
			if err := w.deliver(ctx, results(w.cfg.BaseURL, race, r)); err != nil {
				st.Failed++
				if rerr := w.outbox.ReleaseResultsEmail(context.WithoutCancel(ctx), r.ID); rerr != nil {
					w.logger.Error("releasing results email", "runner_id", r.ID, "error", rerr)
				}
				if ctx.Err() != nil {
					for _, rest := range runners[i+1:] {
						if rerr := w.outbox.ReleaseResultsEmail(context.Background(), rest.ID); rerr != nil {
							w.logger.Error("releasing results email", "runner_id", rest.ID, "error", rerr)
						}
					}
					return ctx.Err()
				}
				continue
			}
			st.Results++
		}

		pending, err := w.outbox.PendingResultsEmails(ctx, race.ID)
		if err != nil {
			return err
		}
		if pending == 0 {
			if err := w.outbox.MarkAllEmailsSent(ctx, race.ID); err != nil && !errors.Is(err, tracker.ErrRaceNotFound) {
				return err
			}
			st.RacesClosed++
			w.logger.Info("all results emails sent", "race_id", race.ID)
		}
	}
	return nil
}

// sendJobs fails jobs orphaned in sending, then works through the queue
// oldest first.
func (w *Worker) sendJobs(ctx context.Context, st *Stats) error {
	now := w.clock.Now().UTC()
	n, err := w.outbox.ResetStuckEmailJobs(ctx, now.Add(-stuckJobAfter), now)
	if err != nil {
		return err
	}
	if n > 0 {
		w.logger.Warn("reset stuck email jobs", "count", n)
	}

	for {
		job, err := w.outbox.ClaimEmailJob(ctx, w.clock.Now().UTC())
		if errors.Is(err, tracker.ErrEmailJobNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := w.runJob(ctx, job, st); err != nil {
			return err
		}
	}
}

func (w *Worker) runJob(ctx context.Context, job tracker.EmailJob, st *Stats) error {
	log := w.logger.With("job_id", job.ID, "race_id", job.RaceID)
	log.Info("email job started", "unpaid_reminder", job.UnpaidReminder)

	sent, failure := w.sendJob(ctx, job)
	st.Jobs++
	if failure != nil {
		st.Failed++
		log.Error("email job failed", "sent", sent, "error", failure)
	} else {
		log.Info("email job completed", "sent", sent)
	}
	if err := w.outbox.FinishEmailJob(context.WithoutCancel(ctx), job.ID, sent, failure, w.clock.Now().UTC()); err != nil {
		return fmt.Errorf("finishing job %d: %w", job.ID, err)
	}
	return ctx.Err()
}

// sendJob stops at the first failed message. Broadcasts go once per
// address; reminders go per runner since each carries its own link.
func (w *Worker) sendJob(ctx context.Context, job tracker.EmailJob) (int, error) {
	race, err := w.outbox.RaceByID(ctx, job.RaceID)
	if err != nil {
		return 0, err
	}
	recipients, err := w.outbox.EmailJobRecipients(ctx, job)
	if err != nil {
		return 0, err
	}

	sent := 0
	seen := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		addr := strings.ToLower(r.Email)
		if !job.UnpaidReminder && seen[addr] {
			continue
		}
		seen[addr] = true
		if err := w.deliver(ctx, jobMessage(w.cfg, race, job, r)); err != nil {
			return sent, fmt.Errorf("sending to %s: %w", r.Email, err)
		}
		sent++
	}
	return sent, nil
}

func (w *Worker) deliver(ctx context.Context, m Message) error {
	if err := w.limiter.Wait(ctx); err != nil {
		w.count(m.Kind, "failed")
		return err
	}
	if err := w.sender.Send(ctx, m); err != nil {
		w.count(m.Kind, "failed")
		w.logger.Warn("email failed", "kind", m.Kind, "runner_id", m.RunnerID, "error", err)
		return err
	}
	w.count(m.Kind, "sent")
	return nil
}

func (w *Worker) count(kind, status string) {
	if w.sent != nil {
		w.sent.WithLabelValues(kind, status).Inc()
	}
}
