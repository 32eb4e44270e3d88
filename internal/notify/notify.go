// Package notify drains the runner email outbox: signup confirmations for
// new registrations, results emails once a race is completed, and the
// messages admins queue for a race.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/playperu/simple5k/internal/tracker"
)

const (
	KindSignupConfirmation = "signup_confirmation"
	KindResults            = "results"
	KindBroadcast          = "broadcast"
	KindUnpaidReminder     = "unpaid_reminder"
)

const footer = "\n\n---\nThis is an unmonitored email account. Please do not reply."

type Message struct {
	Kind     string
	RaceID   int64
	RunnerID int64
	To       string
	Subject  string
	Body     string
}

// Sender delivers one message. Implementations must be safe for use by a
// single worker goroutine; the worker never sends concurrently.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// LogSender writes messages to the log instead of mailing them. It is the
// default until a mail transport is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, m Message) error {
	s.Logger.InfoContext(ctx, "email",
		"kind", m.Kind,
		"race_id", m.RaceID,
		"runner_id", m.RunnerID,
		"to", m.To,
		"subject", m.Subject,
	)
	return nil
}

func signupConfirmation(baseURL string, race tracker.Race, r tracker.Runner) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", r.FirstName)
	fmt.Fprintf(&b, "You're registered for %s on %s at %s.\n", race.Name, race.Date, race.ScheduledTime)
	if r.Number != nil {
		fmt.Fprintf(&b, "Your bib number is %d.\n", *r.Number)
	}
	if r.Paid {
		b.WriteString("Your entry fee has been received.\n")
	} else if race.EntryFeeCents > 0 {
		fmt.Fprintf(&b, "Your entry fee of %s is still due; you can pay on race day.\n", money(race.EntryFeeCents))
	}
	fmt.Fprintf(&b, "\nRace details: %s/races/%d\n", strings.TrimRight(baseURL, "/"), race.ID)

	return Message{
		Kind:     KindSignupConfirmation,
		RaceID:   race.ID,
		RunnerID: r.ID,
		To:       r.Email,
		Subject:  "You're signed up for " + race.Name,
		Body:     b.String(),
	}
}

func results(baseURL string, race tracker.Race, r tracker.Runner) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", r.FirstName)
	fmt.Fprintf(&b, "Thanks for running %s. Your results:\n\n", race.Name)
	if r.Place != nil {
		fmt.Fprintf(&b, "Place (%s): %d\n", r.Gender.Label(), *r.Place)
	}
	if r.TotalRaceTime != nil {
		fmt.Fprintf(&b, "Gun time: %s\n", tracker.FormatClock(*r.TotalRaceTime))
	}
	if r.ChipTime != nil {
		fmt.Fprintf(&b, "Chip time: %s\n", tracker.FormatClock(*r.ChipTime))
	}
	if r.RaceAvgPace != nil {
		fmt.Fprintf(&b, "Pace: %s /mi\n", tracker.FormatClock(*r.RaceAvgPace))
	}
	if r.RaceAvgSpeed != nil {
		fmt.Fprintf(&b, "Speed: %.2f mph\n", *r.RaceAvgSpeed)
	}
	fmt.Fprintf(&b, "\nFull results: %s/races/%d/results\n", strings.TrimRight(baseURL, "/"), race.ID)

	return Message{
		Kind:     KindResults,
		RaceID:   race.ID,
		RunnerID: r.ID,
		To:       r.Email,
		Subject:  "Your " + race.Name + " results",
		Body:     b.String(),
	}
}

// jobMessage renders an admin email job for one runner. Unpaid reminders
// carry that runner's payment link.
func jobMessage(cfg Config, race tracker.Race, job tracker.EmailJob, r tracker.Runner) Message {
	kind, body := KindBroadcast, job.Body
	if job.UnpaidReminder {
		kind = KindUnpaidReminder
		body += "\n\nIf you haven't paid yet, you can pay here: " + payLink(cfg, race, r)
	}
	return Message{
		Kind:     kind,
		RaceID:   race.ID,
		RunnerID: r.ID,
		To:       r.Email,
		Subject:  job.Subject,
		Body:     body + footer,
	}
}

func payLink(cfg Config, race tracker.Race, r tracker.Runner) string {
	if cfg.PaymentURL == "" {
		return fmt.Sprintf("%s/races/%d", strings.TrimRight(cfg.BaseURL, "/"), race.ID)
	}
	return strings.NewReplacer(
		"{race}", strconv.FormatInt(race.ID, 10),
		"{runner}", strconv.FormatInt(r.ID, 10),
	).Replace(cfg.PaymentURL)
}

func money(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
