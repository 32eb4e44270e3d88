package notify_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playperu/simple5k/internal/database"
	"github.com/playperu/simple5k/internal/migrations"
	"github.com/playperu/simple5k/internal/notify"
	"github.com/playperu/simple5k/internal/store"
	"github.com/playperu/simple5k/internal/tracker"
)

type outbox struct {
	mu     sync.Mutex
	sent   []notify.Message
	failTo string
}

func (o *outbox) Send(_ context.Context, m notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if m.To == o.failTo {
		return errors.New("mailbox unavailable")
	}
	o.sent = append(o.sent, m)
	return nil
}

func (o *outbox) messages() []notify.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]notify.Message(nil), o.sent...)
}

type fixture struct {
	ctx    context.Context
	store  *store.SQLiteStore
	sender *outbox
	clock  *clockwork.FakeClock
	reg    *prometheus.Registry
	worker *notify.Worker
	race   tracker.Race
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Run(db))

	f := &fixture{
		ctx:    ctx,
		store:  store.New(db),
		sender: &outbox{},
		clock:  clockwork.NewFakeClockAt(time.Now()),
		reg:    prometheus.NewRegistry(),
	}
	f.worker = notify.NewWorker(f.store, f.sender, notify.Config{
		Interval:    time.Minute,
		UnpaidGrace: 30 * time.Minute,
		BaseURL:     "https://5k.example.org/",
	},
		notify.WithClock(f.clock),
		notify.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		notify.WithRegisterer(f.reg),
	)

	f.race, err = f.store.CreateRace(ctx, tracker.Race{
		Name: "Miraflores 5K", Date: "2026-05-02", ScheduledTime: "09:00",
		DistanceMeters: 5000, LapsCount: 1, EntryFeeCents: 2500,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) signup(t *testing.T, email string, paid bool, age time.Duration) tracker.Runner {
	t.Helper()
	r, err := f.store.CreateRunner(f.ctx, tracker.Runner{
		RaceID: f.race.ID, FirstName: "Rosa", LastName: "Quispe", Email: email,
		Gender: tracker.GenderFemale, Paid: paid, CreatedAt: f.clock.Now().Add(-age),
	})
	require.NoError(t, err)
	return r
}

func TestSignupConfirmations(t *testing.T) {
	f := newFixture(t)
	paid := f.signup(t, "paid@example.org", true, time.Minute)
	f.signup(t, "waiting@example.org", false, time.Minute)
	f.signup(t, "", true, time.Minute)

	st, err := f.worker.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, notify.Stats{Confirmations: 1}, st)

	msgs := f.sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.KindSignupConfirmation, msgs[0].Kind)
	assert.Equal(t, paid.ID, msgs[0].RunnerID)
	assert.Equal(t, "paid@example.org", msgs[0].To)
	assert.Contains(t, msgs[0].Body, "entry fee has been received")
	assert.Contains(t, msgs[0].Body, "https://5k.example.org/races/")

	// The unpaid registration is confirmed once the grace period passes.
	f.clock.Advance(31 * time.Minute)
	st, err = f.worker.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Confirmations)
	msgs = f.sender.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Body, "$25.00 is still due")

	expected := `
# HELP simple5k_notifications_sent_total Runner emails handed to the sender, by kind and status.
# TYPE simple5k_notifications_sent_total counter
simple5k_notifications_sent_total{kind="signup_confirmation",status="sent"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(f.reg, strings.NewReader(expected), "simple5k_notifications_sent_total"))
}

func TestFailedSendIsRetried(t *testing.T) {
	f := newFixture(t)
	f.sender.failTo = "bounce@example.org"
	r := f.signup(t, "bounce@example.org", true, time.Minute)

	st, err := f.worker.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, notify.Stats{Failed: 1}, st)

	stored, err := f.store.RunnerByID(f.ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, stored.SignupConfirmationSent)

	f.sender.failTo = ""
	st, err = f.worker.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Confirmations)
}

func TestResultsEmailsCloseRace(t *testing.T) {
	f := newFixture(t)
	first := f.signup(t, "first@example.org", true, 48*time.Hour)
	second := f.signup(t, "second@example.org", true, 48*time.Hour)
	f.signup(t, "dnf@example.org", true, 48*time.Hour)

	for i, r := range []tracker.Runner{first, second} {
		gun := time.Duration(1500+60*i) * time.Second
		place := i + 1
		r.RaceCompleted, r.TotalRaceTime, r.ChipTime, r.Place = true, &gun, &gun, &place
		require.NoError(t, f.store.SaveResult(f.ctx, r))
	}
	now := f.clock.Now()
	require.NoError(t, f.store.UpdateRaceClock(f.ctx, f.race.ID, tracker.RaceCompleted, &now, &now))

	f.sender.failTo = "second@example.org"
	st, err := f.worker.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, notify.Stats{Results: 1, Failed: 1}, st)

	msgs := f.sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.KindResults, msgs[0].Kind)
	assert.Contains(t, msgs[0].Body, "Gun time: 25:00")
	assert.Contains(t, msgs[0].Body, "Place (Female): 1")

	race, err := f.store.RaceByID(f.ctx, f.race.ID)
	require.NoError(t, err)
	assert.False(t, race.AllEmailsSent)

	f.sender.failTo = ""
	st, err = f.worker.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, notify.Stats{Results: 1, RacesClosed: 1}, st)

	race, err = f.store.RaceByID(f.ctx, f.race.ID)
	require.NoError(t, err)
	assert.True(t, race.AllEmailsSent)
	for _, m := range f.sender.messages() {
		assert.NotEqual(t, "dnf@example.org", m.To)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "tick@example.org", true, time.Minute)

	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	require.Eventually(t, func() bool { return len(f.sender.messages()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, f.clock.BlockUntilContext(ctx, 2))
	f.signup(t, "tock@example.org", true, time.Minute)
	f.clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return len(f.sender.messages()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.True(t, strings.HasPrefix(f.sender.messages()[1].To, "tock"))
}

func (f *fixture) queue(t *testing.T, subject string, unpaid bool) tracker.EmailJob {
	t.Helper()
	j, err := f.store.CreateEmailJob(f.ctx, tracker.EmailJob{
		RaceID: f.race.ID, Subject: subject, Body: "Packet pickup is Friday from 5pm.",
		UnpaidReminder: unpaid,
	})
	require.NoError(t, err)
	return j
}

func TestBroadcastJob(t *testing.T) {
	f := newFixture(t)
	// Old registrations already had their confirmation.
	f.signup(t, "ana@example.org", true, 48*time.Hour)
	f.signup(t, "ANA@example.org", false, 48*time.Hour)
	f.signup(t, "luis@example.org", false, 48*time.Hour)
	f.signup(t, "", true, 48*time.Hour)
	job := f.queue(t, "Packet pickup", false)

	st, err := f.worker.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, notify.Stats{Jobs: 1}, st)

	msgs := f.sender.messages()
	require.Len(t, msgs, 2, "one message per address")
	for _, m := range msgs {
		assert.Equal(t, notify.KindBroadcast, m.Kind)
		assert.Equal(t, "Packet pickup", m.Subject)
		assert.True(t, strings.HasSuffix(m.Body, "This is an unmonitored email account. Please do not reply."))
		assert.NotContains(t, m.Body, "pay here")
	}

	stored, err := f.store.EmailJobByID(f.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, tracker.EmailJobCompleted, stored.Status)
	assert.Equal(t, 2, stored.Sent)
}

func TestUnpaidReminderJob(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "paid@example.org", true, 48*time.Hour)
	owing := f.signup(t, "owing@example.org", false, 48*time.Hour)
	f.queue(t, "Entry fee reminder", true)

	_, err := f.worker.RunOnce(f.ctx)
	require.NoError(t, err)

	msgs := f.sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.KindUnpaidReminder, msgs[0].Kind)
	assert.Equal(t, owing.ID, msgs[0].RunnerID)
	assert.Contains(t, msgs[0].Body,
		fmt.Sprintf("If you haven't paid yet, you can pay here: https://5k.example.org/races/%d", f.race.ID))
}

func TestUnpaidReminderUsesPaymentURL(t *testing.T) {
	f := newFixture(t)
	w := notify.NewWorker(f.store, f.sender, notify.Config{
		BaseURL:    "https://5k.example.org",
		PaymentURL: "https://pay.example.org/checkout?race={race}&runner={runner}",
	}, notify.WithClock(f.clock), notify.WithLogger(slog.New(slog.DiscardHandler)))
	owing := f.signup(t, "owing@example.org", false, 48*time.Hour)
	f.queue(t, "Entry fee reminder", true)

	_, err := w.RunOnce(f.ctx)
	require.NoError(t, err)
	msgs := f.sender.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body,
		fmt.Sprintf("https://pay.example.org/checkout?race=%d&runner=%d", f.race.ID, owing.ID))
}

func TestJobStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "first@example.org", true, 48*time.Hour)
	f.signup(t, "bounce@example.org", true, 48*time.Hour)
	f.signup(t, "never@example.org", true, 48*time.Hour)
	f.sender.failTo = "bounce@example.org"
	failing := f.queue(t, "Course change", false)
	next := f.queue(t, "Weather update", false)

	st, err := f.worker.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, notify.Stats{Jobs: 2, Failed: 2}, st)

	stored, err := f.store.EmailJobByID(f.ctx, failing.ID)
	require.NoError(t, err)
	assert.Equal(t, tracker.EmailJobFailed, stored.Status)
	assert.Equal(t, 1, stored.Sent)
	assert.Contains(t, stored.Error, "bounce@example.org")
	assert.Contains(t, stored.Error, "mailbox unavailable")

	// The queue keeps moving past a failed job.
	stored, err = f.store.EmailJobByID(f.ctx, next.ID)
	require.NoError(t, err)
	assert.Equal(t, tracker.EmailJobFailed, stored.Status)
	for _, m := range f.sender.messages() {
		assert.NotEqual(t, "never@example.org", m.To)
	}
}

func TestStuckJobIsReset(t *testing.T) {
	f := newFixture(t)
	job := f.queue(t, "Packet pickup", false)
	// A worker claimed the job and died.
	_, err := f.store.ClaimEmailJob(f.ctx, f.clock.Now())
	require.NoError(t, err)

	_, err = f.worker.RunOnce(f.ctx)
	require.NoError(t, err)
	stored, err := f.store.EmailJobByID(f.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, tracker.EmailJobSending, stored.Status, "too recent to reset")

	f.clock.Advance(16 * time.Minute)
	_, err = f.worker.RunOnce(f.ctx)
	require.NoError(t, err)
	stored, err = f.store.EmailJobByID(f.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, tracker.EmailJobFailed, stored.Status)
	assert.Equal(t, store.StuckJobMessage, stored.Error)
}

func TestJobsPickedUpOnJobTick(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "ana@example.org", true, 48*time.Hour)

	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 2))

	f.queue(t, "Start moved to 9:30", false)
	f.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return len(f.sender.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, notify.KindBroadcast, f.sender.messages()[0].Kind)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
