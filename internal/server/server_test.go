package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"github.com/playperu/simple5k/internal/database"
	"github.com/playperu/simple5k/internal/live"
	"github.com/playperu/simple5k/internal/migrations"
	"github.com/playperu/simple5k/internal/store"
	"github.com/playperu/simple5k/internal/timing"
	"github.com/playperu/simple5k/internal/tracker"
)

const (
	testAdminEmail    = "admin@simple5k.test"
	testAdminPassword = "changeme"
)

var raceStart = time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	t      *testing.T
	ctx    context.Context
	router chi.Router
	store  *store.SQLiteStore
	engine *timing.Engine
	broker *live.MemoryBroker
	clock  *clockwork.FakeClock
	apiKey string
	races  int
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, func(*Deps) {})
}

func newTestEnvWith(t *testing.T, configure func(*Deps)) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	logger := slog.New(slog.DiscardHandler)
	st := store.New(db)
	if err := SeedAdmin(ctx, logger, st, testAdminEmail, testAdminPassword); err != nil {
		t.Fatalf("seeding admin: %v", err)
	}
	_, plain, err := st.CreateAPIKey(ctx, "finish line reader")
	if err != nil {
		t.Fatalf("creating api key: %v", err)
	}

	env := &testEnv{
		t:      t,
		ctx:    ctx,
		store:  st,
		broker: live.NewMemoryBroker(),
		clock:  clockwork.NewFakeClockAt(raceStart),
		apiKey: plain,
	}
	env.engine = timing.New(st,
		timing.WithClock(env.clock),
		timing.WithLogger(logger),
		timing.WithPublisher(env.broker),
	)

	deps := Deps{Store: st, Timing: env.engine, Broker: env.broker}
	configure(&deps)
	env.router = NewRouter(logger, deps)
	return env
}

// do sends a JSON request and returns the recorder.
func (e *testEnv) do(method, path string, body any, decorate ...func(*http.Request)) *httptest.ResponseRecorder {
	e.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("encoding body: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	for _, d := range decorate {
		d(req)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) login() func(*http.Request) {
	e.t.Helper()
	w := e.do(http.MethodPost, "/api/admin/login", AdminLoginRequest{Email: testAdminEmail, Password: testAdminPassword})
	if w.Code != http.StatusOK {
		e.t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	cookies := w.Result().Cookies()
	return func(req *http.Request) {
		for _, c := range cookies {
			req.AddCookie(c)
		}
	}
}

func (e *testEnv) withKey(req *http.Request) {
	req.Header.Set("X-API-Key", e.apiKey)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding %T: %v (body %q)", v, err, w.Body.String())
	}
	return v
}

// race creates a race with laps laps. Race names are unique, so each call
// gets its own.
func (e *testEnv) race(laps int) tracker.Race {
	e.t.Helper()
	e.races++
	r, err := e.store.CreateRace(e.ctx, tracker.Race{
		Name: "Miraflores 5K #" + strconv.Itoa(e.races), DistanceMeters: 5000, LapsCount: laps, NumberStart: 1,
	})
	if err != nil {
		e.t.Fatalf("creating race: %v", err)
	}
	return r
}

// runner registers a runner with bib and binds tag to them.
func (e *testEnv) runner(raceID int64, first string, g tracker.Gender, bib int, tag string) tracker.Runner {
	e.t.Helper()
	r, err := e.store.CreateRunner(e.ctx, tracker.Runner{
		RaceID: raceID, FirstName: first, LastName: "Test", Email: first + "@example.com",
		Gender: g, Number: &bib,
	})
	if err != nil {
		e.t.Fatalf("creating runner: %v", err)
	}
	if tag != "" {
		if _, err := e.engine.AssignTag(e.ctx, raceID, bib, tag, timing.TagUpsert); err != nil {
			e.t.Fatalf("assigning tag: %v", err)
		}
	}
	return r
}

func stampAt(d time.Duration) string {
	return raceStart.Add(d).Format(timing.TimestampLayout)
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
