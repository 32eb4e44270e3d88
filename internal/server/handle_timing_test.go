package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/playperu/simple5k/internal/timing"
	"github.com/playperu/simple5k/internal/tracker"
)

func TestTimingRequiresAPIKey(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(http.MethodGet, "/api/timing/races", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no key: expected 401, got %d", w.Code)
	}
	badKey := func(req *http.Request) { req.Header.Set("X-API-Key", "s5k_deadbeef_0000") }
	if w := env.do(http.MethodGet, "/api/timing/races", nil, badKey); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad key: expected 401, got %d", w.Code)
	}
	if w := env.do(http.MethodGet, "/api/timing/races", nil, env.withKey); w.Code != http.StatusOK {
		t.Fatalf("good key: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRecordLapBatch(t *testing.T) {
	env := newTestEnv(t)
	race := env.race(2)
	ana := env.runner(race.ID, "Ana", tracker.GenderFemale, 1, "A1")
	env.runner(race.ID, "Luis", tracker.GenderMale, 2, "B2")

	w := env.do(http.MethodPost, "/api/timing/races/"+itoa(race.ID)+"/start", ClockRequest{Timestamp: stampAt(0)}, env.withKey)
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	batch := LapBatchRequest{Events: []timing.Event{
		{Tag: "A1", RaceID: race.ID, Timestamp: stampAt(740 * time.Second)},
		{Tag: "b2", RaceID: race.ID, Timestamp: stampAt(760 * time.Second)},
		{Tag: "A1", RaceID: race.ID, Timestamp: stampAt(740 * time.Second)},
		{Tag: "FFFF", RaceID: race.ID, Timestamp: stampAt(800 * time.Second)},
		{Tag: "A1", RaceID: race.ID, Timestamp: "yesterday"},
		{Tag: "A1", RaceID: race.ID, Timestamp: raceStart.Add(1200 * time.Second).Format(time.RFC3339)},
		{Tag: "A1", RaceID: race.ID, Timestamp: stampAt(1500 * time.Second)},
	}}
	w = env.do(http.MethodPost, "/api/timing/laps", batch, env.withKey)
	if w.Code != http.StatusOK {
		t.Fatalf("laps: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	res := decode[LapBatchResponse](t, w).Results
	if len(res) != len(batch.Events) {
		t.Fatalf("expected %d results, got %d", len(batch.Events), len(res))
	}

	want := []struct {
		status  string
		outcome timing.Outcome
		kind    timing.Kind
	}{
		{timing.StatusSuccess, timing.OutcomeLapRecorded, ""},
		{timing.StatusSuccess, timing.OutcomeLapRecorded, ""},
		{timing.StatusSuccess, timing.OutcomeDuplicate, ""},
		{timing.StatusFailed, "", timing.KindRunnerNotFound},
		{timing.StatusFailed, "", timing.KindInvalidTimestamp},
		{timing.StatusFailed, "", timing.KindInvalidTimestamp},
		{timing.StatusSuccess, timing.OutcomeFinished, ""},
	}
	for i, w := range want {
		if res[i].Status != w.status || res[i].Outcome != w.outcome || res[i].Error != w.kind {
			t.Errorf("result %d = %+v, want %s/%s/%s", i, res[i], w.status, w.outcome, w.kind)
		}
	}
	if res[5].Place == nil || *res[5].Place != 1 || res[5].RunnerID != ana.ID {
		t.Errorf("finish result = %+v", res[5])
	}

	// A reader replaying its whole buffer changes nothing.
	w = env.do(http.MethodPost, "/api/timing/laps", batch, env.withKey)
	replay := decode[LapBatchResponse](t, w).Results
	if replay[0].Outcome != timing.OutcomeAlreadyCompleted || replay[1].Outcome != timing.OutcomeDuplicate {
		t.Errorf("replay = %+v / %+v", replay[0], replay[1])
	}
	laps, err := env.store.LapsByRunner(env.ctx, ana.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(laps) != 2 {
		t.Fatalf("expected 2 laps after replay, got %d", len(laps))
	}
}

func TestRecordSingleEvent(t *testing.T) {
	env := newTestEnv(t)
	race := env.race(3)
	env.runner(race.ID, "Ana", tracker.GenderFemale, 1, "A1")

	w := env.do(http.MethodPost, "/api/timing/laps",
		timing.Event{Tag: "A1", RaceID: race.ID, Timestamp: stampAt(time.Minute)}, env.withKey)
	res := decode[LapBatchResponse](t, w).Results
	if len(res) != 1 || res[0].Error != timing.KindRaceNotStarted {
		t.Fatalf("before start: %+v", res)
	}

	if _, err := env.engine.StartRace(env.ctx, race.ID, raceStart); err != nil {
		t.Fatal(err)
	}
	w = env.do(http.MethodPost, "/api/timing/laps",
		timing.Event{Tag: "A1", RaceID: race.ID, Timestamp: stampAt(time.Minute)}, env.withKey)
	res = decode[LapBatchResponse](t, w).Results
	if len(res) != 1 || res[0].Outcome != timing.OutcomeLapRecorded || *res[0].Lap != 1 {
		t.Fatalf("after start: %+v", res)
	}
}

func TestRecordLapsRejectsBadEnvelope(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/timing/laps", strings.NewReader("[1,2"))
	env.withKey(req)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	big := LapBatchRequest{Events: make([]timing.Event, maxBatch+1)}
	if w := env.do(http.MethodPost, "/api/timing/laps", big, env.withKey); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestTimingAssignTagUpserts(t *testing.T) {
	env := newTestEnv(t)
	race := env.race(1)
	env.runner(race.ID, "Ana", tracker.GenderFemale, 5, "")

	w := env.do(http.MethodPost, "/api/timing/tags", TagRequest{RaceID: race.ID, BibNumber: 5, Tag: "e2c0ffee"}, env.withKey)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[TagResponse](t, w)
	if !resp.TagCreated || resp.Tag != "E2C0FFEE" || resp.TagNumber == 0 {
		t.Fatalf("unexpected response %+v", resp)
	}

	if w := env.do(http.MethodPost, "/api/timing/tags", TagRequest{RaceID: race.ID, BibNumber: 5, Tag: "not hex"}, env.withKey); w.Code != http.StatusBadRequest {
		t.Fatalf("bad tag: expected 400, got %d", w.Code)
	}
	if w := env.do(http.MethodPost, "/api/timing/tags", TagRequest{BibNumber: 5, Tag: "E2"}, env.withKey); w.Code != http.StatusBadRequest {
		t.Fatalf("missing race: expected 400, got %d", w.Code)
	}
	if w := env.do(http.MethodPost, "/api/timing/tags", TagRequest{RaceID: race.ID, BibNumber: 99, Tag: "E2"}, env.withKey); w.Code != http.StatusNotFound {
		t.Fatalf("unknown bib: expected 404, got %d", w.Code)
	}
}

func TestStartRaceConflicts(t *testing.T) {
	env := newTestEnv(t)
	first, second := env.race(1), env.race(1)

	if w := env.do(http.MethodPost, "/api/timing/races/"+itoa(first.ID)+"/start", nil, env.withKey); w.Code != http.StatusOK {
		t.Fatalf("start first: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := env.do(http.MethodPost, "/api/timing/races/"+itoa(second.ID)+"/start", nil, env.withKey); w.Code != http.StatusConflict {
		t.Fatalf("start second: expected 409, got %d", w.Code)
	}
	w := env.do(http.MethodPost, "/api/timing/races/"+itoa(second.ID)+"/start", ClockRequest{Timestamp: "noon"}, env.withKey)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad timestamp: expected 400, got %d", w.Code)
	}
}

func TestTimingRateLimit(t *testing.T) {
	env := newTestEnvWith(t, func(d *Deps) {
		d.TimingRate = 1
		d.TimingBurst = 2
	})

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/api/timing/races", bytes.NewReader(nil))
		req.RemoteAddr = "10.0.0.9:5000"
		env.withKey(req)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		codes[i] = w.Code
		if w.Code == http.StatusTooManyRequests && w.Header().Get("Retry-After") == "" {
			t.Error("429 without Retry-After")
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
}
