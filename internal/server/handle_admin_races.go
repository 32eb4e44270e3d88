package server

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/playperu/simple5k/internal/timing"
	"github.com/playperu/simple5k/internal/tracker"
)

// RaceRequest is the request body for creating/updating a race.
type RaceRequest struct {
	Name              string  `json:"name"`
	Date              string  `json:"date"`
	ScheduledTime     string  `json:"scheduledTime"`
	EntryFeeCents     int64   `json:"entryFeeCents"`
	DistanceMeters    int     `json:"distanceMeters"`
	LapsCount         int     `json:"lapsCount"`
	MaxRunners        int     `json:"maxRunners"`
	NumberStart       int     `json:"numberStart"`
	MinLapTimeSeconds float64 `json:"minLapTimeSeconds"`
	Notes             string  `json:"notes"`
}

func (req RaceRequest) apply(r *tracker.Race) {
	r.Name = req.Name
	r.Date = req.Date
	r.ScheduledTime = req.ScheduledTime
	r.EntryFeeCents = req.EntryFeeCents
	r.DistanceMeters = req.DistanceMeters
	r.LapsCount = req.LapsCount
	r.MaxRunners = req.MaxRunners
	r.NumberStart = req.NumberStart
	r.MinLapTime = time.Duration(math.Round(req.MinLapTimeSeconds * float64(time.Second)))
	r.Notes = req.Notes
}

func (req RaceRequest) validate() string {
	switch {
	case req.DistanceMeters < 0, req.LapsCount < 0, req.MaxRunners < 0, req.NumberStart < 0:
		return "numeric fields must not be negative"
	case req.MinLapTimeSeconds < 0:
		return "minLapTimeSeconds must not be negative"
	case req.Date != "" && !validLayout("2006-01-02", req.Date):
		return "date must be YYYY-MM-DD"
	case req.ScheduledTime != "" && !validLayout("15:04", req.ScheduledTime):
		return "scheduledTime must be HH:MM"
	}
	return ""
}

func validLayout(layout, v string) bool {
	_, err := time.Parse(layout, v)
	return err == nil
}

// RaceResponse is a race as returned by the API.
type RaceResponse struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	Status            string     `json:"status"`
	StatusLabel       string     `json:"statusLabel"`
	Date              string     `json:"date,omitempty"`
	ScheduledTime     string     `json:"scheduledTime,omitempty"`
	EntryFeeCents     int64      `json:"entryFeeCents"`
	DistanceMeters    int        `json:"distanceMeters"`
	LapsCount         int        `json:"lapsCount"`
	MaxRunners        int        `json:"maxRunners"`
	NumberStart       int        `json:"numberStart"`
	MinLapTimeSeconds float64    `json:"minLapTimeSeconds"`
	StartTime         *time.Time `json:"startTime,omitempty"`
	EndTime           *time.Time `json:"endTime,omitempty"`
	AllEmailsSent     bool       `json:"allEmailsSent"`
	Notes             string     `json:"notes,omitempty"`
	RunnerCount       *int       `json:"runnerCount,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

func raceResponse(r tracker.Race) RaceResponse {
	return RaceResponse{
		ID:                r.ID,
		Name:              r.Name,
		Status:            string(r.Status),
		StatusLabel:       r.Status.Label(),
		Date:              r.Date,
		ScheduledTime:     r.ScheduledTime,
		EntryFeeCents:     r.EntryFeeCents,
		DistanceMeters:    r.DistanceMeters,
		LapsCount:         r.LapsCount,
		MaxRunners:        r.MaxRunners,
		NumberStart:       r.NumberStart,
		MinLapTimeSeconds: r.MinLapTime.Seconds(),
		StartTime:         r.StartTime,
		EndTime:           r.EndTime,
		AllEmailsSent:     r.AllEmailsSent,
		Notes:             r.Notes,
		CreatedAt:         r.CreatedAt,
	}
}

func raceResponses(races []tracker.Race) []RaceResponse {
	out := make([]RaceResponse, 0, len(races))
	for _, r := range races {
		out = append(out, raceResponse(r))
	}
	return out
}

// ClockRequest optionally pins a start or stop to a reader's timestamp.
type ClockRequest struct {
	Timestamp string `json:"timestamp"`
}

// SignupToggleRequest opens or closes registration.
type SignupToggleRequest struct {
	Open bool `json:"open"`
}

// TagRequest binds a tag to the runner wearing a bib.
type TagRequest struct {
	RaceID    int64  `json:"raceId,omitempty"`
	BibNumber int    `json:"bibNumber"`
	Tag       string `json:"tag"`
}

// TagResponse reports a tag binding.
type TagResponse struct {
	RunnerID   int64  `json:"runnerId"`
	BibNumber  int    `json:"bibNumber"`
	Name       string `json:"name"`
	TagID      int64  `json:"tagId"`
	TagNumber  int    `json:"tagNumber"`
	Tag        string `json:"tag"`
	TagCreated bool   `json:"tagCreated"`
}

func handleAdminListRaces(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		races, err := st.ListRaces(r.Context())
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, raceResponses(races))
	}
}

func handleAdminCreateRace(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RaceRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if msg := req.validate(); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}

		var race tracker.Race
		req.apply(&race)
		race, err := st.CreateRace(r.Context(), race)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		logger.Info("race created", "race_id", race.ID, "name", race.Name, "admin", adminFrom(r).Email)
		writeJSON(w, http.StatusCreated, raceResponse(race))
	}
}

func handleAdminGetRace(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raceID, ok := idParam(w, r, "raceID")
		if !ok {
			return
		}
		race, err := st.RaceByID(r.Context(), raceID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		n, err := st.CountRunners(r.Context(), raceID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		resp := raceResponse(race)
		resp.RunnerCount = &n
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleAdminUpdateRace rewrites a race's descriptive fields. Status and
// clock only move through the signup/start/stop endpoints.
func handleAdminUpdateRace(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raceID, ok := idParam(w, r, "raceID")
		if !ok {
			return
		}
		var req RaceRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if msg := req.validate(); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}

		race, err := st.RaceByID(r.Context(), raceID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		if race.Status.Started() && (req.LapsCount != race.LapsCount || req.DistanceMeters != race.DistanceMeters) {
			writeError(w, http.StatusConflict, "distance and laps cannot change once the race has started")
			return
		}
		req.apply(&race)
		race, err = st.UpdateRace(r.Context(), race)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, raceResponse(race))
	}
}

func handleAdminSetSignup(logger *slog.Logger, tm Timing) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raceID, ok := idParam(w, r, "raceID")
		if !ok {
			return
		}
		var req SignupToggleRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		race, err := tm.SetSignup(r.Context(), raceID, req.Open)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, raceResponse(race))
	}
}

// clockTime reads the optional timestamp of a start/stop command. An empty
// body or timestamp means now.
func clockTime(r *http.Request) (time.Time, error) {
	if r.ContentLength == 0 {
		return time.Time{}, nil
	}
	var req ClockRequest
	if err := readJSON(r, &req); err != nil {
		return time.Time{}, errBadBody
	}
	if req.Timestamp == "" {
		return time.Time{}, nil
	}
	return timing.ParseInstant(req.Timestamp)
}

var errBadBody = errors.New("invalid request body")

func handleStartRace(logger *slog.Logger, tm Timing) http.HandlerFunc {
	return handleClock(logger, func(ctx context.Context, raceID int64, at time.Time) (tracker.Race, error) {
		return tm.StartRace(ctx, raceID, at)
	})
}

func handleStopRace(logger *slog.Logger, tm Timing) http.HandlerFunc {
	return handleClock(logger, func(ctx context.Context, raceID int64, at time.Time) (tracker.Race, error) {
		return tm.StopRace(ctx, raceID, at)
	})
}

func handleClock(logger *slog.Logger, move func(ctx context.Context, raceID int64, at time.Time) (tracker.Race, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raceID, ok := idParam(w, r, "raceID")
		if !ok {
			return
		}
		at, err := clockTime(r)
		if errors.Is(err, errBadBody) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		race, err := move(r.Context(), raceID, at)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, raceResponse(race))
	}
}

func handleAdminAssignNumbers(logger *slog.Logger, tm Timing) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raceID, ok := idParam(w, r, "raceID")
		if !ok {
			return
		}
		assigned, err := tm.AssignNumbers(r.Context(), raceID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		if assigned == nil {
			assigned = []timing.NumberAssignment{}
		}
		writeJSON(w, http.StatusOK, assigned)
	}
}

func handleAdminAssignTag(logger *slog.Logger, tm Timing) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raceID, ok := idParam(w, r, "raceID")
		if !ok {
			return
		}
		var req TagRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.RaceID = raceID
		assignTag(w, r, logger, tm, req, timing.TagStrict)
	}
}

func assignTag(w http.ResponseWriter, r *http.Request, logger *slog.Logger, tm Timing, req TagRequest, mode timing.TagMode) {
	if req.RaceID <= 0 || req.BibNumber <= 0 {
		writeError(w, http.StatusBadRequest, "raceId and bibNumber are required")
		return
	}
	a, err := tm.AssignTag(r.Context(), req.RaceID, req.BibNumber, req.Tag, mode)
	if err != nil {
		writeDomainError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, TagResponse{
		RunnerID:   a.Runner.ID,
		BibNumber:  req.BibNumber,
		Name:       a.Runner.Name(),
		TagID:      a.Tag.ID,
		TagNumber:  a.Tag.TagNumber,
		Tag:        a.Tag.RFIDHex,
		TagCreated: a.TagCreated,
	})
}

func handleAdminRecompute(logger *slog.Logger, tm Timing) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raceID, ok := idParam(w, r, "raceID")
		if !ok {
			return
		}
		sum, err := tm.RecomputePlacements(r.Context(), raceID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		logger.Info("placements recomputed", "race_id", raceID, "admin", adminFrom(r).Email,
			"recomputed", sum.Recomputed, "skipped", sum.Skipped, "renumbered", sum.Renumbered)
		writeJSON(w, http.StatusOK, sum)
	}
}
