package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/playperu/simple5k/internal/tracker"
)

// RunnerRequest is the request body for creating/updating a runner.
type RunnerRequest struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Email      string `json:"email"`
	AgeBracket string `json:"ageBracket"`
	Gender     string `json:"gender"`
	ShirtSize  string `json:"shirtSize"`
	Type       string `json:"type"`
	Number     *int   `json:"number"`
	Paid       bool   `json:"paid"`
	Notes      string `json:"notes"`
}

func (req RunnerRequest) apply(r *tracker.Runner) {
	r.FirstName = req.FirstName
	r.LastName = req.LastName
	r.Email = req.Email
	r.AgeBracket = tracker.AgeBracket(req.AgeBracket)
	r.Gender = tracker.Gender(req.Gender)
	r.ShirtSize = tracker.ShirtSize(req.ShirtSize)
	r.Type = req.Type
	r.Number = req.Number
	r.Paid = req.Paid
	r.Notes = req.Notes
}

// RunnerResponse is a runner with their registration and results.
type RunnerResponse struct {
	ID                     int64     `json:"id"`
	RaceID                 int64     `json:"raceId"`
	FirstName              string    `json:"firstName"`
	LastName               string    `json:"lastName"`
	Email                  string    `json:"email,omitempty"`
	AgeBracket             string    `json:"ageBracket,omitempty"`
	Gender                 string    `json:"gender"`
	ShirtSize              string    `json:"shirtSize,omitempty"`
	Type                   string    `json:"type,omitempty"`
	Number                 *int      `json:"number,omitempty"`
	TagID                  *int64    `json:"tagId,omitempty"`
	Paid                   bool      `json:"paid"`
	RaceCompleted          bool      `json:"raceCompleted"`
	Place                  *int      `json:"place,omitempty"`
	GunTimeMS              *int64    `json:"gunTimeMs,omitempty"`
	ChipTimeMS             *int64    `json:"chipTimeMs,omitempty"`
	SpeedMph               *float64  `json:"speedMph,omitempty"`
	PaceMS                 *int64    `json:"paceMs,omitempty"`
	SignupConfirmationSent bool      `json:"signupConfirmationSent"`
	ResultsEmailSent       bool      `json:"resultsEmailSent"`
	Notes                  string    `json:"notes,omitempty"`
	CreatedAt              time.Time `json:"createdAt"`
}

func runnerResponse(r tracker.Runner) RunnerResponse {
	return RunnerResponse{
		ID:                     r.ID,
		RaceID:                 r.RaceID,
		FirstName:              r.FirstName,
		LastName:               r.LastName,
		Email:                  r.Email,
		AgeBracket:             string(r.AgeBracket),
		Gender:                 string(r.Gender),
		ShirtSize:              string(r.ShirtSize),
		Type:                   r.Type,
		Number:                 r.Number,
		TagID:                  r.TagID,
		Paid:                   r.Paid,
		RaceCompleted:          r.RaceCompleted,
		Place:                  r.Place,
		GunTimeMS:              millis(r.TotalRaceTime),
		ChipTimeMS:             millis(r.ChipTime),
		SpeedMph:               r.RaceAvgSpeed,
		PaceMS:                 millis(r.RaceAvgPace),
		SignupConfirmationSent: r.SignupConfirmationSent,
		ResultsEmailSent:       r.ResultsEmailSent,
		Notes:                  r.Notes,
		CreatedAt:              r.CreatedAt,
	}
}

func millis(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}

func handleAdminListRunners(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raceID, ok := idParam(w, r, "raceID")
		if !ok {
			return
		}
		if _, err := st.RaceByID(r.Context(), raceID); err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		runners, err := st.RunnersByRace(r.Context(), raceID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		out := make([]RunnerResponse, 0, len(runners))
		for _, rn := range runners {
			out = append(out, runnerResponse(rn))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleAdminCreateRunner registers a runner regardless of signup status,
// for walk-ups on race day.
func handleAdminCreateRunner(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raceID, ok := idParam(w, r, "raceID")
		if !ok {
			return
		}
		var req RunnerRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if _, err := st.RaceByID(r.Context(), raceID); err != nil {
			writeDomainError(w, r, logger, err)
			return
		}

		runner := tracker.Runner{RaceID: raceID}
		req.apply(&runner)
		runner, err := st.CreateRunner(r.Context(), runner)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, runnerResponse(runner))
	}
}

func handleAdminUpdateRunner(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raceID, ok := idParam(w, r, "raceID")
		if !ok {
			return
		}
		runnerID, ok := idParam(w, r, "runnerID")
		if !ok {
			return
		}
		var req RunnerRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		runner, err := st.RunnerByID(r.Context(), runnerID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		if runner.RaceID != raceID {
			writeDomainError(w, r, logger, tracker.ErrRunnerNotFound)
			return
		}
		req.apply(&runner)
		runner, err = st.UpdateRunner(r.Context(), runner)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, runnerResponse(runner))
	}
}
