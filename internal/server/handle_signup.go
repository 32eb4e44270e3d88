package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/playperu/simple5k/internal/tracker"
)

// SignupRequest is the public registration form.
type SignupRequest struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Email      string `json:"email"`
	AgeBracket string `json:"ageBracket"`
	Gender     string `json:"gender"`
	ShirtSize  string `json:"shirtSize"`
	Type       string `json:"type"`
}

type SignupResponse struct {
	RunnerID int64  `json:"runnerId"`
	RaceID   int64  `json:"raceId"`
	Name     string `json:"name"`
}

func handleSignup(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raceID, ok := idParam(w, r, "raceID")
		if !ok {
			return
		}
		var req SignupRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Email = strings.TrimSpace(req.Email)
		if req.Email == "" || !strings.Contains(req.Email, "@") {
			writeError(w, http.StatusBadRequest, "a valid email is required")
			return
		}

		runner, err := st.SignUp(r.Context(), tracker.Runner{
			RaceID:     raceID,
			FirstName:  req.FirstName,
			LastName:   req.LastName,
			Email:      req.Email,
			AgeBracket: tracker.AgeBracket(req.AgeBracket),
			Gender:     tracker.Gender(req.Gender),
			ShirtSize:  tracker.ShirtSize(req.ShirtSize),
			Type:       req.Type,
		})
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		logger.Info("runner signed up", "race_id", raceID, "runner_id", runner.ID)

		writeJSON(w, http.StatusCreated, SignupResponse{
			RunnerID: runner.ID,
			RaceID:   raceID,
			Name:     runner.Name(),
		})
	}
}
