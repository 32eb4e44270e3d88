package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/playperu/simple5k/internal/tracker"
)

// EmailJobRequest queues a message to a race's runners.
type EmailJobRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	// UnpaidReminder sends only to unpaid runners and adds a payment link.
	UnpaidReminder bool `json:"unpaidReminder"`
}

type EmailJobResponse struct {
	ID             int64     `json:"id"`
	RaceID         int64     `json:"raceId"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	UnpaidReminder bool      `json:"unpaidReminder"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	Sent           int       `json:"sent"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func emailJobResponse(j tracker.EmailJob) EmailJobResponse {
	return EmailJobResponse{
		ID:             j.ID,
		RaceID:         j.RaceID,
		Subject:        j.Subject,
		Body:           j.Body,
		UnpaidReminder: j.UnpaidReminder,
		Status:         string(j.Status),
		Error:          j.Error,
		Sent:           j.Sent,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

type ResetStuckResponse struct {
	Reset int `json:"reset"`
}

type ShirtCountResponse struct {
	Size  string `json:"size"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

type ShirtSummaryResponse struct {
	RaceID int64                `json:"raceId"`
	Sizes  []ShirtCountResponse `json:"sizes"`
	// Unspecified counts runners who gave no size.
	Unspecified int `json:"unspecified"`
	Total       int `json:"total"`
}

func handleAdminQueueEmail(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raceID, ok := idParam(w, r, "raceID")
		if !ok {
			return
		}
		var req EmailJobRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		job, err := st.CreateEmailJob(r.Context(), tracker.EmailJob{
			RaceID:         raceID,
			Subject:        req.Subject,
			Body:           req.Body,
			UnpaidReminder: req.UnpaidReminder,
		})
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		logger.Info("email job queued", "race_id", raceID, "job_id", job.ID, "unpaid_reminder", job.UnpaidReminder)
		writeJSON(w, http.StatusAccepted, emailJobResponse(job))
	}
}

func handleAdminListEmails(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raceID, ok := idParam(w, r, "raceID")
		if !ok {
			return
		}
		if _, err := st.RaceByID(r.Context(), raceID); err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		jobs, err := st.EmailJobs(r.Context(), raceID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		out := make([]EmailJobResponse, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, emailJobResponse(j))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleAdminResetStuckEmails fails every job still marked sending, for
// use after the worker was stopped mid-job.
func handleAdminResetStuckEmails(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := st.ResetStuckEmailJobs(r.Context(), time.Time{}, time.Now())
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		if n > 0 {
			logger.Warn("stuck email jobs reset", "count", n)
		}
		writeJSON(w, http.StatusOK, ResetStuckResponse{Reset: n})
	}
}

func handleAdminShirtSizes(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raceID, ok := idParam(w, r, "raceID")
		if !ok {
			return
		}
		if _, err := st.RaceByID(r.Context(), raceID); err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		counts, err := st.ShirtSizes(r.Context(), raceID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}

		resp := ShirtSummaryResponse{RaceID: raceID, Sizes: make([]ShirtCountResponse, 0, len(counts))}
		for _, c := range counts {
			resp.Total += c.Count
			if c.Size == "" {
				resp.Unspecified += c.Count
				continue
			}
			resp.Sizes = append(resp.Sizes, ShirtCountResponse{
				Size: string(c.Size), Label: c.Size.Label(), Count: c.Count,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
