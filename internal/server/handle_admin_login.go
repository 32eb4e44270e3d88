package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/playperu/simple5k/internal/tracker"
)

// AdminLoginRequest is the request body for POST /api/admin/login.
type AdminLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AdminMeResponse is the response for GET /api/admin/me.
type AdminMeResponse struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

func handleAdminLogin(logger *slog.Logger, st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AdminLoginRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		req.Email = strings.TrimSpace(strings.ToLower(req.Email))
		if req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "email and password are required")
			return
		}

		admin, err := st.AdminByEmail(r.Context(), req.Email)
		if errors.Is(err, tracker.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(req.Password)); err != nil {
			logger.Warn("admin login failed", "email", req.Email)
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		sessionID, err := st.CreateAdminSession(r.Context(), admin.ID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		setSessionCookie(w, sessionID)

		writeJSON(w, http.StatusOK, AdminMeResponse{ID: admin.ID, Email: admin.Email})
	}
}

func handleAdminMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin := adminFrom(r)
		writeJSON(w, http.StatusOK, AdminMeResponse{ID: admin.ID, Email: admin.Email})
	}
}
