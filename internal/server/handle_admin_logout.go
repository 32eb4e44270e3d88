package server

import (
	"net/http"
)

func handleAdminLogout(st Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(adminCookieName)
		if err == nil && cookie.Value != "" {
			st.DeleteAdminSession(r.Context(), cookie.Value)
		}
		clearSessionCookie(w)

		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
