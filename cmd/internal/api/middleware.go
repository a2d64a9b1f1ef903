package api

import (
	"net/http"
	"strings"

	"warden/cmd/identity"
	"warden/cmd/users"
)

type userHandlerFunc func(http.ResponseWriter, *http.Request, *identity.User)

// requireUser resolves the bearer token to an active user.
func (h *Handler) requireUser(next userHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		u, err := h.svc.UserFromAccessToken(r.Context(), tok)
		if err != nil {
			if identity.IsInvalidToken(err) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			h.writeServiceError(w, "api.auth", err)
			return
		}
		if !u.IsActive {
			writeError(w, http.StatusForbidden, "account_inactive", "account is disabled")
			return
		}
		next(w, r, u)
	}
}

// requireAdmin is requireUser plus membership of the admin role.
func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return h.requireUser(func(w http.ResponseWriter, r *http.Request, u *identity.User) {
		if !users.HasRole(u, h.cfg.AdminRole) {
			writeError(w, http.StatusForbidden, "forbidden", "admin role required")
			return
		}
		next(w, r)
	})
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, tok, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
