package api

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"warden/cmd/identity"
	"warden/cmd/users"
)

// Service is the users.Service instantiation served over HTTP.
type Service = users.Service[*identity.User]

// Handler wires HTTP endpoints to the users service.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	svc      *Service
	validate *validator.Validate
	limiter  LoginLimiter
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithLoginLimiter throttles failed logins per client IP.
func WithLoginLimiter(l LoginLimiter) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.limiter = l
		}
	}
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, svc *Service, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("api: nil users service")
	}
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		log:      log,
		cfg:      cfg.withDefaults(),
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/verify", h.handleVerify)
	mux.HandleFunc("POST /auth/forgot-password", h.handleForgotPassword)
	mux.HandleFunc("POST /auth/reset-password", h.handleResetPassword)

	mux.HandleFunc("GET /users/me", h.requireUser(h.handleMe))
	mux.HandleFunc("GET /users/{id}", h.requireAdmin(h.handleUserGet))
	mux.HandleFunc("PATCH /users/{id}", h.requireAdmin(h.handleUserPatch))
	mux.HandleFunc("DELETE /users/{id}", h.requireAdmin(h.handleUserDelete))
	mux.HandleFunc("PUT /users/{id}/roles/{roleID}", h.requireAdmin(h.handleRoleAssign))
	mux.HandleFunc("DELETE /users/{id}/roles/{roleID}", h.requireAdmin(h.handleRoleRevoke))

	mux.HandleFunc("POST /roles", h.requireAdmin(h.handleRoleCreate))
	mux.HandleFunc("GET /roles/{id}", h.requireAdmin(h.handleRoleGet))
	mux.HandleFunc("PATCH /roles/{id}", h.requireAdmin(h.handleRolePatch))
	mux.HandleFunc("DELETE /roles/{id}", h.requireAdmin(h.handleRoleDelete))
}

// writeServiceError maps service error kinds to responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, event string, err error) {
	var (
		hookErr  *users.HookError
		conflict identity.ConflictError
		opErr    identity.OpError
	)
	switch {
	case errors.As(err, &hookErr):
		h.log.Error(event+".hook.fail", "err", err, "stage", hookErr.Stage)
		writeError(w, http.StatusInternalServerError, "hook_failed", "request was not completed")
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "conflict", conflictMessage(conflict.Field))
	case identity.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case identity.IsInvalidToken(err):
		writeError(w, http.StatusBadRequest, "invalid_token", "invalid or expired token")
	case identity.IsInvalidInput(err):
		msg := "invalid request"
		if errors.As(err, &opErr) && opErr.Msg != "" {
			msg = opErr.Msg
		}
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
	default:
		h.log.Error(event+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func conflictMessage(field string) string {
	switch field {
	case "email":
		return "email already in use"
	case "role_name":
		return "role name already in use"
	case "role":
		return "role membership conflict"
	default:
		return "conflict"
	}
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
