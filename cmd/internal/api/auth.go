package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"warden/cmd/identity"
	"warden/cmd/users"
)

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.bind(w, r, &req) {
		return
	}

	u, err := h.svc.Register(r.Context(), users.UserCreate[*identity.User]{
		Record:   &identity.User{Email: req.Email},
		Password: req.Password,
	})
	if err != nil && u == nil {
		h.writeServiceError(w, "api.register", err)
		return
	}
	if err != nil {
		h.log.Warn("api.register.partial", "err", err, "user_id", u.ID)
		var hookErr *users.HookError
		if errors.As(err, &hookErr) {
			h.writeServiceError(w, "api.register", err)
			return
		}
		// Delivery failed but the account exists; a retry would only conflict.
	}
	writeJSON(w, http.StatusCreated, userEnvelope{User: toUserResponse(u)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.bind(w, r, &req) {
		return
	}

	ctx := r.Context()
	ipKey := ""
	if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
		ipKey = ip.String()
	}

	if h.limiter != nil && ipKey != "" {
		blocked, retryAfter, err := h.limiter.Blocked(ctx, ipKey)
		if err != nil {
			h.log.Error("api.login.throttle.fail", "err", err)
			writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
			return
		}
		if blocked {
			writeRateLimited(w, retryAfter)
			return
		}
	}

	u, err := h.svc.Authenticate(ctx, users.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		h.writeServiceError(w, "api.login", err)
		return
	}
	if u == nil {
		h.recordLoginFailure(ctx, ipKey)
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}
	if !u.IsActive {
		writeError(w, http.StatusForbidden, "account_inactive", "account is disabled")
		return
	}
	if h.cfg.RequireVerified && !u.IsVerified {
		writeError(w, http.StatusForbidden, "email_not_verified", "email verification required")
		return
	}

	tok, err := h.svc.IssueAccessToken(u)
	if err != nil {
		h.writeServiceError(w, "api.login.issue_token", err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		User:        toUserResponse(u),
		AccessToken: tok,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.svc.Config().AccessTokenTTL.Seconds()),
	})
}

func (h *Handler) recordLoginFailure(ctx context.Context, ipKey string) {
	if h.limiter == nil || ipKey == "" {
		return
	}
	if err := h.limiter.Fail(ctx, ipKey); err != nil {
		h.log.Warn("api.login.throttle_record.fail", "err", err)
	}
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !h.bind(w, r, &req) {
		return
	}
	u, err := h.svc.Verify(r.Context(), strings.TrimSpace(req.Token))
	if err != nil {
		h.writeServiceError(w, "api.verify", err)
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(u)})
}

// handleForgotPassword answers 202 whether or not the email is known.
func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !h.bind(w, r, &req) {
		return
	}
	if err := h.svc.InitiatePasswordReset(r.Context(), req.Email); err != nil {
		h.writeServiceError(w, "api.forgot_password", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.bind(w, r, &req) {
		return
	}
	if err := h.svc.ResetPassword(r.Context(), strings.TrimSpace(req.Token), req.Password); err != nil {
		h.writeServiceError(w, "api.reset_password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request, u *identity.User) {
	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(u)})
}
