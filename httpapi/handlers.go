package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrymomot/mfa/core/logger"
	"github.com/dmitrymomot/mfa/core/mfa"
)

type enrollRequest struct {
	Label string `json:"label"`
}

type enrollResponse struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	BackupCodes     []string `json:"backup_codes"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type verifyResponse struct {
	Status            mfa.VerifyStatus `json:"status"`
	SessionToken      string           `json:"session_token,omitempty"`
	ExpiresAt         *time.Time       `json:"expires_at,omitempty"`
	RemainingAttempts *int             `json:"remaining_attempts,omitempty"`
}

type sessionResponse struct {
	Valid            bool       `json:"valid"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	Method           string     `json:"method,omitempty"`
	PHIAccessEnabled bool       `json:"phi_access_enabled"`
}

type statusResponse struct {
	State                mfa.State       `json:"state"`
	CreatedAt            *time.Time      `json:"created_at,omitempty"`
	LastVerifiedAt       *time.Time      `json:"last_verified_at,omitempty"`
	RemainingBackupCodes int             `json:"remaining_backup_codes"`
	Session              sessionResponse `json:"session"`
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

func (a *api) enroll(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req enrollRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}

	enr, err := a.svc.GenerateSecret(r.Context(), userID, req.Label)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, enrollResponse{
		Secret:          enr.Secret,
		ProvisioningURI: enr.ProvisioningURI,
		BackupCodes:     enr.BackupCodes,
	})
}

func (a *api) verify(w http.ResponseWriter, r *http.Request) {
	a.verifyWith(w, r, a.svc.VerifyCode)
}

func (a *api) verifyBackup(w http.ResponseWriter, r *http.Request) {
	a.verifyWith(w, r, a.svc.VerifyBackupCode)
}

func (a *api) verifyWith(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, string) (mfa.VerifyResult, error)) {
	userID, _ := UserIDFromContext(r.Context())

	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	if req.Code == "" {
		writeError(w, r, a.logger, ErrBadRequest.WithMessage("code is required"))
		return
	}

	res, err := fn(r.Context(), userID, req.Code)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}

	switch res.Status {
	case mfa.StatusVerified:
		writeJSON(w, http.StatusOK, verifyResponse{
			Status:            res.Status,
			SessionToken:      res.SessionToken,
			ExpiresAt:         &res.ExpiresAt,
			RemainingAttempts: attempts(res.RemainingAttempts),
		})
	case mfa.StatusRateLimited:
		secs := max(int(res.RetryAfter.Round(time.Second)/time.Second), 1)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, ErrTooManyAttempts.Status, ErrTooManyAttempts.WithDetails(map[string]any{
			"retry_after_seconds": secs,
		}))
	default:
		httpErr := ErrInvalidCode
		if n := attempts(res.RemainingAttempts); n != nil {
			httpErr = httpErr.WithDetails(map[string]any{"remaining_attempts": *n})
		}
		writeJSON(w, httpErr.Status, httpErr)
	}
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	st, err := a.svc.Status(r.Context(), userID)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		State:                st.State,
		CreatedAt:            optionalTime(st.CreatedAt),
		LastVerifiedAt:       optionalTime(st.LastVerifiedAt),
		RemainingBackupCodes: st.RemainingBackupCodes,
		Session:              toSessionResponse(a.svc.GetSessionForToken(userID, r.Header.Get(SessionHeader))),
	})
}

func (a *api) session(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	writeJSON(w, http.StatusOK, toSessionResponse(a.svc.GetSessionForToken(userID, r.Header.Get(SessionHeader))))
}

func (a *api) extend(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	token := r.Header.Get(SessionHeader)

	// Only the owner may slide a session.
	if token == "" || !a.svc.GetSessionForToken(userID, token).Valid {
		writeError(w, r, a.logger, mfa.ErrNotVerified)
		return
	}
	st, err := a.svc.ExtendSession(token)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(st))
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	token := r.Header.Get(SessionHeader)

	if token != "" && a.svc.GetSessionForToken(userID, token).Valid {
		a.svc.Logout(r.Context(), token)
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (a *api) regenerate(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	codes, err := a.svc.RegenerateBackupCodes(r.Context(), userID)
	if err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

func (a *api) disable(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	if err := a.svc.Disable(r.Context(), userID); err != nil {
		writeError(w, r, a.logger, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (a *api) liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (a *api) readinessProbe(w http.ResponseWriter, r *http.Request) {
	for _, check := range a.readiness {
		if err := check(r.Context()); err != nil {
			a.logger.ErrorContext(r.Context(), "readiness check failed",
				logger.Component("httpapi"),
				logger.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, ErrServiceUnavailable)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func toSessionResponse(st mfa.SessionStatus) sessionResponse {
	if !st.Valid {
		return sessionResponse{}
	}
	return sessionResponse{
		Valid:            true,
		ExpiresAt:        optionalTime(st.ExpiresAt),
		Method:           string(st.Method),
		PHIAccessEnabled: st.PHIAccessEnabled,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func attempts(n int) *int {
	if n < 0 {
		return nil
	}
	return &n
}
