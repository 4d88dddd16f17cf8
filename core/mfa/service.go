package mfa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrymomot/mfa/core/logger"
	"github.com/dmitrymomot/mfa/core/session"
	"github.com/dmitrymomot/mfa/pkg/totp"
)

// Service orchestrates enrollment, verification and MFA sessions.
//
// Every operation takes the authenticated user ID explicitly. Whether a user
// is MFA-verified is answered only by the session registry; no method accepts
// a caller-supplied "verified" flag.
type Service struct {
	store       Store
	enc         Encryptor
	registry    *session.Registry
	vault       *Vault
	provisioner *Provisioner
	locks       *userLocks
	opts        options

	bg sync.WaitGroup
}

// NewService wires the service. hasher keys backup-code hashes and must be
// stable across restarts, otherwise stored codes stop matching.
func NewService(store Store, enc Encryptor, hasher *totp.BackupCodeHasher, registry *session.Registry, opts ...Option) (*Service, error) {
	if store == nil || enc == nil || hasher == nil || registry == nil {
		return nil, ErrInvalidConfig
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	vault, err := NewVault(store, hasher, opts...)
	if err != nil {
		return nil, err
	}
	provisioner, err := NewProvisioner(store, enc, vault, opts...)
	if err != nil {
		return nil, err
	}

	return &Service{
		store:       store,
		enc:         enc,
		registry:    registry,
		vault:       vault,
		provisioner: provisioner,
		locks:       newUserLocks(),
		opts:        o,
	}, nil
}

// GenerateSecret starts (or restarts) enrollment. It fails with
// ErrAlreadyEnrolled once MFA is active; Disable first to re-enroll.
func (s *Service) GenerateSecret(ctx context.Context, userID, label string) (Enrollment, error) {
	if userID == "" {
		return Enrollment{}, ErrInvalidUserID
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	cred, err := s.loadCredential(ctx, userID)
	switch {
	case err == nil && cred.Enabled:
		return Enrollment{}, ErrAlreadyEnrolled
	case err != nil && !errors.Is(err, ErrNotEnrolled):
		s.opts.metrics.ObserveEnrollment(false)
		return Enrollment{}, errors.Join(ErrProvisioningFailed, err)
	}

	enr, err := s.provisioner.Enroll(ctx, userID, label)
	if errors.Is(err, ErrCredentialConflict) {
		// Activated through another instance since the load above.
		return Enrollment{}, ErrAlreadyEnrolled
	}
	if err != nil {
		s.opts.metrics.ObserveEnrollment(false)
		s.opts.logger.ErrorContext(ctx, "mfa enrollment failed",
			logger.Component("mfa"),
			logger.Action("enroll"),
			logger.UserID(userID),
			logger.Error(err))
		s.notify(ctx, AuditEvent{Action: AuditEnroll, UserID: userID, Success: false})
		return Enrollment{}, err
	}

	now := s.opts.now()
	s.opts.metrics.ObserveEnrollment(true)
	s.notify(ctx, AuditEvent{Action: AuditEnroll, UserID: userID, Success: true},
		MFAEnrolled{UserID: userID, At: now})

	return enr, nil
}

// VerifyCode checks a TOTP code. A pending enrollment is activated by its
// first successful verification. Success issues a new session.
func (s *Service) VerifyCode(ctx context.Context, userID, code string) (VerifyResult, error) {
	if userID == "" {
		return VerifyResult{}, ErrInvalidUserID
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	if res, limited := s.checkLimit(ctx, userID, session.MethodTOTP); limited {
		return res, nil
	}

	cred, err := s.loadCredential(ctx, userID)
	if err != nil {
		return VerifyResult{}, err
	}

	secret, err := s.enc.Decrypt(cred.EncryptedSecret)
	if err != nil {
		s.logCorrupt(ctx, userID, err)
		return VerifyResult{}, errors.Join(ErrCorruptCredential, err)
	}
	now := s.opts.now()
	counter, ok, err := totp.VerifyCounter(string(secret), code, now)
	clear(secret)
	if err != nil {
		s.logCorrupt(ctx, userID, err)
		return VerifyResult{}, errors.Join(ErrCorruptCredential, err)
	}

	replay := ok && counter <= cred.LastUsedCounter
	if !ok || replay {
		meta := map[string]string{}
		if replay {
			meta["reason"] = "replay"
		}
		return s.fail(ctx, userID, session.MethodTOTP, meta), nil
	}

	expect := cred.Version()
	activated := !cred.Enabled
	cred.Enabled = true
	cred.LastVerifiedAt = now
	cred.LastUsedCounter = counter

	err = s.updateCredential(ctx, cred, expect)
	if errors.Is(err, ErrCredentialConflict) {
		// Another instance accepted a code or re-enrolled first.
		return s.fail(ctx, userID, session.MethodTOTP, map[string]string{"reason": "conflict"}), nil
	}
	if err != nil {
		return VerifyResult{}, err
	}

	var extra []any
	if activated {
		extra = append(extra, MFAActivated{UserID: userID, At: now})
	}
	return s.succeed(ctx, userID, session.MethodTOTP, nil, extra...)
}

// VerifyBackupCode spends a backup code. Backup codes are only accepted once
// MFA is active.
func (s *Service) VerifyBackupCode(ctx context.Context, userID, code string) (VerifyResult, error) {
	if userID == "" {
		return VerifyResult{}, ErrInvalidUserID
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	if res, limited := s.checkLimit(ctx, userID, session.MethodBackupCode); limited {
		return res, nil
	}

	cred, err := s.loadCredential(ctx, userID)
	if err != nil {
		return VerifyResult{}, err
	}
	if !cred.Enabled {
		return VerifyResult{}, ErrNotEnrolled
	}

	consumed, err := s.vault.Consume(ctx, userID, code)
	if err != nil {
		s.opts.metrics.ObserveStoreError("consume_backup_code")
		return VerifyResult{}, err
	}
	if !consumed {
		return s.fail(ctx, userID, session.MethodBackupCode, nil), nil
	}

	// The code is spent from here on, even if stamping the credential fails.
	now := s.opts.now()
	ok, err := s.stampVerified(ctx, cred, now)
	if err != nil {
		return VerifyResult{}, err
	}
	if !ok {
		return s.fail(ctx, userID, session.MethodBackupCode, map[string]string{"reason": "conflict"}), nil
	}

	remaining, err := s.vault.Remaining(ctx, userID)
	if err != nil {
		remaining = -1
	}
	meta := map[string]string{"remaining_codes": strconv.Itoa(remaining)}
	return s.succeed(ctx, userID, session.MethodBackupCode, meta,
		BackupCodeUsed{UserID: userID, Remaining: remaining, At: now})
}

// HasMFAEnabled reports whether the user completed enrollment.
func (s *Service) HasMFAEnabled(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, ErrInvalidUserID
	}
	cred, err := s.loadCredential(ctx, userID)
	if errors.Is(err, ErrNotEnrolled) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return cred.Enabled, nil
}

// Status returns the user's enrollment state and remaining backup codes.
func (s *Service) Status(ctx context.Context, userID string) (EnrollmentStatus, error) {
	if userID == "" {
		return EnrollmentStatus{}, ErrInvalidUserID
	}
	cred, err := s.loadCredential(ctx, userID)
	if errors.Is(err, ErrNotEnrolled) {
		return EnrollmentStatus{State: StateUnenrolled}, nil
	}
	if err != nil {
		return EnrollmentStatus{}, err
	}

	st := EnrollmentStatus{
		State:          StatePending,
		CreatedAt:      cred.CreatedAt,
		LastVerifiedAt: cred.LastVerifiedAt,
	}
	if cred.Enabled {
		st.State = StateActive
	}
	st.RemainingBackupCodes, err = s.vault.Remaining(ctx, userID)
	if err != nil {
		return EnrollmentStatus{}, err
	}
	return st, nil
}

// GetSession reports whether userID holds a live MFA session.
func (s *Service) GetSession(userID string) SessionStatus {
	return sessionStatus(s.registry.Lookup(userID))
}

// GetSessionForToken reports whether token is a live session belonging to userID.
// Route guards should prefer it over GetSession so a session verified on one
// device does not unlock another.
func (s *Service) GetSessionForToken(userID, token string) SessionStatus {
	sess, ok := s.registry.LookupToken(token)
	if !ok || sess.UserID != userID {
		return SessionStatus{}
	}
	return sessionStatus(sess, true)
}

// ExtendSession slides a live session's expiry. Unknown or expired tokens
// return ErrNotVerified.
func (s *Service) ExtendSession(token string) (SessionStatus, error) {
	sess, err := s.registry.Extend(token)
	if err != nil {
		return SessionStatus{}, ErrNotVerified
	}
	return sessionStatus(sess, true), nil
}

// Logout invalidates a session. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) {
	sess, ok := s.registry.Invalidate(token)
	if !ok {
		return
	}
	s.notify(ctx, AuditEvent{
		Action:   AuditLogout,
		UserID:   sess.UserID,
		Success:  true,
		Metadata: map[string]string{"session_id": sess.ID.String()},
	}, SessionInvalidated{UserID: sess.UserID, SessionID: sess.ID.String(), At: s.opts.now()})
}

// Disable removes the credential and backup codes and invalidates every
// session of the user. Callers must authorize the request server-side.
// Sessions are dropped even when the store fails, and each dropped session is
// published as SessionInvalidated ahead of MFADisabled.
func (s *Service) Disable(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidUserID
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	dropped := s.registry.InvalidateUser(userID)
	now := s.opts.now()
	events := make([]any, 0, len(dropped)+1)
	for _, sess := range dropped {
		events = append(events, SessionInvalidated{UserID: userID, SessionID: sess.ID.String(), At: now})
	}

	if _, err := s.loadCredential(ctx, userID); err != nil {
		if len(events) > 0 {
			s.notify(ctx, AuditEvent{Action: AuditDisable, UserID: userID, Success: false}, events...)
		}
		return err
	}

	sctx, cancel := bounded(ctx, s.opts.storeTimeout)
	defer cancel()
	if err := storeErr(s.store.DeleteCredential(sctx, userID)); err != nil {
		s.opts.metrics.ObserveStoreError("delete_credential")
		s.notify(ctx, AuditEvent{Action: AuditDisable, UserID: userID, Success: false}, events...)
		return err
	}

	if s.opts.limiter != nil {
		_ = s.opts.limiter.Reset(ctx, attemptKey(userID))
	}

	s.opts.metrics.ObserveDisable()
	s.notify(ctx, AuditEvent{
		Action:   AuditDisable,
		UserID:   userID,
		Success:  true,
		Metadata: map[string]string{"invalidated_sessions": strconv.Itoa(len(dropped))},
	}, append(events, MFADisabled{UserID: userID, InvalidatedSessions: len(dropped), At: now})...)
	return nil
}

// RegenerateBackupCodes replaces every backup code, used or not, and returns
// the new plaintext set once. MFA must be active.
func (s *Service) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	cred, err := s.loadCredential(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !cred.Enabled {
		return nil, ErrNotEnrolled
	}

	codes, err := s.vault.Generate(ctx, userID)
	if err != nil {
		s.notify(ctx, AuditEvent{Action: AuditRegenerateCodes, UserID: userID, Success: false})
		return nil, err
	}

	s.notify(ctx, AuditEvent{Action: AuditRegenerateCodes, UserID: userID, Success: true},
		BackupCodesRegenerated{UserID: userID, At: s.opts.now()})
	return codes, nil
}

// Close waits for pending audit records and events, bounded by ctx.
func (s *Service) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) loadCredential(ctx context.Context, userID string) (Credential, error) {
	sctx, cancel := bounded(ctx, s.opts.storeTimeout)
	defer cancel()

	cred, err := s.store.GetCredential(sctx, userID)
	if err == nil {
		return cred, nil
	}
	if errors.Is(err, ErrCredentialNotFound) {
		return Credential{}, ErrNotEnrolled
	}
	s.opts.metrics.ObserveStoreError("get_credential")
	s.opts.logger.ErrorContext(ctx, "mfa credential load failed",
		logger.Component("mfa"),
		logger.UserID(userID),
		logger.Error(err))
	return Credential{}, storeErr(err)
}

// stampVerifiedAttempts bounds the retries of stampVerified.
const stampVerifiedAttempts = 3

// stampVerified records a backup-code verification on cred. A concurrent TOTP
// verification only moves the counter, so the stamp is retried on a fresh
// read. It reports false when the credential was replaced or deactivated.
func (s *Service) stampVerified(ctx context.Context, cred Credential, at time.Time) (bool, error) {
	generation := cred.Version()
	for range stampVerifiedAttempts {
		expect := cred.Version()
		cred.LastVerifiedAt = at
		err := s.updateCredential(ctx, cred, expect)
		if !errors.Is(err, ErrCredentialConflict) {
			return err == nil, err
		}

		cred, err = s.loadCredential(ctx, cred.UserID)
		if err != nil {
			return false, err
		}
		if !cred.Enabled || !cred.CreatedAt.Equal(generation.CreatedAt) ||
			!bytes.Equal(cred.EncryptedSecret, generation.EncryptedSecret) {
			return false, nil
		}
	}
	return false, nil
}

func (s *Service) updateCredential(ctx context.Context, cred Credential, expect CredentialVersion) error {
	sctx, cancel := bounded(ctx, s.opts.storeTimeout)
	defer cancel()

	err := s.store.UpdateCredential(sctx, cred, expect)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCredentialNotFound) {
		// Disabled concurrently through another store client.
		return ErrNotEnrolled
	}
	if errors.Is(err, ErrCredentialConflict) {
		s.opts.logger.WarnContext(ctx, "mfa credential changed concurrently",
			logger.Component("mfa"),
			logger.UserID(cred.UserID))
		return err
	}
	s.opts.metrics.ObserveStoreError("update_credential")
	s.opts.logger.ErrorContext(ctx, "mfa credential update failed",
		logger.Component("mfa"),
		logger.UserID(cred.UserID),
		logger.Error(err))
	return storeErr(err)
}

// checkLimit rejects the attempt when the user's failure budget is exhausted.
// Limiter faults are logged and do not block verification.
func (s *Service) checkLimit(ctx context.Context, userID string, method session.Method) (VerifyResult, bool) {
	if s.opts.limiter == nil {
		return VerifyResult{}, false
	}
	st, err := s.opts.limiter.Status(ctx, attemptKey(userID))
	if err != nil {
		s.opts.logger.WarnContext(ctx, "attempt limiter unavailable",
			logger.Component("mfa"),
			logger.UserID(userID),
			logger.Error(err))
		return VerifyResult{}, false
	}
	if !st.Exhausted() {
		return VerifyResult{}, false
	}

	res := VerifyResult{Status: StatusRateLimited, RetryAfter: max(st.ResetAt.Sub(s.opts.now()), 0)}
	s.opts.metrics.ObserveVerification(method, res.Status)
	s.notify(ctx, AuditEvent{
		Action:   auditAction(method),
		UserID:   userID,
		Success:  false,
		Metadata: map[string]string{"reason": "rate_limited"},
	})
	return res, true
}

func (s *Service) fail(ctx context.Context, userID string, method session.Method, meta map[string]string) VerifyResult {
	res := VerifyResult{Status: StatusInvalidCode, RemainingAttempts: -1}
	if s.opts.limiter != nil {
		if st, err := s.opts.limiter.Allow(ctx, attemptKey(userID)); err == nil {
			res.RemainingAttempts = max(st.Remaining, 0)
		}
	}

	s.opts.metrics.ObserveVerification(method, res.Status)
	s.opts.logger.InfoContext(ctx, "mfa verification failed",
		logger.Component("mfa"),
		logger.Action(string(method)),
		logger.UserID(userID),
		logger.Count("remaining_attempts", res.RemainingAttempts))
	s.notify(ctx, AuditEvent{Action: auditAction(method), UserID: userID, Success: false, Metadata: meta})
	return res
}

func (s *Service) succeed(ctx context.Context, userID string, method session.Method, meta map[string]string, extra ...any) (VerifyResult, error) {
	sess, err := s.registry.Create(userID, method)
	if err != nil {
		return VerifyResult{}, err
	}

	res := VerifyResult{
		Status:            StatusVerified,
		SessionToken:      sess.Token,
		ExpiresAt:         sess.ExpiresAt,
		RemainingAttempts: -1,
	}
	if s.opts.limiter != nil {
		_ = s.opts.limiter.Reset(ctx, attemptKey(userID))
		if st, err := s.opts.limiter.Status(ctx, attemptKey(userID)); err == nil {
			res.RemainingAttempts = st.Remaining
		}
	}

	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta["session_id"] = sess.ID.String()

	s.opts.metrics.ObserveVerification(method, res.Status)
	s.opts.logger.InfoContext(ctx, "mfa session created",
		logger.Component("mfa"),
		logger.Action(string(method)),
		logger.UserID(userID),
		logger.Token(sess.Token))

	payloads := append(extra, SessionCreated{
		UserID:    userID,
		SessionID: sess.ID.String(),
		Method:    method,
		ExpiresAt: sess.ExpiresAt,
	})
	s.notify(ctx, AuditEvent{Action: auditAction(method), UserID: userID, Success: true, Metadata: meta}, payloads...)
	return res, nil
}

// notify records the audit event and publishes payloads off the request path.
// Failures are logged only.
func (s *Service) notify(ctx context.Context, e AuditEvent, payloads ...any) {
	if s.opts.audit == nil && (s.opts.publisher == nil || len(payloads) == 0) {
		return
	}
	if e.At.IsZero() {
		e.At = s.opts.now()
	}

	// Detach from request cancellation but keep context values for log correlation.
	bctx := context.WithoutCancel(ctx)

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()

		ctx, cancel := context.WithTimeout(bctx, s.opts.auditTimeout)
		defer cancel()

		if s.opts.audit != nil {
			if err := s.opts.audit.Record(ctx, e); err != nil {
				s.opts.logger.WarnContext(ctx, "audit record failed",
					logger.Component("mfa"),
					logger.Action(string(e.Action)),
					logger.UserID(e.UserID),
					logger.Error(err))
			}
		}
		if s.opts.publisher == nil {
			return
		}
		for _, p := range payloads {
			if err := s.opts.publisher.Publish(ctx, p); err != nil {
				s.opts.logger.WarnContext(ctx, "mfa event publish failed",
					logger.Component("mfa"),
					logger.UserID(e.UserID),
					slog.String("event_type", fmt.Sprintf("%T", p)),
					logger.Error(err))
			}
		}
	}()
}

func (s *Service) logCorrupt(ctx context.Context, userID string, err error) {
	s.opts.logger.ErrorContext(ctx, "mfa credential is corrupt, re-enrollment required",
		logger.Component("mfa"),
		logger.UserID(userID),
		logger.Error(err))
}

func auditAction(m session.Method) AuditAction {
	if m == session.MethodBackupCode {
		return AuditVerifyBackupCode
	}
	return AuditVerifyTOTP
}
