package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mfa/core/mfa"
	"github.com/dmitrymomot/mfa/core/session"
	"github.com/dmitrymomot/mfa/httpapi"
	"github.com/dmitrymomot/mfa/pkg/ratelimiter"
	"github.com/dmitrymomot/mfa/pkg/secrets"
	"github.com/dmitrymomot/mfa/pkg/totp"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type server struct {
	handler http.Handler
	svc     *mfa.Service
	clock   *clock
}

func newServer(t *testing.T, opts ...httpapi.Option) *server {
	t.Helper()
	return newServerWithClock(t, &clock{now: epoch}, nil, opts...)
}

func newServerWithClock(t *testing.T, c *clock, svcOpts []mfa.Option, opts ...httpapi.Option) *server {
	t.Helper()

	app, err := secrets.GenerateKey()
	require.NoError(t, err)
	tenant, err := secrets.GenerateKey()
	require.NoError(t, err)
	cipher, err := secrets.NewCipher(app, tenant)
	require.NoError(t, err)
	pepper, err := secrets.DeriveKey(app, tenant, "mfa/backup-codes/v1")
	require.NoError(t, err)
	hasher, err := totp.NewBackupCodeHasher(pepper)
	require.NoError(t, err)

	reg := session.NewRegistry(session.WithClock(c.Now))
	svcOpts = append([]mfa.Option{mfa.WithClock(c.Now)}, svcOpts...)
	svc, err := mfa.NewService(mfa.NewMemoryStore(), cipher, hasher, reg, svcOpts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	return &server{handler: httpapi.NewHandler(svc, opts...), svc: svc, clock: c}
}

func (s *server) do(t *testing.T, method, path, user, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if token != "" {
		req.Header.Set(httpapi.SessionHeader, token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

type enrollBody struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	BackupCodes     []string `json:"backup_codes"`
}

type verifyBody struct {
	Status       string `json:"status"`
	SessionToken string `json:"session_token"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

func (s *server) activate(t *testing.T, user string) (enrollBody, string) {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/mfa/enroll", user, "", map[string]string{"label": user + "@clinic.example"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	enr := decode[enrollBody](t, rec)

	code, err := totp.GenerateCodeAt(enr.Secret, s.clock.Now())
	require.NoError(t, err)
	rec = s.do(t, http.MethodPost, "/mfa/verify", user, "", map[string]string{"code": code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	v := decode[verifyBody](t, rec)
	require.Equal(t, "verified", v.Status)
	return enr, v.SessionToken
}

func TestAPI_Flow(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	enr, token := s.activate(t, "u1")
	assert.Len(t, enr.BackupCodes, 10)
	assert.Contains(t, enr.ProvisioningURI, "otpauth://totp/")

	rec := s.do(t, http.MethodGet, "/mfa/session", "u1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sess := decode[map[string]any](t, rec)
	assert.Equal(t, true, sess["valid"])
	assert.Equal(t, "totp", sess["method"])
	assert.Equal(t, true, sess["phi_access_enabled"])

	rec = s.do(t, http.MethodGet, "/mfa/status", "u1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[map[string]any](t, rec)
	assert.Equal(t, "active", st["state"])
	assert.EqualValues(t, 10, st["remaining_backup_codes"])

	rec = s.do(t, http.MethodPost, "/mfa/session/extend", "u1", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/mfa/logout", "u1", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/mfa/session", "u1", token, nil)
	assert.Equal(t, false, decode[map[string]any](t, rec)["valid"])
}

func TestAPI_RequiresIdentity(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/mfa/enroll", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode[errorBody](t, rec).Code)
}

func TestAPI_InvalidCode(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/mfa/enroll", "u1", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	enr := decode[enrollBody](t, rec)

	good, err := totp.GenerateCodeAt(enr.Secret, s.clock.Now())
	require.NoError(t, err)
	bad := "000000"
	if bad == good {
		bad = "111111"
	}

	rec = s.do(t, http.MethodPost, "/mfa/verify", "u1", "", map[string]string{"code": bad})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_code", decode[errorBody](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/mfa/verify", "u1", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/mfa/verify", "u1", "", map[string]string{"code": "1", "verified": "true"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestAPI_RateLimited(t *testing.T) {
	t.Parallel()

	c := &clock{now: epoch}
	limiter, err := mfa.NewAttemptLimiter(
		ratelimiter.NewMemoryStore(ratelimiter.WithMemoryStoreClock(c.Now)),
		mfa.Config{MaxAttempts: 2, AttemptWindow: 2 * time.Minute},
	)
	require.NoError(t, err)
	s := newServerWithClock(t, c, []mfa.Option{mfa.WithAttemptLimiter(limiter)})

	rec := s.do(t, http.MethodPost, "/mfa/enroll", "u1", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	enr := decode[enrollBody](t, rec)

	good, err := totp.GenerateCodeAt(enr.Secret, c.Now())
	require.NoError(t, err)
	bad := "000000"
	if bad == good {
		bad = "111111"
	}

	for want := 1; want >= 0; want-- {
		rec = s.do(t, http.MethodPost, "/mfa/verify", "u1", "", map[string]string{"code": bad})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		body := decode[errorBody](t, rec)
		assert.EqualValues(t, want, body.Details["remaining_attempts"])
	}

	rec = s.do(t, http.MethodPost, "/mfa/verify", "u1", "", map[string]string{"code": good})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	body := decode[errorBody](t, rec)
	assert.Equal(t, "too_many_attempts", body.Code)
	assert.EqualValues(t, 60, body.Details["retry_after_seconds"])
}

func TestAPI_NotEnrolledAndConflict(t *testing.T) {
	t.Parallel()

	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/mfa/verify", "ghost", "", map[string]string{"code": "123456"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_enrolled", decode[errorBody](t, rec).Code)

	s.activate(t, "u1")
	rec = s.do(t, http.MethodPost, "/mfa/enroll", "u1", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_enrolled", decode[errorBody](t, rec).Code)
}

func TestAPI_SessionBoundToUser(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	_, token := s.activate(t, "u1")

	// Another user presenting u1's token gets nothing.
	rec := s.do(t, http.MethodGet, "/mfa/session", "u2", token, nil)
	assert.Equal(t, false, decode[map[string]any](t, rec)["valid"])

	rec = s.do(t, http.MethodDelete, "/mfa", "u2", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "mfa_required", decode[errorBody](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/mfa/session/extend", "u2", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/mfa/logout", "u2", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/mfa/session", "u1", token, nil)
	assert.Equal(t, true, decode[map[string]any](t, rec)["valid"], "foreign logout is ignored")
}

func TestAPI_DisableAndRegenerate(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	enr, token := s.activate(t, "u1")

	rec := s.do(t, http.MethodPost, "/mfa/backup-codes", "u1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "requires a session")

	rec = s.do(t, http.MethodPost, "/mfa/backup-codes", "u1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fresh := decode[map[string][]string](t, rec)["backup_codes"]
	require.Len(t, fresh, 10)

	rec = s.do(t, http.MethodPost, "/mfa/verify/backup", "u1", "", map[string]string{"code": enr.BackupCodes[0]})
	if !slices.Contains(fresh, enr.BackupCodes[0]) {
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "old set void")
	}

	rec = s.do(t, http.MethodPost, "/mfa/verify/backup", "u1", "", map[string]string{"code": fresh[0]})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/mfa", "u1", token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/mfa/session", "u1", token, nil)
	assert.Equal(t, false, decode[map[string]any](t, rec)["valid"])

	rec = s.do(t, http.MethodGet, "/mfa/status", "u1", "", nil)
	assert.Equal(t, "unenrolled", decode[map[string]any](t, rec)["state"])
}

func TestAPI_Health(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health/live", "", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health/ready", "", "", nil).Code)

	failing := newServer(t, httpapi.WithReadinessChecks(func(context.Context) error { return errors.New("redis down") }))
	assert.Equal(t, http.StatusServiceUnavailable, failing.do(t, http.MethodGet, "/health/ready", "", "", nil).Code)
}

func TestAPI_RequestIDAndNotFound(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	rec := s.do(t, http.MethodGet, "/health/live", "", "", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"), "plain HTTP")

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	rec = s.do(t, http.MethodGet, "/nope", "", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/mfa/verify", "u1", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type observer struct {
	mu     sync.Mutex
	routes []string
}

func (o *observer) ObserveHTTP(method, route string, status int, _ time.Duration) {
	o.mu.Lock()
	o.routes = append(o.routes, method+" "+route)
	o.mu.Unlock()
}

func TestAPI_Observer(t *testing.T) {
	t.Parallel()

	obs := &observer{}
	s := newServer(t, httpapi.WithObserver(obs))
	s.do(t, http.MethodGet, "/mfa/status", "u1", "", nil)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []string{"GET /mfa/status"}, obs.routes)
}

func TestRequireMFA(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	_, token := s.activate(t, "u1")

	protected := httpapi.RequireMFA(s.svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := httpapi.UserIDFromContext(r.Context())
		_, _ = w.Write([]byte(id))
	}))

	tests := []struct {
		name  string
		user  string
		token string
		want  int
	}{
		{name: "valid", user: "u1", token: token, want: http.StatusOK},
		{name: "no token", user: "u1", want: http.StatusUnauthorized},
		{name: "forged token", user: "u1", token: "mfa_verified=true", want: http.StatusUnauthorized},
		{name: "other user", user: "u2", token: token, want: http.StatusUnauthorized},
		{name: "no identity", token: token, want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/patients/42", nil)
		if tt.user != "" {
			req.Header.Set("X-User-ID", tt.user)
		}
		if tt.token != "" {
			req.Header.Set(httpapi.SessionHeader, tt.token)
		}
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, tt.want, rec.Code, tt.name)
		if tt.want == http.StatusOK {
			assert.Equal(t, "u1", rec.Body.String())
		}
	}
}
