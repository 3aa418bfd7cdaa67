package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/cratehub/cratehub_api/dto"
	"github.com/cratehub/cratehub_api/shared"
)

type fakeSessionStore struct {
	sessions map[string]dto.PlaygroundSession
	sets     map[string]map[string]bool

	getErr error
	setErr error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: map[string]dto.PlaygroundSession{},
		sets:     map[string]map[string]bool{},
	}
}

func (f *fakeSessionStore) GetJSON(_ context.Context, key string, dest interface{}) (bool, error) {
	if f.getErr != nil {
		return false, f.getErr
	}
	session, ok := f.sessions[key]
	if !ok {
		return false, nil
	}
	*dest.(*dto.PlaygroundSession) = session
	return true, nil
}

func (f *fakeSessionStore) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.sessions[key] = value.(dto.PlaygroundSession)
	return nil
}

func (f *fakeSessionStore) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.sessions, key)
		delete(f.sets, key)
	}
	return nil
}

func (f *fakeSessionStore) SAdd(_ context.Context, key string, members ...interface{}) error {
	if f.sets[key] == nil {
		f.sets[key] = map[string]bool{}
	}
	for _, m := range members {
		f.sets[key][m.(string)] = true
	}
	return nil
}

func (f *fakeSessionStore) SRem(_ context.Context, key string, members ...interface{}) error {
	for _, m := range members {
		delete(f.sets[key], m.(string))
	}
	return nil
}

func (f *fakeSessionStore) SMembers(_ context.Context, key string) ([]string, error) {
	var members []string
	for m := range f.sets[key] {
		members = append(members, m)
	}
	return members, nil
}

const testSessionToken = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

var sessionTestTime = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestSessionService(store *fakeSessionStore) *SessionService {
	svc := NewSessionService(store, &FingerprintService{})
	svc.now = func() time.Time { return sessionTestTime }
	return svc
}

func sessionTestApp(svc *SessionService, identity dto.RequestIdentity) *fiber.App {
	app := fiber.New()
	app.Post("/run", func(c *fiber.Ctx) error {
		c.Locals(shared.Identity, identity)
		return c.Next()
	}, svc.Middleware(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func sessionTestRequest(token string) *http.Request {
	req := httptest.NewRequest("POST", "/run", nil)
	req.Header.Set(fiber.HeaderUserAgent, "Mozilla/5.0")
	req.Header.Set(fiber.HeaderAcceptLanguage, "en-US")
	req.Header.Set(fiber.HeaderAcceptEncoding, "gzip")
	if token != "" {
		req.Header.Set(shared.HeaderSessionToken, token)
	}
	return req
}

func testFingerprintHash() string {
	fp := (&FingerprintService{}).Generate("Mozilla/5.0", "en-US", "gzip")
	return fp.Hash
}

func seedSession(store *fakeSessionStore, token string, session dto.PlaygroundSession) {
	store.sessions[shared.KeyPrefixSession+token] = session
	if store.sets[shared.KeyPrefixUserSessions+session.UserID] == nil {
		store.sets[shared.KeyPrefixUserSessions+session.UserID] = map[string]bool{}
	}
	store.sets[shared.KeyPrefixUserSessions+session.UserID][token] = true
}

func TestSessionCreatedWhenNoToken(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(store)
	app := sessionTestApp(svc, dto.AuthenticatedIdentity("user-1", shared.TierFree))

	resp, err := app.Test(sessionTestRequest(""))
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	token := resp.Header.Get(shared.HeaderSessionToken)
	if len(token) != shared.SessionTokenBytes*2 {
		t.Fatalf("expected %d char token, got %q", shared.SessionTokenBytes*2, token)
	}
	if got := resp.Header.Get(shared.HeaderSessionCount); got != "1" {
		t.Errorf("expected request count 1, got %q", got)
	}
	if resp.Header.Get(shared.HeaderSessionExpires) == "" {
		t.Error("expected session expiry header")
	}

	session, ok := store.sessions[shared.KeyPrefixSession+token]
	if !ok {
		t.Fatal("session not persisted")
	}
	if session.FingerprintHash != testFingerprintHash() {
		t.Error("session not bound to request fingerprint")
	}
	if !store.sets[shared.KeyPrefixUserSessions+"user-1"][token] {
		t.Error("session not indexed for revocation")
	}
}

func TestSessionCreationNotRateLimited(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(store)
	app := sessionTestApp(svc, dto.AuthenticatedIdentity("user-1", shared.TierFree))

	// Two immediate tokenless requests both create sessions; the minimum
	// interval applies only within an existing session.
	for i := 0; i < 2; i++ {
		resp, err := app.Test(sessionTestRequest(""))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, resp.StatusCode)
		}
	}
}

func TestSessionMinIntervalEnforced(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(store)
	seedSession(store, testSessionToken, dto.PlaygroundSession{
		UserID:          "user-1",
		FingerprintHash: testFingerprintHash(),
		CreatedAt:       sessionTestTime.Add(-time.Minute),
		LastRequestAt:   sessionTestTime.Add(-10 * time.Second),
		RequestCount:    2,
		ExpiresAt:       sessionTestTime.Add(20 * time.Minute),
	})
	app := sessionTestApp(svc, dto.AuthenticatedIdentity("user-1", shared.TierFree))

	resp, err := app.Test(sessionTestRequest(testSessionToken))
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 within min interval, got %d", resp.StatusCode)
	}
	if resp.Header.Get(shared.HeaderRetryAfter) == "" {
		t.Error("expected Retry-After header")
	}

	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), shared.ErrSessionRateLimited) {
		t.Errorf("expected error code %q in body: %s", shared.ErrSessionRateLimited, raw)
	}
}

func TestSessionAllowedAfterMinInterval(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(store)
	seedSession(store, testSessionToken, dto.PlaygroundSession{
		UserID:          "user-1",
		FingerprintHash: testFingerprintHash(),
		CreatedAt:       sessionTestTime.Add(-2 * time.Minute),
		LastRequestAt:   sessionTestTime.Add(-31 * time.Second),
		RequestCount:    2,
		ExpiresAt:       sessionTestTime.Add(20 * time.Minute),
	})
	app := sessionTestApp(svc, dto.AuthenticatedIdentity("user-1", shared.TierFree))

	resp, err := app.Test(sessionTestRequest(testSessionToken))
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 after min interval, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get(shared.HeaderSessionCount); got != "3" {
		t.Errorf("expected request count 3, got %q", got)
	}

	updated := store.sessions[shared.KeyPrefixSession+testSessionToken]
	if !updated.LastRequestAt.Equal(sessionTestTime) {
		t.Error("last request time not advanced")
	}
}

func TestSessionFingerprintMismatch(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(store)
	seedSession(store, testSessionToken, dto.PlaygroundSession{
		UserID:          "user-1",
		FingerprintHash: "different-client-hash",
		CreatedAt:       sessionTestTime.Add(-time.Minute),
		LastRequestAt:   sessionTestTime.Add(-31 * time.Second),
		RequestCount:    2,
		ExpiresAt:       sessionTestTime.Add(20 * time.Minute),
	})
	app := sessionTestApp(svc, dto.AuthenticatedIdentity("user-1", shared.TierFree))

	resp, err := app.Test(sessionTestRequest(testSessionToken))
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("expected 403 on fingerprint mismatch, got %d", resp.StatusCode)
	}

	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), shared.ErrSessionValidation) {
		t.Errorf("expected error code %q in body: %s", shared.ErrSessionValidation, raw)
	}
}

func TestSessionRejectedForDifferentUser(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(store)
	seedSession(store, testSessionToken, dto.PlaygroundSession{
		UserID:          "user-2",
		FingerprintHash: testFingerprintHash(),
		CreatedAt:       sessionTestTime.Add(-time.Minute),
		LastRequestAt:   sessionTestTime.Add(-31 * time.Second),
		RequestCount:    2,
		ExpiresAt:       sessionTestTime.Add(20 * time.Minute),
	})
	app := sessionTestApp(svc, dto.AuthenticatedIdentity("user-1", shared.TierFree))

	resp, err := app.Test(sessionTestRequest(testSessionToken))
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for another user's token, got %d", resp.StatusCode)
	}

	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), shared.ErrInvalidSessionToken) {
		t.Errorf("expected error code %q in body: %s", shared.ErrInvalidSessionToken, raw)
	}

	// The owner's session state must be untouched.
	session := store.sessions[shared.KeyPrefixSession+testSessionToken]
	if session.RequestCount != 2 {
		t.Errorf("expected request count 2 on the owner's session, got %d", session.RequestCount)
	}
	if !session.LastRequestAt.Equal(sessionTestTime.Add(-31 * time.Second)) {
		t.Error("last request time on the owner's session must not advance")
	}
}

func TestSessionExpired(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(store)
	seedSession(store, testSessionToken, dto.PlaygroundSession{
		UserID:          "user-1",
		FingerprintHash: testFingerprintHash(),
		CreatedAt:       sessionTestTime.Add(-time.Hour),
		LastRequestAt:   sessionTestTime.Add(-31 * time.Minute),
		RequestCount:    4,
		ExpiresAt:       sessionTestTime.Add(-time.Minute),
	})
	app := sessionTestApp(svc, dto.AuthenticatedIdentity("user-1", shared.TierFree))

	resp, err := app.Test(sessionTestRequest(testSessionToken))
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 on expired session, got %d", resp.StatusCode)
	}

	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), shared.ErrSessionExpired) {
		t.Errorf("expected error code %q in body: %s", shared.ErrSessionExpired, raw)
	}
}

func TestSessionInvalidTokenFormat(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(store)
	app := sessionTestApp(svc, dto.AuthenticatedIdentity("user-1", shared.TierFree))

	for _, token := range []string{"zzz", strings.Repeat("g", 64)} {
		resp, err := app.Test(sessionTestRequest(token))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("token %q: expected 400, got %d", token, resp.StatusCode)
		}
	}
}

func TestSessionUnknownToken(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(store)
	app := sessionTestApp(svc, dto.AuthenticatedIdentity("user-1", shared.TierFree))

	resp, err := app.Test(sessionTestRequest(testSessionToken))
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for unknown token, got %d", resp.StatusCode)
	}

	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), shared.ErrInvalidSessionToken) {
		t.Errorf("expected error code %q in body: %s", shared.ErrInvalidSessionToken, raw)
	}
}

func TestSessionValidationFailsOpenOnStoreError(t *testing.T) {
	store := newFakeSessionStore()
	store.getErr = errors.New("connection refused")
	svc := newTestSessionService(store)
	app := sessionTestApp(svc, dto.AuthenticatedIdentity("user-1", shared.TierFree))

	resp, err := app.Test(sessionTestRequest(testSessionToken))
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected fail-open 200 on store error, got %d", resp.StatusCode)
	}
	if resp.Header.Get(shared.HeaderSessionToken) != "" {
		t.Error("no session headers should be set when validation was skipped")
	}
}

func TestSessionValidationFailsClosedWhenConfigured(t *testing.T) {
	store := newFakeSessionStore()
	store.getErr = errors.New("connection refused")
	svc := newTestSessionService(store)
	svc.OnBackendError = "deny"
	app := sessionTestApp(svc, dto.AuthenticatedIdentity("user-1", shared.TierFree))

	resp, err := app.Test(sessionTestRequest(testSessionToken))
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503 when configured to deny, got %d", resp.StatusCode)
	}
}

func TestSessionCreationFailsClosed(t *testing.T) {
	store := newFakeSessionStore()
	store.setErr = errors.New("connection refused")
	svc := newTestSessionService(store)
	app := sessionTestApp(svc, dto.AuthenticatedIdentity("user-1", shared.TierFree))

	resp, err := app.Test(sessionTestRequest(""))
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 when session creation fails, got %d", resp.StatusCode)
	}

	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), shared.ErrSessionCreationFailed) {
		t.Errorf("expected error code %q in body: %s", shared.ErrSessionCreationFailed, raw)
	}
}

func TestSessionRotatesAfterRequestCount(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(store)
	seedSession(store, testSessionToken, dto.PlaygroundSession{
		UserID:          "user-1",
		FingerprintHash: testFingerprintHash(),
		CreatedAt:       sessionTestTime.Add(-5 * time.Minute),
		LastRequestAt:   sessionTestTime.Add(-31 * time.Second),
		RequestCount:    shared.SessionRotateCount - 1,
		ExpiresAt:       sessionTestTime.Add(20 * time.Minute),
	})
	app := sessionTestApp(svc, dto.AuthenticatedIdentity("user-1", shared.TierFree))

	resp, err := app.Test(sessionTestRequest(testSessionToken))
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get(shared.HeaderSessionRotated) != "true" {
		t.Fatal("expected rotation header")
	}

	newToken := resp.Header.Get(shared.HeaderSessionToken)
	if newToken == testSessionToken {
		t.Error("rotation must issue a fresh token")
	}
	if _, ok := store.sessions[shared.KeyPrefixSession+testSessionToken]; ok {
		t.Error("old token should be invalidated after rotation")
	}
	if _, ok := store.sessions[shared.KeyPrefixSession+newToken]; !ok {
		t.Error("replacement session not persisted")
	}

	index := store.sets[shared.KeyPrefixUserSessions+"user-1"]
	if index[testSessionToken] {
		t.Error("rotated-out token must be removed from the session index")
	}
	if !index[newToken] {
		t.Error("replacement token must be indexed for revocation")
	}
}

func TestSessionRotatesAfterAge(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(store)
	seedSession(store, testSessionToken, dto.PlaygroundSession{
		UserID:          "user-1",
		FingerprintHash: testFingerprintHash(),
		CreatedAt:       sessionTestTime.Add(-16 * time.Minute),
		LastRequestAt:   sessionTestTime.Add(-31 * time.Second),
		RequestCount:    2,
		ExpiresAt:       sessionTestTime.Add(10 * time.Minute),
	})
	app := sessionTestApp(svc, dto.AuthenticatedIdentity("user-1", shared.TierFree))

	resp, err := app.Test(sessionTestRequest(testSessionToken))
	if err != nil {
		t.Fatal(err)
	}

	if resp.Header.Get(shared.HeaderSessionRotated) != "true" {
		t.Error("expected rotation after session age threshold")
	}
}

func TestSessionAnonymousPassesThrough(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(store)
	app := sessionTestApp(svc, dto.AnonymousIdentity())

	resp, err := app.Test(sessionTestRequest(""))
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get(shared.HeaderSessionToken) != "" {
		t.Error("anonymous requests must not receive session tokens")
	}
	if len(store.sessions) != 0 {
		t.Error("anonymous requests must not create sessions")
	}
}

func TestRevokeUserSessions(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSessionService(store)

	other := strings.Repeat("b", 64)
	seedSession(store, testSessionToken, dto.PlaygroundSession{UserID: "user-1", ExpiresAt: sessionTestTime.Add(time.Hour)})
	seedSession(store, other, dto.PlaygroundSession{UserID: "user-1", ExpiresAt: sessionTestTime.Add(time.Hour)})

	revoked, err := svc.RevokeUserSessions(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if revoked != 2 {
		t.Fatalf("expected 2 revoked sessions, got %d", revoked)
	}
	if len(store.sessions) != 0 {
		t.Error("all sessions should be deleted")
	}
	if len(store.sets[shared.KeyPrefixUserSessions+"user-1"]) != 0 {
		t.Error("session index should be cleared")
	}
}
