package services

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/cratehub/cratehub_api/dto"
	"github.com/cratehub/cratehub_api/shared"
)

type fakeQuotaStore struct {
	mu sync.Mutex

	counts    map[string]int
	firstUsed map[string]time.Time

	claimErr error
	claims   int
	releases int
	details  []dto.AnonTracking
}

func newFakeQuotaStore() *fakeQuotaStore {
	return &fakeQuotaStore{
		counts:    map[string]int{},
		firstUsed: map[string]time.Time{},
	}
}

func quotaKey(fingerprintHash, month string) string {
	return fingerprintHash + "|" + month
}

func (f *fakeQuotaStore) ClaimAnonymousPlaygroundUsage(t dto.AnonTracking) (*dto.QuotaClaimResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.claims++
	if f.claimErr != nil {
		return nil, f.claimErr
	}

	key := quotaKey(t.FingerprintHash, t.Month)
	if f.counts[key] >= shared.AnonymousQuotaLimit {
		first := f.firstUsed[key]
		return &dto.QuotaClaimResult{
			Granted:     false,
			UsageCount:  f.counts[key],
			FirstUsedAt: &first,
		}, nil
	}

	f.counts[key]++
	if _, ok := f.firstUsed[key]; !ok {
		f.firstUsed[key] = time.Now()
	}
	return &dto.QuotaClaimResult{Granted: true, UsageCount: f.counts[key]}, nil
}

func (f *fakeQuotaStore) ReleaseAnonymousPlaygroundUsage(fingerprintHash, month string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := quotaKey(fingerprintHash, month)
	if f.counts[key] > 0 {
		f.counts[key]--
	}
	f.releases++
	return nil
}

func (f *fakeQuotaStore) RecordAnonymousRunDetails(t dto.AnonTracking) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.details = append(f.details, t)
	return nil
}

func (f *fakeQuotaStore) claimCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claims
}

func (f *fakeQuotaStore) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases
}

func (f *fakeQuotaStore) detailCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.details)
}

func (f *fakeQuotaStore) usageCount(fingerprintHash, month string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[quotaKey(fingerprintHash, month)]
}

func playgroundTestApp(svc *PlaygroundService, identity dto.RequestIdentity, handler fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Post("/run", func(c *fiber.Ctx) error {
		c.Locals(shared.Identity, identity)
		return c.Next()
	}, svc.AnonymousRestriction(), handler)
	return app
}

func okHandler(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusOK)
}

func playgroundTestRequest() *http.Request {
	req := httptest.NewRequest("POST", "/run", nil)
	req.Header.Set(fiber.HeaderUserAgent, "Mozilla/5.0")
	req.Header.Set(fiber.HeaderAcceptLanguage, "en-US")
	req.Header.Set(fiber.HeaderAcceptEncoding, "gzip")
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	return req
}

func playgroundTestMonth() string {
	return time.Now().UTC().Format("2006-01")
}

func playgroundTestHash() string {
	return (&FingerprintService{}).Generate("Mozilla/5.0", "en-US", "gzip").Hash
}

func waitFor(check func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return check()
}

func TestAnonymousAllowedWithQuota(t *testing.T) {
	store := newFakeQuotaStore()
	svc := NewPlaygroundService(store, &FingerprintService{})
	app := playgroundTestApp(svc, dto.AnonymousIdentity(), okHandler)

	resp, err := app.Test(playgroundTestRequest())
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := store.usageCount(playgroundTestHash(), playgroundTestMonth()); got != 1 {
		t.Fatalf("expected exactly one claimed run, got %d", got)
	}
	if !waitFor(func() bool { return store.detailCount() == 1 }) {
		t.Fatal("expected run details to be recorded after a successful run")
	}

	tracking := store.details[0]
	if tracking.IP != "203.0.113.50" {
		t.Errorf("expected client IP from X-Forwarded-For, got %q", tracking.IP)
	}
	if tracking.IPSubnet != "203.0.113.0" {
		t.Errorf("expected subnet 203.0.113.0, got %q", tracking.IPSubnet)
	}
	if tracking.Month == "" {
		t.Error("expected tracking month to be set")
	}
}

func TestAnonymousQuotaExceeded(t *testing.T) {
	store := newFakeQuotaStore()
	key := quotaKey(playgroundTestHash(), playgroundTestMonth())
	store.counts[key] = 1
	store.firstUsed[key] = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	svc := NewPlaygroundService(store, &FingerprintService{})
	app := playgroundTestApp(svc, dto.AnonymousIdentity(), okHandler)

	resp, err := app.Test(playgroundTestRequest())
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)

	if !strings.Contains(body, shared.ErrAnonymousQuotaExceeded) {
		t.Errorf("expected error code %q in body: %s", shared.ErrAnonymousQuotaExceeded, body)
	}
	if !strings.Contains(body, `"callToAction"`) {
		t.Errorf("expected callToAction in body: %s", body)
	}
	if !strings.Contains(body, `"registrationUrl":"/register"`) {
		t.Errorf("expected registration URL in body: %s", body)
	}
	if !strings.Contains(strings.ToLower(body), "unlimited") {
		t.Errorf("expected an unlimited-runs benefit in body: %s", body)
	}

	if store.usageCount(playgroundTestHash(), playgroundTestMonth()) != 1 {
		t.Error("a denied request must not change the usage count")
	}
	if store.releaseCount() != 0 {
		t.Error("a denied request holds no claim to release")
	}
}

func TestConcurrentAnonymousRequestsSingleGrant(t *testing.T) {
	store := newFakeQuotaStore()
	svc := NewPlaygroundService(store, &FingerprintService{})
	app := playgroundTestApp(svc, dto.AnonymousIdentity(), okHandler)

	const parallel = 5
	statuses := make([]int, parallel)

	var wg sync.WaitGroup
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := app.Test(playgroundTestRequest())
			if err != nil {
				statuses[i] = -1
				return
			}
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	granted, denied := 0, 0
	for i, status := range statuses {
		switch status {
		case fiber.StatusOK:
			granted++
		case fiber.StatusForbidden:
			denied++
		default:
			t.Fatalf("request %d: unexpected status %d", i, status)
		}
	}

	if granted != 1 {
		t.Errorf("expected exactly 1 granted run, got %d", granted)
	}
	if denied != parallel-1 {
		t.Errorf("expected %d denials, got %d", parallel-1, denied)
	}
	if got := store.usageCount(playgroundTestHash(), playgroundTestMonth()); got != 1 {
		t.Errorf("expected final usage count 1, got %d", got)
	}
}

func TestAnonymousQuotaFailsOpenOnStoreError(t *testing.T) {
	store := newFakeQuotaStore()
	store.claimErr = errors.New("connection refused")
	svc := NewPlaygroundService(store, &FingerprintService{})
	app := playgroundTestApp(svc, dto.AnonymousIdentity(), okHandler)

	resp, err := app.Test(playgroundTestRequest())
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected fail-open 200 on store error, got %d", resp.StatusCode)
	}

	// Nothing was claimed, so nothing gets released.
	time.Sleep(50 * time.Millisecond)
	if store.releaseCount() != 0 {
		t.Error("fail-open requests must not release a run they never claimed")
	}
}

func TestAnonymousQuotaFailsClosedWhenConfigured(t *testing.T) {
	store := newFakeQuotaStore()
	store.claimErr = errors.New("connection refused")
	svc := NewPlaygroundService(store, &FingerprintService{})
	svc.OnBackendError = "deny"
	app := playgroundTestApp(svc, dto.AnonymousIdentity(), okHandler)

	resp, err := app.Test(playgroundTestRequest())
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503 when configured to deny, got %d", resp.StatusCode)
	}
}

func TestAuthenticatedBypassesQuota(t *testing.T) {
	store := newFakeQuotaStore()
	svc := NewPlaygroundService(store, &FingerprintService{})
	app := playgroundTestApp(svc, dto.AuthenticatedIdentity("user-1", shared.TierFree), okHandler)

	resp, err := app.Test(playgroundTestRequest())
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 for authenticated user, got %d", resp.StatusCode)
	}
	if store.claimCount() != 0 {
		t.Error("authenticated requests must not claim the anonymous quota")
	}
}

func TestClaimReleasedOnFailedRun(t *testing.T) {
	store := newFakeQuotaStore()
	svc := NewPlaygroundService(store, &FingerprintService{})
	app := playgroundTestApp(svc, dto.AnonymousIdentity(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusInternalServerError)
	})

	resp, err := app.Test(playgroundTestRequest())
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 from handler, got %d", resp.StatusCode)
	}

	if !waitFor(func() bool { return store.releaseCount() == 1 }) {
		t.Fatal("expected the claim to be released after a failed run")
	}
	if got := store.usageCount(playgroundTestHash(), playgroundTestMonth()); got != 0 {
		t.Errorf("failed runs must not consume quota, usage count %d", got)
	}
}

func TestClaimReleasedOnNonOKSuccess(t *testing.T) {
	store := newFakeQuotaStore()
	svc := NewPlaygroundService(store, &FingerprintService{})
	app := playgroundTestApp(svc, dto.AnonymousIdentity(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})

	resp, err := app.Test(playgroundTestRequest())
	if err != nil {
		t.Fatal(err)
	}

	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("expected 202 from handler, got %d", resp.StatusCode)
	}

	if !waitFor(func() bool { return store.releaseCount() == 1 }) {
		t.Fatal("expected the claim to be released after a non-200 response")
	}
	if got := store.usageCount(playgroundTestHash(), playgroundTestMonth()); got != 0 {
		t.Errorf("only exact 200 responses consume quota, usage count %d", got)
	}
}
