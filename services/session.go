package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/cratehub/cratehub_api/dto"
	"github.com/cratehub/cratehub_api/shared"
)

// SessionStore is the slice of the key-value store the session manager
// needs. RedisService satisfies it; tests use an in-memory fake.
type SessionStore interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	SAdd(ctx context.Context, key string, members ...interface{}) error
	SRem(ctx context.Context, key string, members ...interface{}) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// SessionService issues, validates and rotates short-lived playground session
// tokens bound to a request fingerprint. Validation fails open on backend
// errors; creation fails closed, since a brand-new session has no prior
// trust to fall back on.
type SessionService struct {
	appContext.DefaultService

	store SessionStore
	fpSvc *FingerprintService

	// "allow" or "deny" on backend errors during validation. Creation is
	// always fail-closed regardless of this setting.
	OnBackendError string

	MinInterval  time.Duration
	SessionTTL   time.Duration
	RotateCount  int
	RotateAfter  time.Duration
	StoreTimeout time.Duration

	now func() time.Time
}

const SESSION_SVC = "session_svc"

func (svc SessionService) Id() string {
	return SESSION_SVC
}

func NewSessionService(store SessionStore, fpSvc *FingerprintService) *SessionService {
	svc := &SessionService{store: store, fpSvc: fpSvc}
	svc.applyDefaults()
	return svc
}

func (svc *SessionService) applyDefaults() {
	if svc.OnBackendError == "" {
		svc.OnBackendError = "allow"
	}
	if svc.MinInterval == 0 {
		svc.MinInterval = shared.SessionMinInterval
	}
	if svc.SessionTTL == 0 {
		svc.SessionTTL = shared.SessionTTL
	}
	if svc.RotateCount == 0 {
		svc.RotateCount = shared.SessionRotateCount
	}
	if svc.RotateAfter == 0 {
		svc.RotateAfter = shared.SessionRotateAfter
	}
	if svc.StoreTimeout == 0 {
		svc.StoreTimeout = 2 * time.Second
	}
	if svc.now == nil {
		svc.now = time.Now
	}
}

func (svc *SessionService) Configure(ctx *appContext.Context) error {
	svc.applyDefaults()
	return svc.DefaultService.Configure(ctx)
}

func (svc *SessionService) Start() error {
	svc.store = svc.Service(REDIS_SVC).(*RedisService)
	svc.fpSvc = svc.Service(FINGERPRINT_SVC).(*FingerprintService)
	return nil
}

// Middleware guards authenticated playground routes. Anonymous requests pass
// through untouched; the anonymous restriction gate owns those.
func (svc *SessionService) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := c.Locals(shared.Identity).(dto.RequestIdentity)
		if !ok || !identity.Authenticated {
			return c.Next()
		}

		fingerprint := svc.fpSvc.FromRequest(c)
		token := c.Get(shared.HeaderSessionToken)

		if token == "" {
			return svc.createSession(c, identity.UserID, fingerprint.Hash)
		}

		return svc.validateSession(c, identity.UserID, token, fingerprint.Hash)
	}
}

func (svc *SessionService) createSession(c *fiber.Ctx, userID, fingerprintHash string) error {
	now := svc.now()
	session := dto.PlaygroundSession{
		UserID:          userID,
		FingerprintHash: fingerprintHash,
		CreatedAt:       now,
		LastRequestAt:   now,
		RequestCount:    1,
		ExpiresAt:       now.Add(svc.SessionTTL),
	}

	token, err := generateSessionToken()
	if err == nil {
		err = svc.saveSession(token, session)
	}
	if err == nil {
		err = svc.indexSession(userID, token)
	}

	if err != nil {
		// Fail-closed: no trust baseline exists for a session that was
		// never created.
		log.WithError(err).WithField("user_id", userID).Error("Failed to create playground session")
		return shared.GateJSON(c, fiber.StatusInternalServerError, dto.SessionErrorResponse{
			Error:   shared.ErrSessionCreationFailed,
			Message: "Could not establish a playground session. Please try again.",
		})
	}

	recordSessionCreated()
	svc.setSessionHeaders(c, token, session)
	return c.Next()
}

func (svc *SessionService) validateSession(c *fiber.Ctx, userID, token, fingerprintHash string) error {
	if !validTokenFormat(token) {
		return svc.invalidToken(c)
	}

	ctx, cancel := context.WithTimeout(context.Background(), svc.StoreTimeout)
	defer cancel()

	var session dto.PlaygroundSession
	found, err := svc.store.GetJSON(ctx, shared.KeyPrefixSession+token, &session)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Session store error during validation")
		if svc.OnBackendError == "deny" {
			return shared.ResponseJSON(c, fiber.StatusServiceUnavailable, "Session service unavailable", nil)
		}
		// Fail-open with no session headers: there is no valid session
		// state to report.
		return c.Next()
	}

	if !found {
		return svc.invalidToken(c)
	}

	// A session belongs to exactly one user. A valid token presented under
	// a different account is treated as unknown, not leaked back as
	// someone else's session.
	if session.UserID != userID {
		log.WithFields(log.Fields{
			"user_id":      userID,
			"token_prefix": token[:shared.SessionTokenLogLen],
		}).Warn("Session token presented by a different user")
		recordSecurityEvent("user_mismatch")
		return svc.invalidToken(c)
	}

	now := svc.now()

	if now.After(session.ExpiresAt) {
		return shared.GateJSON(c, fiber.StatusUnauthorized, dto.SessionErrorResponse{
			Error:   shared.ErrSessionExpired,
			Message: "Your playground session has expired. Retry without a session token to start a new one.",
		})
	}

	if session.FingerprintHash != fingerprintHash {
		log.WithFields(log.Fields{
			"user_id":      userID,
			"token_prefix": token[:shared.SessionTokenLogLen],
		}).Warn("Session fingerprint mismatch, possible token theft")
		recordSecurityEvent("fingerprint_mismatch")

		return shared.GateJSON(c, fiber.StatusForbidden, dto.SessionErrorResponse{
			Error:   shared.ErrSessionValidation,
			Message: "Session could not be validated for this client.",
		})
	}

	if elapsed := now.Sub(session.LastRequestAt); elapsed < svc.MinInterval {
		retryAfter := int((svc.MinInterval - elapsed).Seconds()) + 1
		c.Set(shared.HeaderRetryAfter, strconv.Itoa(retryAfter))

		return shared.GateJSON(c, fiber.StatusTooManyRequests, dto.SessionErrorResponse{
			Error:      shared.ErrSessionRateLimited,
			Message:    "Requests on this session are limited to one per 30 seconds.",
			RetryAfter: retryAfter,
			Details: map[string]interface{}{
				"minIntervalSeconds": int(svc.MinInterval.Seconds()),
			},
		})
	}

	session.LastRequestAt = now
	session.RequestCount++

	if err := svc.saveSession(token, session); err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Failed to update session state")
	}

	activeToken := token
	if session.RequestCount >= svc.RotateCount || now.Sub(session.CreatedAt) > svc.RotateAfter {
		if newToken, err := svc.rotateSession(token, session); err != nil {
			// Rotation is advisory and never fails the request.
			log.WithError(err).WithFields(log.Fields{
				"user_id":      userID,
				"token_prefix": token[:shared.SessionTokenLogLen],
			}).Error("Session rotation failed")
		} else {
			activeToken = newToken
			c.Set(shared.HeaderSessionRotated, "true")
			recordSessionRotated()
			session = dto.PlaygroundSession{
				UserID:          session.UserID,
				FingerprintHash: session.FingerprintHash,
				CreatedAt:       now,
				LastRequestAt:   now,
				RequestCount:    0,
				ExpiresAt:       now.Add(svc.SessionTTL),
			}
		}
	}

	svc.setSessionHeaders(c, activeToken, session)
	return c.Next()
}

// rotateSession issues a replacement token bound to the same user and
// fingerprint and invalidates the old one.
func (svc *SessionService) rotateSession(oldToken string, session dto.PlaygroundSession) (string, error) {
	now := svc.now()
	replacement := dto.PlaygroundSession{
		UserID:          session.UserID,
		FingerprintHash: session.FingerprintHash,
		CreatedAt:       now,
		LastRequestAt:   now,
		RequestCount:    0,
		ExpiresAt:       now.Add(svc.SessionTTL),
	}

	newToken, err := generateSessionToken()
	if err != nil {
		return "", err
	}

	if err := svc.saveSession(newToken, replacement); err != nil {
		return "", err
	}
	if err := svc.indexSession(session.UserID, newToken); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), svc.StoreTimeout)
	defer cancel()

	if err := svc.store.Delete(ctx, shared.KeyPrefixSession+oldToken); err != nil {
		return "", err
	}

	// Keep the revocation index in step with the live keyspace. The old
	// session is already gone, so a failure here only leaves a stale index
	// entry and must not fail the rotation.
	if err := svc.store.SRem(ctx, shared.KeyPrefixUserSessions+session.UserID, oldToken); err != nil {
		log.WithError(err).WithField("user_id", session.UserID).Warn("Failed to drop rotated token from session index")
	}

	return newToken, nil
}

// RevokeUserSessions invalidates every session of the target user and
// returns how many were revoked.
func (svc *SessionService) RevokeUserSessions(ctx context.Context, userID string) (int, error) {
	setKey := shared.KeyPrefixUserSessions + userID

	tokens, err := svc.store.SMembers(ctx, setKey)
	if err != nil {
		return 0, err
	}

	revoked := 0
	for _, token := range tokens {
		if err := svc.store.Delete(ctx, shared.KeyPrefixSession+token); err != nil {
			log.WithError(err).WithField("user_id", userID).Error("Failed to revoke session")
			continue
		}
		revoked++
	}

	if err := svc.store.Delete(ctx, setKey); err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Failed to clear session index")
	}

	recordSessionsRevoked(revoked)
	return revoked, nil
}

func (svc *SessionService) saveSession(token string, session dto.PlaygroundSession) error {
	ctx, cancel := context.WithTimeout(context.Background(), svc.StoreTimeout)
	defer cancel()

	ttl := session.ExpiresAt.Sub(svc.now())
	if ttl <= 0 {
		ttl = time.Second
	}

	return svc.store.Set(ctx, shared.KeyPrefixSession+token, session, ttl)
}

func (svc *SessionService) indexSession(userID, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), svc.StoreTimeout)
	defer cancel()

	return svc.store.SAdd(ctx, shared.KeyPrefixUserSessions+userID, token)
}

func (svc *SessionService) setSessionHeaders(c *fiber.Ctx, token string, session dto.PlaygroundSession) {
	c.Set(shared.HeaderSessionToken, token)
	c.Set(shared.HeaderSessionExpires, session.ExpiresAt.UTC().Format(time.RFC3339))
	c.Set(shared.HeaderSessionCount, strconv.Itoa(session.RequestCount))
}

func (svc *SessionService) invalidToken(c *fiber.Ctx) error {
	return shared.GateJSON(c, fiber.StatusBadRequest, dto.SessionErrorResponse{
		Error:   shared.ErrInvalidSessionToken,
		Message: "The supplied session token is malformed or unknown.",
	})
}

func generateSessionToken() (string, error) {
	buf := make([]byte, shared.SessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func validTokenFormat(token string) bool {
	if len(token) != shared.SessionTokenBytes*2 {
		return false
	}
	if _, err := hex.DecodeString(token); err != nil {
		return false
	}
	return true
}
