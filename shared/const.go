package shared

import "time"

const (
	UserID   = "user_id"
	Identity = "identity"

	// Locals keys for anonymous usage tracking attached by the restriction gate.
	AnonTracking = "anon_tracking"

	TierFree              = "free"
	TierSubscriber        = "subscriber"
	TierVerifiedOrgMember = "verified-org-member"
)

// Machine-readable error codes returned to clients.
const (
	ErrAnonymousQuotaExceeded = "anonymous_quota_exceeded"
	ErrRateLimitExceeded      = "rate_limit_exceeded"
	ErrSessionRateLimited     = "session_rate_limit_exceeded"
	ErrSessionValidation      = "session_validation_failed"
	ErrSessionExpired         = "session_expired"
	ErrInvalidSessionToken    = "invalid_session_token"
	ErrSessionCreationFailed  = "session_creation_failed"
)

// Response headers emitted by the playground gates.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
	HeaderSessionToken       = "X-Playground-Session"
	HeaderSessionExpires     = "X-Playground-Session-Expires"
	HeaderSessionCount       = "X-Session-Request-Count"
	HeaderSessionRotated     = "X-Session-Rotated"
)

// Redis key namespaces. Gates never touch each other's keys.
const (
	KeyPrefixRateLimit    = "ratelimit:"
	KeyPrefixSession      = "playground:session:"
	KeyPrefixUserSessions = "playground:user_sessions:"
)

const (
	AnonymousQuotaLimit = 1

	SessionMinInterval  = 30 * time.Second
	SessionTTL          = 30 * time.Minute
	SessionRotateCount  = 10
	SessionRotateAfter  = 15 * time.Minute
	SessionTokenBytes   = 32
	SessionTokenLogLen  = 8
)

const (
	RegistrationURL = "/register"
	UpgradeURL      = "/pricing"
)
