package dto

import "time"

// PlaygroundSession is the state stored in Redis for one (user, browser)
// pair. The token is the lookup key and is not repeated in the value.
type PlaygroundSession struct {
	UserID          string    `json:"user_id"`
	FingerprintHash string    `json:"fingerprint_hash"`
	CreatedAt       time.Time `json:"created_at"`
	LastRequestAt   time.Time `json:"last_request_at"`
	RequestCount    int       `json:"request_count"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// SessionErrorResponse is the body for every session validation failure.
type SessionErrorResponse struct {
	Error      string      `json:"error"`
	Message    string      `json:"message"`
	RetryAfter int         `json:"retryAfter,omitempty"`
	Details    interface{} `json:"details,omitempty"`
}

type RevokeSessionsResponse struct {
	UserID       string `json:"user_id"`
	RevokedCount int    `json:"revoked_count"`
}
