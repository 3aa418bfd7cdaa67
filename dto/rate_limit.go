package dto

import "time"

type RateLimitInfo struct {
	Allowed   bool       `json:"allowed"`
	Limit     int        `json:"limit"`
	Remaining int        `json:"remaining"`
	ResetTime *time.Time `json:"reset_time,omitempty"`
}

// RateLimitExceededResponse is the 429 body for rate_limit_exceeded.
type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
	UpgradeURL string `json:"upgradeUrl,omitempty"`
}
