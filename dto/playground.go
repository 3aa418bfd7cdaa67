package dto

import "time"

// AnonTracking is attached to the request context by the anonymous
// restriction gate and consumed by the post-response recording hook.
type AnonTracking struct {
	FingerprintHash string
	IP              string
	IPSubnet        string
	UserAgent       string
	Month           string
	PackageID       string
	Model           string
}

// QuotaCheckResult mirrors the quota store's check function.
type QuotaCheckResult struct {
	HasQuota    bool       `json:"has_quota"`
	UsageCount  int        `json:"usage_count"`
	FirstUsedAt *time.Time `json:"first_used_at,omitempty"`
}

// QuotaClaimResult reports one atomic claim attempt against the monthly
// quota. When the claim is denied, UsageCount and FirstUsedAt describe the
// row that exhausted it.
type QuotaClaimResult struct {
	Granted     bool       `json:"granted"`
	UsageCount  int        `json:"usage_count"`
	FirstUsedAt *time.Time `json:"first_used_at,omitempty"`
}

type QuotaDetails struct {
	QuotaLimit   int        `json:"quotaLimit"`
	UsageCount   int        `json:"usageCount"`
	CurrentMonth string     `json:"currentMonth"`
	FirstUsedAt  *time.Time `json:"firstUsedAt,omitempty"`
}

type CallToAction struct {
	RegistrationURL string   `json:"registrationUrl"`
	Benefits        []string `json:"benefits"`
}

// QuotaExceededResponse is the 403 body for anonymous_quota_exceeded. The
// shape is part of the external contract.
type QuotaExceededResponse struct {
	Error        string       `json:"error"`
	Message      string       `json:"message"`
	Details      QuotaDetails `json:"details"`
	CallToAction CallToAction `json:"callToAction"`
}

type PlaygroundRunRequest struct {
	PackageID string `json:"package_id" validate:"required"`
	Model     string `json:"model" validate:"omitempty,max=64"`
	Input     string `json:"input" validate:"required,max=16384"`
}

func (r PlaygroundRunRequest) Validate() error {
	return GetValidator().Struct(r)
}

type PlaygroundRunResponse struct {
	PackageID  string `json:"package_id"`
	Model      string `json:"model,omitempty"`
	Output     string `json:"output"`
	DurationMS int64  `json:"duration_ms"`
}
