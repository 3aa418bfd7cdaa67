package model

import "time"

// AnonymousUsage tracks free playground runs per browser fingerprint per
// calendar month. One row per (fingerprint_hash, month); month rollover
// retires rows naturally, no explicit deletion.
type AnonymousUsage struct {
	ID              string    `json:"id" gorm:"primaryKey;type:text;not null"`
	FingerprintHash string    `json:"fingerprint_hash" gorm:"not null;size:64;uniqueIndex:idx_anon_usage_fp_month"`
	Month           string    `json:"month" gorm:"not null;size:7;uniqueIndex:idx_anon_usage_fp_month"` // YYYY-MM
	UsageCount      int       `json:"usage_count" gorm:"not null;default:0"`
	FirstUsedAt     time.Time `json:"first_used_at" gorm:"not null"`
	LastIP          string    `json:"last_ip" gorm:"size:45"`
	LastIPSubnet    string    `json:"last_ip_subnet" gorm:"size:45"`
	LastUserAgent   string    `json:"last_user_agent" gorm:"size:512"`
	LastPackageID   string    `json:"last_package_id" gorm:"size:64"`
	LastModel       string    `json:"last_model" gorm:"size:64"`
	CreatedAt       time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"not null"`
}
