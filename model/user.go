package model

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID        string     `json:"id" gorm:"primaryKey;type:text;not null"`
	Username  string     `json:"username" gorm:"uniqueIndex;not null;size:30"`
	Email     string     `json:"email" gorm:"uniqueIndex;not null;size:255"`
	Password  string     `json:"-" gorm:"not null"`
	Role      string     `json:"role" gorm:"not null;default:user;size:20"`
	IsActive  bool       `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null"`
	DeletedAt *time.Time `json:"-" gorm:"index"`
}

type Subscription struct {
	ID        string     `json:"id" gorm:"primaryKey;type:text;not null"`
	UserID    string     `json:"user_id" gorm:"index;not null"`
	Plan      string     `json:"plan" gorm:"not null;size:30"`
	Status    string     `json:"status" gorm:"not null;size:20"` // active, canceled, past_due
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null"`
}

type OrgMembership struct {
	ID         string    `json:"id" gorm:"primaryKey;type:text;not null"`
	UserID     string    `json:"user_id" gorm:"index;not null"`
	OrgID      string    `json:"org_id" gorm:"index;not null"`
	Role       string    `json:"role" gorm:"not null;size:20"`
	IsVerified bool      `json:"is_verified" gorm:"not null;default:false"`
	CreatedAt  time.Time `json:"created_at" gorm:"not null"`
}
