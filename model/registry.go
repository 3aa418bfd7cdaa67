package model

import (
	"encoding/json"
	"time"
)

type Package struct {
	ID          string    `json:"id" gorm:"primaryKey;type:text;not null"`
	Name        string    `json:"name" gorm:"uniqueIndex;not null;size:100"`
	Description string    `json:"description" gorm:"type:text"`
	Category    string    `json:"category" gorm:"index;size:50"`
	Version     string    `json:"version" gorm:"not null;size:32"`
	OwnerID     string    `json:"owner_id" gorm:"index;not null"`
	Downloads   int64     `json:"downloads" gorm:"not null;default:0"`
	ArtifactKey string    `json:"artifact_key" gorm:"size:255"`
	IsPublished bool      `json:"is_published" gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"not null"`
}

type Collection struct {
	ID          string          `json:"id" gorm:"primaryKey;type:text;not null"`
	Name        string          `json:"name" gorm:"not null;size:100"`
	Description string          `json:"description" gorm:"type:text"`
	OwnerID     string          `json:"owner_id" gorm:"index;not null"`
	PackageIDs  json.RawMessage `json:"package_ids" gorm:"type:jsonb;not null;default:'[]'"`
	CreatedAt   time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time       `json:"updated_at" gorm:"not null"`
}
