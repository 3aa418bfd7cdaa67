package dto

import "time"

type PackageResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Category      string    `json:"category,omitempty"`
	Version       string    `json:"version"`
	OwnerID       string    `json:"owner_id"`
	Downloads     int64     `json:"downloads"`
	ArtifactKey   string    `json:"artifact_key,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type PackageListResponse struct {
	Packages []PackageResponse `json:"packages"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

type CreatePackageRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=100"`
	Description string `json:"description" validate:"max=2000"`
	Category    string `json:"category" validate:"max=50"`
	Version     string `json:"version" validate:"required,max=32"`
}

func (r CreatePackageRequest) Validate() error {
	return GetValidator().Struct(r)
}

type CollectionResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id"`
	PackageIDs  []string  `json:"package_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

type CreateCollectionRequest struct {
	Name        string   `json:"name" validate:"required,min=2,max=100"`
	Description string   `json:"description" validate:"max=2000"`
	PackageIDs  []string `json:"package_ids" validate:"max=100"`
}

func (r CreateCollectionRequest) Validate() error {
	return GetValidator().Struct(r)
}

type ArtifactUploadResponse struct {
	PackageID   string `json:"package_id"`
	ArtifactKey string `json:"artifact_key"`
	Size        int64  `json:"size"`
}

type ArtifactDownloadResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
