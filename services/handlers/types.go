package handlers

import (
	"context"
	"io"

	"github.com/cratehub/cratehub_api/dto"
	"github.com/cratehub/cratehub_api/model"
)

type AuthServiceInterface interface {
	Register(req dto.RegisterRequest) (*dto.RegisterResponse, error)
	Login(req dto.LoginRequest, clientIP string) (*dto.LoginResponse, error)
}

type PlaygroundServiceInterface interface {
	Run(req dto.PlaygroundRunRequest) (*dto.PlaygroundRunResponse, error)
}

type SessionServiceInterface interface {
	RevokeUserSessions(ctx context.Context, userID string) (int, error)
}

type RateLimitServiceInterface interface {
	ResolveTier(userID string) string
	TierLimit(tier string) int
}

type RegistryServiceInterface interface {
	GetPackage(id string) (*model.Package, error)
	ListPackages(search, category string, page, limit int) (*dto.PackageListResponse, error)
	CreatePackage(ownerID string, req dto.CreatePackageRequest) (*dto.PackageResponse, error)
	RecordDownload(packageID string)
	CreateCollection(ownerID string, req dto.CreateCollectionRequest) (*dto.CollectionResponse, error)
	GetUserCollections(ownerID string) ([]dto.CollectionResponse, error)
}

type ArtifactServiceInterface interface {
	UploadArtifact(ctx context.Context, packageID, version string, reader io.Reader, size int64) (*dto.ArtifactUploadResponse, error)
	PresignDownload(ctx context.Context, packageID string) (*dto.ArtifactDownloadResponse, error)
}
