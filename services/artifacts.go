package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"

	"github.com/cratehub/cratehub_api/dto"
	"github.com/cratehub/cratehub_api/shared"
)

// ArtifactService stores package tarballs in object storage.
type ArtifactService struct {
	appContext.DefaultService

	client     *minio.Client
	bucketName string
	endpoint   string
	accessKey  string
	secretKey  string
	useSSL     bool

	sqlSvc *PostgresService
}

const ARTIFACT_SVC = "artifact_svc"

func (svc ArtifactService) Id() string {
	return ARTIFACT_SVC
}

func (svc *ArtifactService) Configure(ctx *appContext.Context) error {
	svc.endpoint = os.Getenv("MINIO_ENDPOINT")
	if svc.endpoint == "" {
		svc.endpoint = "localhost:9000"
	}

	svc.accessKey = os.Getenv("MINIO_ACCESS_KEY")
	if svc.accessKey == "" {
		svc.accessKey = "admin"
	}

	svc.secretKey = os.Getenv("MINIO_SECRET_KEY")
	if svc.secretKey == "" {
		svc.secretKey = "password123"
	}

	svc.useSSL = os.Getenv("MINIO_USE_SSL") == "true"

	svc.bucketName = os.Getenv("MINIO_BUCKET_NAME")
	if svc.bucketName == "" {
		svc.bucketName = "cratehub-artifacts"
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *ArtifactService) Start() error {
	client, err := minio.New(svc.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(svc.accessKey, svc.secretKey, ""),
		Secure: svc.useSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to create MinIO client: %v", err)
	}

	svc.client = client
	svc.sqlSvc = svc.Service(POSTGRES_SVC).(*PostgresService)

	if err := svc.ensureBucket(); err != nil {
		return fmt.Errorf("failed to ensure bucket exists: %v", err)
	}

	log.Printf("Artifact storage started with endpoint: %s", svc.endpoint)
	return nil
}

func (svc *ArtifactService) ensureBucket() error {
	ctx := context.Background()

	exists, err := svc.client.BucketExists(ctx, svc.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %v", err)
	}

	if !exists {
		err = svc.client.MakeBucket(ctx, svc.bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %v", err)
		}
	}

	return nil
}

// UploadArtifact stores a package tarball and records the object key on the
// package row.
func (svc *ArtifactService) UploadArtifact(ctx context.Context, packageID, version string, reader io.Reader, size int64) (*dto.ArtifactUploadResponse, error) {
	pkg, err := svc.sqlSvc.GetPackage(packageID)
	if err != nil {
		return nil, err
	}

	objectKey := fmt.Sprintf("packages/%s/%s.tar.gz", pkg.ID, version)

	_, err = svc.client.PutObject(ctx, svc.bucketName, objectKey, reader, size, minio.PutObjectOptions{
		ContentType: "application/gzip",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload artifact: %w", err)
	}

	pkg.ArtifactKey = objectKey
	if err := svc.sqlSvc.UpdatePackage(pkg); err != nil {
		return nil, err
	}

	return &dto.ArtifactUploadResponse{
		PackageID:   pkg.ID,
		ArtifactKey: objectKey,
		Size:        size,
	}, nil
}

// PresignDownload returns a short-lived direct download URL for a package
// artifact.
func (svc *ArtifactService) PresignDownload(ctx context.Context, packageID string) (*dto.ArtifactDownloadResponse, error) {
	pkg, err := svc.sqlSvc.GetPackage(packageID)
	if err != nil {
		return nil, err
	}
	if pkg.ArtifactKey == "" {
		return nil, shared.NewNotFoundError(nil, "Package has no artifact")
	}

	expiry := 15 * time.Minute
	url, err := svc.client.PresignedGetObject(ctx, svc.bucketName, pkg.ArtifactKey, expiry, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to presign download: %w", err)
	}

	return &dto.ArtifactDownloadResponse{
		URL:       url.String(),
		ExpiresAt: time.Now().Add(expiry),
	}, nil
}
