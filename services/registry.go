package services

import (
	"encoding/json"

	"github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	"github.com/cratehub/cratehub_api/dto"
	"github.com/cratehub/cratehub_api/model"
)

// RegistryService is the thin CRUD layer over packages and collections.
type RegistryService struct {
	context.DefaultService

	sqlSvc *PostgresService
}

const REGISTRY_SVC = "registry_svc"

func (svc RegistryService) Id() string {
	return REGISTRY_SVC
}

func (svc *RegistryService) Start() error {
	svc.sqlSvc = svc.Service(POSTGRES_SVC).(*PostgresService)
	return nil
}

func (svc *RegistryService) GetPackage(id string) (*model.Package, error) {
	return svc.sqlSvc.GetPackage(id)
}

func (svc *RegistryService) ListPackages(search, category string, page, limit int) (*dto.PackageListResponse, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	packages, total, err := svc.sqlSvc.ListPackages(search, category, page, limit)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.PackageResponse, 0, len(packages))
	for _, pkg := range packages {
		responses = append(responses, mapPackage(&pkg))
	}

	return &dto.PackageListResponse{
		Packages: responses,
		Total:    total,
		Page:     page,
		Limit:    limit,
	}, nil
}

func (svc *RegistryService) CreatePackage(ownerID string, req dto.CreatePackageRequest) (*dto.PackageResponse, error) {
	pkg, err := svc.sqlSvc.CreatePackage(&model.Package{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Version:     req.Version,
		OwnerID:     ownerID,
		IsPublished: true,
	})
	if err != nil {
		return nil, err
	}

	resp := mapPackage(pkg)
	return &resp, nil
}

func (svc *RegistryService) RecordDownload(packageID string) {
	if err := svc.sqlSvc.IncrementDownloads(packageID); err != nil {
		log.WithError(err).WithField("package_id", packageID).Warn("Failed to bump download count")
	}
}

func (svc *RegistryService) CreateCollection(ownerID string, req dto.CreateCollectionRequest) (*dto.CollectionResponse, error) {
	ids := req.PackageIDs
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}

	collection, err := svc.sqlSvc.CreateCollection(&model.Collection{
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     ownerID,
		PackageIDs:  raw,
	})
	if err != nil {
		return nil, err
	}

	return mapCollection(collection), nil
}

func (svc *RegistryService) GetUserCollections(ownerID string) ([]dto.CollectionResponse, error) {
	collections, err := svc.sqlSvc.ListCollectionsByOwner(ownerID)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.CollectionResponse, 0, len(collections))
	for _, collection := range collections {
		responses = append(responses, *mapCollection(&collection))
	}
	return responses, nil
}

func mapPackage(pkg *model.Package) dto.PackageResponse {
	return dto.PackageResponse{
		ID:          pkg.ID,
		Name:        pkg.Name,
		Description: pkg.Description,
		Category:    pkg.Category,
		Version:     pkg.Version,
		OwnerID:     pkg.OwnerID,
		Downloads:   pkg.Downloads,
		ArtifactKey: pkg.ArtifactKey,
		CreatedAt:   pkg.CreatedAt,
		UpdatedAt:   pkg.UpdatedAt,
	}
}

func mapCollection(collection *model.Collection) *dto.CollectionResponse {
	var ids []string
	if err := json.Unmarshal(collection.PackageIDs, &ids); err != nil {
		ids = []string{}
	}

	return &dto.CollectionResponse{
		ID:          collection.ID,
		Name:        collection.Name,
		Description: collection.Description,
		OwnerID:     collection.OwnerID,
		PackageIDs:  ids,
		CreatedAt:   collection.CreatedAt,
	}
}
