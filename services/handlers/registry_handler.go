package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cratehub/cratehub_api/dto"
	"github.com/cratehub/cratehub_api/shared"
)

type RegistryHandler struct {
	registrySvc RegistryServiceInterface
	artifactSvc ArtifactServiceInterface
}

func NewRegistryHandler(registrySvc RegistryServiceInterface, artifactSvc ArtifactServiceInterface) *RegistryHandler {
	return &RegistryHandler{
		registrySvc: registrySvc,
		artifactSvc: artifactSvc,
	}
}

// @Summary List packages
// @Tags registry
// @Produce json
// @Param q query string false "Search query"
// @Param category query string false "Category filter"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} shared.Response{data=dto.PackageListResponse}
// @Router /api/v1/packages [get]
func (h *RegistryHandler) ListPackages(c *fiber.Ctx) error {
	result, err := h.registrySvc.ListPackages(
		c.Query("q"),
		c.Query("category"),
		c.QueryInt("page", 1),
		c.QueryInt("limit", 20),
	)
	if err != nil {
		return err
	}

	return shared.ResponseOK(c, result)
}

// @Summary Get a package
// @Tags registry
// @Produce json
// @Param packageId path string true "Package ID"
// @Success 200
// @Router /api/v1/packages/{packageId} [get]
func (h *RegistryHandler) GetPackage(c *fiber.Ctx) error {
	pkg, err := h.registrySvc.GetPackage(c.Params("packageId"))
	if err != nil {
		return err
	}

	return shared.ResponseOK(c, pkg)
}

// @Summary Publish a package
// @Tags registry
// @Accept  json
// @Produce json
// @Param createPackageRequest body dto.CreatePackageRequest true "Package"
// @Success 201
// @Router /api/v1/packages [post]
func (h *RegistryHandler) CreatePackage(c *fiber.Ctx) error {
	var req dto.CreatePackageRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}

	if err := req.Validate(); err != nil {
		validationResp := dto.CreateValidationErrorResponse(err)
		return c.Status(fiber.StatusBadRequest).JSON(validationResp)
	}

	ownerID, _ := c.Locals(shared.UserID).(string)

	pkg, err := h.registrySvc.CreatePackage(ownerID, req)
	if err != nil {
		return err
	}

	return shared.ResponseCreated(c, pkg)
}

// @Summary Download a package artifact
// @Tags registry
// @Produce json
// @Param packageId path string true "Package ID"
// @Success 200 {object} shared.Response{data=dto.ArtifactDownloadResponse}
// @Router /api/v1/packages/{packageId}/download [get]
func (h *RegistryHandler) DownloadPackage(c *fiber.Ctx) error {
	packageID := c.Params("packageId")

	result, err := h.artifactSvc.PresignDownload(c.Context(), packageID)
	if err != nil {
		return err
	}

	h.registrySvc.RecordDownload(packageID)

	return shared.ResponseOK(c, result)
}

// @Summary Upload a package artifact
// @Tags registry
// @Accept  mpfd
// @Produce json
// @Param packageId path string true "Package ID"
// @Param artifact formData file true "Package tarball"
// @Success 200
// @Router /api/v1/packages/{packageId}/artifact [post]
func (h *RegistryHandler) UploadArtifact(c *fiber.Ctx) error {
	packageID := c.Params("packageId")

	fileHeader, err := c.FormFile("artifact")
	if err != nil {
		return shared.NewBadRequestError(err, "Missing artifact file")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return shared.NewBadRequestError(err, "Could not read artifact file")
	}
	defer file.Close()

	version := c.FormValue("version", "latest")

	result, err := h.artifactSvc.UploadArtifact(c.Context(), packageID, version, file, fileHeader.Size)
	if err != nil {
		return err
	}

	return shared.ResponseOK(c, result)
}

// @Summary Create a collection
// @Tags registry
// @Accept  json
// @Produce json
// @Param createCollectionRequest body dto.CreateCollectionRequest true "Collection"
// @Success 201
// @Router /api/v1/collections [post]
func (h *RegistryHandler) CreateCollection(c *fiber.Ctx) error {
	var req dto.CreateCollectionRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}

	if err := req.Validate(); err != nil {
		validationResp := dto.CreateValidationErrorResponse(err)
		return c.Status(fiber.StatusBadRequest).JSON(validationResp)
	}

	ownerID, _ := c.Locals(shared.UserID).(string)

	collection, err := h.registrySvc.CreateCollection(ownerID, req)
	if err != nil {
		return err
	}

	return shared.ResponseCreated(c, collection)
}

// @Summary List own collections
// @Tags registry
// @Produce json
// @Success 200
// @Router /api/v1/collections [get]
func (h *RegistryHandler) ListCollections(c *fiber.Ctx) error {
	ownerID, _ := c.Locals(shared.UserID).(string)

	collections, err := h.registrySvc.GetUserCollections(ownerID)
	if err != nil {
		return err
	}

	return shared.ResponseOK(c, collections)
}
