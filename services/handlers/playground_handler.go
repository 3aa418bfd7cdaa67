package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cratehub/cratehub_api/dto"
	"github.com/cratehub/cratehub_api/shared"
)

type PlaygroundHandler struct {
	playgroundSvc PlaygroundServiceInterface
}

func NewPlaygroundHandler(playgroundSvc PlaygroundServiceInterface) *PlaygroundHandler {
	return &PlaygroundHandler{playgroundSvc: playgroundSvc}
}

// @Summary Run a package in the playground
// @Description Executes a playground evaluation against a published package
// @Tags playground
// @Accept  json
// @Produce json
// @Param runRequest body dto.PlaygroundRunRequest true "Run request"
// @Success 200 {object} shared.Response{data=dto.PlaygroundRunResponse}
// @Router /api/v1/playground/run [post]
func (h *PlaygroundHandler) Run(c *fiber.Ctx) error {
	var req dto.PlaygroundRunRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}

	if err := req.Validate(); err != nil {
		validationResp := dto.CreateValidationErrorResponse(err)
		return c.Status(fiber.StatusBadRequest).JSON(validationResp)
	}

	// Enrich the anonymous tracking data so the post-response hook can
	// record which package and model were exercised.
	if tracking, ok := c.Locals(shared.AnonTracking).(*dto.AnonTracking); ok && tracking != nil {
		tracking.PackageID = req.PackageID
		tracking.Model = req.Model
	}

	result, err := h.playgroundSvc.Run(req)
	if err != nil {
		return err
	}

	return shared.ResponseOK(c, result)
}

// @Summary Purchase a package
// @Description Registers a purchase attempt for a package
// @Tags playground
// @Accept  json
// @Produce json
// @Param packageId path string true "Package ID"
// @Success 202
// @Router /api/v1/packages/{packageId}/purchase [post]
func (h *PlaygroundHandler) Purchase(c *fiber.Ctx) error {
	packageID := c.Params("packageId")
	if packageID == "" {
		return shared.NewBadRequestError(nil, "Missing package ID")
	}

	userID, _ := c.Locals(shared.UserID).(string)

	return shared.ResponseJSON(c, fiber.StatusAccepted, "Purchase attempt registered", fiber.Map{
		"package_id": packageID,
		"user_id":    userID,
	})
}
