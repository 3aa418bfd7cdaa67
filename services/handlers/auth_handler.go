package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cratehub/cratehub_api/dto"
	"github.com/cratehub/cratehub_api/shared"
)

type AuthHandler struct {
	authSvc  AuthServiceInterface
	clientIP func(*fiber.Ctx) string
}

func NewAuthHandler(authSvc AuthServiceInterface, clientIP func(*fiber.Ctx) string) *AuthHandler {
	return &AuthHandler{
		authSvc:  authSvc,
		clientIP: clientIP,
	}
}

// @Summary Register
// @Tags auth
// @Accept  json
// @Produce json
// @Param registerRequest body dto.RegisterRequest true "Registration"
// @Success 201
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}

	if err := req.Validate(); err != nil {
		validationResp := dto.CreateValidationErrorResponse(err)
		return c.Status(fiber.StatusBadRequest).JSON(validationResp)
	}

	resp, err := h.authSvc.Register(req)
	if err != nil {
		return err
	}

	return shared.ResponseCreated(c, resp)
}

// @Summary Login
// @Tags auth
// @Accept  json
// @Produce json
// @Param loginRequest body dto.LoginRequest true "Credentials"
// @Success 200 {object} shared.Response{data=dto.LoginResponse}
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return shared.NewBadRequestError(err, "Invalid request")
	}

	if err := req.Validate(); err != nil {
		validationResp := dto.CreateValidationErrorResponse(err)
		return c.Status(fiber.StatusBadRequest).JSON(validationResp)
	}

	resp, err := h.authSvc.Login(req, h.clientIP(c))
	if err != nil {
		return err
	}

	return shared.ResponseOK(c, resp)
}
