package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cratehub/cratehub_api/dto"
	"github.com/cratehub/cratehub_api/shared"
)

type AdminHandler struct {
	sessionSvc   SessionServiceInterface
	rateLimitSvc RateLimitServiceInterface
}

func NewAdminHandler(sessionSvc SessionServiceInterface, rateLimitSvc RateLimitServiceInterface) *AdminHandler {
	return &AdminHandler{
		sessionSvc:   sessionSvc,
		rateLimitSvc: rateLimitSvc,
	}
}

// @Summary Revoke all playground sessions for a user
// @Tags admin
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} shared.Response{data=dto.RevokeSessionsResponse}
// @Router /api/v1/admin/users/{userId}/sessions/revoke [post]
func (h *AdminHandler) RevokeUserSessions(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return shared.NewBadRequestError(nil, "Missing user ID")
	}

	revoked, err := h.sessionSvc.RevokeUserSessions(c.Context(), userID)
	if err != nil {
		return err
	}

	return shared.ResponseOK(c, dto.RevokeSessionsResponse{
		UserID:       userID,
		RevokedCount: revoked,
	})
}

// @Summary Inspect a user's rate limit tier and ceiling
// @Tags admin
// @Produce json
// @Param userId path string true "User ID"
// @Success 200
// @Router /api/v1/admin/users/{userId}/rate-limit [get]
func (h *AdminHandler) RateLimitStatus(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return shared.NewBadRequestError(nil, "Missing user ID")
	}

	tier := h.rateLimitSvc.ResolveTier(userID)

	return shared.ResponseOK(c, fiber.Map{
		"user_id":          userID,
		"tier":             tier,
		"limit_per_minute": h.rateLimitSvc.TierLimit(tier),
	})
}
