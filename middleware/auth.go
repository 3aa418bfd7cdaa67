package middleware

import (
	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/cratehub/cratehub_api/dto"
	"github.com/cratehub/cratehub_api/services"
	"github.com/cratehub/cratehub_api/shared"
)

// AuthMiddleware resolves the request identity once per request: either
// Anonymous or Authenticated with a rate-limit tier. Downstream gates read
// the identity from Locals and never re-derive it.
type AuthMiddleware struct {
	context.DefaultService

	sqlSvc *services.PostgresService
	jwtSvc *services.JWTService
}

const AUTH_MIDDLEWARE_SVC = "auth"

func (svc AuthMiddleware) Id() string {
	return AUTH_MIDDLEWARE_SVC
}

func (svc *AuthMiddleware) Configure(ctx *context.Context) error {
	svc.sqlSvc = ctx.Service(services.POSTGRES_SVC).(*services.PostgresService)
	svc.jwtSvc = ctx.Service(services.JWT_SVC).(*services.JWTService)
	ctx.Service(services.HTTP_SVC).(*services.HttpService).SetAuthGate(svc)
	return svc.DefaultService.Configure(ctx)
}

func (svc *AuthMiddleware) Start() error {
	return nil
}

func (svc *AuthMiddleware) RequiredAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, err := svc.resolveIdentity(c)
		if err != nil {
			return shared.ResponseJSON(c, fiber.StatusUnauthorized, "Unauthorized", err.Error())
		}
		if !identity.Authenticated {
			return shared.ResponseJSON(c, fiber.StatusUnauthorized, "Unauthorized", nil)
		}

		c.Locals(shared.UserID, identity.UserID)
		c.Locals(shared.Identity, identity)
		return c.Next()
	}
}

// OptionalAuth resolves identity without rejecting anonymous requests. An
// invalid token downgrades to anonymous rather than erroring, so the
// playground stays reachable to unauthenticated clients.
func (svc *AuthMiddleware) OptionalAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, err := svc.resolveIdentity(c)
		if err != nil {
			identity = dto.AnonymousIdentity()
		}

		if identity.Authenticated {
			c.Locals(shared.UserID, identity.UserID)
		}
		c.Locals(shared.Identity, identity)
		return c.Next()
	}
}

func (svc *AuthMiddleware) RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := c.Locals(shared.Identity).(dto.RequestIdentity)
		if !ok || !identity.Authenticated {
			return shared.ResponseJSON(c, fiber.StatusUnauthorized, "Unauthorized", nil)
		}

		user, err := svc.sqlSvc.GetUser(identity.UserID)
		if err != nil || user.Role != "admin" {
			return shared.ResponseJSON(c, fiber.StatusForbidden, "Forbidden", nil)
		}

		return c.Next()
	}
}

func (svc *AuthMiddleware) resolveIdentity(c *fiber.Ctx) (dto.RequestIdentity, error) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return dto.AnonymousIdentity(), nil
	}

	token, err := svc.jwtSvc.ExtractTokenFromHeader(authHeader)
	if err != nil {
		return dto.AnonymousIdentity(), err
	}

	userID, err := svc.jwtSvc.VerifyJWTToken(token)
	if err != nil || userID == "" {
		return dto.AnonymousIdentity(), err
	}

	tier, err := svc.sqlSvc.GetUserTier(userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("Tier lookup failed, degrading to free tier")
		tier = shared.TierFree
	}

	return dto.AuthenticatedIdentity(userID, tier), nil
}
