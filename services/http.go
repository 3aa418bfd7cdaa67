package services

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/alphabatem/common/context"
	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"github.com/cratehub/cratehub_api/services/handlers"
	"github.com/cratehub/cratehub_api/shared"
)

// AuthGate is the slice of the auth middleware the HTTP service composes
// the request pipeline with. Declared here to avoid importing the
// middleware package from services.
type AuthGate interface {
	RequiredAuth() fiber.Handler
	OptionalAuth() fiber.Handler
	RequireAdmin() fiber.Handler
}

type HttpService struct {
	context.DefaultService

	authGate      AuthGate
	authSvc       *AuthService
	playgroundSvc *PlaygroundService
	sessionSvc    *SessionService
	rateLimitSvc  *RateLimitService
	registrySvc   *RegistryService
	artifactSvc   *ArtifactService
	monitoringSvc *MonitoringService

	port int
	app  *fiber.App
}

const HTTP_SVC = "http_svc"

func (svc HttpService) Id() string {
	return HTTP_SVC
}

// SetAuthGate is called by the auth middleware during configuration.
func (svc *HttpService) SetAuthGate(gate AuthGate) {
	svc.authGate = gate
}

func (svc *HttpService) Configure(ctx *context.Context) error {
	if port := os.Getenv("HTTP_PORT"); port != "" {
		var err error
		if svc.port, err = strconv.Atoi(port); err != nil {
			return err
		}
	} else {
		svc.port = 8000
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *HttpService) Start() error {
	svc.authSvc = svc.Service(AUTH_SVC).(*AuthService)
	svc.playgroundSvc = svc.Service(PLAYGROUND_SVC).(*PlaygroundService)
	svc.sessionSvc = svc.Service(SESSION_SVC).(*SessionService)
	svc.rateLimitSvc = svc.Service(RATE_LIMIT_SVC).(*RateLimitService)
	svc.registrySvc = svc.Service(REGISTRY_SVC).(*RegistryService)
	svc.artifactSvc = svc.Service(ARTIFACT_SVC).(*ArtifactService)
	svc.monitoringSvc = svc.Service(MONITORING_SVC).(*MonitoringService)

	if svc.authGate == nil {
		return fmt.Errorf("auth gate not configured")
	}

	svc.app = fiber.New(fiber.Config{
		JSONEncoder:  sonic.Marshal,
		JSONDecoder:  sonic.Unmarshal,
		ErrorHandler: svc.handleError,
	})

	svc.app.Use(recover.New())
	svc.app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + shared.HeaderSessionToken,
	}))
	svc.app.Use(svc.monitoringSvc.HTTPMetrics())

	svc.registerRoutes()

	return svc.app.Listen(fmt.Sprintf(":%v", svc.port))
}

func (svc *HttpService) registerRoutes() {
	svc.app.Get("/ping", svc.ping)

	v1 := svc.app.Group("/api/v1")
	v1.Get("/ping", svc.ping)

	authHandler := handlers.NewAuthHandler(svc.authSvc, ClientIP)
	registryHandler := handlers.NewRegistryHandler(svc.registrySvc, svc.artifactSvc)
	playgroundHandler := handlers.NewPlaygroundHandler(svc.playgroundSvc)
	adminHandler := handlers.NewAdminHandler(svc.sessionSvc, svc.rateLimitSvc)

	auth := v1.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)

	packages := v1.Group("/packages")
	packages.Get("/", registryHandler.ListPackages)
	packages.Get("/:packageId", registryHandler.GetPackage)
	packages.Get("/:packageId/download", registryHandler.DownloadPackage)
	packages.Post("/", svc.authGate.RequiredAuth(), registryHandler.CreatePackage)
	packages.Post("/:packageId/artifact", svc.authGate.RequiredAuth(), registryHandler.UploadArtifact)
	packages.Post("/:packageId/purchase",
		svc.authGate.RequiredAuth(),
		svc.rateLimitSvc.PurchaseRateLimit(),
		playgroundHandler.Purchase)

	collections := v1.Group("/collections", svc.authGate.RequiredAuth())
	collections.Get("/", registryHandler.ListCollections)
	collections.Post("/", registryHandler.CreateCollection)

	// Playground pipeline, fixed order: identity -> tiered rate limit
	// (authenticated) -> anonymous quota gate (anonymous) -> session
	// security (authenticated) -> handler. The quota gate also runs the
	// post-response usage recording.
	playground := v1.Group("/playground",
		svc.authGate.OptionalAuth(),
		svc.rateLimitSvc.PlaygroundRateLimit(),
		svc.playgroundSvc.AnonymousRestriction(),
		svc.sessionSvc.Middleware())
	playground.Post("/run", playgroundHandler.Run)

	admin := v1.Group("/admin", svc.authGate.RequiredAuth(), svc.authGate.RequireAdmin())
	admin.Post("/users/:userId/sessions/revoke", adminHandler.RevokeUserSessions)
	admin.Get("/users/:userId/rate-limit", adminHandler.RateLimitStatus)
}

func (svc *HttpService) Shutdown() {
	if svc.app != nil {
		_ = svc.app.Shutdown()
	}
}

// @Summary Ping
// @Description This endpoint checks the health of the service
// @Tags health
// @Produce json
// @Success 200 {object} shared.Response{data=string}
// @Router /ping [get]
func (svc *HttpService) ping(c *fiber.Ctx) error {
	c.Set("Cache-Control", "max-age=10")
	return shared.ResponseJSON(c, fiber.StatusOK, "Success", "pong")
}

func (svc *HttpService) handleError(c *fiber.Ctx, err error) error {
	if appErr, ok := shared.GetAppError(err); ok {
		return shared.ResponseJSON(c, appErr.StatusCode, appErr.Message, appErr.Data)
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return shared.ResponseJSON(c, fiberErr.Code, fiberErr.Message, nil)
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return shared.ResponseNotFound(c)
	}

	return shared.ResponseInternalError(c, err)
}
