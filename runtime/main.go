package main

import (
	"github.com/alphabatem/common/context"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/cratehub/cratehub_api/middleware"
	"github.com/cratehub/cratehub_api/services"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Warn().Err(err).Msg("No .env file loaded")
	}

	ctx, err := context.NewCtx(
		&services.JWTService{},
		&services.FingerprintService{},
		&services.PostgresService{},
		&services.RedisService{},
		&services.MonitoringService{},

		&middleware.AuthMiddleware{},

		&services.RegistryService{},
		&services.ArtifactService{},
		&services.AuthService{},
		&services.SessionService{},
		&services.RateLimitService{},
		&services.PlaygroundService{},

		&services.HttpService{},
	)
	if err != nil {
		log.Fatal().Err(err)
		return
	}

	err = ctx.Run()
	if err != nil {
		log.Fatal().Err(err)
		return
	}
}
