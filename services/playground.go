package services

import (
	"fmt"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/cratehub/cratehub_api/dto"
	"github.com/cratehub/cratehub_api/shared"
)

// QuotaStore wraps the relational store's quota claim functions.
// PostgresService satisfies it; tests use an in-memory fake.
type QuotaStore interface {
	ClaimAnonymousPlaygroundUsage(t dto.AnonTracking) (*dto.QuotaClaimResult, error)
	ReleaseAnonymousPlaygroundUsage(fingerprintHash, month string) error
	RecordAnonymousRunDetails(t dto.AnonTracking) error
}

// PlaygroundService gates anonymous playground runs behind the monthly free
// quota. The grant is claimed atomically in the store before the handler
// runs, so concurrent requests from one fingerprint can never all win the
// single free run; a claim is released again when the run does not return
// 200.
type PlaygroundService struct {
	appContext.DefaultService

	quotaStore QuotaStore
	fpSvc      *FingerprintService
	registry   *RegistryService

	OnBackendError string

	now func() time.Time
}

const PLAYGROUND_SVC = "playground_svc"

func (svc PlaygroundService) Id() string {
	return PLAYGROUND_SVC
}

func NewPlaygroundService(quotaStore QuotaStore, fpSvc *FingerprintService) *PlaygroundService {
	svc := &PlaygroundService{quotaStore: quotaStore, fpSvc: fpSvc}
	svc.applyDefaults()
	return svc
}

func (svc *PlaygroundService) applyDefaults() {
	if svc.OnBackendError == "" {
		svc.OnBackendError = "allow"
	}
	if svc.now == nil {
		svc.now = time.Now
	}
}

func (svc *PlaygroundService) Configure(ctx *appContext.Context) error {
	svc.applyDefaults()
	return svc.DefaultService.Configure(ctx)
}

func (svc *PlaygroundService) Start() error {
	svc.quotaStore = svc.Service(POSTGRES_SVC).(*PostgresService)
	svc.fpSvc = svc.Service(FINGERPRINT_SVC).(*FingerprintService)
	svc.registry = svc.Service(REGISTRY_SVC).(*RegistryService)
	return nil
}

// AnonymousRestriction allows or denies anonymous playground runs against
// the monthly quota, and records granted usage after the handler responds.
// Authenticated requests pass straight through; the tiered rate limiter and
// session manager own those.
func (svc *PlaygroundService) AnonymousRestriction() fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := c.Locals(shared.Identity).(dto.RequestIdentity)
		if ok && identity.Authenticated {
			return c.Next()
		}

		fingerprint := svc.fpSvc.FromRequest(c)
		month := svc.currentMonth()
		ip := ClientIP(c)

		tracking := &dto.AnonTracking{
			FingerprintHash: fingerprint.Hash,
			IP:              ip,
			IPSubnet:        IPSubnet(ip),
			UserAgent:       c.Get(fiber.HeaderUserAgent),
			Month:           month,
		}

		// Claim the run before the handler, not after: the store's
		// conditional increment is the only place the grant decision is
		// race-free.
		claim, err := svc.quotaStore.ClaimAnonymousPlaygroundUsage(*tracking)
		if err != nil {
			// Fail-open: never block users because of a backend outage.
			log.WithError(err).WithField("fingerprint", fingerprint.Hash).Error("Anonymous quota claim failed")
			if svc.OnBackendError == "deny" {
				return shared.ResponseJSON(c, fiber.StatusServiceUnavailable, "Quota service unavailable", nil)
			}
			return c.Next()
		}

		if !claim.Granted {
			recordQuotaDenied()
			return shared.GateJSON(c, fiber.StatusForbidden, dto.QuotaExceededResponse{
				Error:   shared.ErrAnonymousQuotaExceeded,
				Message: "You have used your free playground run for this month. Create an account to keep going.",
				Details: dto.QuotaDetails{
					QuotaLimit:   shared.AnonymousQuotaLimit,
					UsageCount:   claim.UsageCount,
					CurrentMonth: month,
					FirstUsedAt:  claim.FirstUsedAt,
				},
				CallToAction: dto.CallToAction{
					RegistrationURL: shared.RegistrationURL,
					Benefits: []string{
						"Unlimited playground runs",
						"Higher rate limits with a subscription",
						"Publish and manage your own packages",
						"Private collections",
					},
				},
			})
		}

		c.Locals(shared.AnonTracking, tracking)

		err = c.Next()

		// Post-response hook: only an exact 200 keeps the claim. Anything
		// else returns the free run. Both paths are best-effort and never
		// delay or fail the response.
		if err == nil && c.Response().StatusCode() == fiber.StatusOK {
			go svc.recordUsage(*tracking)
		} else {
			go svc.releaseUsage(*tracking)
		}

		return err
	}
}

func (svc *PlaygroundService) recordUsage(tracking dto.AnonTracking) {
	if err := svc.quotaStore.RecordAnonymousRunDetails(tracking); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"fingerprint": tracking.FingerprintHash,
			"month":       tracking.Month,
		}).Error("Failed to record anonymous run details")
		return
	}

	recordAnonymousUsage()
	log.WithFields(log.Fields{
		"fingerprint": tracking.FingerprintHash,
		"month":       tracking.Month,
	}).Debug("Recorded anonymous playground usage")
}

func (svc *PlaygroundService) releaseUsage(tracking dto.AnonTracking) {
	if err := svc.quotaStore.ReleaseAnonymousPlaygroundUsage(tracking.FingerprintHash, tracking.Month); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"fingerprint": tracking.FingerprintHash,
			"month":       tracking.Month,
		}).Error("Failed to release claimed playground run")
	}
}

// Run executes a playground evaluation against a published package.
func (svc *PlaygroundService) Run(req dto.PlaygroundRunRequest) (*dto.PlaygroundRunResponse, error) {
	started := svc.now()

	pkg, err := svc.registry.GetPackage(req.PackageID)
	if err != nil {
		return nil, err
	}
	if !pkg.IsPublished {
		return nil, shared.NewNotFoundError(nil, "Package not found")
	}

	output := fmt.Sprintf("evaluated %q v%s against input (%d bytes)", pkg.Name, pkg.Version, len(req.Input))

	return &dto.PlaygroundRunResponse{
		PackageID:  pkg.ID,
		Model:      req.Model,
		Output:     output,
		DurationMS: time.Since(started).Milliseconds(),
	}, nil
}

func (svc *PlaygroundService) currentMonth() string {
	return svc.now().UTC().Format("2006-01")
}
