package services

import (
	"context"
	"strconv"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/cratehub/cratehub_api/dto"
	"github.com/cratehub/cratehub_api/shared"
)

// CounterStore is the atomic fixed-window primitive the limiter runs on.
// RedisService satisfies it; tests use an in-memory fake.
type CounterStore interface {
	IncrWithWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// TierLookup resolves a user's rate-limit tier. PostgresService satisfies it.
type TierLookup interface {
	GetUserTier(userID string) (string, error)
}

// RateLimitService enforces per-user-per-minute ceilings that vary by
// subscription tier, plus a stricter tier-independent limit on purchase
// attempts. Counter-store failures fail open: infrastructure trouble must
// never be the reason a legitimate request is dropped.
type RateLimitService struct {
	appContext.DefaultService

	store CounterStore
	tiers TierLookup

	OnBackendError string
	Window         time.Duration
	StoreTimeout   time.Duration

	limits map[string]int
}

const RATE_LIMIT_SVC = "rate_limit_svc"

const purchaseLimit = 3

func (svc RateLimitService) Id() string {
	return RATE_LIMIT_SVC
}

func NewRateLimitService(store CounterStore, tiers TierLookup) *RateLimitService {
	svc := &RateLimitService{store: store, tiers: tiers}
	svc.applyDefaults()
	return svc
}

func (svc *RateLimitService) applyDefaults() {
	if svc.OnBackendError == "" {
		svc.OnBackendError = "allow"
	}
	if svc.Window == 0 {
		svc.Window = time.Minute
	}
	if svc.StoreTimeout == 0 {
		svc.StoreTimeout = 2 * time.Second
	}
	if svc.limits == nil {
		svc.limits = map[string]int{
			shared.TierFree:              5,
			shared.TierSubscriber:        20,
			shared.TierVerifiedOrgMember: 100,
		}
	}
}

func (svc *RateLimitService) Configure(ctx *appContext.Context) error {
	svc.applyDefaults()
	return svc.DefaultService.Configure(ctx)
}

func (svc *RateLimitService) Start() error {
	svc.store = svc.Service(REDIS_SVC).(*RedisService)
	svc.tiers = svc.Service(POSTGRES_SVC).(*PostgresService)
	return nil
}

// TierLimit returns the per-minute ceiling for a tier, falling back to the
// free tier for anything unknown.
func (svc *RateLimitService) TierLimit(tier string) int {
	if limit, ok := svc.limits[tier]; ok {
		return limit
	}
	return svc.limits[shared.TierFree]
}

// ResolveTier looks up the user's tier, degrading to the most conservative
// one when the lookup fails.
func (svc *RateLimitService) ResolveTier(userID string) string {
	tier, err := svc.tiers.GetUserTier(userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("Tier lookup failed, degrading to free tier")
		return shared.TierFree
	}
	return tier
}

// Check runs one fixed-window step for the key. The store increments and
// window-expires atomically, so concurrent requests for the same key are
// serialized by the store, not by this process.
func (svc *RateLimitService) Check(key string, limit int) (*dto.RateLimitInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), svc.StoreTimeout)
	defer cancel()

	count, ttl, err := svc.store.IncrWithWindow(ctx, key, svc.Window)
	if err != nil {
		return nil, err
	}

	resetTime := time.Now().Add(ttl)
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return &dto.RateLimitInfo{
		Allowed:   int(count) <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetTime: &resetTime,
	}, nil
}

// PlaygroundRateLimit applies the tiered per-user limit ahead of playground
// handlers. Anonymous requests pass through; the quota gate owns those.
func (svc *RateLimitService) PlaygroundRateLimit() fiber.Handler {
	return svc.userRateLimit("playground", func(identity dto.RequestIdentity) int {
		return svc.TierLimit(identity.Tier)
	})
}

// PurchaseRateLimit applies the stricter tier-independent limit to purchase
// attempts.
func (svc *RateLimitService) PurchaseRateLimit() fiber.Handler {
	return svc.userRateLimit("purchase", func(dto.RequestIdentity) int {
		return purchaseLimit
	})
}

func (svc *RateLimitService) userRateLimit(purpose string, limitFor func(dto.RequestIdentity) int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := c.Locals(shared.Identity).(dto.RequestIdentity)
		if !ok || !identity.Authenticated {
			return c.Next()
		}

		limit := limitFor(identity)
		key := shared.KeyPrefixRateLimit + purpose + ":" + identity.UserID

		info, err := svc.Check(key, limit)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"purpose": purpose,
				"user_id": identity.UserID,
			}).Error("Rate limit check error")
			if svc.OnBackendError == "deny" {
				return shared.ResponseJSON(c, fiber.StatusServiceUnavailable, "Rate limit service unavailable", nil)
			}
			return c.Next()
		}

		svc.addRateLimitHeaders(c, info)

		if !info.Allowed {
			recordRateLimited(purpose)
			return svc.handleRateLimitExceeded(c, info)
		}

		return c.Next()
	}
}

func (svc *RateLimitService) addRateLimitHeaders(c *fiber.Ctx, info *dto.RateLimitInfo) {
	c.Set(shared.HeaderRateLimitLimit, strconv.Itoa(info.Limit))
	c.Set(shared.HeaderRateLimitRemaining, strconv.Itoa(info.Remaining))
	if info.ResetTime != nil {
		c.Set(shared.HeaderRateLimitReset, strconv.FormatInt(info.ResetTime.Unix(), 10))
	}
}

func (svc *RateLimitService) handleRateLimitExceeded(c *fiber.Ctx, info *dto.RateLimitInfo) error {
	retryAfter := 1
	if info.ResetTime != nil {
		if secs := int(time.Until(*info.ResetTime).Seconds()) + 1; secs > retryAfter {
			retryAfter = secs
		}
	}
	c.Set(shared.HeaderRetryAfter, strconv.Itoa(retryAfter))

	return shared.GateJSON(c, fiber.StatusTooManyRequests, dto.RateLimitExceededResponse{
		Error:      shared.ErrRateLimitExceeded,
		Message:    "You have exceeded your request limit for this minute.",
		RetryAfter: retryAfter,
		UpgradeURL: shared.UpgradeURL,
	})
}
