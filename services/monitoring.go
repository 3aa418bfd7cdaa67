package services

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MONITORING_SVC          = "monitoring_svc"
	DEFAULT_PROMETHEUS_PORT = 2112
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"endpoint", "method", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "method", "status"},
	)

	quotaDeniedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playground_anonymous_quota_denied_total",
		Help: "Anonymous playground requests denied by the monthly quota",
	})

	anonymousUsageRecordedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playground_anonymous_usage_recorded_total",
		Help: "Anonymous playground usages recorded post-response",
	})

	rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_rate_limited_total",
			Help: "Requests rejected by the tiered rate limiter",
		},
		[]string{"purpose"},
	)

	sessionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playground_sessions_created_total",
		Help: "Playground sessions created",
	})

	sessionsRotatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playground_sessions_rotated_total",
		Help: "Playground session tokens rotated",
	})

	sessionsRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playground_sessions_revoked_total",
		Help: "Playground sessions revoked by admin action",
	})

	securityEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_security_events_total",
			Help: "Security events raised by the session manager",
		},
		[]string{"event"},
	)
)

func recordQuotaDenied()           { quotaDeniedTotal.Inc() }
func recordAnonymousUsage()        { anonymousUsageRecordedTotal.Inc() }
func recordRateLimited(p string)   { rateLimitedTotal.WithLabelValues(p).Inc() }
func recordSessionCreated()        { sessionsCreatedTotal.Inc() }
func recordSessionRotated()        { sessionsRotatedTotal.Inc() }
func recordSessionsRevoked(n int)  { sessionsRevokedTotal.Add(float64(n)) }
func recordSecurityEvent(e string) { securityEventsTotal.WithLabelValues(e).Inc() }

type MonitoringService struct {
	appContext.DefaultService

	port     int
	registry *prometheus.Registry
}

func (svc MonitoringService) Id() string {
	return MONITORING_SVC
}

func (svc *MonitoringService) Configure(ctx *appContext.Context) error {
	svc.port = DEFAULT_PROMETHEUS_PORT
	if port := os.Getenv("PROMETHEUS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			svc.port = p
		}
	}

	svc.registry = prometheus.NewRegistry()
	svc.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequestsTotal,
		httpRequestDurationSeconds,
		quotaDeniedTotal,
		anonymousUsageRecordedTotal,
		rateLimitedTotal,
		sessionsCreatedTotal,
		sessionsRotatedTotal,
		sessionsRevokedTotal,
		securityEventsTotal,
	)

	return svc.DefaultService.Configure(ctx)
}

func (svc *MonitoringService) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(svc.registry, promhttp.HandlerOpts{}))

	go func() {
		addr := fmt.Sprintf(":%d", svc.port)
		log.Printf("Prometheus metrics listening on %s/metrics", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Error("Metrics server stopped")
		}
	}()

	return nil
}

// HTTPMetrics observes every request passing through the Fiber app.
func (svc *MonitoringService) HTTPMetrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		started := time.Now()
		err := c.Next()

		status := strconv.Itoa(c.Response().StatusCode())
		endpoint := c.Route().Path
		method := c.Method()

		httpRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(endpoint, method, status).
			Observe(time.Since(started).Seconds())

		return err
	}
}
