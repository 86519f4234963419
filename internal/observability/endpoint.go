package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaia-review/gaia/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Endpoint serves /metrics and /health.
type Endpoint struct {
	echo          *echo.Echo
	listenAddress string
	metrics       *Metrics
	checks        map[string]HealthCheck
	log           logger.Logger
}

// NewEndpoint creates an endpoint listening on addr. Health checks run on
// every /health request.
func NewEndpoint(addr string, m *Metrics, checks map[string]HealthCheck, log logger.Logger) *Endpoint {
	if log == nil {
		log = logger.Global().Module("telemetry")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	ep := &Endpoint{
		echo:          e,
		listenAddress: addr,
		metrics:       m,
		checks:        checks,
		log:           log,
	}

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})))
	e.GET("/health", ep.health)

	return ep
}

// Handler returns the HTTP handler, for tests.
func (e *Endpoint) Handler() http.Handler {
	return e.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (e *Endpoint) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		e.log.Info("telemetry endpoint starting", logger.String("address", e.listenAddress))
		if err := e.echo.Start(e.listenAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	e.log.Info("stopping telemetry endpoint")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (e *Endpoint) health(c echo.Context) error {
	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(e.checks))}
	code := http.StatusOK

	for name, check := range e.checks {
		if err := check(c.Request().Context()); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			e.log.Warn("health check failed", logger.String("check", name), logger.Error(err))
			continue
		}
		resp.Checks[name] = "ok"
	}

	return c.JSON(code, resp)
}
