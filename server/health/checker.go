package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check probes one dependency. A nil error means it is usable.
type Check func(ctx context.Context) error

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

func PingCheck(p Pinger) Check {
	return p.PingContext
}

// Checker serves liveness and readiness and mirrors readiness onto the gRPC
// health service.
type Checker struct {
	checks  map[string]Check
	timeout time.Duration
	logger  *slog.Logger
	grpc    *health.Server

	draining atomic.Bool
}

func NewChecker(logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		checks:  map[string]Check{},
		timeout: 200 * time.Millisecond,
		logger:  logger.With("component", "health"),
		grpc:    health.NewServer(),
	}
}

// Add registers a readiness check under name.
func (c *Checker) Add(name string, check Check) *Checker {
	c.checks[name] = check
	return c
}

// GRPC returns the health service to register on a gRPC server.
func (c *Checker) GRPC() *health.Server {
	return c.grpc
}

func (c *Checker) RegisterRoutes(r chi.Router) {
	r.Get("/health", c.HandleHealth)
	r.Get("/ready", c.HandleReadiness)
}

// HandleHealth returns 200 while the process runs.
func (c *Checker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Drain marks the process as not ready for good, so load balancers stop
// routing to it while in-flight requests finish.
func (c *Checker) Drain() {
	if c.draining.CompareAndSwap(false, true) {
		c.logger.Info("draining, readiness now reports DOWN")
		c.grpc.Shutdown()
	}
}

// Run executes every check concurrently and reports per-check status.
// A slow dependency counts as down.
func (c *Checker) Run(ctx context.Context) (map[string]string, bool) {
	if c.draining.Load() {
		return map[string]string{"process": "DRAINING"}, false
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		status = make(map[string]string, len(names))
		ready  = true
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			err := check(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.ErrorContext(ctx, "readiness check failed", "check", name, "error", err)
				status[name] = "DOWN"
				ready = false
				return
			}
			status[name] = "UP"
		}(name, c.checks[name])
	}
	wg.Wait()

	serving := healthpb.HealthCheckResponse_SERVING
	if !ready {
		serving = healthpb.HealthCheckResponse_NOT_SERVING
	}
	c.grpc.SetServingStatus("", serving)
	return status, ready
}

func (c *Checker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks, ready := c.Run(r.Context())

	statusCode := http.StatusOK
	overall := "UP"
	if !ready {
		statusCode = http.StatusServiceUnavailable
		overall = "DOWN"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]any{"status": overall, "checks": checks}); err != nil {
		c.logger.Error("failed to write health response", "error", err)
	}
}
