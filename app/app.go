package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Runner owns the process lifecycle: signal handling, the main function and
// ordered cleanup.
type Runner struct {
	Logger          *slog.Logger
	ShutdownTimeout time.Duration

	hooks []hook
}

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{Logger: logger, ShutdownTimeout: 15 * time.Second}
}

// OnShutdown registers cleanup. Hooks run in reverse registration order, so
// dependencies registered first are closed last.
func (r *Runner) OnShutdown(name string, fn func(ctx context.Context) error) {
	r.hooks = append(r.hooks, hook{name: name, fn: fn})
}

// Run calls fn with a context cancelled on SIGINT or SIGTERM, then runs the
// shutdown hooks. It exits the process with status 1 if fn or a hook fails.
func (r *Runner) Run(fn func(ctx context.Context) error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := r.run(ctx, fn); err != nil {
		stop()
		os.Exit(1)
	}
}

func (r *Runner) run(ctx context.Context, fn func(ctx context.Context) error) error {
	r.Logger.Info("Service starting...")

	runErr := fn(ctx)
	if runErr != nil {
		r.Logger.Error("Service stopped with error", "error", runErr)
	} else {
		r.Logger.Info("Shutdown signal received. Cleaning up...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.ShutdownTimeout)
	defer cancel()

	errs := []error{runErr}
	for i := len(r.hooks) - 1; i >= 0; i-- {
		h := r.hooks[i]
		if err := h.fn(shutdownCtx); err != nil {
			r.Logger.Error("Shutdown hook failed", "hook", h.name, "error", err)
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err == nil {
		r.Logger.Info("Service shutdown complete.")
	}
	return err
}
