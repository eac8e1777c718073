package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	// DefaultStartupTimeout bounds container start plus the wait for health.
	DefaultStartupTimeout = 3 * time.Minute

	// DefaultPollInterval is the delay between health probes.
	DefaultPollInterval = 500 * time.Millisecond
)

// HealthFunc reports whether the service in a container is ready. A false result with a nil
// error means "not yet"; a non-nil error is fatal and stops the wait.
type HealthFunc func(ctx context.Context, handle *Handle) (bool, error)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPollInterval sets the delay between health probes. Defaults to DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.interval = d }
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// Orchestrator ensures a named container is running and healthy.
type Orchestrator struct {
	manager  Manager
	health   HealthFunc
	interval time.Duration
	logger   *slog.Logger
}

// NewOrchestrator returns an Orchestrator that starts containers with manager and probes them
// with health.
func NewOrchestrator(manager Manager, health HealthFunc, opts ...Option) (*Orchestrator, error) {
	if manager == nil {
		return nil, errors.New("manager must not be nil")
	}
	if health == nil {
		return nil, errors.New("health function must not be nil")
	}
	o := &Orchestrator{
		manager:  manager,
		health:   health,
		interval: DefaultPollInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive: %v", o.interval)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	o.logger = o.logger.With(slog.String("logger", "orchestrator"))
	return o, nil
}

var errNotReady = errors.New("container not ready")

// EnsureRunning starts the container described by spec, or reuses the one already running under
// spec.Name, and waits until the health function reports it ready.
//
// The timeout covers both the start request and the health wait. When it expires the error is a
// *TimeoutError; when ctx ends first it is a *CancelledError. A fatal health error is returned
// unchanged.
func (o *Orchestrator) EnsureRunning(ctx context.Context, spec Spec, timeout time.Duration) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid container spec: %w", err)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive: %v", timeout)
	}
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	handle, err := o.manager.Start(waitCtx, spec.clone())
	if err != nil {
		return nil, o.classify(ctx, waitCtx, spec, timeout, start, fmt.Errorf("start container %s: %w", spec.Name, err))
	}
	o.logger.Debug(
		"container started, waiting for health",
		slog.String("container", spec.Name),
		slog.Bool("reused", handle.Reused),
		slog.Int("port", handle.Port),
	)

	attempts := 0
	err = retry.Do(waitCtx, retry.NewConstant(o.interval), func(ctx context.Context) error {
		attempts++
		healthy, err := o.health(ctx, handle)
		if err != nil {
			return err
		}
		if !healthy {
			return retry.RetryableError(errNotReady)
		}
		return nil
	})
	if err != nil {
		return nil, o.classify(ctx, waitCtx, spec, timeout, start, err)
	}
	o.logger.Info(
		"container healthy",
		slog.String("container", spec.Name),
		slog.String("image", spec.Reference()),
		slog.Int("attempts", attempts),
		slog.Duration("elapsed", time.Since(start)),
	)
	return handle, nil
}

// classify maps a failed wait onto the error taxonomy: the caller's context wins over our own
// deadline, and anything else is returned as-is.
func (o *Orchestrator) classify(parent, wait context.Context, spec Spec, timeout time.Duration, start time.Time, err error) error {
	elapsed := time.Since(start)
	switch {
	case parent.Err() != nil:
		return &CancelledError{Container: spec.Name, Elapsed: elapsed, Err: parent.Err()}
	case wait.Err() != nil:
		var lastErr error
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, errNotReady) {
			lastErr = err
		}
		return &TimeoutError{Container: spec.Name, Timeout: timeout, Elapsed: elapsed, LastErr: lastErr}
	default:
		return err
	}
}

// Stop stops the container behind handle.
func (o *Orchestrator) Stop(ctx context.Context, handle *Handle) error {
	if handle == nil {
		return errors.New("handle must not be nil")
	}
	if err := o.manager.Stop(ctx, handle); err != nil {
		return fmt.Errorf("stop container %s: %w", handle.Name, err)
	}
	o.logger.Info("container stopped", slog.String("container", handle.Name))
	return nil
}
