package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this
// package, following the Go module path convention.
const tracerName = "github.com/riycorp/riy-gateway/pkg/lifecycle"

// StateChangeHandler is a callback invoked when the service's lifecycle
// state changes. It receives the previous state and the new state.
//
// Handlers execute synchronously under the service's state mutex during
// [Service.SetState]. Implementations must not block for extended
// periods or call lifecycle methods on the same service, as this will
// cause a deadlock. Handlers that panic are recovered and logged without
// preventing the state change.
type StateChangeHandler func(old, new State)

// Hook is a function called during a lifecycle transition (start, stop).
// It receives the caller's context, which may carry deadlines and
// cancellation signals.
//
// If a hook returns a non-nil error, the lifecycle transition is aborted
// and the service transitions to [StateFailed]. Hooks should perform
// cleanup on error to avoid leaving resources half-open.
//
// Hooks execute outside the service's state mutex, so they may safely
// call read-only methods ([Service.State], [Service.Info]) on the same
// service.
type Hook func(ctx context.Context) error

// ServiceInfo provides a point-in-time snapshot of the service's
// identity, state, and uptime. It is returned by [Service.Info] and is
// safe to serialize to JSON for health endpoints.
type ServiceInfo struct {
	// Name is the human-readable service name.
	Name string `json:"name"`

	// Version is the semantic version of the running build.
	Version string `json:"version"`

	// State is the current lifecycle state.
	State State `json:"state"`

	// StartedAt is the time the service entered StateRunning. Nil if the
	// service has not started or has been stopped.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// Uptime is the elapsed time since the service entered StateRunning.
	// Zero if the service is not currently running.
	Uptime time.Duration `json:"uptime,omitempty"`
}

// Service provides thread-safe lifecycle management for the gateway
// process: a validated state machine, startup/shutdown hooks, and health
// reporting. Create one with [Builder] and share it.
//
// Hooks (OnStart, OnStop) execute outside the state mutex to prevent
// deadlocks. If a hook fails, the service transitions to [StateFailed]
// and the error is wrapped with a gateway error code.
type Service struct {
	// Immutable fields, set at construction.
	name    string
	version string

	// Mutable fields, protected by mu.
	mu        sync.RWMutex
	state     State
	startedAt *time.Time

	tracer trace.Tracer
	logger *slog.Logger

	onStart Hook
	onStop  Hook

	stateHandlers []StateChangeHandler
}

// Name returns the human-readable service name.
func (s *Service) Name() string {
	return s.name
}

// Version returns the semantic version of the running build.
func (s *Service) Version() string {
	return s.version
}

// State returns the current lifecycle state. Safe for concurrent use.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns a point-in-time snapshot of the service's identity,
// state, and uptime. Safe for concurrent use.
func (s *Service) Info() ServiceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := ServiceInfo{
		Name:    s.name,
		Version: s.version,
		State:   s.state,
	}
	if s.startedAt != nil && s.state == StateRunning {
		t := *s.startedAt
		info.StartedAt = &t
		info.Uptime = time.Since(t)
	}
	return info
}

// Health returns nil if the service is in [StateRunning], or a
// *[gwerr.Error] with code [gwerr.CodeUnavailable] otherwise. Deeper
// checks (database connectivity) belong to the component clients; this
// reports process-level readiness.
func (s *Service) Health(ctx context.Context) error {
	state := s.State()
	if state != StateRunning {
		return gwerr.Newf(gwerr.CodeUnavailable,
			"lifecycle: service is not running, current state is %q", state)
	}
	return nil
}

// SetState transitions the service to the given state after validating
// the transition against the lifecycle state machine. Returns a
// *[gwerr.Error] with code [gwerr.CodeConflict] if the transition is not
// allowed.
//
// On a successful transition, all registered [StateChangeHandler]
// functions are called synchronously with the old and new state values,
// under the state mutex to guarantee ordering.
func (s *Service) SetState(new State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state
	if !ValidTransition(old, new) {
		return gwerr.Newf(gwerr.CodeConflict,
			"lifecycle: invalid state transition from %q to %q", old, new)
	}

	s.state = new

	// Each handler runs in a deferred-recover wrapper so a panicking
	// handler cannot corrupt service state.
	for _, h := range s.stateHandlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("lifecycle: state change handler panicked",
						"panic", r,
						"service", s.name,
						"old_state", string(old),
						"new_state", string(new),
					)
				}
			}()
			h(old, new)
		}()
	}

	return nil
}

// Start begins the service's operation. It transitions through
// [StateStarting] to [StateRunning], executing the OnStart hook between
// the two transitions.
//
// The context controls the deadline for startup. If the context is
// already canceled, Start returns immediately without modifying state.
// If the OnStart hook fails, the service transitions to [StateFailed].
func (s *Service) Start(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "lifecycle.Start",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("service.name", s.name)),
	)
	defer span.End()

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return gwerr.Wrap(err, gwerr.CodeTimeout,
			"lifecycle: start canceled before execution")
	}

	if err := s.SetState(StateStarting); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.logger.InfoContext(ctx, "lifecycle: starting service",
		"service", s.name,
		"version", s.version,
	)

	if s.onStart != nil {
		if err := s.onStart(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: start hook failed",
				"service", s.name,
				"error", err,
			)
			_ = s.SetState(StateFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return gwerr.Wrap(err, gwerr.CodeInternal,
				"lifecycle: start hook failed")
		}
	}

	if err := s.SetState(StateRunning); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.startedAt = &now
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: service started", "service", s.name)
	span.SetStatus(codes.Ok, "")
	return nil
}

// Stop gracefully shuts down the service. It transitions through
// [StateStopping] to [StateStopped], executing the OnStop hook between
// the two transitions.
//
// If the service is already in a terminal state, Stop is a no-op and
// returns nil, so it is safe in deferred cleanup. If the OnStop hook
// fails, the service transitions to [StateFailed].
func (s *Service) Stop(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "lifecycle.Stop",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("service.name", s.name)),
	)
	defer span.End()

	if s.State().IsTerminal() {
		span.SetStatus(codes.Ok, "")
		return nil
	}

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return gwerr.Wrap(err, gwerr.CodeTimeout,
			"lifecycle: stop canceled before execution")
	}

	if err := s.SetState(StateStopping); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.logger.InfoContext(ctx, "lifecycle: stopping service", "service", s.name)

	if s.onStop != nil {
		if err := s.onStop(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: stop hook failed",
				"service", s.name,
				"error", err,
			)
			_ = s.SetState(StateFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return gwerr.Wrap(err, gwerr.CodeInternal,
				"lifecycle: stop hook failed")
		}
	}

	if err := s.SetState(StateStopped); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.mu.Lock()
	s.startedAt = nil
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: service stopped", "service", s.name)
	span.SetStatus(codes.Ok, "")
	return nil
}
