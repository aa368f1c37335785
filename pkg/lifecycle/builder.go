package lifecycle

import (
	"log/slog"

	"go.opentelemetry.io/otel"

	gwerr "github.com/riycorp/riy-gateway/pkg/errors"
)

// Builder constructs a [Service] with validated configuration and
// optional lifecycle hooks. Use [NewBuilder] to start building.
//
// The builder follows the fluent API pattern: all configuration methods
// return the builder for chaining. Call [Builder.Build] to validate the
// configuration and produce the service.
//
// Example:
//
//	svc, err := lifecycle.NewBuilder("riy-gateway", "1.0.0").
//	    WithOnStart(func(ctx context.Context) error {
//	        return db.Health(ctx)
//	    }).
//	    WithOnStop(func(ctx context.Context) error {
//	        db.Close()
//	        return nil
//	    }).
//	    Build()
type Builder struct {
	name          string
	version       string
	logger        *slog.Logger
	onStart       Hook
	onStop        Hook
	stateHandlers []StateChangeHandler
}

// NewBuilder creates a new builder with the required identity fields,
// validated during [Builder.Build].
func NewBuilder(name, version string) *Builder {
	return &Builder{name: name, version: version}
}

// WithLogger sets a custom [*slog.Logger] for the service. If not
// called, [slog.Default] is used.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithOnStart sets the hook called during [Service.Start], after the
// transition to [StateStarting] and before [StateRunning]. Use it to
// verify database connectivity and begin serving.
func (b *Builder) WithOnStart(hook Hook) *Builder {
	b.onStart = hook
	return b
}

// WithOnStop sets the hook called during [Service.Stop], after the
// transition to [StateStopping] and before [StateStopped]. Use it to
// drain the HTTP server and close client connections.
func (b *Builder) WithOnStop(hook Hook) *Builder {
	b.onStop = hook
	return b
}

// OnStateChange registers a [StateChangeHandler] called on every state
// transition, in registration order, synchronously under the state
// mutex. The handler list is defensively copied during [Builder.Build].
func (b *Builder) OnStateChange(handler StateChangeHandler) *Builder {
	b.stateHandlers = append(b.stateHandlers, handler)
	return b
}

// Build validates the configuration and constructs a [*Service] in
// [StateUnknown]. Returns a *[gwerr.Error] with code
// [gwerr.CodeValidation] if a required field is empty.
func (b *Builder) Build() (*Service, error) {
	if b.name == "" {
		return nil, gwerr.New(gwerr.CodeValidation,
			"lifecycle: service name must not be empty")
	}
	if b.version == "" {
		return nil, gwerr.New(gwerr.CodeValidation,
			"lifecycle: service version must not be empty")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	handlers := make([]StateChangeHandler, len(b.stateHandlers))
	copy(handlers, b.stateHandlers)

	return &Service{
		name:          b.name,
		version:       b.version,
		state:         StateUnknown,
		tracer:        otel.Tracer(tracerName),
		logger:        logger,
		onStart:       b.onStart,
		onStop:        b.onStop,
		stateHandlers: handlers,
	}, nil
}
