package vcs

import (
	"fmt"
	"log/slog"
)

// Factory creates empty engines of a configured type.
//
// The coordinator asks the factory for fresh engine content on every
// reinitialization and swaps it into the process-wide Handle.
type Factory struct {
	// engineType selects the registered constructor
	engineType Type

	// logger is handed to every engine
	logger *slog.Logger
}

// FactoryOption configures the factory
type FactoryOption func(*Factory)

// NewFactory creates a factory. By default it builds git engines and logs to
// slog.Default().
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		engineType: TypeGit,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithType sets the engine type
func WithType(t Type) FactoryOption {
	return func(f *Factory) {
		f.engineType = t
	}
}

// WithLogger sets the logger handed to engines
func WithLogger(l *slog.Logger) FactoryOption {
	return func(f *Factory) {
		if l != nil {
			f.logger = l
		}
	}
}

// Type returns the engine type the factory builds.
func (f *Factory) Type() Type {
	return f.engineType
}

// New creates an empty engine using the registry.
// Implementations must register themselves via Register() in their init()
// functions.
func (f *Factory) New() (Engine, error) {
	constructor := getConstructor(f.engineType)
	if constructor == nil {
		return nil, fmt.Errorf("no registered constructor for engine type: %s (available: %v)", f.engineType, RegisteredTypes())
	}

	e, err := constructor(EngineConfig{Logger: f.logger.With("engine", string(f.engineType))})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s engine: %w", f.engineType, err)
	}
	return e, nil
}
