// Package flexi is the public entry point of the Flexi class and property
// engine. Open attaches a SQLite backend and returns a handle whose methods
// alter, sync, rename and drop classes.
//
// Example:
//
//	f, err := flexi.Open(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".flexi-db",
//	})
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//	report, err := f.SyncFile(ctx, "schema.yaml")
package flexi

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/flexi/internal/engine"
	"github.com/mesh-intelligence/flexi/internal/normalize"
	"github.com/mesh-intelligence/flexi/internal/sqlite"
	"github.com/mesh-intelligence/flexi/pkg/types"
)

// Version is the release version of the module.
const Version = "0.1.0"

// Flexi is an engine bound to an attached backend.
type Flexi struct {
	*engine.Engine
	backend *sqlite.Backend
}

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	surface    bool
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger used by the backend and the engine.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer registers the engine metrics with r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// WithoutSurface disables generation of the per-class views and triggers.
func WithoutSurface() Option {
	return func(o *options) { o.surface = false }
}

// Open attaches a backend for cfg and returns an engine over it.
func Open(cfg types.Config, opts ...Option) (*Flexi, error) {
	o := options{logger: zap.NewNop(), surface: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registerer != nil {
		for _, c := range engine.Collectors() {
			if err := o.registerer.Register(c); err != nil {
				var already prometheus.AlreadyRegisteredError
				if !errors.As(err, &already) {
					return nil, fmt.Errorf("registering metrics: %w", err)
				}
			}
		}
	}

	backend := sqlite.NewBackend(sqlite.WithLogger(o.logger))
	if err := backend.Attach(cfg); err != nil {
		return nil, err
	}
	engineOpts := []engine.Option{engine.WithLogger(o.logger)}
	if !o.surface {
		engineOpts = append(engineOpts, engine.WithoutSurface())
	}
	return &Flexi{Engine: engine.New(backend, engineOpts...), backend: backend}, nil
}

// Close detaches the backend.
func (f *Flexi) Close() error {
	return f.backend.Detach()
}

// Config returns the configuration the backend was attached with.
func (f *Flexi) Config() types.Config {
	return f.backend.Config()
}

// SyncFile syncs every model declared in a YAML or JSON schema file.
func (f *Flexi) SyncFile(ctx context.Context, path string) (*types.ActionReport, error) {
	models, err := normalize.LoadSchemaFile(path)
	if err != nil {
		return nil, err
	}
	return f.SyncModels(ctx, models)
}

// Export writes every class definition to classes.jsonl in dir, or in the
// data directory when dir is empty.
func (f *Flexi) Export(ctx context.Context, dir string) (int, error) {
	return f.backend.ExportClasses(ctx, dir)
}

// MapType converts a source-system type label into a property type.
func MapType(label string) (types.PropertyType, error) {
	return normalize.MapType(label)
}
