// Package engine implements the class and property definition engine: the
// property alteration state machine, the reference resolver, the class
// synchronizer and column assignment. Every public call runs in one store
// transaction while holding the writer lock of the classes it names, so a
// failed call leaves neither definitions nor stored values changed.
package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/flexi/internal/ddl"
	"github.com/mesh-intelligence/flexi/internal/sqlite"
	"github.com/mesh-intelligence/flexi/pkg/types"
)

// Backend provides the transaction boundary.
type Backend interface {
	WithTx(ctx context.Context, fn func(s *sqlite.Store) error) error
}

// Engine applies class and property changes.
type Engine struct {
	backend Backend
	logger  *zap.Logger
	locks   *xsync.MapOf[string, *sync.Mutex]
	surface bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithoutSurface disables regeneration of the per-class views and triggers.
func WithoutSurface() Option {
	return func(e *Engine) { e.surface = false }
}

// New creates an engine over backend.
func New(backend Backend, opts ...Option) *Engine {
	e := &Engine{
		backend: backend,
		logger:  zap.NewNop(),
		locks:   xsync.NewMapOf[string, *sync.Mutex](),
		surface: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// lock takes the writer locks of the named classes in sorted order and
// returns the function releasing them.
func (e *Engine) lock(names ...string) func() {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	var held []*sync.Mutex
	for i, name := range sorted {
		if i > 0 && sorted[i-1] == name {
			continue
		}
		mu, _ := e.locks.LoadOrStore(name, &sync.Mutex{})
		mu.Lock()
		held = append(held, mu)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// run executes fn in a fresh session and transaction. The report is returned
// only when the transaction committed.
func (e *Engine) run(ctx context.Context, classes []string, fn func(s *session) error) (*types.ActionReport, error) {
	unlock := e.lock(classes...)
	defer unlock()

	report := &types.ActionReport{RunID: newRunID()}
	var s *session
	err := e.backend.WithTx(ctx, func(store *sqlite.Store) error {
		s = newSession(e, store, report)
		if err := fn(s); err != nil {
			return err
		}
		return s.finish(ctx)
	})
	if err != nil {
		return nil, err
	}
	s.flushMetrics()
	return report, nil
}

// AlterClassProperty creates the property named propName in className, or
// alters it when it already exists. A RenameTo on def takes priority over
// renameTo. The class is persisted exactly once.
func (e *Engine) AlterClassProperty(ctx context.Context, className, propName string, def *types.PropertyDefinition, renameTo string) (*types.ActionReport, error) {
	return e.run(ctx, []string{className}, func(s *session) error {
		cls, err := s.classByName(ctx, className)
		if err != nil {
			return err
		}
		return s.alterOrCreate(ctx, cls, propName, def, renameTo)
	})
}

// AlterIncomingProperty normalizes a loosely-typed property descriptor and
// applies it like AlterClassProperty.
func (e *Engine) AlterIncomingProperty(ctx context.Context, className, propName string, in types.IncomingProperty) (*types.ActionReport, error) {
	return e.run(ctx, []string{className}, func(s *session) error {
		cls, err := s.classByName(ctx, className)
		if err != nil {
			return err
		}
		def, err := s.normalizer().NormalizeProperty(ctx, propName, in)
		if err != nil {
			return err
		}
		return s.alterOrCreate(ctx, cls, propName, def, "")
	})
}

// DeleteClassProperty removes a property. Its stored values stay behind as
// orphans and are reported.
func (e *Engine) DeleteClassProperty(ctx context.Context, className, propName string) (*types.ActionReport, error) {
	return e.run(ctx, []string{className}, func(s *session) error {
		cls, err := s.classByName(ctx, className)
		if err != nil {
			return err
		}
		p := cls.PropertyByName(propName)
		if p == nil {
			return errPropertyNotFound(className, propName)
		}
		return s.deleteProperty(ctx, cls, p)
	})
}

// SyncClass creates className or reconciles it with schema: undeclared
// properties are deleted, declared ones are created or altered.
func (e *Engine) SyncClass(ctx context.Context, className string, schema types.IncomingSchema) (*types.ActionReport, error) {
	return e.run(ctx, []string{className}, func(s *session) error {
		return s.syncClass(ctx, className, schema)
	})
}

// SyncModels syncs several models in one transaction. Every model's class is
// created before any is reconciled, so relations between the models resolve.
func (e *Engine) SyncModels(ctx context.Context, models map[string]types.IncomingSchema) (*types.ActionReport, error) {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	return e.run(ctx, names, func(s *session) error {
		return s.syncModels(ctx, models)
	})
}

// CreateClass creates an empty class.
func (e *Engine) CreateClass(ctx context.Context, name string) (*types.ClassDefinition, error) {
	var cls *types.ClassDefinition
	_, err := e.run(ctx, []string{name}, func(s *session) error {
		var err error
		cls, err = s.createClass(ctx, name)
		return err
	})
	return cls, err
}

// RenameClass renames a class and moves its access surface.
func (e *Engine) RenameClass(ctx context.Context, oldName, newName string) error {
	_, err := e.run(ctx, []string{oldName, newName}, func(s *session) error {
		return s.renameClass(ctx, oldName, newName)
	})
	return err
}

// DropClass removes a class with its properties, objects, values and access
// surface. Classes still referenced from other classes cannot be dropped.
func (e *Engine) DropClass(ctx context.Context, name string) error {
	_, err := e.run(ctx, []string{name}, func(s *session) error {
		return s.dropClass(ctx, name)
	})
	return err
}

// GetClass returns the stored definition of a class.
func (e *Engine) GetClass(ctx context.Context, name string) (*types.ClassDefinition, error) {
	var cls *types.ClassDefinition
	err := e.backend.WithTx(ctx, func(s *sqlite.Store) error {
		var err error
		cls, err = s.GetClassByName(ctx, name)
		return err
	})
	return cls, err
}

// ListClasses returns every stored class ordered by id.
func (e *Engine) ListClasses(ctx context.Context) ([]*types.ClassDefinition, error) {
	var classes []*types.ClassDefinition
	err := e.backend.WithTx(ctx, func(s *sqlite.Store) error {
		var err error
		classes, err = s.ListClasses(ctx)
		return err
	})
	return classes, err
}

// Surface returns the access-surface statements of a class.
func (e *Engine) Surface(ctx context.Context, name string) ([]string, error) {
	var stmts []string
	err := e.backend.WithTx(ctx, func(s *sqlite.Store) error {
		classes, err := s.ListClasses(ctx)
		if err != nil {
			return err
		}
		catalog := make(ddl.Catalog, len(classes))
		var target *types.ClassDefinition
		for _, cls := range classes {
			catalog[cls.ClassID] = cls
			if cls.Name == name {
				target = cls
			}
		}
		if target == nil {
			return errClassNotFound(name)
		}
		stmts = ddl.NewGenerator(catalog).Generate(target)
		return nil
	})
	return stmts, err
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
