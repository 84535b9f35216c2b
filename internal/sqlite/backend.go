package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/flexi/pkg/types"
)

// DatabaseFile is the SQLite file created inside Config.DataDir.
const DatabaseFile = "flexi.db"

// Backend owns the SQLite connection and hands out transaction-scoped Store
// accessors. It uses a single connection: SQLite serializes writers anyway,
// and every Store call runs inside the transaction of one engine call.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	logger   *zap.Logger

	// names collapses concurrent interning of the same text.
	names singleflight.Group
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the backend logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// newBackendWithDB attaches a backend to an already opened database without
// running the schema. Tests use it with go-sqlmock.
func newBackendWithDB(db *sql.DB, config types.Config) *Backend {
	b := NewBackend()
	b.db = db
	b.config = config
	b.attached = true
	return b
}

// Attach initializes the backend with the given configuration.
// Creates DataDir if it does not exist, opens the database and applies the
// schema. Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}

	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", config.GetBusyTimeoutMS()),
		"PRAGMA journal_mode = WAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return fmt.Errorf("applying %q: %w", stmt, err)
		}
	}

	for _, stmt := range append(append([]string{}, schemaDDL...), indexDDL...) {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return fmt.Errorf("applying schema: %w", err)
		}
	}

	b.db = db
	b.config = config
	b.attached = true

	b.logger.Debug("backend attached", zap.String("path", dbPath))
	return nil
}

// Detach closes the SQLite connection. After Detach, all operations return
// ErrBackendDetached. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}

	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}

	b.attached = false
	b.logger.Debug("backend detached")
	return nil
}

// Config returns the configuration the backend was attached with.
func (b *Backend) Config() types.Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config
}

// WithTx runs fn inside one transaction. The transaction commits when fn
// returns nil and rolls back otherwise, so definition updates and row
// rewrites made through the Store are applied together or not at all.
func (b *Backend) WithTx(ctx context.Context, fn func(s *Store) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return types.ErrBackendDetached
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{tx: tx, logger: b.logger}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// InternName returns the id of text, creating it when absent. Concurrent
// callers interning the same text share one insert-if-absent-then-read.
func (b *Backend) InternName(ctx context.Context, text string) (int64, error) {
	if text == "" {
		return 0, types.ErrInvalidName
	}
	v, err, _ := b.names.Do(text, func() (any, error) {
		var id int64
		err := b.WithTx(ctx, func(s *Store) error {
			var err error
			id, err = s.InternName(ctx, text)
			return err
		})
		return id, err
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// generateUUID generates a new UUID v7 for export records.
func generateUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to UUID v4 if v7 generation fails
		return uuid.New().String()
	}
	return id.String()
}
