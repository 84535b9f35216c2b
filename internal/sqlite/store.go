package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/flexi/pkg/types"
)

// Store is the transaction-scoped accessor over the metadata tables. A Store
// is only valid inside the WithTx callback that produced it.
type Store struct {
	tx     *sql.Tx
	logger *zap.Logger
}

// InternName returns the id of text, inserting it first when absent. The
// insert-if-absent-then-read order makes concurrent interning converge on one
// id.
func (s *Store) InternName(ctx context.Context, text string) (int64, error) {
	if text == "" {
		return 0, types.ErrInvalidName
	}
	if _, err := s.tx.ExecContext(ctx,
		`INSERT INTO names (value) VALUES (?) ON CONFLICT(value) DO NOTHING`, text,
	); err != nil {
		return 0, fmt.Errorf("interning name %q: %w", text, err)
	}
	var id int64
	if err := s.tx.QueryRowContext(ctx,
		`SELECT name_id FROM names WHERE value = ?`, text,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("reading name %q: %w", text, err)
	}
	return id, nil
}

// ExecDDL runs generated statements in order.
func (s *Store) ExecDDL(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := s.tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing ddl: %w", err)
		}
	}
	return nil
}

// Exec runs a statement in the transaction. Writes through a generated class
// view use it.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}

// QueryRow runs a single-row query in the transaction.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.tx.QueryRowContext(ctx, query, args...)
}
