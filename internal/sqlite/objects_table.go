package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/flexi/internal/ctl"
	"github.com/mesh-intelligence/flexi/pkg/types"
)

// InsertObject stores a new object of cls. values is keyed by property id;
// a []any value is stored as one row per element. Values go to the
// property's slot when it has one and to object_values otherwise. No
// constraint checks run here; writes through the generated view enforce them.
func (s *Store) InsertObject(ctx context.Context, cls *types.ClassDefinition, values map[int64]any) (int64, error) {
	res, err := s.tx.ExecContext(ctx, `INSERT INTO objects (class_id, ctlo) VALUES (?, 0)`, cls.ClassID)
	if err != nil {
		return 0, fmt.Errorf("inserting object of %s: %w", cls.Name, err)
	}
	objectID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading object id: %w", err)
	}

	for propertyID, value := range values {
		p, ok := cls.Properties[propertyID]
		if !ok {
			return 0, fmt.Errorf("%w: %d in class %s", types.ErrPropertyNotFound, propertyID, cls.Name)
		}
		items, multi := value.([]any)
		if col := cls.ColumnOf(propertyID); col >= 0 && !multi {
			if _, err := s.tx.ExecContext(ctx,
				fmt.Sprintf(`UPDATE objects SET %s = ? WHERE object_id = ?`, SlotColumn(col)),
				value, objectID,
			); err != nil {
				return 0, fmt.Errorf("writing %s.%s: %w", cls.Name, p.Name, err)
			}
			continue
		}
		if !multi {
			items = []any{value}
		}
		for i, item := range items {
			if _, err := s.tx.ExecContext(ctx,
				`INSERT INTO object_values (object_id, property_id, prop_index, class_id, value, ctlv)
VALUES (?, ?, ?, ?, ?, ?)`,
				objectID, propertyID, i, cls.ClassID, item, ctl.RowBits(p.Ctlv),
			); err != nil {
				return 0, fmt.Errorf("writing %s.%s: %w", cls.Name, p.Name, err)
			}
		}
	}
	return objectID, nil
}

// ObjectExists reports whether objectID is an object of classID.
func (s *Store) ObjectExists(ctx context.Context, classID, objectID int64) (bool, error) {
	var one int
	err := s.tx.QueryRowContext(ctx,
		`SELECT 1 FROM objects WHERE object_id = ? AND class_id = ?`, objectID, classID,
	).Scan(&one)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking object %d: %w", objectID, err)
	}
	return true, nil
}

// CountObjects returns the number of objects of classID.
func (s *Store) CountObjects(ctx context.Context, classID int64) (int, error) {
	var n int
	if err := s.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM objects WHERE class_id = ?`, classID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting objects: %w", err)
	}
	return n, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
