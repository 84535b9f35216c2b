package sqlite

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/flexi/internal/ctl"
	"github.com/mesh-intelligence/flexi/pkg/types"
)

// StoredValue is one object_values row.
type StoredValue struct {
	ObjectID   int64
	PropertyID int64
	PropIndex  int
	ClassID    int64
	Value      any
	Ctlv       int64
}

// ValueFilter restricts the rows visited by RewriteStoredValues. A zero
// ClassID matches every class.
type ValueFilter struct {
	ClassID int64
}

// ValueTransform maps a stored row to its new form. It returns false when the
// row must stay unchanged. Transforms must be idempotent so a failed rewrite
// can be re-run in full.
type ValueTransform func(ctx context.Context, v StoredValue) (StoredValue, bool, error)

// StoredValues returns the rows of a property ordered by object and index.
func (s *Store) StoredValues(ctx context.Context, propertyID int64, filter ValueFilter) ([]StoredValue, error) {
	query := `SELECT object_id, property_id, prop_index, class_id, value, ctlv
FROM object_values WHERE property_id = ?`
	args := []any{propertyID}
	if filter.ClassID != 0 {
		query += ` AND class_id = ?`
		args = append(args, filter.ClassID)
	}
	query += ` ORDER BY object_id, prop_index`

	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying values of property %d: %w", propertyID, err)
	}
	defer rows.Close()

	var out []StoredValue
	for rows.Next() {
		var v StoredValue
		if err := rows.Scan(&v.ObjectID, &v.PropertyID, &v.PropIndex, &v.ClassID, &v.Value, &v.Ctlv); err != nil {
			return nil, fmt.Errorf("scanning value: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying values of property %d: %w", propertyID, err)
	}
	return out, nil
}

// RewriteStoredValues applies fn to every row of propertyID matching filter
// and writes back the rows fn changed. The rewrite runs under a savepoint: if
// fn or any update fails, every row is restored and the error is returned.
func (s *Store) RewriteStoredValues(ctx context.Context, propertyID int64, filter ValueFilter, fn ValueTransform) (int, error) {
	if _, err := s.tx.ExecContext(ctx, `SAVEPOINT rewrite_values`); err != nil {
		return 0, fmt.Errorf("opening savepoint: %w", err)
	}

	n, err := s.rewrite(ctx, propertyID, filter, fn)
	if err != nil {
		if _, rbErr := s.tx.ExecContext(ctx, `ROLLBACK TO rewrite_values`); rbErr != nil {
			s.logger.Error("rolling back rewrite", zap.Error(rbErr))
		}
		s.tx.ExecContext(ctx, `RELEASE rewrite_values`)
		return 0, err
	}

	if _, err := s.tx.ExecContext(ctx, `RELEASE rewrite_values`); err != nil {
		return 0, fmt.Errorf("releasing savepoint: %w", err)
	}
	if n > 0 {
		s.logger.Debug("stored values rewritten", zap.Int64("propertyId", propertyID), zap.Int("rows", n))
	}
	return n, nil
}

func (s *Store) rewrite(ctx context.Context, propertyID int64, filter ValueFilter, fn ValueTransform) (int, error) {
	values, err := s.StoredValues(ctx, propertyID, filter)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, v := range values {
		nv, changed, err := fn(ctx, v)
		if err != nil {
			return 0, fmt.Errorf("transforming object %d: %w", v.ObjectID, err)
		}
		if !changed {
			continue
		}
		if _, err := s.tx.ExecContext(ctx,
			`UPDATE object_values SET value = ?, ctlv = ?
WHERE object_id = ? AND property_id = ? AND prop_index = ?`,
			nv.Value, nv.Ctlv, v.ObjectID, v.PropertyID, v.PropIndex,
		); err != nil {
			return 0, fmt.Errorf("rewriting object %d: %w", v.ObjectID, err)
		}
		count++
	}
	return count, nil
}

// MoveColumnToValues moves the single values held in slot col of the class's
// objects into object_values rows of propertyID, then clears the slot. A
// slot value replaces any row the object already holds for the property.
func (s *Store) MoveColumnToValues(ctx context.Context, classID int64, col int, propertyID, ctlv int64) (int, error) {
	column := SlotColumn(col)
	res, err := s.tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT OR REPLACE INTO object_values (object_id, property_id, prop_index, class_id, value, ctlv)
SELECT object_id, ?, 0, class_id, %[1]s, ? FROM objects WHERE class_id = ? AND %[1]s IS NOT NULL`, column),
		propertyID, ctl.RowBits(ctlv), classID)
	if err != nil {
		return 0, fmt.Errorf("moving slot %s of class %d: %w", column, classID, err)
	}
	n, _ := res.RowsAffected()
	if _, err := s.tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE objects SET %s = NULL WHERE class_id = ?`, column), classID,
	); err != nil {
		return 0, fmt.Errorf("clearing slot %s of class %d: %w", column, classID, err)
	}
	return int(n), nil
}

// MoveValuesToColumn moves the first value of propertyID from object_values
// into slot col. Rows carrying the duplicate marker stay where they are.
func (s *Store) MoveValuesToColumn(ctx context.Context, classID int64, col int, propertyID int64) (int, error) {
	column := SlotColumn(col)
	marker := ctl.DuplicateValue
	res, err := s.tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE objects SET %s = (
    SELECT v.value FROM object_values v
    WHERE v.object_id = objects.object_id AND v.property_id = ? AND v.prop_index = 0 AND (v.ctlv & ?) = 0)
WHERE class_id = ? AND EXISTS (
    SELECT 1 FROM object_values v
    WHERE v.object_id = objects.object_id AND v.property_id = ? AND v.prop_index = 0 AND (v.ctlv & ?) = 0)`, column),
		propertyID, marker, classID, propertyID, marker)
	if err != nil {
		return 0, fmt.Errorf("filling slot %s of class %d: %w", column, classID, err)
	}
	n, _ := res.RowsAffected()
	if _, err := s.tx.ExecContext(ctx,
		`DELETE FROM object_values WHERE class_id = ? AND property_id = ? AND prop_index = 0 AND (ctlv & ?) = 0`,
		classID, propertyID, marker,
	); err != nil {
		return 0, fmt.Errorf("removing moved values of property %d: %w", propertyID, err)
	}
	return int(n), nil
}

// FindObjectByValue returns the lowest object id of the class whose property
// holds value, looking at the property's slot first and then at
// object_values.
func (s *Store) FindObjectByValue(ctx context.Context, cls *types.ClassDefinition, propertyID int64, value any) (int64, bool, error) {
	var id int64
	if col := cls.ColumnOf(propertyID); col >= 0 {
		err := s.tx.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT object_id FROM objects WHERE class_id = ? AND %s = ? ORDER BY object_id LIMIT 1`,
			SlotColumn(col)), cls.ClassID, value).Scan(&id)
		if err == nil {
			return id, true, nil
		}
		if !isNoRows(err) {
			return 0, false, fmt.Errorf("looking up %v in class %s: %w", value, cls.Name, err)
		}
	}
	err := s.tx.QueryRowContext(ctx,
		`SELECT object_id FROM object_values WHERE property_id = ? AND class_id = ? AND value = ?
ORDER BY object_id LIMIT 1`, propertyID, cls.ClassID, value).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if isNoRows(err) {
		return 0, false, nil
	}
	return 0, false, fmt.Errorf("looking up %v in class %s: %w", value, cls.Name, err)
}

// GetObjectValue returns the first value of the property on objectID.
func (s *Store) GetObjectValue(ctx context.Context, cls *types.ClassDefinition, objectID, propertyID int64) (any, bool, error) {
	var value any
	if col := cls.ColumnOf(propertyID); col >= 0 {
		err := s.tx.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT %s FROM objects WHERE object_id = ?`, SlotColumn(col)), objectID).Scan(&value)
		if err != nil && !isNoRows(err) {
			return nil, false, fmt.Errorf("reading object %d: %w", objectID, err)
		}
		if value != nil {
			return value, true, nil
		}
	}
	err := s.tx.QueryRowContext(ctx,
		`SELECT value FROM object_values WHERE object_id = ? AND property_id = ? ORDER BY prop_index LIMIT 1`,
		objectID, propertyID).Scan(&value)
	if isNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading object %d: %w", objectID, err)
	}
	return value, value != nil, nil
}

// CountValues returns how many stored values of the property equal value,
// across the slot column and object_values.
func (s *Store) CountValues(ctx context.Context, cls *types.ClassDefinition, propertyID int64, value any) (int, error) {
	var total int
	if col := cls.ColumnOf(propertyID); col >= 0 {
		if err := s.tx.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT COUNT(*) FROM objects WHERE class_id = ? AND %s = ?`, SlotColumn(col)),
			cls.ClassID, value).Scan(&total); err != nil {
			return 0, fmt.Errorf("counting values: %w", err)
		}
	}
	var n int
	if err := s.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM object_values WHERE property_id = ? AND value = ?`, propertyID, value,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting values: %w", err)
	}
	return total + n, nil
}
