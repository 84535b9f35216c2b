package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/flexi/pkg/types"
)

const selectClass = `SELECT c.class_id, c.name_id, n.value, c.ctlo, c.data
FROM classes c JOIN names n ON n.name_id = c.name_id`

// GetClassByName returns the class with the given name, or ErrClassNotFound.
func (s *Store) GetClassByName(ctx context.Context, name string) (*types.ClassDefinition, error) {
	if name == "" {
		return nil, types.ErrInvalidName
	}
	row := s.tx.QueryRowContext(ctx, selectClass+` WHERE n.value = ?`, name)
	def, err := s.hydrateClass(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrClassNotFound, name)
	}
	return def, err
}

// GetClassByID returns the class with the given id, or ErrNotFound.
func (s *Store) GetClassByID(ctx context.Context, id int64) (*types.ClassDefinition, error) {
	if id <= 0 {
		return nil, types.ErrInvalidID
	}
	row := s.tx.QueryRowContext(ctx, selectClass+` WHERE c.class_id = ?`, id)
	def, err := s.hydrateClass(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: class %d", types.ErrNotFound, id)
	}
	return def, err
}

// ListClasses returns every class ordered by id.
func (s *Store) ListClasses(ctx context.Context) ([]*types.ClassDefinition, error) {
	rows, err := s.tx.QueryContext(ctx, `SELECT class_id FROM classes ORDER BY class_id`)
	if err != nil {
		return nil, fmt.Errorf("listing classes: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning class id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing classes: %w", err)
	}

	classes := make([]*types.ClassDefinition, 0, len(ids))
	for _, id := range ids {
		def, err := s.GetClassByID(ctx, id)
		if err != nil {
			return nil, err
		}
		classes = append(classes, def)
	}
	return classes, nil
}

// CreateClass persists a minimal class row and returns its definition.
func (s *Store) CreateClass(ctx context.Context, name string) (*types.ClassDefinition, error) {
	if name == "" || IsReservedName(name) {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidName, name)
	}
	nameID, err := s.InternName(ctx, name)
	if err != nil {
		return nil, err
	}
	var exists int
	err = s.tx.QueryRowContext(ctx, `SELECT 1 FROM classes WHERE name_id = ?`, nameID).Scan(&exists)
	if err == nil {
		return nil, fmt.Errorf("%w: class %s", types.ErrDuplicateName, name)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checking class %s: %w", name, err)
	}

	def := types.NewClassDefinition(name)
	def.NameID = nameID
	data, err := json.Marshal(types.ClassData{Properties: def.Properties, Columns: def.Columns})
	if err != nil {
		return nil, fmt.Errorf("encoding class %s: %w", name, err)
	}
	res, err := s.tx.ExecContext(ctx,
		`INSERT INTO classes (name_id, ctlo, data) VALUES (?, 0, ?)`, nameID, string(data))
	if err != nil {
		return nil, fmt.Errorf("inserting class %s: %w", name, err)
	}
	if def.ClassID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading class id: %w", err)
	}
	s.logger.Debug("class created", zap.String("class", name), zap.Int64("classId", def.ClassID))
	return def, nil
}

// SaveClassDefinition persists the class name, ctlo, property dictionary and
// column assignments together with each property's name and ctlv. All writes
// happen in the enclosing transaction, so readers never see half of it.
func (s *Store) SaveClassDefinition(ctx context.Context, def *types.ClassDefinition) error {
	data, err := json.Marshal(types.ClassData{Properties: def.Properties, Columns: def.Columns})
	if err != nil {
		return fmt.Errorf("encoding class %s: %w", def.Name, err)
	}
	res, err := s.tx.ExecContext(ctx,
		`UPDATE classes SET name_id = ?, ctlo = ?, data = ? WHERE class_id = ?`,
		def.NameID, def.Ctlo, string(data), def.ClassID)
	if err != nil {
		return fmt.Errorf("saving class %s: %w", def.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: class %d", types.ErrNotFound, def.ClassID)
	}

	for _, p := range def.SortedProperties() {
		if _, err := s.tx.ExecContext(ctx,
			`UPDATE class_properties SET name_id = ?, ctlv = ? WHERE property_id = ?`,
			p.NameID, p.Ctlv, p.PropertyID,
		); err != nil {
			return fmt.Errorf("saving property %s.%s: %w", def.Name, p.Name, err)
		}
	}
	return nil
}

// DropClass removes the class row, its properties, its objects and their
// values.
func (s *Store) DropClass(ctx context.Context, classID int64) error {
	stmts := []string{
		`DELETE FROM object_values WHERE class_id = ?`,
		`DELETE FROM objects WHERE class_id = ?`,
		`DELETE FROM class_properties WHERE class_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := s.tx.ExecContext(ctx, stmt, classID); err != nil {
			return fmt.Errorf("dropping class %d: %w", classID, err)
		}
	}
	res, err := s.tx.ExecContext(ctx, `DELETE FROM classes WHERE class_id = ?`, classID)
	if err != nil {
		return fmt.Errorf("dropping class %d: %w", classID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: class %d", types.ErrNotFound, classID)
	}
	return nil
}

// hydrateClass scans a class row and joins the identity of its properties
// from class_properties. Dictionary entries without a property row are
// dropped; property rows without a dictionary entry are logged and skipped.
func (s *Store) hydrateClass(ctx context.Context, row *sql.Row) (*types.ClassDefinition, error) {
	var (
		def  types.ClassDefinition
		data string
	)
	if err := row.Scan(&def.ClassID, &def.NameID, &def.Name, &def.Ctlo, &data); err != nil {
		return nil, err
	}

	var payload types.ClassData
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("decoding class %s: %w", def.Name, err)
	}
	def.Columns = payload.Columns
	def.Properties = make(map[int64]*types.PropertyDefinition, len(payload.Properties))

	rows, err := s.tx.QueryContext(ctx, `SELECT p.property_id, p.name_id, n.value, p.ctlv
FROM class_properties p JOIN names n ON n.name_id = p.name_id
WHERE p.class_id = ? ORDER BY p.property_id`, def.ClassID)
	if err != nil {
		return nil, fmt.Errorf("loading properties of %s: %w", def.Name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, nameID, ctlv int64
			name             string
		)
		if err := rows.Scan(&id, &nameID, &name, &ctlv); err != nil {
			return nil, fmt.Errorf("scanning property of %s: %w", def.Name, err)
		}
		p, ok := payload.Properties[id]
		if !ok || p == nil {
			s.logger.Warn("property row without definition",
				zap.String("class", def.Name), zap.Int64("propertyId", id))
			continue
		}
		p.PropertyID = id
		p.ClassID = def.ClassID
		p.NameID = nameID
		p.Name = name
		p.Ctlv = ctlv
		def.Properties[id] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading properties of %s: %w", def.Name, err)
	}

	for i, id := range def.Columns {
		if _, ok := def.Properties[id]; id != 0 && !ok {
			def.Columns[i] = 0
		}
	}
	return &def, nil
}
