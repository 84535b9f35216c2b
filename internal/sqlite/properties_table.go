package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/flexi/pkg/types"
)

// CreateProperty inserts the property row for def under classID and fills in
// def's identity. The definition itself is persisted with the class by
// SaveClassDefinition.
func (s *Store) CreateProperty(ctx context.Context, classID int64, def *types.PropertyDefinition) (int64, error) {
	if def.Name == "" {
		return 0, types.ErrInvalidName
	}
	nameID, err := s.InternName(ctx, def.Name)
	if err != nil {
		return 0, err
	}
	if err := s.checkPropertyName(ctx, classID, nameID, 0); err != nil {
		return 0, fmt.Errorf("%w: property %s", err, def.Name)
	}

	res, err := s.tx.ExecContext(ctx,
		`INSERT INTO class_properties (class_id, name_id, ctlv) VALUES (?, ?, ?)`,
		classID, nameID, def.Ctlv)
	if err != nil {
		return 0, fmt.Errorf("inserting property %s: %w", def.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading property id: %w", err)
	}
	def.PropertyID = id
	def.ClassID = classID
	def.NameID = nameID
	return id, nil
}

// DeleteProperty removes the property row. Stored values of the property are
// left in place as orphans.
func (s *Store) DeleteProperty(ctx context.Context, propertyID int64) error {
	res, err := s.tx.ExecContext(ctx, `DELETE FROM class_properties WHERE property_id = ?`, propertyID)
	if err != nil {
		return fmt.Errorf("deleting property %d: %w", propertyID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", types.ErrPropertyNotFound, propertyID)
	}
	return nil
}

// RenameProperty points the property at the interned newName and returns the
// new name id.
func (s *Store) RenameProperty(ctx context.Context, propertyID int64, newName string) (int64, error) {
	var classID int64
	err := s.tx.QueryRowContext(ctx,
		`SELECT class_id FROM class_properties WHERE property_id = ?`, propertyID,
	).Scan(&classID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %d", types.ErrPropertyNotFound, propertyID)
	}
	if err != nil {
		return 0, fmt.Errorf("reading property %d: %w", propertyID, err)
	}

	nameID, err := s.InternName(ctx, newName)
	if err != nil {
		return 0, err
	}
	if err := s.checkPropertyName(ctx, classID, nameID, propertyID); err != nil {
		return 0, fmt.Errorf("%w: property %s", err, newName)
	}
	if _, err := s.tx.ExecContext(ctx,
		`UPDATE class_properties SET name_id = ? WHERE property_id = ?`, nameID, propertyID,
	); err != nil {
		return 0, fmt.Errorf("renaming property %d: %w", propertyID, err)
	}
	return nameID, nil
}

// checkPropertyName returns ErrDuplicateName when another property of the
// class already uses nameID.
func (s *Store) checkPropertyName(ctx context.Context, classID, nameID, self int64) error {
	var other int64
	err := s.tx.QueryRowContext(ctx,
		`SELECT property_id FROM class_properties WHERE class_id = ? AND name_id = ?`,
		classID, nameID,
	).Scan(&other)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("checking property name: %w", err)
	case other == self:
		return nil
	default:
		return types.ErrDuplicateName
	}
}
