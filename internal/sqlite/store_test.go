// Tests for the transaction-scoped Store accessors against a real database.
package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/flexi/internal/ctl"
	"github.com/mesh-intelligence/flexi/pkg/types"
)

// createClass creates a class with the given properties in declaration order
// and saves it.
func createClass(t *testing.T, b *Backend, name string, props ...*types.PropertyDefinition) *types.ClassDefinition {
	t.Helper()
	ctx := context.Background()
	var cls *types.ClassDefinition
	err := b.WithTx(ctx, func(s *Store) error {
		var err error
		if cls, err = s.CreateClass(ctx, name); err != nil {
			return err
		}
		for _, p := range props {
			p.Ctlv, _ = ctl.Derive(p, 0)
			if _, err := s.CreateProperty(ctx, cls.ClassID, p); err != nil {
				return err
			}
			cls.Properties[p.PropertyID] = p
		}
		return s.SaveClassDefinition(ctx, cls)
	})
	require.NoError(t, err)
	return cls
}

func textProp(name string) *types.PropertyDefinition {
	return &types.PropertyDefinition{Name: name, Rules: types.Rules{Type: types.TypeText}}
}

func inTx(t *testing.T, b *Backend, fn func(ctx context.Context, s *Store) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.WithTx(ctx, func(s *Store) error { return fn(ctx, s) }))
}

func TestStore_CreateClass(t *testing.T) {
	b := newTestBackend(t)
	cls := createClass(t, b, "Employee")
	assert.NotZero(t, cls.ClassID)
	assert.NotZero(t, cls.NameID)

	inTx(t, b, func(ctx context.Context, s *Store) error {
		got, err := s.GetClassByName(ctx, "Employee")
		require.NoError(t, err)
		assert.Equal(t, cls.ClassID, got.ClassID)
		assert.Empty(t, got.Properties)

		byID, err := s.GetClassByID(ctx, cls.ClassID)
		require.NoError(t, err)
		assert.Equal(t, "Employee", byID.Name)

		_, err = s.GetClassByName(ctx, "Missing")
		assert.ErrorIs(t, err, types.ErrClassNotFound)
		_, err = s.GetClassByID(ctx, cls.ClassID+100)
		assert.ErrorIs(t, err, types.ErrNotFound)
		_, err = s.GetClassByID(ctx, 0)
		assert.ErrorIs(t, err, types.ErrInvalidID)
		return nil
	})
}

func TestStore_CreateClassRejectsNames(t *testing.T) {
	b := newTestBackend(t)
	createClass(t, b, "Employee")

	tests := []struct {
		name string
		want error
	}{
		{"", types.ErrInvalidName},
		{"objects", types.ErrInvalidName},
		{"SQLITE_master", types.ErrInvalidName},
		{"Employee", types.ErrDuplicateName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.WithTx(context.Background(), func(s *Store) error {
				_, err := s.CreateClass(context.Background(), tt.name)
				return err
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStore_SaveClassDefinitionRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	target := createClass(t, b, "Department")

	first := &types.PropertyDefinition{
		Name:   "FirstName",
		Rules:  types.Rules{Type: types.TypeText, MaxLength: 10},
		Unique: true,
	}
	status := &types.PropertyDefinition{
		Name:    "Status",
		Rules:   types.Rules{Type: types.TypeEnum},
		EnumDef: &types.EnumDef{Items: []types.EnumItem{{ID: 1, TextID: 11}, {ID: 2, TextID: 12}}},
	}
	dept := &types.PropertyDefinition{
		Name:      "Department",
		Rules:     types.Rules{Type: types.TypeLink, MaxOccurrences: 1},
		Reference: &types.ReferenceDescriptor{ClassID: target.ClassID, Kind: types.RefRestrictB},
	}
	cls := createClass(t, b, "Employee", first, status, dept)
	cls.Columns[0] = first.PropertyID
	cls.Ctlo = ctl.ClassCtloForColumn(0, first.Ctlv) | ctl.CtloHasDuplicates
	inTx(t, b, func(ctx context.Context, s *Store) error { return s.SaveClassDefinition(ctx, cls) })

	inTx(t, b, func(ctx context.Context, s *Store) error {
		got, err := s.GetClassByName(ctx, "Employee")
		require.NoError(t, err)
		require.Len(t, got.Properties, 3)
		assert.Equal(t, cls.Ctlo, got.Ctlo)
		assert.Equal(t, cls.Columns, got.Columns)

		gotFirst := got.PropertyByName("FirstName")
		require.NotNil(t, gotFirst)
		assert.Equal(t, 10, gotFirst.Rules.MaxLength)
		assert.True(t, gotFirst.Unique)
		assert.Equal(t, ctl.UniqueIndex, gotFirst.Ctlv)
		assert.Equal(t, got.ClassID, gotFirst.ClassID)

		gotStatus := got.PropertyByName("Status")
		require.NotNil(t, gotStatus)
		assert.Equal(t, status.EnumDef.Items, gotStatus.EnumDef.Items)

		gotDept := got.PropertyByName("Department")
		require.NotNil(t, gotDept)
		assert.Equal(t, target.ClassID, gotDept.Reference.ClassID)
		assert.Equal(t, types.RefRestrictB, gotDept.Reference.Kind)
		assert.Equal(t, types.RefRestrictB, ctl.RefKindOf(gotDept.Ctlv))
		return nil
	})
}

func TestStore_RenameProperty(t *testing.T) {
	b := newTestBackend(t)
	first, last := textProp("FirstName"), textProp("LastName")
	createClass(t, b, "Employee", first, last)

	inTx(t, b, func(ctx context.Context, s *Store) error {
		nameID, err := s.RenameProperty(ctx, first.PropertyID, "GivenName")
		require.NoError(t, err)
		assert.NotEqual(t, first.NameID, nameID)

		_, err = s.RenameProperty(ctx, first.PropertyID, "LastName")
		assert.ErrorIs(t, err, types.ErrDuplicateName)

		_, err = s.RenameProperty(ctx, 9999, "Other")
		assert.ErrorIs(t, err, types.ErrPropertyNotFound)

		got, err := s.GetClassByName(ctx, "Employee")
		require.NoError(t, err)
		assert.NotNil(t, got.PropertyByName("GivenName"))
		assert.Nil(t, got.PropertyByName("FirstName"))
		return nil
	})
}

func TestStore_CreatePropertyRejectsDuplicate(t *testing.T) {
	b := newTestBackend(t)
	cls := createClass(t, b, "Employee", textProp("FirstName"))

	err := b.WithTx(context.Background(), func(s *Store) error {
		_, err := s.CreateProperty(context.Background(), cls.ClassID, textProp("FirstName"))
		return err
	})
	assert.ErrorIs(t, err, types.ErrDuplicateName)
}

func TestStore_DeletePropertyOrphansValues(t *testing.T) {
	b := newTestBackend(t)
	nick := textProp("Nickname")
	cls := createClass(t, b, "Employee", nick)

	inTx(t, b, func(ctx context.Context, s *Store) error {
		_, err := s.InsertObject(ctx, cls, map[int64]any{nick.PropertyID: "Bob"})
		require.NoError(t, err)

		require.NoError(t, s.DeleteProperty(ctx, nick.PropertyID))
		assert.ErrorIs(t, s.DeleteProperty(ctx, nick.PropertyID), types.ErrPropertyNotFound)

		values, err := s.StoredValues(ctx, nick.PropertyID, ValueFilter{})
		require.NoError(t, err)
		require.Len(t, values, 1)
		assert.Equal(t, "Bob", values[0].Value)
		return nil
	})
}

func TestStore_RewriteStoredValues(t *testing.T) {
	b := newTestBackend(t)
	name := textProp("Name")
	cls := createClass(t, b, "Employee", name)

	upper := func(_ context.Context, v StoredValue) (StoredValue, bool, error) {
		s := v.Value.(string)
		if strings.ToUpper(s) == s {
			return v, false, nil
		}
		v.Value = strings.ToUpper(s)
		return v, true, nil
	}

	inTx(t, b, func(ctx context.Context, s *Store) error {
		for _, n := range []string{"ann", "BOB", "cid"} {
			_, err := s.InsertObject(ctx, cls, map[int64]any{name.PropertyID: n})
			require.NoError(t, err)
		}

		n, err := s.RewriteStoredValues(ctx, name.PropertyID, ValueFilter{ClassID: cls.ClassID}, upper)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.RewriteStoredValues(ctx, name.PropertyID, ValueFilter{ClassID: cls.ClassID}, upper)
		require.NoError(t, err)
		assert.Zero(t, n, "rewrite is idempotent")
		return nil
	})
}

func TestStore_RewriteStoredValuesFailureLeavesRowsUnchanged(t *testing.T) {
	b := newTestBackend(t)
	name := textProp("Name")
	cls := createClass(t, b, "Employee", name)
	boom := errors.New("boom")

	inTx(t, b, func(ctx context.Context, s *Store) error {
		for _, n := range []string{"a", "b", "c"} {
			_, err := s.InsertObject(ctx, cls, map[int64]any{name.PropertyID: n})
			require.NoError(t, err)
		}

		calls := 0
		_, err := s.RewriteStoredValues(ctx, name.PropertyID, ValueFilter{}, func(_ context.Context, v StoredValue) (StoredValue, bool, error) {
			calls++
			if calls == 3 {
				return v, false, boom
			}
			v.Value = "changed"
			v.Ctlv = ctl.Index
			return v, true, nil
		})
		assert.ErrorIs(t, err, boom)

		values, err := s.StoredValues(ctx, name.PropertyID, ValueFilter{})
		require.NoError(t, err)
		require.Len(t, values, 3)
		for i, want := range []string{"a", "b", "c"} {
			assert.Equal(t, want, values[i].Value)
			assert.Zero(t, values[i].Ctlv)
		}
		return nil
	})
}

func TestStore_MoveValuesBetweenColumnAndTable(t *testing.T) {
	b := newTestBackend(t)
	code := textProp("Code")
	cls := createClass(t, b, "Employee", code)

	inTx(t, b, func(ctx context.Context, s *Store) error {
		var ids []int64
		for _, c := range []string{"E1", "E2"} {
			id, err := s.InsertObject(ctx, cls, map[int64]any{code.PropertyID: c})
			require.NoError(t, err)
			ids = append(ids, id)
		}
		// A duplicate-marked row stays in object_values.
		_, err := s.tx.ExecContext(ctx, `UPDATE object_values SET ctlv = ? WHERE object_id = ?`, ctl.DuplicateValue, ids[1])
		require.NoError(t, err)

		n, err := s.MoveValuesToColumn(ctx, cls.ClassID, 2, code.PropertyID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		cls.Columns[2] = code.PropertyID

		v, ok, err := s.GetObjectValue(ctx, cls, ids[0], code.PropertyID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "E1", v)

		v, ok, err = s.GetObjectValue(ctx, cls, ids[1], code.PropertyID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "E2", v)

		found, ok, err := s.FindObjectByValue(ctx, cls, code.PropertyID, "E1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, ids[0], found)

		count, err := s.CountValues(ctx, cls, code.PropertyID, "E2")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		n, err = s.MoveColumnToValues(ctx, cls.ClassID, 2, code.PropertyID, code.Ctlv)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		cls.Columns[2] = 0

		values, err := s.StoredValues(ctx, code.PropertyID, ValueFilter{ClassID: cls.ClassID})
		require.NoError(t, err)
		assert.Len(t, values, 2)
		return nil
	})
}

func TestStore_FindObjectByValueMissing(t *testing.T) {
	b := newTestBackend(t)
	code := textProp("Code")
	cls := createClass(t, b, "Employee", code)

	inTx(t, b, func(ctx context.Context, s *Store) error {
		_, ok, err := s.FindObjectByValue(ctx, cls, code.PropertyID, "nobody")
		require.NoError(t, err)
		assert.False(t, ok)

		exists, err := s.ObjectExists(ctx, cls.ClassID, 12345)
		require.NoError(t, err)
		assert.False(t, exists)
		return nil
	})
}

func TestStore_InsertObjectMultiValued(t *testing.T) {
	b := newTestBackend(t)
	tags := &types.PropertyDefinition{Name: "Tags", Rules: types.Rules{Type: types.TypeText, MaxOccurrences: 5}, Indexed: true}
	cls := createClass(t, b, "Article", tags)

	inTx(t, b, func(ctx context.Context, s *Store) error {
		id, err := s.InsertObject(ctx, cls, map[int64]any{tags.PropertyID: []any{"go", "sql"}})
		require.NoError(t, err)

		values, err := s.StoredValues(ctx, tags.PropertyID, ValueFilter{})
		require.NoError(t, err)
		require.Len(t, values, 2)
		assert.Equal(t, id, values[1].ObjectID)
		assert.Equal(t, 1, values[1].PropIndex)
		assert.Equal(t, ctl.Index, values[1].Ctlv)

		n, err := s.CountObjects(ctx, cls.ClassID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return nil
	})
}

func TestStore_DropClass(t *testing.T) {
	b := newTestBackend(t)
	name := textProp("Name")
	cls := createClass(t, b, "Employee", name)

	inTx(t, b, func(ctx context.Context, s *Store) error {
		_, err := s.InsertObject(ctx, cls, map[int64]any{name.PropertyID: "x"})
		require.NoError(t, err)
		require.NoError(t, s.DropClass(ctx, cls.ClassID))

		_, err = s.GetClassByName(ctx, "Employee")
		assert.ErrorIs(t, err, types.ErrClassNotFound)
		n, err := s.CountObjects(ctx, cls.ClassID)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.ErrorIs(t, s.DropClass(ctx, cls.ClassID), types.ErrNotFound)
		return nil
	})
}

func TestBackend_ExportClasses(t *testing.T) {
	b := newTestBackend(t)
	first := &types.PropertyDefinition{Name: "FirstName", Rules: types.Rules{Type: types.TypeText, MaxLength: 10}}
	cls := createClass(t, b, "Employee", first)
	cls.Columns[0] = first.PropertyID
	inTx(t, b, func(ctx context.Context, s *Store) error { return s.SaveClassDefinition(ctx, cls) })
	createClass(t, b, "Department")

	dir := t.TempDir()
	n, err := b.ExportClasses(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := readClassExport(filepath.Join(dir, ClassesJSONL))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Employee", records[0].Name)
	assert.Equal(t, "FirstName", records[0].Columns[0])
	require.Contains(t, records[0].Properties, "FirstName")
	assert.Equal(t, 10, records[0].Properties["FirstName"].Rules.MaxLength)
	assert.NotEmpty(t, records[0].RecordID)
	assert.Equal(t, "Department", records[1].Name)
}
