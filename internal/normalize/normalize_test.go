package normalize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/flexi/internal/ctl"
	"github.com/mesh-intelligence/flexi/pkg/types"
)

// fakeNames interns into an in-memory table.
type fakeNames struct {
	ids map[string]int64
}

func (f *fakeNames) intern(_ context.Context, text string) (int64, error) {
	if f.ids == nil {
		f.ids = make(map[string]int64)
	}
	if id, ok := f.ids[text]; ok {
		return id, nil
	}
	id := int64(len(f.ids) + 100)
	f.ids[text] = id
	return id, nil
}

func classes(known map[string]int64) ClassResolver {
	return func(_ context.Context, name string) (int64, error) {
		if id, ok := known[name]; ok {
			return id, nil
		}
		return 0, fmt.Errorf("%w: %s", types.ErrClassNotFound, name)
	}
}

func newTestNormalizer(known map[string]int64) (*Normalizer, *fakeNames) {
	names := &fakeNames{}
	return New(names.intern, classes(known)), names
}

func TestNormalize_EmployeeScenario(t *testing.T) {
	n, _ := newTestNormalizer(nil)

	defs, err := n.Normalize(context.Background(), types.IncomingSchema{
		Properties: map[string]types.IncomingProperty{
			"FirstName":  {Type: "text", Size: 10},
			"EmployeeID": {Type: "integer", Unique: true},
		},
	})
	require.NoError(t, err)
	require.Len(t, defs, 2)

	first := defs["FirstName"]
	require.NotNil(t, first)
	assert.Equal(t, types.TypeText, first.Rules.Type)
	assert.Equal(t, 10, first.Rules.MaxLength)

	emp := defs["EmployeeID"]
	require.NotNil(t, emp)
	assert.Equal(t, types.TypeInteger, emp.Rules.Type)
	assert.True(t, emp.Unique)
	assert.NotZero(t, emp.Ctlv&ctl.UniqueIndex)
	assert.Zero(t, emp.Ctlv&ctl.RefMask)
}

func TestMapType(t *testing.T) {
	tests := []struct {
		label string
		want  types.PropertyType
	}{
		{"serial", types.TypeInteger},
		{"integer", types.TypeInteger},
		{"number", types.TypeNumber},
		{"binary", types.TypeBinary},
		{"text", types.TypeText},
		{"boolean", types.TypeBoolean},
		{"object", types.TypeObject},
		{"date", types.TypeDateTime},
		{"enum", types.TypeEnum},
		{"TEXT", types.TypeText},
		{"range-number", types.TypeRangeNumber},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, err := MapType(tt.label)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := MapType("geometry")
	assert.ErrorIs(t, err, types.ErrUnsupportedType)
	assert.Contains(t, err.Error(), "geometry")
}

func TestNormalize_UnsupportedTypeFails(t *testing.T) {
	n, _ := newTestNormalizer(nil)
	_, err := n.Normalize(context.Background(), types.IncomingSchema{
		Properties: map[string]types.IncomingProperty{"Shape": {Type: "geometry"}},
	})
	assert.ErrorIs(t, err, types.ErrUnsupportedType)
}

func TestNormalize_DateTimeMode(t *testing.T) {
	n, _ := newTestNormalizer(nil)
	no, yes := false, true
	defs, err := n.Normalize(context.Background(), types.IncomingSchema{
		Properties: map[string]types.IncomingProperty{
			"Born":    {Type: "date", Time: &no},
			"Updated": {Type: "date", Time: &yes},
			"Created": {Type: "date"},
		},
	})
	require.NoError(t, err)
	assert.True(t, defs["Born"].Rules.DateOnly)
	assert.False(t, defs["Updated"].Rules.DateOnly)
	assert.False(t, defs["Created"].Rules.DateOnly, "default is date-time")
}

func TestNormalize_EnumItems(t *testing.T) {
	n, names := newTestNormalizer(nil)
	defs, err := n.Normalize(context.Background(), types.IncomingSchema{
		Properties: map[string]types.IncomingProperty{
			"Status": {Type: "enum", Items: []types.IncomingItem{
				{Label: "Active"},
				{ID: 7, Label: "Retired"},
			}},
		},
	})
	require.NoError(t, err)

	items := defs["Status"].EnumDef.Items
	require.Len(t, items, 2)
	active := names.ids["Active"]
	assert.Equal(t, types.EnumItem{ID: active, TextID: active}, items[0])
	assert.Equal(t, types.EnumItem{ID: 7, TextID: names.ids["Retired"]}, items[1])
}

func TestNormalize_EnumWithoutItemsFails(t *testing.T) {
	n, _ := newTestNormalizer(nil)
	_, err := n.Normalize(context.Background(), types.IncomingSchema{
		Properties: map[string]types.IncomingProperty{"Status": {Type: "enum"}},
	})
	assert.ErrorIs(t, err, types.ErrInvalidDefinition)
}

func TestNormalize_Relations(t *testing.T) {
	n, _ := newTestNormalizer(map[string]int64{"Department": 3, "Project": 4})
	defs, err := n.Normalize(context.Background(), types.IncomingSchema{
		Properties: map[string]types.IncomingProperty{
			"Badge": {Type: "object", Target: "Department"},
		},
		OneToOne: map[string]types.IncomingRelation{
			"Department": {TargetModel: "Department", ReverseName: "Members", Kind: "restrict-b"},
		},
		OneToMany: map[string]types.IncomingRelation{
			"Projects": {TargetModel: "Project"},
		},
	})
	require.NoError(t, err)

	dept := defs["Department"]
	assert.Equal(t, types.TypeLink, dept.Rules.Type)
	assert.Equal(t, 1, dept.Rules.MaxOccurrences)
	assert.Equal(t, int64(3), dept.Reference.ClassID)
	assert.Equal(t, "Members", dept.Reference.ReverseName)
	assert.Equal(t, types.RefRestrictB, ctl.RefKindOf(dept.Ctlv))

	projects := defs["Projects"]
	assert.Zero(t, projects.Rules.MaxOccurrences)
	assert.Empty(t, projects.Reference.ReverseName)
	assert.Equal(t, types.RefRegular, ctl.RefKindOf(projects.Ctlv))

	badge := defs["Badge"]
	assert.Equal(t, types.TypeObject, badge.Rules.Type)
	assert.Equal(t, types.RefOwnForward, ctl.RefKindOf(badge.Ctlv))
}

func TestNormalize_UnresolvedTarget(t *testing.T) {
	tests := []struct {
		name   string
		schema types.IncomingSchema
	}{
		{"one-to-one", types.IncomingSchema{OneToOne: map[string]types.IncomingRelation{"Boss": {TargetModel: "Ghost"}}}},
		{"one-to-many", types.IncomingSchema{OneToMany: map[string]types.IncomingRelation{"Pets": {TargetModel: "Ghost"}}}},
		{"object without target", types.IncomingSchema{Properties: map[string]types.IncomingProperty{"Box": {Type: "object"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, _ := newTestNormalizer(nil)
			_, err := n.Normalize(context.Background(), tt.schema)
			assert.ErrorIs(t, err, types.ErrUnresolvedReferenceTarget)
		})
	}

	n := New((&fakeNames{}).intern, nil)
	_, err := n.Normalize(context.Background(), types.IncomingSchema{
		OneToOne: map[string]types.IncomingRelation{"Boss": {TargetModel: "Employee"}},
	})
	assert.ErrorIs(t, err, types.ErrUnresolvedReferenceTarget)
}

func TestNormalize_StructValidation(t *testing.T) {
	tests := []struct {
		name   string
		schema types.IncomingSchema
	}{
		{"missing type", types.IncomingSchema{Properties: map[string]types.IncomingProperty{"X": {}}}},
		{"negative size", types.IncomingSchema{Properties: map[string]types.IncomingProperty{"X": {Type: "text", Size: -1}}}},
		{"bad role", types.IncomingSchema{Properties: map[string]types.IncomingProperty{"X": {Type: "text", Role: "primary"}}}},
		{"bad kind", types.IncomingSchema{OneToOne: map[string]types.IncomingRelation{"X": {TargetModel: "Y", Kind: "weak"}}}},
		{"missing target", types.IncomingSchema{OneToOne: map[string]types.IncomingRelation{"X": {}}}},
		{"duplicate name", types.IncomingSchema{
			Properties: map[string]types.IncomingProperty{"X": {Type: "text"}},
			OneToOne:   map[string]types.IncomingRelation{"X": {TargetModel: "Y"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, _ := newTestNormalizer(map[string]int64{"Y": 1})
			_, err := n.Normalize(context.Background(), tt.schema)
			assert.ErrorIs(t, err, types.ErrInvalidDefinition)
		})
	}
}

func TestNormalize_RoleAndRequired(t *testing.T) {
	n, _ := newTestNormalizer(nil)
	defs, err := n.Normalize(context.Background(), types.IncomingSchema{
		Properties: map[string]types.IncomingProperty{
			"Code": {Type: "string", Role: "code", Required: true, RenameTo: "ShortCode"},
		},
	})
	require.NoError(t, err)
	code := defs["Code"]
	assert.Equal(t, types.RoleCode, code.Role)
	assert.Equal(t, 1, code.Rules.MinOccurrences)
	assert.Equal(t, "ShortCode", code.RenameTo)
	assert.NotZero(t, code.Ctlv&ctl.UniqueIndex)
}

func TestLoadSchemaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	doc := `models:
  Department:
    properties:
      Name: {type: text, size: 40, role: code}
  Employee:
    properties:
      FirstName: {type: text, size: 10}
      EmployeeID: {type: serial, unique: true}
    oneToOne:
      Department: {targetModel: Department, reverseName: Members}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	models, err := LoadSchemaFile(path)
	require.NoError(t, err)
	require.Len(t, models, 2)
	emp := models["Employee"]
	assert.Equal(t, 10, emp.Properties["FirstName"].Size)
	assert.True(t, emp.Properties["EmployeeID"].Unique)
	assert.Equal(t, "Members", emp.OneToOne["Department"].ReverseName)

	_, err = ParseSchema([]byte("models: {}"))
	assert.ErrorIs(t, err, types.ErrInvalidDefinition)
	_, err = ParseSchema([]byte("{}"))
	assert.ErrorIs(t, err, types.ErrInvalidDefinition)

	_, err = LoadSchemaFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseSchema_BareModelMap(t *testing.T) {
	doc := `Department:
  properties:
    Code: {type: string, unique: true, role: code}
Employee:
  properties:
    Name: {type: string, required: true}
  oneToOne:
    Department: {targetModel: Department, reverseName: Members}
`
	models, err := ParseSchema([]byte(doc))
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "code", models["Department"].Properties["Code"].Role)
	assert.True(t, models["Employee"].Properties["Name"].Required)
	assert.Equal(t, "Members", models["Employee"].OneToOne["Department"].ReverseName)

	models, err = ParseSchema([]byte(`{"Tag": {"properties": {"Label": {"type": "text"}}}}`))
	require.NoError(t, err)
	assert.Contains(t, models["Tag"].Properties, "Label")
}
