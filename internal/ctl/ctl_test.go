package ctl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mesh-intelligence/flexi/pkg/types"
)

func TestDeriveDecodeRoundTrip(t *testing.T) {
	scalarTypes := []types.PropertyType{
		types.TypeText, types.TypeInteger, types.TypeNumber, types.TypeBoolean,
		types.TypeBinary, types.TypeDateTime, types.TypeEnum, types.TypeJSON,
	}
	for _, typ := range scalarTypes {
		for mask := 0; mask < 16; mask++ {
			in := Intents{
				Unique:         mask&1 != 0,
				Indexed:        mask&2 != 0,
				FullText:       mask&4 != 0,
				NoTrackChanges: mask&8 != 0,
			}
			ctlv, _ := DeriveCtlv(types.Rules{Type: typ}, types.RolePlain, in, 0)
			assert.Equal(t, in, Decode(ctlv), "type %s mask %04b", typ, mask)
			assert.False(t, IsReference(ctlv))
		}
	}
}

func TestDeriveReferenceKinds(t *testing.T) {
	tests := []struct {
		name string
		typ  types.PropertyType
		kind types.RefKind
		want types.RefKind
	}{
		{"link defaults to regular", types.TypeLink, types.RefNone, types.RefRegular},
		{"object defaults to own-forward", types.TypeObject, types.RefNone, types.RefOwnForward},
		{"explicit own-reverse", types.TypeLink, types.RefOwnReverse, types.RefOwnReverse},
		{"explicit mutual", types.TypeObject, types.RefMutual, types.RefMutual},
		{"explicit restrict-a", types.TypeLink, types.RefRestrictA, types.RefRestrictA},
		{"explicit restrict-b", types.TypeLink, types.RefRestrictB, types.RefRestrictB},
		{"explicit restrict-both", types.TypeLink, types.RefRestrictBoth, types.RefRestrictBoth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Intents{RefKind: tt.kind, NoTrackChanges: true}
			ctlv, _ := DeriveCtlv(types.Rules{Type: tt.typ}, types.RolePlain, in, 0)
			got := Decode(ctlv)
			assert.Equal(t, tt.want, got.RefKind)
			assert.True(t, got.NoTrackChanges)
			assert.True(t, IsReference(ctlv))
		})
	}
}

func TestDeriveScalarIgnoresRefKind(t *testing.T) {
	ctlv, _ := DeriveCtlv(types.Rules{Type: types.TypeText}, types.RolePlain, Intents{RefKind: types.RefMutual}, 0)
	assert.Zero(t, ctlv&RefMask)
}

func TestDeriveRoleImpliesUnique(t *testing.T) {
	for _, role := range []types.PropertyRole{types.RoleID, types.RoleCode} {
		ctlv, _ := DeriveCtlv(types.Rules{Type: types.TypeText}, role, Intents{}, 0)
		assert.NotZero(t, ctlv&UniqueIndex, "role %s", role)
	}
	ctlv, _ := DeriveCtlv(types.Rules{Type: types.TypeText}, types.RolePlain, Intents{}, 0)
	assert.Zero(t, ctlv)
}

func TestDeriveRangeTypes(t *testing.T) {
	for _, typ := range []types.PropertyType{types.TypeRangeInteger, types.TypeRangeNumber, types.TypeRangeDateTime} {
		ctlv, _ := DeriveCtlv(types.Rules{Type: typ}, types.RolePlain, Intents{}, 0)
		assert.True(t, Decode(ctlv).RangeIndexed, "type %s", typ)
	}
}

func TestDeriveUpdateRequired(t *testing.T) {
	rules := types.Rules{Type: types.TypeText}
	prev, _ := DeriveCtlv(rules, types.RolePlain, Intents{Indexed: true}, 0)

	_, update := DeriveCtlv(rules, types.RolePlain, Intents{Indexed: true}, prev)
	assert.False(t, update, "identical word needs no rewrite")

	_, update = DeriveCtlv(rules, types.RolePlain, Intents{Indexed: true, Unique: true}, prev)
	assert.True(t, update, "gained bit needs rewrite")

	_, update = DeriveCtlv(rules, types.RolePlain, Intents{}, prev)
	assert.True(t, update, "lost bit needs rewrite")
}

func TestDeriveFromDefinition(t *testing.T) {
	def := &types.PropertyDefinition{
		Rules:  types.Rules{Type: types.TypeInteger},
		Unique: true,
	}
	ctlv, _ := Derive(def, 0)
	assert.Equal(t, UniqueIndex, ctlv)
	assert.Zero(t, ctlv&RefMask)
}

func TestClassCtloForColumn(t *testing.T) {
	ctlv := UniqueIndex | Index | FullText | RangeIndex
	for col := 0; col < types.NumColumns; col++ {
		bits := ClassCtloForColumn(col, ctlv)
		assert.True(t, SlotUnique(bits, col))
		assert.True(t, SlotIndexed(bits, col))
		assert.NotZero(t, bits&(1<<(CtloFullTextShift+col)))
		assert.NotZero(t, bits&(1<<(CtloRangeShift+col)))
		assert.Zero(t, bits&CtloFlagMask)
		for other := 0; other < types.NumColumns; other++ {
			if other != col {
				assert.False(t, SlotUnique(bits, other))
			}
		}
	}
	assert.Zero(t, ClassCtloForColumn(3, NoTrackChanges))
	assert.Zero(t, ClassCtloForColumn(types.NumColumns, ctlv))
}

func TestColumnIndex(t *testing.T) {
	assert.Equal(t, 0, ColumnIndex("A"))
	assert.Equal(t, 9, ColumnIndex("j"))
	assert.Equal(t, -1, ColumnIndex("K"))
	assert.Equal(t, -1, ColumnIndex(""))
}

func TestRowBitsDropsMarkers(t *testing.T) {
	assert.Equal(t, UniqueIndex, RowBits(UniqueIndex|Deleted|DuplicateValue))
}
