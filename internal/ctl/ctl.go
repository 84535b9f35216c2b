// Package ctl defines the bit layout of the per-property (ctlv) and per-class
// (ctlo) control words and the pure functions that derive and decode them.
//
// ctlv layout:
//
//	bit 0      Index           property values are indexed
//	bits 1-3   RefMask         reference kind (see types.RefKind), 0 = scalar
//	bit 4      FullText        property enrolled in full-text search
//	bit 5      NoTrackChanges  change tracking suppressed
//	bit 6      Deleted         property marked deleted
//	bit 7      UniqueIndex     property values are unique
//	bit 8      RangeIndex      property enrolled in range search
//	bit 9      DuplicateValue  row-only marker: value collides with a unique row
//
// ctlo layout, for slot i in 0..9 (A..J):
//
//	bit 1+i    unique value in slot i
//	bit 13+i   indexed value in slot i
//	bit 25+i   full-text value in slot i
//	bit 37+i   range-indexed value in slot i
//	bit 50     class has unresolved references
//	bit 51     class has duplicate values under a unique property
package ctl

import "github.com/mesh-intelligence/flexi/pkg/types"

// Property control word bits.
const (
	Index          int64 = 1
	RefMask        int64 = 0x0E
	FullText       int64 = 1 << 4
	NoTrackChanges int64 = 1 << 5
	Deleted        int64 = 1 << 6
	UniqueIndex    int64 = 1 << 7
	RangeIndex     int64 = 1 << 8
	DuplicateValue int64 = 1 << 9
)

// RowMask selects the ctlv bits copied onto stored value rows.
const RowMask = Index | RefMask | FullText | NoTrackChanges | UniqueIndex | RangeIndex

// Class control word shifts and flags.
const (
	CtloUniqueShift   = 1
	CtloIndexShift    = 13
	CtloFullTextShift = 25
	CtloRangeShift    = 37

	CtloHasInvalidRefs int64 = 1 << 50
	CtloHasDuplicates  int64 = 1 << 51
)

// CtloFlagMask selects the class-level flags that survive a column
// reassignment.
const CtloFlagMask = CtloHasInvalidRefs | CtloHasDuplicates

// Intents are the declared capabilities a ctlv word encodes.
type Intents struct {
	Unique         bool
	Indexed        bool
	FullText       bool
	RangeIndexed   bool
	NoTrackChanges bool
	RefKind        types.RefKind
}

// IntentsOf extracts the intents declared on a property definition. The
// reference kind defaults from the type when the descriptor does not set one:
// boxed objects own their target, links do not.
func IntentsOf(def *types.PropertyDefinition) Intents {
	in := Intents{
		Unique:         def.Unique,
		Indexed:        def.Indexed,
		FullText:       def.FastTextSearch,
		RangeIndexed:   def.Rules.Type.IsRange(),
		NoTrackChanges: def.NoTrackChanges,
	}
	if def.IsReference() {
		in.RefKind = DefaultRefKind(def.Rules.Type)
		if def.Reference != nil && def.Reference.Kind != types.RefNone {
			in.RefKind = def.Reference.Kind
		}
	}
	return in
}

// DefaultRefKind returns the reference kind implied by a reference type.
func DefaultRefKind(t types.PropertyType) types.RefKind {
	switch t {
	case types.TypeObject:
		return types.RefOwnForward
	case types.TypeLink:
		return types.RefRegular
	default:
		return types.RefNone
	}
}

// DeriveCtlv packs rules, role and intents into a ctlv word. updateRequired
// is true when the new word differs from prev in any bit, since stored rows
// carry a copy of the word and must be revisited.
func DeriveCtlv(rules types.Rules, role types.PropertyRole, in Intents, prev int64) (ctlv int64, updateRequired bool) {
	if in.Indexed {
		ctlv |= Index
	}
	if rules.Type.IsReference() {
		kind := in.RefKind
		if kind == types.RefNone {
			kind = DefaultRefKind(rules.Type)
		}
		ctlv |= int64(kind) & RefMask
	}
	if in.FullText {
		ctlv |= FullText
	}
	if in.NoTrackChanges {
		ctlv |= NoTrackChanges
	}
	if in.Unique || role == types.RoleID || role == types.RoleCode {
		ctlv |= UniqueIndex
	}
	if in.RangeIndexed || rules.Type.IsRange() {
		ctlv |= RangeIndex
	}
	return ctlv, ctlv != prev
}

// Derive computes the ctlv word for a property definition.
func Derive(def *types.PropertyDefinition, prev int64) (int64, bool) {
	return DeriveCtlv(def.Rules, def.Role, IntentsOf(def), prev)
}

// Decode unpacks a ctlv word into intents.
func Decode(ctlv int64) Intents {
	return Intents{
		Unique:         ctlv&UniqueIndex != 0,
		Indexed:        ctlv&Index != 0,
		FullText:       ctlv&FullText != 0,
		RangeIndexed:   ctlv&RangeIndex != 0,
		NoTrackChanges: ctlv&NoTrackChanges != 0,
		RefKind:        RefKindOf(ctlv),
	}
}

// RefKindOf returns the reference kind encoded in a ctlv word.
func RefKindOf(ctlv int64) types.RefKind {
	return types.RefKind(ctlv & RefMask)
}

// IsReference reports whether a ctlv word encodes a reference.
func IsReference(ctlv int64) bool {
	return ctlv&RefMask != 0
}

// RowBits returns the part of a property ctlv copied onto stored rows.
func RowBits(ctlv int64) int64 {
	return ctlv & RowMask
}

// ClassCtloForColumn returns the ctlo bits to set for a property with
// control word ctlv occupying slot col (0..9).
func ClassCtloForColumn(col int, ctlv int64) int64 {
	if col < 0 || col >= types.NumColumns {
		return 0
	}
	var bits int64
	if ctlv&UniqueIndex != 0 {
		bits |= 1 << (CtloUniqueShift + col)
	}
	if ctlv&Index != 0 {
		bits |= 1 << (CtloIndexShift + col)
	}
	if ctlv&FullText != 0 {
		bits |= 1 << (CtloFullTextShift + col)
	}
	if ctlv&RangeIndex != 0 {
		bits |= 1 << (CtloRangeShift + col)
	}
	return bits
}

// ColumnIndex converts a slot letter (A..J, either case) to its index, or -1.
func ColumnIndex(letter string) int {
	for i, l := range types.ColumnLetters {
		if l == letter || (len(letter) == 1 && letter[0] == l[0]+'a'-'A') {
			return i
		}
	}
	return -1
}

// SlotUnique reports whether the ctlo marks slot col as unique.
func SlotUnique(ctlo int64, col int) bool {
	return ctlo&(1<<(CtloUniqueShift+col)) != 0
}

// SlotIndexed reports whether the ctlo marks slot col as indexed.
func SlotIndexed(ctlo int64, col int) bool {
	return ctlo&(1<<(CtloIndexShift+col)) != 0
}
