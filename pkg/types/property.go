package types

import (
	"fmt"
	"strings"
)

// PropertyType is the closed set of storage types a property can declare.
type PropertyType int

const (
	TypeText PropertyType = iota
	TypeInteger
	TypeNumber
	TypeBoolean
	TypeBinary
	TypeDateTime
	TypeEnum
	TypeJSON
	TypeLink   // plain, non-owning reference
	TypeObject // boxed object reference, owned by the referencing object
	TypeRangeInteger
	TypeRangeNumber
	TypeRangeDateTime
)

var propertyTypeNames = map[PropertyType]string{
	TypeText:          "text",
	TypeInteger:       "integer",
	TypeNumber:        "number",
	TypeBoolean:       "boolean",
	TypeBinary:        "binary",
	TypeDateTime:      "datetime",
	TypeEnum:          "enum",
	TypeJSON:          "json",
	TypeLink:          "link",
	TypeObject:        "object",
	TypeRangeInteger:  "range-integer",
	TypeRangeNumber:   "range-number",
	TypeRangeDateTime: "range-datetime",
}

// String returns the canonical name of the type.
func (t PropertyType) String() string {
	if s, ok := propertyTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// ParsePropertyType converts a canonical type name to a PropertyType.
func ParsePropertyType(s string) (PropertyType, error) {
	for t, name := range propertyTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedType, s)
}

// MarshalText encodes the type by its canonical name.
func (t PropertyType) MarshalText() ([]byte, error) {
	if _, ok := propertyTypeNames[t]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedType, int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a canonical type name.
func (t *PropertyType) UnmarshalText(b []byte) error {
	parsed, err := ParsePropertyType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// IsReference reports whether values of this type point at other objects.
func (t PropertyType) IsReference() bool {
	return t == TypeLink || t == TypeObject
}

// IsRange reports whether the type is one of the range-* variants.
func (t PropertyType) IsRange() bool {
	return t == TypeRangeInteger || t == TypeRangeNumber || t == TypeRangeDateTime
}

// IsSimple reports whether the type is a plain scalar that fits in a single
// dedicated column.
func (t PropertyType) IsSimple() bool {
	switch t {
	case TypeText, TypeInteger, TypeNumber, TypeBoolean, TypeDateTime, TypeEnum:
		return true
	default:
		return false
	}
}

// IsTextual reports whether values are stored as text and can carry a
// maximum length.
func (t PropertyType) IsTextual() bool {
	return t == TypeText || t == TypeJSON
}

// PropertyRole is the structural role of a property within its class.
type PropertyRole int

const (
	RolePlain PropertyRole = iota
	RoleID
	RoleCode
)

// String returns the role name used in the persisted JSON.
func (r PropertyRole) String() string {
	switch r {
	case RoleID:
		return "id"
	case RoleCode:
		return "code"
	default:
		return ""
	}
}

// ParsePropertyRole converts a role name to a PropertyRole. The empty string
// and "plain" map to RolePlain.
func ParsePropertyRole(s string) (PropertyRole, error) {
	switch strings.ToLower(s) {
	case "", "plain":
		return RolePlain, nil
	case "id":
		return RoleID, nil
	case "code":
		return RoleCode, nil
	default:
		return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidDefinition, s)
	}
}

// MarshalText encodes the role by name.
func (r PropertyRole) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a role name.
func (r *PropertyRole) UnmarshalText(b []byte) error {
	parsed, err := ParsePropertyRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// RefKind is the ownership and cascade semantics of a reference. The numeric
// values are the reference bits of the property control word.
type RefKind int64

const (
	RefNone         RefKind = 0
	RefRegular      RefKind = 2  // plain link, no cascade
	RefOwnForward   RefKind = 4  // A owns B, deleting A deletes B
	RefOwnReverse   RefKind = 6  // B owns A, deleting B deletes A
	RefMutual       RefKind = 8  // deleting either side deletes the other
	RefRestrictA    RefKind = 10 // A cannot be deleted while the link exists
	RefRestrictB    RefKind = 12 // B cannot be deleted while referenced
	RefRestrictBoth RefKind = 14
)

var refKindNames = map[RefKind]string{
	RefRegular:      "regular",
	RefOwnForward:   "own-forward",
	RefOwnReverse:   "own-reverse",
	RefMutual:       "mutual",
	RefRestrictA:    "restrict-a",
	RefRestrictB:    "restrict-b",
	RefRestrictBoth: "restrict-both",
}

// String returns the kind name.
func (k RefKind) String() string {
	if s, ok := refKindNames[k]; ok {
		return s
	}
	return ""
}

// Valid reports whether k is one of the seven reference kinds.
func (k RefKind) Valid() bool {
	_, ok := refKindNames[k]
	return ok
}

// ParseRefKind converts a kind name to a RefKind. The empty string maps to
// RefNone, meaning "derive from the property type".
func ParseRefKind(s string) (RefKind, error) {
	if s == "" {
		return RefNone, nil
	}
	for k, name := range refKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown reference kind %q", ErrInvalidDefinition, s)
}

// MarshalText encodes the kind by name.
func (k RefKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *RefKind) UnmarshalText(b []byte) error {
	parsed, err := ParseRefKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Rules holds the type and occurrence constraints of a property.
type Rules struct {
	Type           PropertyType `json:"type"`
	MaxLength      int          `json:"maxLength,omitempty"`
	MinOccurrences int          `json:"minOccurrences,omitempty"`
	MaxOccurrences int          `json:"maxOccurrences,omitempty"`
	DateOnly       bool         `json:"dateOnly,omitempty"`
}

// ReferenceDescriptor describes the target of a reference property. Either
// ClassID or ClassName identifies the target class; either
// ReversePropertyID or ReverseName identifies the reverse property.
// Only ClassID, ReversePropertyID and Kind are persisted.
type ReferenceDescriptor struct {
	ClassID           int64   `json:"classId"`
	ReversePropertyID int64   `json:"reversePropertyId,omitempty"`
	Kind              RefKind `json:"kind,omitempty"`

	ClassName   string `json:"-"`
	ReverseName string `json:"-"`
}

// EnumItem is one allowed value of an enum property. Stored values hold ID;
// TextID points at the interned display label.
type EnumItem struct {
	ID     int64 `json:"id"`
	TextID int64 `json:"textId"`
}

// EnumDef lists the items of an enum property.
type EnumDef struct {
	Items []EnumItem `json:"items"`
}

// PropertyDefinition is the declarative definition of one class property.
// The JSON form is what the class persists in its properties dictionary.
type PropertyDefinition struct {
	Rules          Rules                `json:"rules"`
	Role           PropertyRole         `json:"role,omitempty"`
	Unique         bool                 `json:"unique,omitempty"`
	Indexed        bool                 `json:"indexed,omitempty"`
	FastTextSearch bool                 `json:"fastTextSearch,omitempty"`
	NoTrackChanges bool                 `json:"noTrackChanges,omitempty"`
	DefaultValue   any                  `json:"defaultValue,omitempty"`
	Reference      *ReferenceDescriptor `json:"reference,omitempty"`
	EnumDef        *EnumDef             `json:"enumDef,omitempty"`

	// AutoReverse marks a reverse property created on behalf of another
	// class. Schema sync does not delete it for being undeclared.
	AutoReverse bool `json:"autoReverse,omitempty"`

	// RenameTo requests a rename as part of an alteration.
	RenameTo string `json:"$renameTo,omitempty"`

	// Identity and cached control word, kept outside the JSON payload.
	PropertyID int64  `json:"-"`
	ClassID    int64  `json:"-"`
	NameID     int64  `json:"-"`
	Name       string `json:"-"`
	Ctlv       int64  `json:"-"`
}

// IsReference reports whether the property's declared type is a reference.
func (p *PropertyDefinition) IsReference() bool {
	return p.Rules.Type.IsReference()
}

// Validate checks the structural invariants every downstream component
// relies on: references carry a descriptor, enums carry items, and scalar
// types carry neither.
func (p *PropertyDefinition) Validate() error {
	if _, ok := propertyTypeNames[p.Rules.Type]; !ok {
		return fmt.Errorf("%w: %d", ErrUnsupportedType, int(p.Rules.Type))
	}
	if p.Rules.MaxLength < 0 || p.Rules.MinOccurrences < 0 || p.Rules.MaxOccurrences < 0 {
		return fmt.Errorf("%w: negative size or occurrence", ErrInvalidDefinition)
	}
	if p.Rules.MaxOccurrences > 0 && p.Rules.MinOccurrences > p.Rules.MaxOccurrences {
		return fmt.Errorf("%w: minOccurrences exceeds maxOccurrences", ErrInvalidDefinition)
	}
	if p.IsReference() {
		if p.Reference == nil {
			return fmt.Errorf("%w: reference type without reference descriptor", ErrInvalidDefinition)
		}
		if p.Reference.ClassID == 0 && p.Reference.ClassName == "" {
			return ErrUnresolvedReferenceTarget
		}
		if p.Reference.Kind != RefNone && !p.Reference.Kind.Valid() {
			return fmt.Errorf("%w: invalid reference kind %d", ErrInvalidDefinition, p.Reference.Kind)
		}
	} else if p.Reference != nil {
		return fmt.Errorf("%w: scalar type %s with reference descriptor", ErrInvalidDefinition, p.Rules.Type)
	}
	if p.Rules.Type == TypeEnum && (p.EnumDef == nil || len(p.EnumDef.Items) == 0) {
		return fmt.Errorf("%w: enum without items", ErrInvalidDefinition)
	}
	return nil
}

// Clone returns a deep copy of the definition.
func (p *PropertyDefinition) Clone() *PropertyDefinition {
	cp := *p
	if p.Reference != nil {
		ref := *p.Reference
		cp.Reference = &ref
	}
	if p.EnumDef != nil {
		cp.EnumDef = &EnumDef{Items: append([]EnumItem(nil), p.EnumDef.Items...)}
	}
	return &cp
}
