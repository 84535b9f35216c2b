package types

// IncomingSchema is the loosely-typed description of one model as produced
// by an adapter or a foreign schema reader.
type IncomingSchema struct {
	Properties map[string]IncomingProperty `json:"properties" yaml:"properties" validate:"dive"`
	OneToOne   map[string]IncomingRelation `json:"oneToOne,omitempty" yaml:"oneToOne,omitempty" validate:"dive"`
	OneToMany  map[string]IncomingRelation `json:"oneToMany,omitempty" yaml:"oneToMany,omitempty" validate:"dive"`
}

// IncomingProperty is a single property descriptor with a source-system
// type label and optional hints.
type IncomingProperty struct {
	Type           string         `json:"type" yaml:"type" validate:"required"`
	Size           int            `json:"size,omitempty" yaml:"size,omitempty" validate:"gte=0"`
	Unique         bool           `json:"unique,omitempty" yaml:"unique,omitempty"`
	Indexed        bool           `json:"indexed,omitempty" yaml:"indexed,omitempty"`
	FastTextSearch bool           `json:"fastTextSearch,omitempty" yaml:"fastTextSearch,omitempty"`
	NoTrackChanges bool           `json:"noTrackChanges,omitempty" yaml:"noTrackChanges,omitempty"`
	Required       bool           `json:"required,omitempty" yaml:"required,omitempty"`
	Role           string         `json:"role,omitempty" yaml:"role,omitempty" validate:"omitempty,oneof=plain id code"`
	DefaultValue   any            `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`
	Items          []IncomingItem `json:"items,omitempty" yaml:"items,omitempty" validate:"dive"`
	Time           *bool          `json:"time,omitempty" yaml:"time,omitempty"`
	Target         string         `json:"target,omitempty" yaml:"target,omitempty"`
	ReverseName    string         `json:"reverseName,omitempty" yaml:"reverseName,omitempty"`
	Kind           string         `json:"kind,omitempty" yaml:"kind,omitempty" validate:"omitempty,refkind"`
	RenameTo       string         `json:"renameTo,omitempty" yaml:"renameTo,omitempty"`
}

// IncomingItem is one enum item. ID is optional.
type IncomingItem struct {
	ID    int64  `json:"id,omitempty" yaml:"id,omitempty" validate:"gte=0"`
	Label string `json:"label" yaml:"label" validate:"required"`
}

// IncomingRelation describes a one-to-one or one-to-many relation.
type IncomingRelation struct {
	TargetModel string `json:"targetModel" yaml:"targetModel" validate:"required"`
	ReverseName string `json:"reverseName,omitempty" yaml:"reverseName,omitempty"`
	Kind        string `json:"kind,omitempty" yaml:"kind,omitempty" validate:"omitempty,refkind"`
}
