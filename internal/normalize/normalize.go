// Package normalize converts loosely-typed incoming schemas into canonical
// property definitions. It owns no storage: name interning and target class
// lookup are injected by the caller.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/flexi/internal/ctl"
	"github.com/mesh-intelligence/flexi/pkg/types"
)

// NameInterner returns the interned id of text, creating it when absent.
type NameInterner func(ctx context.Context, text string) (int64, error)

// ClassResolver returns the id of the class with the given name. It returns
// an error wrapping types.ErrClassNotFound when no such class exists.
type ClassResolver func(ctx context.Context, name string) (int64, error)

// schemaValidate checks struct tags on incoming schemas.
var schemaValidate *validator.Validate

func init() {
	schemaValidate = validator.New()
	_ = schemaValidate.RegisterValidation("refkind", func(fl validator.FieldLevel) bool {
		_, err := types.ParseRefKind(fl.Field().String())
		return err == nil
	})
}

// typeLabels maps source-system type labels to canonical types.
var typeLabels = map[string]types.PropertyType{
	"serial":    types.TypeInteger,
	"integer":   types.TypeInteger,
	"int":       types.TypeInteger,
	"bigint":    types.TypeInteger,
	"number":    types.TypeNumber,
	"float":     types.TypeNumber,
	"double":    types.TypeNumber,
	"decimal":   types.TypeNumber,
	"binary":    types.TypeBinary,
	"blob":      types.TypeBinary,
	"text":      types.TypeText,
	"string":    types.TypeText,
	"boolean":   types.TypeBoolean,
	"bool":      types.TypeBoolean,
	"object":    types.TypeObject,
	"link":      types.TypeLink,
	"date":      types.TypeDateTime,
	"datetime":  types.TypeDateTime,
	"timestamp": types.TypeDateTime,
	"enum":      types.TypeEnum,
	"json":      types.TypeJSON,
}

// MapType converts a source type label to a canonical type. Canonical names
// such as "range-integer" are accepted too.
func MapType(label string) (types.PropertyType, error) {
	key := strings.ToLower(strings.TrimSpace(label))
	if t, ok := typeLabels[key]; ok {
		return t, nil
	}
	if t, err := types.ParsePropertyType(key); err == nil {
		return t, nil
	}
	return 0, fmt.Errorf("%w: %q", types.ErrUnsupportedType, label)
}

// Normalizer turns incoming schemas into property definitions.
type Normalizer struct {
	intern  NameInterner
	resolve ClassResolver
	logger  *zap.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogger sets the normalizer logger.
func WithLogger(l *zap.Logger) Option {
	return func(n *Normalizer) {
		if l != nil {
			n.logger = l
		}
	}
}

// New returns a Normalizer. resolve may be nil, in which case every
// reference target is unresolved.
func New(intern NameInterner, resolve ClassResolver, opts ...Option) *Normalizer {
	n := &Normalizer{intern: intern, resolve: resolve, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts schema into definitions keyed by property name. Every
// returned definition has passed PropertyDefinition.Validate and carries its
// derived ctlv.
func (n *Normalizer) Normalize(ctx context.Context, schema types.IncomingSchema) (map[string]*types.PropertyDefinition, error) {
	if err := schemaValidate.Struct(schema); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidDefinition, err)
	}

	out := make(map[string]*types.PropertyDefinition, len(schema.Properties)+len(schema.OneToOne)+len(schema.OneToMany))
	for _, name := range sortedKeys(schema.Properties) {
		def, err := n.NormalizeProperty(ctx, name, schema.Properties[name])
		if err != nil {
			return nil, err
		}
		out[name] = def
	}

	relations := []struct {
		set    map[string]types.IncomingRelation
		single bool
	}{
		{schema.OneToOne, true},
		{schema.OneToMany, false},
	}
	for _, rel := range relations {
		for _, name := range sortedKeys(rel.set) {
			if _, dup := out[name]; dup {
				return nil, fmt.Errorf("%w: %s declared twice", types.ErrInvalidDefinition, name)
			}
			def, err := n.normalizeRelation(ctx, name, rel.set[name], rel.single)
			if err != nil {
				return nil, err
			}
			out[name] = def
		}
	}
	return out, nil
}

// NormalizeProperty converts one property descriptor.
func (n *Normalizer) NormalizeProperty(ctx context.Context, name string, in types.IncomingProperty) (*types.PropertyDefinition, error) {
	typ, err := MapType(in.Type)
	if err != nil {
		return nil, fmt.Errorf("property %s: %w", name, err)
	}
	role, err := types.ParsePropertyRole(in.Role)
	if err != nil {
		return nil, fmt.Errorf("property %s: %w", name, err)
	}

	def := &types.PropertyDefinition{
		Name: name,
		Rules: types.Rules{
			Type:      typ,
			MaxLength: in.Size,
		},
		Role:           role,
		Unique:         in.Unique,
		Indexed:        in.Indexed,
		FastTextSearch: in.FastTextSearch,
		NoTrackChanges: in.NoTrackChanges,
		DefaultValue:   in.DefaultValue,
		RenameTo:       in.RenameTo,
	}
	if in.Required {
		def.Rules.MinOccurrences = 1
	}

	switch typ {
	case types.TypeDateTime:
		def.Rules.DateOnly = in.Time != nil && !*in.Time
	case types.TypeEnum:
		if def.EnumDef, err = n.enumDef(ctx, name, in.Items); err != nil {
			return nil, err
		}
	case types.TypeObject, types.TypeLink:
		if in.Target == "" {
			return nil, fmt.Errorf("property %s: %w", name, types.ErrUnresolvedReferenceTarget)
		}
		ref, err := n.reference(ctx, name, in.Target, in.ReverseName, in.Kind)
		if err != nil {
			return nil, err
		}
		def.Reference = ref
		def.Rules.MaxOccurrences = 1
	}

	return finish(name, def)
}

func (n *Normalizer) normalizeRelation(ctx context.Context, name string, rel types.IncomingRelation, single bool) (*types.PropertyDefinition, error) {
	ref, err := n.reference(ctx, name, rel.TargetModel, rel.ReverseName, rel.Kind)
	if err != nil {
		return nil, err
	}
	def := &types.PropertyDefinition{
		Name:      name,
		Rules:     types.Rules{Type: types.TypeLink},
		Reference: ref,
	}
	if single {
		def.Rules.MaxOccurrences = 1
	}
	return finish(name, def)
}

func (n *Normalizer) reference(ctx context.Context, name, target, reverse, kind string) (*types.ReferenceDescriptor, error) {
	k, err := types.ParseRefKind(kind)
	if err != nil {
		return nil, fmt.Errorf("property %s: %w", name, err)
	}
	if n.resolve == nil {
		return nil, fmt.Errorf("property %s: %w: %s", name, types.ErrUnresolvedReferenceTarget, target)
	}
	classID, err := n.resolve(ctx, target)
	if errors.Is(err, types.ErrClassNotFound) || (err == nil && classID == 0) {
		return nil, fmt.Errorf("property %s: %w: %s", name, types.ErrUnresolvedReferenceTarget, target)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving target of %s: %w", name, err)
	}
	return &types.ReferenceDescriptor{
		ClassID:     classID,
		ClassName:   target,
		ReverseName: reverse,
		Kind:        k,
	}, nil
}

// enumDef interns every item label. The item id is the caller's id when
// given, else the label's name id; textId always points at the label.
func (n *Normalizer) enumDef(ctx context.Context, name string, items []types.IncomingItem) (*types.EnumDef, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: enum %s without items", types.ErrInvalidDefinition, name)
	}
	def := &types.EnumDef{Items: make([]types.EnumItem, 0, len(items))}
	seen := make(map[int64]bool, len(items))
	for _, item := range items {
		textID, err := n.intern(ctx, item.Label)
		if err != nil {
			return nil, fmt.Errorf("interning item %q of %s: %w", item.Label, name, err)
		}
		id := item.ID
		if id == 0 {
			id = textID
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: enum %s repeats item %d", types.ErrInvalidDefinition, name, id)
		}
		seen[id] = true
		def.Items = append(def.Items, types.EnumItem{ID: id, TextID: textID})
	}
	return def, nil
}

func finish(name string, def *types.PropertyDefinition) (*types.PropertyDefinition, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("property %s: %w", name, err)
	}
	def.Ctlv, _ = ctl.Derive(def, 0)
	return def, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
