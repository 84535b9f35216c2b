package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/flexi/internal/ctl"
	"github.com/mesh-intelligence/flexi/pkg/types"
)

// resolveTarget finds the class a reference descriptor points at, by id
// first and then by name.
func (s *session) resolveTarget(ctx context.Context, ref *types.ReferenceDescriptor) (*types.ClassDefinition, error) {
	if ref == nil {
		return nil, types.ErrUnresolvedReferenceTarget
	}
	if ref.ClassID != 0 {
		cls, err := s.classByID(ctx, ref.ClassID)
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: class %d", types.ErrReferencedClassNotFound, ref.ClassID)
		}
		return cls, err
	}
	if ref.ClassName != "" {
		cls, err := s.classByName(ctx, ref.ClassName)
		if errors.Is(err, types.ErrClassNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrReferencedClassNotFound, ref.ClassName)
		}
		return cls, err
	}
	return nil, types.ErrReferencedClassNotFound
}

// identityProperties returns the properties holding a class's identifying
// values: the ID-role property and the Code-role property.
func identityProperties(cls *types.ClassDefinition) (id, code *types.PropertyDefinition) {
	return cls.PropertyByRole(types.RoleID), cls.PropertyByRole(types.RoleCode)
}

// matchObject finds the target object a scalar value designates: by the
// ID-role property, then the Code-role property, then as a raw object id.
func (s *session) matchObject(ctx context.Context, target *types.ClassDefinition, idProp, codeProp *types.PropertyDefinition, value any) (int64, bool, error) {
	if value == nil {
		return 0, false, nil
	}
	for _, p := range []*types.PropertyDefinition{idProp, codeProp} {
		if p == nil {
			continue
		}
		for _, c := range candidates(value) {
			id, ok, err := s.store.FindObjectByValue(ctx, target, p.PropertyID, c)
			if err != nil || ok {
				return id, ok, err
			}
		}
	}
	id, ok := asInt64(value)
	if !ok {
		return 0, false, nil
	}
	exists, err := s.store.ObjectExists(ctx, target.ClassID, id)
	if err != nil || !exists {
		return 0, false, err
	}
	return id, true, nil
}

// identityOf returns the value that identifies objectID to a reader: its
// ID-role value, else its Code-role value, else the id itself.
func (s *session) identityOf(ctx context.Context, target *types.ClassDefinition, idProp, codeProp *types.PropertyDefinition, objectID int64) (any, error) {
	for _, p := range []*types.PropertyDefinition{idProp, codeProp} {
		if p == nil {
			continue
		}
		v, ok, err := s.store.GetObjectValue(ctx, target, objectID, p.PropertyID)
		if err != nil {
			return nil, err
		}
		if ok {
			return v, nil
		}
	}
	return objectID, nil
}

// candidates lists the forms a loosely-typed value may be stored under.
func candidates(v any) []any {
	out := []any{v}
	switch x := v.(type) {
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			out = append(out, n)
		}
	case []byte:
		out = append(out, string(x))
	case int64:
		out = append(out, strconv.FormatInt(x, 10))
	case float64:
		if n, ok := asInt64(x); ok {
			out = append(out, n, strconv.FormatInt(n, 10))
		}
	}
	return out
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x), true
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// ensureReverse makes the reverse side of reference p consistent: the reverse
// property must exist and be a link back to origin. A missing named reverse
// is created. An existing property of another shape is converted into a
// regular link to origin, at most one level deep. A reference that already
// targets origin is converted in place, keeping its stored object ids.
func (s *session) ensureReverse(ctx context.Context, origin *types.ClassDefinition, p *types.PropertyDefinition, target *types.ClassDefinition) error {
	ref := p.Reference
	var q *types.PropertyDefinition
	switch {
	case ref.ReversePropertyID != 0:
		q = target.Properties[ref.ReversePropertyID]
		if q == nil {
			return fmt.Errorf("%w: %d in class %s", types.ErrReversePropertyNotFound, ref.ReversePropertyID, target.Name)
		}
	case ref.ReverseName != "":
		q = target.PropertyByName(ref.ReverseName)
		if q == nil {
			return s.createReverse(ctx, origin, p, target, ref.ReverseName)
		}
	default:
		return nil
	}
	if q.PropertyID == p.PropertyID {
		return fmt.Errorf("%w: %s.%s cannot be its own reverse", types.ErrInvalidDefinition, origin.Name, p.Name)
	}
	ref.ReversePropertyID = q.PropertyID

	if q.IsReference() && q.Reference != nil && q.Reference.ClassID == origin.ClassID {
		if q.Reference.ReversePropertyID != p.PropertyID {
			q.Reference.ReversePropertyID = p.PropertyID
			s.markDirty(target)
		}
		if q.Rules.Type == types.TypeLink {
			return nil
		}
	}

	if s.depth > 0 {
		s.logger.Warn("reverse repair not attempted in nested alteration",
			zap.String("class", target.Name), zap.String("property", q.Name))
		return nil
	}
	s.depth++
	defer func() { s.depth-- }()

	if q.IsReference() && (q.Reference == nil || q.Reference.ClassID != origin.ClassID) {
		scalar := q.Clone()
		scalar.Rules = types.Rules{Type: types.TypeInteger}
		scalar.Reference = nil
		scalar.EnumDef = nil
		if err := s.alterProperty(ctx, target, q, scalar, ""); err != nil {
			return err
		}
		q = target.Properties[q.PropertyID]
	}

	link := q.Clone()
	link.Rules = types.Rules{
		Type:           types.TypeLink,
		MinOccurrences: q.Rules.MinOccurrences,
		MaxOccurrences: q.Rules.MaxOccurrences,
	}
	link.EnumDef = nil
	link.Reference = &types.ReferenceDescriptor{ClassID: origin.ClassID, ReversePropertyID: p.PropertyID, Kind: types.RefRegular}
	if err := s.alterProperty(ctx, target, q, link, ""); err != nil {
		return err
	}
	s.count(ClassReverseRepair)
	s.anomaly(types.AnomalyReverseRepaired, target.Name, q.Name, 0,
		"converted into a link to %s for %s.%s", origin.Name, origin.Name, p.Name)
	return nil
}

// createReverse adds a plain multi-valued link on target pointing back at
// origin.
func (s *session) createReverse(ctx context.Context, origin *types.ClassDefinition, p *types.PropertyDefinition, target *types.ClassDefinition, name string) error {
	q := &types.PropertyDefinition{
		Name:        name,
		Rules:       types.Rules{Type: types.TypeLink},
		Reference:   &types.ReferenceDescriptor{ClassID: origin.ClassID, ReversePropertyID: p.PropertyID},
		AutoReverse: true,
	}
	q.Ctlv, _ = ctl.Derive(q, 0)
	if _, err := s.store.CreateProperty(ctx, target.ClassID, q); err != nil {
		return err
	}
	target.Properties[q.PropertyID] = q
	p.Reference.ReversePropertyID = q.PropertyID
	s.markDirty(target)
	s.count(ClassReverseRepair)
	s.anomaly(types.AnomalyReverseRepaired, target.Name, name, 0,
		"created as the reverse of %s.%s", origin.Name, p.Name)
	return nil
}
