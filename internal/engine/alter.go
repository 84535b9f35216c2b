package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/flexi/internal/ctl"
	"github.com/mesh-intelligence/flexi/internal/sqlite"
	"github.com/mesh-intelligence/flexi/pkg/types"
)

// alterOrCreate performs exactly one of create or alter, chosen by whether
// the class already has a property called name.
func (s *session) alterOrCreate(ctx context.Context, cls *types.ClassDefinition, name string, def *types.PropertyDefinition, renameTo string) error {
	if def == nil {
		return fmt.Errorf("%w: %s.%s has no definition", types.ErrInvalidDefinition, cls.Name, name)
	}
	if existing := cls.PropertyByName(name); existing != nil {
		return s.alterProperty(ctx, cls, existing, def, renameTo)
	}
	// A rename applied by an earlier call.
	if to := targetName(name, def, renameTo); to != name {
		if existing := cls.PropertyByName(to); existing != nil {
			return s.alterProperty(ctx, cls, existing, def, renameTo)
		}
	}
	return s.createProperty(ctx, cls, name, def, renameTo)
}

// targetName picks the final name of a property: $renameTo on the definition
// wins over the rename argument.
func targetName(name string, def *types.PropertyDefinition, renameTo string) string {
	if def.RenameTo != "" {
		return def.RenameTo
	}
	if renameTo != "" {
		return renameTo
	}
	return name
}

func (s *session) createProperty(ctx context.Context, cls *types.ClassDefinition, name string, def *types.PropertyDefinition, renameTo string) error {
	p := def.Clone()
	p.Name = targetName(name, def, renameTo)
	p.RenameTo = ""
	p.PropertyID, p.ClassID, p.NameID = 0, 0, 0
	if err := p.Validate(); err != nil {
		return fmt.Errorf("property %s.%s: %w", cls.Name, p.Name, err)
	}

	var target *types.ClassDefinition
	if p.IsReference() {
		var err error
		if target, err = s.resolveTarget(ctx, p.Reference); err != nil {
			return fmt.Errorf("property %s.%s: %w", cls.Name, p.Name, err)
		}
		p.Reference.ClassID = target.ClassID
		if id := p.Reference.ReversePropertyID; id != 0 && target.Properties[id] == nil {
			return fmt.Errorf("%w: %d in class %s", types.ErrReversePropertyNotFound, id, target.Name)
		}
	}
	p.Ctlv, _ = ctl.Derive(p, 0)

	if _, err := s.store.CreateProperty(ctx, cls.ClassID, p); err != nil {
		return err
	}
	cls.Properties[p.PropertyID] = p
	s.markDirty(cls)
	s.count(ClassCreate)
	s.logger.Info("property created",
		zap.String("class", cls.Name),
		zap.String("property", p.Name),
		zap.Stringer("type", p.Rules.Type),
		zap.Int64("ctlv", p.Ctlv))

	if target != nil {
		return s.ensureReverse(ctx, cls, p, target)
	}
	return nil
}

// alterProperty changes an existing property to match def. Preconditions
// that would reject the alteration are checked before anything is written.
func (s *session) alterProperty(ctx context.Context, cls *types.ClassDefinition, old, def *types.PropertyDefinition, renameTo string) error {
	nd := def.Clone()
	nd.PropertyID, nd.ClassID, nd.NameID, nd.Name = old.PropertyID, old.ClassID, old.NameID, old.Name
	nd.RenameTo = ""
	nd.Ctlv = 0
	newName := targetName(old.Name, def, renameTo)

	if err := nd.Validate(); err != nil {
		return fmt.Errorf("property %s.%s: %w", cls.Name, old.Name, err)
	}
	oldRef, newRef := old.IsReference(), nd.IsReference()
	if oldRef && newRef {
		if err := s.checkSameReference(ctx, cls, old, nd); err != nil {
			return err
		}
	}

	if newName != old.Name {
		nameID, err := s.store.RenameProperty(ctx, old.PropertyID, newName)
		if err != nil {
			return err
		}
		s.logger.Info("property renamed",
			zap.String("class", cls.Name),
			zap.String("from", old.Name),
			zap.String("to", newName))
		nd.Name, nd.NameID = newName, nameID
	}

	if err := s.evacuate(ctx, cls, old); err != nil {
		return err
	}

	var (
		classification string
		err            error
	)
	switch {
	case !oldRef && !newRef:
		classification, err = ClassScalarScalar, s.alterScalar(ctx, cls, old, nd)
	case oldRef && newRef:
		classification, err = ClassRefRef, s.alterReference(ctx, cls, old, nd)
	case !oldRef && newRef:
		classification, err = ClassScalarRef, s.scalarToReference(ctx, cls, old, nd)
	default:
		classification, err = ClassRefScalar, s.referenceToScalar(ctx, cls, old, nd)
	}
	if err != nil {
		return err
	}
	s.markDirty(cls)
	s.count(classification)
	s.logger.Info("property altered",
		zap.String("class", cls.Name),
		zap.String("property", nd.Name),
		zap.String("classification", classification),
		zap.Int64("old_ctlv", old.Ctlv),
		zap.Int64("new_ctlv", nd.Ctlv))
	return nil
}

// evacuate moves the property's slot values into object_values so every
// rewrite sees all of its rows in one place. Column assignment moves them
// back when the class is finished.
func (s *session) evacuate(ctx context.Context, cls *types.ClassDefinition, p *types.PropertyDefinition) error {
	col := cls.ColumnOf(p.PropertyID)
	if col < 0 {
		return nil
	}
	if _, err := s.store.MoveColumnToValues(ctx, cls.ClassID, col, p.PropertyID, p.Ctlv); err != nil {
		return err
	}
	cls.Columns[col] = 0
	return nil
}

func (s *session) alterScalar(ctx context.Context, cls *types.ClassDefinition, old, nd *types.PropertyDefinition) error {
	if old.Rules.Type == types.TypeEnum && nd.Rules.Type == types.TypeEnum {
		if err := s.keepEnumItemsInUse(ctx, cls, old, nd); err != nil {
			return err
		}
	}
	var update bool
	nd.Ctlv, update = ctl.Derive(nd, old.Ctlv)
	cls.Properties[nd.PropertyID] = nd
	if !update {
		return nil
	}
	return s.rewriteCtlv(ctx, cls, old, nd)
}

// keepEnumItemsInUse restores removed enum items that stored values still
// hold. The removal is deferred and reported.
func (s *session) keepEnumItemsInUse(ctx context.Context, cls *types.ClassDefinition, old, nd *types.PropertyDefinition) error {
	kept := make(map[int64]bool, len(nd.EnumDef.Items))
	for _, item := range nd.EnumDef.Items {
		kept[item.ID] = true
	}
	for _, item := range old.EnumDef.Items {
		if kept[item.ID] {
			continue
		}
		n, err := s.store.CountValues(ctx, cls, old.PropertyID, item.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		nd.EnumDef.Items = append(nd.EnumDef.Items, item)
		s.anomaly(types.AnomalyEnumItemInUse, cls.Name, nd.Name, n,
			"enum item %d is held by %d stored values; removal deferred", item.ID, n)
	}
	return nil
}

func (s *session) rewriteCtlv(ctx context.Context, cls *types.ClassDefinition, old, nd *types.PropertyDefinition) error {
	rw := newCtlvRewriter(old.Ctlv, nd.Ctlv, false)
	n, err := s.store.RewriteStoredValues(ctx, nd.PropertyID, sqlite.ValueFilter{ClassID: cls.ClassID},
		func(_ context.Context, v sqlite.StoredValue) (sqlite.StoredValue, bool, error) {
			bits := rw.bits(v.Value, v.Ctlv)
			if bits == v.Ctlv {
				return v, false, nil
			}
			v.Ctlv = bits
			return v, true, nil
		})
	if err != nil {
		return err
	}
	s.rows += n
	s.flagDuplicates(cls, nd, rw.dups)
	return nil
}

// checkSameReference rejects a reference-to-reference alteration that
// changes the target class or the reverse property.
func (s *session) checkSameReference(ctx context.Context, cls *types.ClassDefinition, old, nd *types.PropertyDefinition) error {
	target := nd.Reference.ClassID
	if target == 0 {
		tcls, err := s.resolveTarget(ctx, nd.Reference)
		if err != nil {
			return fmt.Errorf("property %s.%s: %w", cls.Name, old.Name, err)
		}
		target = tcls.ClassID
	}
	if target != old.Reference.ClassID {
		return fmt.Errorf("%w: %s.%s cannot move from class %d to class %d; convert it to a scalar first",
			types.ErrUnsupportedAlteration, cls.Name, old.Name, old.Reference.ClassID, target)
	}

	oldRev := old.Reference.ReversePropertyID
	switch ref := nd.Reference; {
	case ref.ReversePropertyID != 0:
		if ref.ReversePropertyID != oldRev {
			return fmt.Errorf("%w: %s.%s cannot change its reverse property", types.ErrUnsupportedAlteration, cls.Name, old.Name)
		}
	case ref.ReverseName != "":
		if oldRev == 0 {
			return fmt.Errorf("%w: %s.%s cannot gain reverse property %s", types.ErrUnsupportedAlteration, cls.Name, old.Name, ref.ReverseName)
		}
		tcls, err := s.classByID(ctx, target)
		if err != nil {
			return err
		}
		if q := tcls.Properties[oldRev]; q != nil && q.Name != ref.ReverseName {
			return fmt.Errorf("%w: %s.%s cannot change its reverse property from %s to %s",
				types.ErrUnsupportedAlteration, cls.Name, old.Name, q.Name, ref.ReverseName)
		}
	}
	return nil
}

func (s *session) alterReference(ctx context.Context, cls *types.ClassDefinition, old, nd *types.PropertyDefinition) error {
	target, err := s.classByID(ctx, old.Reference.ClassID)
	if err != nil {
		return fmt.Errorf("property %s.%s: %w: class %d", cls.Name, nd.Name, types.ErrReferencedClassNotFound, old.Reference.ClassID)
	}
	nd.Reference.ClassID = target.ClassID
	nd.Reference.ReversePropertyID = old.Reference.ReversePropertyID
	if rev := nd.Reference.ReversePropertyID; rev != 0 && target.Properties[rev] == nil {
		// The reverse was deleted; let ensureReverse recreate it by name.
		nd.Reference.ReversePropertyID = 0
	}

	var update bool
	nd.Ctlv, update = ctl.Derive(nd, old.Ctlv)
	cls.Properties[nd.PropertyID] = nd
	if update {
		if err := s.rewriteCtlv(ctx, cls, old, nd); err != nil {
			return err
		}
	}
	return s.ensureReverse(ctx, cls, nd, target)
}

func (s *session) scalarToReference(ctx context.Context, cls *types.ClassDefinition, old, nd *types.PropertyDefinition) error {
	target, err := s.resolveTarget(ctx, nd.Reference)
	if err != nil {
		return fmt.Errorf("property %s.%s: %w", cls.Name, nd.Name, err)
	}
	nd.Reference.ClassID = target.ClassID
	if id := nd.Reference.ReversePropertyID; id != 0 && target.Properties[id] == nil {
		return fmt.Errorf("%w: %d in class %s", types.ErrReversePropertyNotFound, id, target.Name)
	}
	nd.Ctlv, _ = ctl.Derive(nd, old.Ctlv)

	idProp, codeProp := identityProperties(target)
	rw := newCtlvRewriter(old.Ctlv, nd.Ctlv, true)
	unresolved := 0
	n, err := s.store.RewriteStoredValues(ctx, nd.PropertyID, sqlite.ValueFilter{ClassID: cls.ClassID},
		func(ctx context.Context, v sqlite.StoredValue) (sqlite.StoredValue, bool, error) {
			objectID, ok, err := s.matchObject(ctx, target, idProp, codeProp, v.Value)
			if err != nil {
				return v, false, err
			}
			if !ok {
				unresolved++
				return v, false, nil
			}
			v.Value = objectID
			v.Ctlv = rw.bits(objectID, v.Ctlv)
			return v, true, nil
		})
	if err != nil {
		return err
	}
	s.rows += n
	cls.Properties[nd.PropertyID] = nd

	if unresolved > 0 {
		cls.Ctlo |= ctl.CtloHasInvalidRefs
		s.anomaly(types.AnomalyInvalidReference, cls.Name, nd.Name, unresolved,
			"%d stored values match no %s object and were left unchanged", unresolved, target.Name)
	}
	s.flagDuplicates(cls, nd, rw.dups)
	return s.ensureReverse(ctx, cls, nd, target)
}

func (s *session) referenceToScalar(ctx context.Context, cls *types.ClassDefinition, old, nd *types.PropertyDefinition) error {
	target, err := s.classByID(ctx, old.Reference.ClassID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return err
	}
	if target != nil {
		if rev := old.Reference.ReversePropertyID; rev != 0 {
			if q := target.Properties[rev]; q != nil && q.PropertyID != old.PropertyID {
				if err := s.removeProperty(ctx, target, q); err != nil {
					return err
				}
				s.count(ClassDelete)
				s.anomaly(types.AnomalyReverseRemoved, target.Name, q.Name, 0,
					"reverse of %s.%s removed with the reference", cls.Name, old.Name)
			}
		}
	}
	nd.Ctlv, _ = ctl.Derive(nd, old.Ctlv)

	var idProp, codeProp *types.PropertyDefinition
	if target != nil {
		idProp, codeProp = identityProperties(target)
	}
	rw := newCtlvRewriter(old.Ctlv, nd.Ctlv, true)
	n, err := s.store.RewriteStoredValues(ctx, nd.PropertyID, sqlite.ValueFilter{ClassID: cls.ClassID},
		func(ctx context.Context, v sqlite.StoredValue) (sqlite.StoredValue, bool, error) {
			replaced := false
			if id, ok := asInt64(v.Value); ok && target != nil && ctl.IsReference(v.Ctlv) {
				identity, err := s.identityOf(ctx, target, idProp, codeProp, id)
				if err != nil {
					return v, false, err
				}
				replaced = valueKey(identity) != valueKey(v.Value)
				v.Value = identity
			}
			bits := rw.bits(v.Value, v.Ctlv)
			if !replaced && bits == v.Ctlv {
				return v, false, nil
			}
			v.Ctlv = bits
			return v, true, nil
		})
	if err != nil {
		return err
	}
	s.rows += n
	cls.Properties[nd.PropertyID] = nd
	s.flagDuplicates(cls, nd, rw.dups)
	return nil
}

// deleteProperty removes a property and reports the values it leaves behind.
func (s *session) deleteProperty(ctx context.Context, cls *types.ClassDefinition, p *types.PropertyDefinition) error {
	if err := s.evacuate(ctx, cls, p); err != nil {
		return err
	}
	values, err := s.store.StoredValues(ctx, p.PropertyID, sqlite.ValueFilter{ClassID: cls.ClassID})
	if err != nil {
		return err
	}
	if err := s.removeProperty(ctx, cls, p); err != nil {
		return err
	}
	s.count(ClassDelete)
	s.logger.Info("property deleted", zap.String("class", cls.Name), zap.String("property", p.Name))
	if len(values) > 0 {
		s.anomaly(types.AnomalyPropertyOrphaned, cls.Name, p.Name, len(values),
			"%d stored values orphaned", len(values))
	}
	return nil
}

// removeProperty drops the definition and clears the back pointer of its
// reverse, if any. Stored values are left in place.
func (s *session) removeProperty(ctx context.Context, cls *types.ClassDefinition, p *types.PropertyDefinition) error {
	if err := s.evacuate(ctx, cls, p); err != nil {
		return err
	}
	if err := s.store.DeleteProperty(ctx, p.PropertyID); err != nil {
		return err
	}
	delete(cls.Properties, p.PropertyID)
	s.markDirty(cls)

	if !p.IsReference() || p.Reference == nil || p.Reference.ReversePropertyID == 0 {
		return nil
	}
	other, err := s.classByID(ctx, p.Reference.ClassID)
	if errors.Is(err, types.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if q := other.Properties[p.Reference.ReversePropertyID]; q != nil && q.Reference != nil &&
		q.Reference.ReversePropertyID == p.PropertyID {
		q.Reference.ReversePropertyID = 0
		s.markDirty(other)
	}
	return nil
}

func (s *session) flagDuplicates(cls *types.ClassDefinition, p *types.PropertyDefinition, dups int) {
	if dups == 0 {
		return
	}
	cls.Ctlo |= ctl.CtloHasDuplicates
	s.anomaly(types.AnomalyDuplicateValue, cls.Name, p.Name, dups,
		"%d stored values repeat an earlier value and are excluded from the unique index", dups)
}

// ctlvRewriter computes the ctlv copied onto each stored row. When a
// property becomes unique, or its values change while unique, the first
// occurrence of each value keeps the unique bit and later ones are marked
// as duplicates instead.
type ctlvRewriter struct {
	rowBits int64
	unique  bool
	fresh   bool
	seen    map[string]bool
	dups    int
}

func newCtlvRewriter(prev, next int64, valuesChanged bool) *ctlvRewriter {
	unique := next&ctl.UniqueIndex != 0
	return &ctlvRewriter{
		rowBits: ctl.RowBits(next),
		unique:  unique,
		fresh:   unique && (valuesChanged || prev&ctl.UniqueIndex == 0),
		seen:    make(map[string]bool),
	}
}

func (r *ctlvRewriter) bits(value any, prev int64) int64 {
	switch {
	case !r.unique || value == nil:
		return r.rowBits
	case r.fresh:
		key := valueKey(value)
		if r.seen[key] {
			r.dups++
			return r.rowBits&^ctl.UniqueIndex | ctl.DuplicateValue
		}
		r.seen[key] = true
		return r.rowBits
	case prev&ctl.DuplicateValue != 0:
		r.dups++
		return r.rowBits&^ctl.UniqueIndex | ctl.DuplicateValue
	default:
		return r.rowBits
	}
}

// valueKey folds values that compare equal in SQLite onto one key.
func valueKey(v any) string {
	switch x := v.(type) {
	case int64:
		return "n:" + strconv.FormatInt(x, 10)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return "n:" + strconv.FormatInt(int64(x), 10)
		}
		return "n:" + strconv.FormatFloat(x, 'g', -1, 64)
	case []byte:
		return "b:" + string(x)
	case string:
		return "s:" + x
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}
