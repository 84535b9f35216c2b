package engine

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/flexi/pkg/types"
)

// syncClass reconciles one class with an incoming schema. Properties the
// schema no longer declares are deleted first, except reverses created on
// behalf of other classes; declared properties are then created or altered
// in name order.
func (s *session) syncClass(ctx context.Context, name string, schema types.IncomingSchema) error {
	cls, err := s.classByName(ctx, name)
	if errors.Is(err, types.ErrClassNotFound) {
		cls, err = s.createClass(ctx, name)
	}
	if err != nil {
		return err
	}

	defs, err := s.normalizer().Normalize(ctx, schema)
	if err != nil {
		return err
	}

	declared := make(map[string]bool, len(defs))
	for n, def := range defs {
		declared[n] = true
		if def.RenameTo != "" {
			declared[def.RenameTo] = true
		}
	}
	for _, p := range cls.SortedProperties() {
		if declared[p.Name] || p.AutoReverse {
			continue
		}
		if _, ok := cls.Properties[p.PropertyID]; !ok {
			continue
		}
		if err := s.deleteProperty(ctx, cls, p); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(defs))
	for n := range defs {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if err := s.alterOrCreate(ctx, cls, n, defs[n], ""); err != nil {
			return err
		}
	}
	s.markDirty(cls)
	s.logger.Info("class synced", zap.String("class", cls.Name), zap.Int("properties", len(defs)))
	return nil
}

// syncModels creates every missing class before reconciling any, so
// relations between the models resolve regardless of order.
func (s *session) syncModels(ctx context.Context, models map[string]types.IncomingSchema) error {
	names := make([]string, 0, len(models))
	for n := range models {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		_, err := s.classByName(ctx, n)
		if errors.Is(err, types.ErrClassNotFound) {
			_, err = s.createClass(ctx, n)
		}
		if err != nil {
			return err
		}
	}
	for _, n := range names {
		if err := s.syncClass(ctx, n, models[n]); err != nil {
			return err
		}
	}
	return nil
}
