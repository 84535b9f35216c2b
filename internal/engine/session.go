package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/flexi/internal/ctl"
	"github.com/mesh-intelligence/flexi/internal/ddl"
	"github.com/mesh-intelligence/flexi/internal/normalize"
	"github.com/mesh-intelligence/flexi/internal/sqlite"
	"github.com/mesh-intelligence/flexi/pkg/types"
)

// session carries the state of one engine call: the transaction store, the
// report, and every class definition loaded so far. A class is loaded at
// most once per session so a self-referencing property sees the same
// definition it is modifying.
type session struct {
	e      *Engine
	store  *sqlite.Store
	report *types.ActionReport
	logger *zap.Logger

	classes map[int64]*types.ClassDefinition
	dirty   map[int64]bool
	dropped []*types.ClassDefinition
	renamed []string

	// depth guards reverse repair against unbounded recursion.
	depth int

	alterations map[string]int
	anomalies   map[types.AnomalyKind]int
	rows        int
}

func newSession(e *Engine, store *sqlite.Store, report *types.ActionReport) *session {
	return &session{
		e:           e,
		store:       store,
		report:      report,
		logger:      e.logger.With(zap.String("run_id", report.RunID)),
		classes:     make(map[int64]*types.ClassDefinition),
		dirty:       make(map[int64]bool),
		alterations: make(map[string]int),
		anomalies:   make(map[types.AnomalyKind]int),
	}
}

func (s *session) classByID(ctx context.Context, id int64) (*types.ClassDefinition, error) {
	if cls, ok := s.classes[id]; ok {
		return cls, nil
	}
	cls, err := s.store.GetClassByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.classes[id] = cls
	return cls, nil
}

func (s *session) classByName(ctx context.Context, name string) (*types.ClassDefinition, error) {
	for _, cls := range s.classes {
		if cls.Name == name {
			return cls, nil
		}
	}
	cls, err := s.store.GetClassByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if _, ok := s.classes[cls.ClassID]; ok {
		// Renamed earlier in this session.
		return nil, errClassNotFound(name)
	}
	s.classes[cls.ClassID] = cls
	return cls, nil
}

// resolveClassID adapts classByName for the normalizer.
func (s *session) resolveClassID(ctx context.Context, name string) (int64, error) {
	cls, err := s.classByName(ctx, name)
	if err != nil {
		return 0, err
	}
	return cls.ClassID, nil
}

func (s *session) normalizer() *normalize.Normalizer {
	return normalize.New(s.store.InternName, s.resolveClassID, normalize.WithLogger(s.logger))
}

func (s *session) markDirty(cls *types.ClassDefinition) {
	s.dirty[cls.ClassID] = true
}

func (s *session) count(classification string) {
	s.alterations[classification]++
}

func (s *session) anomaly(kind types.AnomalyKind, className, propName string, rows int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.report.Add(types.ReportEntry{
		Kind:         kind,
		ClassName:    className,
		PropertyName: propName,
		Message:      msg,
		Rows:         rows,
	})
	s.anomalies[kind]++
	s.logger.Warn("alteration anomaly",
		zap.String("kind", string(kind)),
		zap.String("class", className),
		zap.String("property", propName),
		zap.Int("rows", rows),
		zap.String("detail", msg))
}

func (s *session) createClass(ctx context.Context, name string) (*types.ClassDefinition, error) {
	cls, err := s.store.CreateClass(ctx, name)
	if err != nil {
		return nil, err
	}
	s.classes[cls.ClassID] = cls
	s.markDirty(cls)
	s.logger.Info("class created", zap.String("class", name), zap.Int64("class_id", cls.ClassID))
	return cls, nil
}

func (s *session) renameClass(ctx context.Context, oldName, newName string) error {
	if sqlite.IsReservedName(newName) || newName == "" {
		return fmt.Errorf("%w: %q", types.ErrInvalidName, newName)
	}
	cls, err := s.classByName(ctx, oldName)
	if err != nil {
		return err
	}
	if oldName == newName {
		return nil
	}
	if _, err := s.classByName(ctx, newName); err == nil {
		return fmt.Errorf("%w: class %q", types.ErrDuplicateName, newName)
	} else if !errors.Is(err, types.ErrClassNotFound) {
		return err
	}
	nameID, err := s.store.InternName(ctx, newName)
	if err != nil {
		return err
	}
	cls.Name, cls.NameID = newName, nameID
	s.renamed = append(s.renamed, oldName)
	s.markDirty(cls)
	s.logger.Info("class renamed", zap.String("from", oldName), zap.String("to", newName))
	return nil
}

func (s *session) dropClass(ctx context.Context, name string) error {
	cls, err := s.classByName(ctx, name)
	if err != nil {
		return err
	}
	others, err := s.store.ListClasses(ctx)
	if err != nil {
		return err
	}
	for _, other := range others {
		if other.ClassID == cls.ClassID {
			continue
		}
		for _, p := range other.SortedProperties() {
			if p.IsReference() && p.Reference != nil && p.Reference.ClassID == cls.ClassID {
				return fmt.Errorf("%w: %s is referenced by %s.%s", types.ErrUnsupportedAlteration, name, other.Name, p.Name)
			}
		}
	}
	if err := s.store.DropClass(ctx, cls.ClassID); err != nil {
		return err
	}
	delete(s.classes, cls.ClassID)
	delete(s.dirty, cls.ClassID)
	s.dropped = append(s.dropped, cls)
	s.logger.Info("class dropped", zap.String("class", name))
	return nil
}

// finish assigns columns and persists every modified class exactly once,
// then regenerates the access surface.
func (s *session) finish(ctx context.Context) error {
	ids := make([]int64, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		cls := s.classes[id]
		if err := s.assignColumns(ctx, cls); err != nil {
			return fmt.Errorf("assigning columns of %s: %w", cls.Name, err)
		}
		cls.Ctlo = classCtlo(cls)
		if err := s.store.SaveClassDefinition(ctx, cls); err != nil {
			return err
		}
	}
	if !s.e.surface || (len(ids) == 0 && len(s.dropped) == 0) {
		return nil
	}
	return s.refreshSurface(ctx)
}

func (s *session) refreshSurface(ctx context.Context) error {
	var stmts []string
	for _, cls := range s.dropped {
		stmts = append(stmts, ddl.NewGenerator(nil).Drop(cls)...)
	}
	for _, name := range s.renamed {
		stmts = append(stmts, ddl.DropView(name))
	}
	classes, err := s.store.ListClasses(ctx)
	if err != nil {
		return err
	}
	catalog := make(ddl.Catalog, len(classes))
	for _, cls := range classes {
		catalog[cls.ClassID] = cls
	}
	gen := ddl.NewGenerator(catalog)
	for _, cls := range classes {
		stmts = append(stmts, gen.Generate(cls)...)
	}
	if err := s.store.ExecDDL(ctx, stmts); err != nil {
		return err
	}
	s.logger.Debug("access surface regenerated", zap.Int("classes", len(classes)), zap.Int("statements", len(stmts)))
	return nil
}

// classCtlo rebuilds the per-slot bits from the current column occupants and
// keeps the class-level anomaly flags.
func classCtlo(cls *types.ClassDefinition) int64 {
	ctlo := cls.Ctlo & ctl.CtloFlagMask
	for col, id := range cls.Columns {
		if p, ok := cls.Properties[id]; ok && id != 0 {
			ctlo |= ctl.ClassCtloForColumn(col, p.Ctlv)
		}
	}
	return ctlo
}

// flushMetrics publishes the counters of a committed call.
func (s *session) flushMetrics() {
	for classification, n := range s.alterations {
		AlterationCount.WithLabelValues(classification).Add(float64(n))
	}
	for kind, n := range s.anomalies {
		AnomalyCount.WithLabelValues(string(kind)).Add(float64(n))
	}
	RowsRewritten.Add(float64(s.rows))
}

func errClassNotFound(name string) error {
	return fmt.Errorf("%w: %s", types.ErrClassNotFound, name)
}

func errPropertyNotFound(className, propName string) error {
	return fmt.Errorf("%w: %s.%s", types.ErrPropertyNotFound, className, propName)
}
