package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/flexi/pkg/types"
)

// columnPriority ranks how strongly a property wants a dedicated slot.
type columnPriority int

const (
	priorityNotSet columnPriority = iota
	priorityDesired
	priorityRequired
)

func priorityOf(p *types.PropertyDefinition) columnPriority {
	switch {
	case p.IsReference(), !p.Rules.Type.IsSimple(), p.Rules.MaxOccurrences > 1:
		return priorityNotSet
	case p.Role == types.RoleID, p.Role == types.RoleCode, p.Unique, p.Indexed:
		return priorityRequired
	default:
		return priorityDesired
	}
}

// planColumns returns the slot layout the class should have. Occupants that
// are gone or no longer eligible lose their slot. Unplaced properties are
// then placed REQUIRED first, each taking the lowest free slot or else
// displacing the lowest-priority occupant ranked strictly below it.
func planColumns(cls *types.ClassDefinition) [types.NumColumns]int64 {
	cols := cls.Columns
	for i, id := range cols {
		if id == 0 {
			continue
		}
		if p, ok := cls.Properties[id]; !ok || priorityOf(p) == priorityNotSet {
			cols[i] = 0
		}
	}

	placed := func(id int64) bool {
		for _, c := range cols {
			if c == id {
				return true
			}
		}
		return false
	}

	props := cls.SortedProperties()
	for _, level := range []columnPriority{priorityRequired, priorityDesired} {
		for _, p := range props {
			if priorityOf(p) != level || placed(p.PropertyID) {
				continue
			}
			if col := freeSlot(cols); col >= 0 {
				cols[col] = p.PropertyID
				continue
			}
			if col := displaceableSlot(cls, cols, level); col >= 0 {
				cols[col] = p.PropertyID
			}
		}
	}
	return cols
}

func freeSlot(cols [types.NumColumns]int64) int {
	for i, id := range cols {
		if id == 0 {
			return i
		}
	}
	return -1
}

// displaceableSlot picks the occupant ranked lowest below level; among equals
// the most recently created property gives way.
func displaceableSlot(cls *types.ClassDefinition, cols [types.NumColumns]int64, level columnPriority) int {
	best := -1
	var bestPriority columnPriority
	var bestID int64
	for i, id := range cols {
		pr := priorityOf(cls.Properties[id])
		if pr >= level {
			continue
		}
		if best < 0 || pr < bestPriority || (pr == bestPriority && id > bestID) {
			best, bestPriority, bestID = i, pr, id
		}
	}
	return best
}

// assignColumns applies planColumns, moving data out of slots that change
// owner before moving the new owners' data in.
func (s *session) assignColumns(ctx context.Context, cls *types.ClassDefinition) error {
	plan := planColumns(cls)
	if plan == cls.Columns {
		return nil
	}
	for col, id := range cls.Columns {
		if id == 0 || plan[col] == id {
			continue
		}
		if p, ok := cls.Properties[id]; ok {
			if _, err := s.store.MoveColumnToValues(ctx, cls.ClassID, col, id, p.Ctlv); err != nil {
				return err
			}
		}
		cls.Columns[col] = 0
	}
	for col, id := range plan {
		if id == 0 || cls.Columns[col] == id {
			continue
		}
		n, err := s.store.MoveValuesToColumn(ctx, cls.ClassID, col, id)
		if err != nil {
			return err
		}
		cls.Columns[col] = id
		s.count(ClassColumnReassign)
		s.logger.Debug("column assigned",
			zap.String("class", cls.Name),
			zap.String("column", types.ColumnLetters[col]),
			zap.String("property", cls.Properties[id].Name),
			zap.Int("rows", n))
	}
	return nil
}
