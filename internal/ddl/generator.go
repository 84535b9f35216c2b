// Package ddl generates the per-class access surface: a read view over the
// objects and object_values tables, INSTEAD OF triggers that validate and fan
// out writes, and partial indexes over the slot columns.
package ddl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mesh-intelligence/flexi/internal/ctl"
	"github.com/mesh-intelligence/flexi/internal/sqlite"
	"github.com/mesh-intelligence/flexi/pkg/types"
)

// IDColumn is the view column exposing the object identity.
const IDColumn = "$id"

// Catalog looks up other classes by id. Inbound references and cascade
// targets are resolved through it.
type Catalog map[int64]*types.ClassDefinition

// Generator emits access-surface DDL for class definitions.
type Generator struct {
	catalog Catalog
}

// NewGenerator creates a generator over the given catalog.
func NewGenerator(catalog Catalog) *Generator {
	if catalog == nil {
		catalog = Catalog{}
	}
	return &Generator{catalog: catalog}
}

// Generate returns the statements that (re)create the access surface of cls.
// Running them twice leaves the same surface, since every object is dropped
// before it is created.
func (g *Generator) Generate(cls *types.ClassDefinition) []string {
	stmts := g.Drop(cls)
	stmts = append(stmts, g.createView(cls))
	stmts = append(stmts, g.insertTrigger(cls), g.updateTrigger(cls), g.deleteTrigger(cls))
	stmts = append(stmts, g.slotIndexes(cls)...)
	return stmts
}

// Drop returns the statements removing the access surface of cls.
func (g *Generator) Drop(cls *types.ClassDefinition) []string {
	stmts := []string{DropView(cls.Name)}
	for col := 0; col < types.NumColumns; col++ {
		stmts = append(stmts, fmt.Sprintf("DROP INDEX IF EXISTS %s;", QuoteIdentifier(slotIndexName(cls, col))))
	}
	return stmts
}

// DropView returns the statement dropping a class view by name. Triggers on
// the view go with it.
func DropView(name string) string {
	return fmt.Sprintf("DROP VIEW IF EXISTS %s;", QuoteIdentifier(name))
}

// QuoteIdentifier quotes a SQL identifier, doubling embedded quotes.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteLiteral quotes a SQL string literal.
func quoteLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

func slotIndexName(cls *types.ClassDefinition, col int) string {
	return fmt.Sprintf("flexi_%d_%s", cls.ClassID, sqlite.SlotColumn(col))
}

func triggerName(cls *types.ClassDefinition, op string) string {
	return QuoteIdentifier(fmt.Sprintf("%s$%s", cls.Name, op))
}

// multiValued reports whether the property stores more than one row per
// object. Such properties surface as a JSON array.
func multiValued(p *types.PropertyDefinition) bool {
	if p.IsReference() {
		return p.Rules.MaxOccurrences != 1
	}
	return p.Rules.MaxOccurrences > 1
}

// valueExpr is the read expression of a property for the object aliased o.
func valueExpr(cls *types.ClassDefinition, p *types.PropertyDefinition) string {
	if multiValued(p) {
		return fmt.Sprintf(`(SELECT json_group_array(value) FROM (SELECT v.value FROM object_values v WHERE v.object_id = o.object_id AND v.property_id = %d ORDER BY v.prop_index))`, p.PropertyID)
	}
	eav := fmt.Sprintf(`(SELECT v.value FROM object_values v WHERE v.object_id = o.object_id AND v.property_id = %d AND v.prop_index = 0)`, p.PropertyID)
	if col := cls.ColumnOf(p.PropertyID); col >= 0 {
		return fmt.Sprintf("COALESCE(o.%s, %s)", sqlite.SlotColumn(col), eav)
	}
	return eav
}

func (g *Generator) createView(cls *types.ClassDefinition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE VIEW %s AS SELECT\n    o.object_id AS %s", QuoteIdentifier(cls.Name), QuoteIdentifier(IDColumn))
	for _, p := range cls.SortedProperties() {
		fmt.Fprintf(&b, ",\n    %s AS %s", valueExpr(cls, p), QuoteIdentifier(p.Name))
	}
	fmt.Fprintf(&b, "\nFROM objects o WHERE o.class_id = %d;", cls.ClassID)
	return b.String()
}

// checks emits RAISE statements for the declared constraints. self is the
// expression of the object being updated, or empty on insert.
func (g *Generator) checks(b *strings.Builder, cls *types.ClassDefinition, self string) {
	view := QuoteIdentifier(cls.Name)
	for _, p := range cls.SortedProperties() {
		col := QuoteIdentifier(p.Name)
		label := cls.Name + "." + p.Name
		if p.Rules.MinOccurrences > 0 {
			fmt.Fprintf(b, "    SELECT RAISE(ABORT, %s) WHERE NEW.%s IS NULL;\n",
				quoteLiteral(label+" is required"), col)
		}
		if p.Rules.MaxLength > 0 && p.Rules.Type.IsTextual() {
			fmt.Fprintf(b, "    SELECT RAISE(ABORT, %s) WHERE length(NEW.%s) > %d;\n",
				quoteLiteral(fmt.Sprintf("%s exceeds %d characters", label, p.Rules.MaxLength)), col, p.Rules.MaxLength)
		}
		if p.Ctlv&ctl.UniqueIndex != 0 && !multiValued(p) {
			exclude := ""
			if self != "" {
				exclude = fmt.Sprintf(" AND %s <> %s", QuoteIdentifier(IDColumn), self)
			}
			fmt.Fprintf(b, "    SELECT RAISE(ABORT, %s) WHERE NEW.%s IS NOT NULL AND EXISTS (SELECT 1 FROM %s WHERE %s = NEW.%s%s);\n",
				quoteLiteral(label+" must be unique"), col, view, col, col, exclude)
		}
	}
}

// writeValues emits the object_values writes of every property without a
// slot. id is the expression of the target object id.
func (g *Generator) writeValues(b *strings.Builder, cls *types.ClassDefinition, id string, update bool) {
	for _, p := range cls.SortedProperties() {
		if cls.ColumnOf(p.PropertyID) >= 0 && !multiValued(p) {
			continue
		}
		col := QuoteIdentifier(p.Name)
		rowBits := ctl.RowBits(p.Ctlv)
		changed := ""
		if update {
			changed = fmt.Sprintf(" AND NEW.%s IS NOT OLD.%s", col, col)
			fmt.Fprintf(b, "    DELETE FROM object_values WHERE object_id = %s AND property_id = %d AND (ctlv & %d) = 0 AND NEW.%s IS NOT OLD.%s;\n",
				id, p.PropertyID, ctl.DuplicateValue, col, col)
		}
		if multiValued(p) {
			fmt.Fprintf(b, "    INSERT INTO object_values (object_id, property_id, prop_index, class_id, value, ctlv) SELECT %s, %d, j.key, %d, j.value, %d FROM json_each(NEW.%s) j WHERE NEW.%s IS NOT NULL%s;\n",
				id, p.PropertyID, cls.ClassID, rowBits, col, col, changed)
			continue
		}
		fmt.Fprintf(b, "    INSERT OR REPLACE INTO object_values (object_id, property_id, prop_index, class_id, value, ctlv) SELECT %s, %d, 0, %d, NEW.%s, %d WHERE NEW.%s IS NOT NULL%s;\n",
			id, p.PropertyID, cls.ClassID, col, rowBits, col, changed)
	}
}

// slotAssignments returns "a, c" and "NEW."X", NEW."Y"" for the occupied
// slots.
func slotAssignments(cls *types.ClassDefinition) (cols, values []string) {
	for col, id := range cls.Columns {
		p, ok := cls.Properties[id]
		if id == 0 || !ok {
			continue
		}
		cols = append(cols, sqlite.SlotColumn(col))
		values = append(values, "NEW."+QuoteIdentifier(p.Name))
	}
	return cols, values
}

func (g *Generator) insertTrigger(cls *types.ClassDefinition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TRIGGER %s INSTEAD OF INSERT ON %s FOR EACH ROW BEGIN\n",
		triggerName(cls, "insert"), QuoteIdentifier(cls.Name))
	g.checks(&b, cls, "")

	cols, values := slotAssignments(cls)
	cols = append([]string{"object_id", "class_id", "ctlo"}, cols...)
	values = append([]string{"NEW." + QuoteIdentifier(IDColumn), fmt.Sprint(cls.ClassID), "0"}, values...)
	fmt.Fprintf(&b, "    INSERT INTO objects (%s) VALUES (%s);\n", strings.Join(cols, ", "), strings.Join(values, ", "))

	g.writeValues(&b, cls, "last_insert_rowid()", false)
	b.WriteString("END;")
	return b.String()
}

func (g *Generator) updateTrigger(cls *types.ClassDefinition) string {
	var b strings.Builder
	id := "OLD." + QuoteIdentifier(IDColumn)
	fmt.Fprintf(&b, "CREATE TRIGGER %s INSTEAD OF UPDATE ON %s FOR EACH ROW BEGIN\n",
		triggerName(cls, "update"), QuoteIdentifier(cls.Name))
	g.checks(&b, cls, id)

	cols, values := slotAssignments(cls)
	sets := []string{"ctlo = ctlo"}
	if len(cols) > 0 {
		sets = sets[:0]
		for i := range cols {
			sets = append(sets, cols[i]+" = "+values[i])
		}
	}
	fmt.Fprintf(&b, "    UPDATE objects SET %s WHERE object_id = %s;\n", strings.Join(sets, ", "), id)
	g.clearDuplicates(&b, cls, id)
	g.writeValues(&b, cls, id, true)
	b.WriteString("END;")
	return b.String()
}

// clearDuplicates drops the duplicate-marked row of every slot property whose
// value changes. The slot holds the value from then on.
func (g *Generator) clearDuplicates(b *strings.Builder, cls *types.ClassDefinition, id string) {
	for _, p := range cls.SortedProperties() {
		if cls.ColumnOf(p.PropertyID) < 0 || multiValued(p) {
			continue
		}
		col := QuoteIdentifier(p.Name)
		fmt.Fprintf(b, "    DELETE FROM object_values WHERE object_id = %s AND property_id = %d AND (ctlv & %d) <> 0 AND NEW.%s IS NOT OLD.%s;\n",
			id, p.PropertyID, ctl.DuplicateValue, col, col)
	}
}

// inboundRef is a reference property of another class pointing at cls.
type inboundRef struct {
	source *types.ClassDefinition
	prop   *types.PropertyDefinition
}

func (g *Generator) inbound(cls *types.ClassDefinition) []inboundRef {
	var refs []inboundRef
	ids := make([]int64, 0, len(g.catalog))
	for id := range g.catalog {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		src := g.catalog[id]
		for _, p := range src.SortedProperties() {
			if p.IsReference() && p.Reference != nil && p.Reference.ClassID == cls.ClassID {
				refs = append(refs, inboundRef{source: src, prop: p})
			}
		}
	}
	return refs
}

func (g *Generator) deleteTrigger(cls *types.ClassDefinition) string {
	var b strings.Builder
	id := "OLD." + QuoteIdentifier(IDColumn)
	fmt.Fprintf(&b, "CREATE TRIGGER %s INSTEAD OF DELETE ON %s FOR EACH ROW BEGIN\n",
		triggerName(cls, "delete"), QuoteIdentifier(cls.Name))

	// Outbound references declared on this class.
	for _, p := range cls.SortedProperties() {
		kind := ctl.RefKindOf(p.Ctlv)
		if kind == types.RefNone {
			continue
		}
		outValues := fmt.Sprintf("SELECT value FROM object_values WHERE object_id = %s AND property_id = %d", id, p.PropertyID)
		switch kind {
		case types.RefRestrictA, types.RefRestrictBoth:
			fmt.Fprintf(&b, "    SELECT RAISE(ABORT, %s) WHERE EXISTS (%s);\n",
				quoteLiteral(fmt.Sprintf("%s.%s restricts delete", cls.Name, p.Name)), outValues)
		case types.RefOwnForward, types.RefMutual:
			if target, ok := g.catalog[p.Reference.ClassID]; ok {
				fmt.Fprintf(&b, "    DELETE FROM %s WHERE %s IN (%s);\n",
					QuoteIdentifier(target.Name), QuoteIdentifier(IDColumn), outValues)
			}
		}
	}

	// Inbound references from any class, this one included.
	for _, ref := range g.inbound(cls) {
		kind := ctl.RefKindOf(ref.prop.Ctlv)
		inValues := fmt.Sprintf("SELECT object_id FROM object_values WHERE property_id = %d AND value = %s", ref.prop.PropertyID, id)
		switch kind {
		case types.RefRestrictB, types.RefRestrictBoth:
			fmt.Fprintf(&b, "    SELECT RAISE(ABORT, %s) WHERE EXISTS (%s);\n",
				quoteLiteral(fmt.Sprintf("%s is referenced by %s.%s", cls.Name, ref.source.Name, ref.prop.Name)), inValues)
		case types.RefOwnReverse, types.RefMutual:
			fmt.Fprintf(&b, "    DELETE FROM %s WHERE %s IN (%s);\n",
				QuoteIdentifier(ref.source.Name), QuoteIdentifier(IDColumn), inValues)
		}
	}

	fmt.Fprintf(&b, "    DELETE FROM object_values WHERE object_id = %s;\n", id)
	fmt.Fprintf(&b, "    DELETE FROM objects WHERE object_id = %s;\n", id)
	b.WriteString("END;")
	return b.String()
}

func (g *Generator) slotIndexes(cls *types.ClassDefinition) []string {
	var stmts []string
	for col := 0; col < types.NumColumns; col++ {
		name := QuoteIdentifier(slotIndexName(cls, col))
		column := sqlite.SlotColumn(col)
		switch {
		case ctl.SlotUnique(cls.Ctlo, col):
			stmts = append(stmts, fmt.Sprintf("CREATE UNIQUE INDEX %s ON objects(%s) WHERE class_id = %d AND %s IS NOT NULL;",
				name, column, cls.ClassID, column))
		case ctl.SlotIndexed(cls.Ctlo, col):
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s ON objects(%s) WHERE class_id = %d;",
				name, column, cls.ClassID))
		}
	}
	return stmts
}
