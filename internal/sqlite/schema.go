// Package sqlite implements the metadata store of the Flexi engine on SQLite:
// interned names, class and property definitions, objects with their
// dedicated slot columns, and the generic value table.
package sqlite

import "strings"

// Schema DDL for all tables. Statements are idempotent so Attach can run them
// against an existing database.
const (
	createNames = `CREATE TABLE IF NOT EXISTS names (
    name_id INTEGER PRIMARY KEY AUTOINCREMENT,
    value TEXT NOT NULL UNIQUE
);`

	createClasses = `CREATE TABLE IF NOT EXISTS classes (
    class_id INTEGER PRIMARY KEY AUTOINCREMENT,
    name_id INTEGER NOT NULL UNIQUE REFERENCES names(name_id),
    ctlo INTEGER NOT NULL DEFAULT 0,
    data TEXT NOT NULL
);`

	createClassProperties = `CREATE TABLE IF NOT EXISTS class_properties (
    property_id INTEGER PRIMARY KEY AUTOINCREMENT,
    class_id INTEGER NOT NULL REFERENCES classes(class_id),
    name_id INTEGER NOT NULL REFERENCES names(name_id),
    ctlv INTEGER NOT NULL DEFAULT 0,
    UNIQUE (class_id, name_id)
);`

	createObjects = `CREATE TABLE IF NOT EXISTS objects (
    object_id INTEGER PRIMARY KEY AUTOINCREMENT,
    class_id INTEGER NOT NULL,
    ctlo INTEGER NOT NULL DEFAULT 0,
    a, b, c, d, e, f, g, h, i, j
);`

	createObjectValues = `CREATE TABLE IF NOT EXISTS object_values (
    object_id INTEGER NOT NULL,
    property_id INTEGER NOT NULL,
    prop_index INTEGER NOT NULL DEFAULT 0,
    class_id INTEGER NOT NULL,
    value,
    ctlv INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (object_id, property_id, prop_index)
) WITHOUT ROWID;`
)

// Index DDL. The partial indexes on object_values follow the ctlv bits
// copied onto each row: 128 unique, 1 indexed, 14 reference kinds.
const (
	idxObjectsClass     = `CREATE INDEX IF NOT EXISTS idx_objects_class ON objects(class_id);`
	idxValuesClass      = `CREATE INDEX IF NOT EXISTS idx_values_class ON object_values(class_id, property_id);`
	idxValuesUnique     = `CREATE UNIQUE INDEX IF NOT EXISTS idx_values_unique ON object_values(property_id, value) WHERE (ctlv & 128) <> 0;`
	idxValuesIndexed    = `CREATE INDEX IF NOT EXISTS idx_values_indexed ON object_values(property_id, value) WHERE (ctlv & 1) <> 0;`
	idxValuesReferences = `CREATE INDEX IF NOT EXISTS idx_values_references ON object_values(value, property_id) WHERE (ctlv & 14) <> 0;`
	idxClassProperties  = `CREATE INDEX IF NOT EXISTS idx_class_properties_class ON class_properties(class_id);`
)

// schemaDDL lists all CREATE TABLE statements in dependency order.
var schemaDDL = []string{
	createNames,
	createClasses,
	createClassProperties,
	createObjects,
	createObjectValues,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxObjectsClass,
	idxValuesClass,
	idxValuesUnique,
	idxValuesIndexed,
	idxValuesReferences,
	idxClassProperties,
}

// slotColumns are the objects columns backing slots A..J.
var slotColumns = [10]string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}

// reservedNames cannot be used as class names because each class gets a view
// named after it.
var reservedNames = map[string]bool{
	"names":            true,
	"classes":          true,
	"class_properties": true,
	"objects":          true,
	"object_values":    true,
}

// SlotColumn returns the objects column name for slot index col.
func SlotColumn(col int) string {
	return slotColumns[col]
}

// IsReservedName reports whether name collides with a storage table.
func IsReservedName(name string) bool {
	lower := strings.ToLower(name)
	return reservedNames[lower] || strings.HasPrefix(lower, "sqlite_")
}
