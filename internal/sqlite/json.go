// JSON record structures for the class export file.
package sqlite

import "github.com/mesh-intelligence/flexi/pkg/types"

// ClassesJSONL is the export file name written into the data directory.
const ClassesJSONL = "classes.jsonl"

// classJSON represents a class in classes.jsonl. Properties are keyed by
// name and columns list the occupant name per slot, empty when free.
type classJSON struct {
	RecordID   string                               `json:"record_id"`
	ClassID    int64                                `json:"class_id"`
	Name       string                               `json:"name"`
	Ctlo       int64                                `json:"ctlo"`
	Properties map[string]*types.PropertyDefinition `json:"properties"`
	Ctlv       map[string]int64                     `json:"ctlv"`
	Columns    [types.NumColumns]string             `json:"columns"`
	ExportedAt string                               `json:"exported_at"`
}
