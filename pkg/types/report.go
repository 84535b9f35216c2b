package types

// AnomalyKind classifies a recoverable condition recorded during an
// alteration.
type AnomalyKind string

const (
	AnomalyInvalidReference AnomalyKind = "invalid_reference"
	AnomalyDuplicateValue   AnomalyKind = "duplicate_value"
	AnomalyEnumItemInUse    AnomalyKind = "enum_item_in_use"
	AnomalyReverseRepaired  AnomalyKind = "reverse_repaired"
	AnomalyReverseRemoved   AnomalyKind = "reverse_removed"
	AnomalyPropertyOrphaned AnomalyKind = "property_orphaned"
)

// ReportEntry is one recorded anomaly or notable action.
type ReportEntry struct {
	Kind         AnomalyKind `json:"kind"`
	ClassName    string      `json:"className"`
	PropertyName string      `json:"propertyName,omitempty"`
	Message      string      `json:"message"`
	Rows         int         `json:"rows,omitempty"`
}

// ActionReport accumulates the entries recorded by one engine call.
type ActionReport struct {
	RunID   string        `json:"runId"`
	Entries []ReportEntry `json:"entries"`
}

// Add appends an entry.
func (r *ActionReport) Add(e ReportEntry) {
	r.Entries = append(r.Entries, e)
}

// Empty reports whether nothing was recorded.
func (r *ActionReport) Empty() bool {
	return len(r.Entries) == 0
}

// Filter returns the entries of the given kind.
func (r *ActionReport) Filter(kind AnomalyKind) []ReportEntry {
	var out []ReportEntry
	for _, e := range r.Entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
