package types

import "sort"

// NumColumns is the number of dedicated storage slots per class.
const NumColumns = 10

// ColumnLetters names the dedicated storage slots in order.
var ColumnLetters = [NumColumns]string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}

// ClassDefinition is one entity type: its identity, class-level control word,
// property dictionary and column assignments.
type ClassDefinition struct {
	ClassID int64
	NameID  int64
	Name    string
	Ctlo    int64

	// Properties is keyed by PropertyID.
	Properties map[int64]*PropertyDefinition

	// Columns holds the PropertyID occupying each slot, 0 when free.
	Columns [NumColumns]int64
}

// NewClassDefinition returns an empty class definition.
func NewClassDefinition(name string) *ClassDefinition {
	return &ClassDefinition{
		Name:       name,
		Properties: make(map[int64]*PropertyDefinition),
	}
}

// PropertyByName returns the property with the given name, or nil.
func (c *ClassDefinition) PropertyByName(name string) *PropertyDefinition {
	for _, p := range c.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// PropertyByRole returns the first property (lowest id) with the given role,
// or nil.
func (c *ClassDefinition) PropertyByRole(role PropertyRole) *PropertyDefinition {
	for _, p := range c.SortedProperties() {
		if p.Role == role {
			return p
		}
	}
	return nil
}

// SortedProperties returns the properties ordered by PropertyID.
func (c *ClassDefinition) SortedProperties() []*PropertyDefinition {
	props := make([]*PropertyDefinition, 0, len(c.Properties))
	for _, p := range c.Properties {
		props = append(props, p)
	}
	sort.Slice(props, func(i, j int) bool { return props[i].PropertyID < props[j].PropertyID })
	return props
}

// ColumnOf returns the slot index occupied by the property, or -1.
func (c *ClassDefinition) ColumnOf(propertyID int64) int {
	for i, id := range c.Columns {
		if id != 0 && id == propertyID {
			return i
		}
	}
	return -1
}

// ClassData is the JSON payload persisted in the classes table.
type ClassData struct {
	Properties map[int64]*PropertyDefinition `json:"properties"`
	Columns    [NumColumns]int64             `json:"columns"`
}
