package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/mesh-intelligence/flexi/pkg/types"
)

// propertyView is the JSON shape of a property in class listings.
type propertyView struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Column int    `json:"column"`
	*types.PropertyDefinition
}

// classView is the JSON shape of a class.
type classView struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	Ctlo       int64          `json:"ctlo"`
	Properties []propertyView `json:"properties,omitempty"`
}

func newClassView(cls *types.ClassDefinition, withProps bool) classView {
	v := classView{ID: cls.ClassID, Name: cls.Name, Ctlo: cls.Ctlo}
	if !withProps {
		return v
	}
	for _, p := range cls.SortedProperties() {
		v.Properties = append(v.Properties, propertyView{
			ID:                 p.PropertyID,
			Name:               p.Name,
			Column:             cls.ColumnOf(p.PropertyID),
			PropertyDefinition: p,
		})
	}
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var (
	warnColor = color.New(color.FgYellow).SprintFunc()
	okColor   = color.New(color.FgGreen).SprintFunc()
)

// printReport writes an action report in the selected output mode.
func printReport(w io.Writer, report *types.ActionReport) error {
	if flags.jsonMode {
		return printJSON(w, report)
	}
	if report == nil || report.Empty() {
		fmt.Fprintln(w, okColor("ok"))
		return nil
	}
	for _, e := range report.Entries {
		target := e.ClassName
		if e.PropertyName != "" {
			target += "." + e.PropertyName
		}
		fmt.Fprintf(w, "%s %s: %s\n", warnColor(string(e.Kind)), target, e.Message)
	}
	return nil
}

func printClasses(w io.Writer, classes []*types.ClassDefinition) error {
	if flags.jsonMode {
		views := make([]classView, 0, len(classes))
		for _, cls := range classes {
			views = append(views, newClassView(cls, false))
		}
		return printJSON(w, views)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPROPERTIES")
	for _, cls := range classes {
		fmt.Fprintf(tw, "%d\t%s\t%d\n", cls.ClassID, cls.Name, len(cls.Properties))
	}
	return tw.Flush()
}

func printClass(w io.Writer, cls *types.ClassDefinition) error {
	if flags.jsonMode {
		return printJSON(w, newClassView(cls, true))
	}
	fmt.Fprintf(w, "Class %s (id %d)\n", cls.Name, cls.ClassID)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tROLE\tCOLUMN\tTARGET")
	for _, p := range cls.SortedProperties() {
		column := "-"
		if c := cls.ColumnOf(p.PropertyID); c >= 0 {
			column = types.ColumnLetters[c]
		}
		target := "-"
		if p.Reference != nil {
			target = fmt.Sprintf("%d", p.Reference.ClassID)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			p.PropertyID, p.Name, p.Rules.Type, p.Role, column, target)
	}
	return tw.Flush()
}
