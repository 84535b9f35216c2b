package cli

import (
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/flexi/pkg/flexi"
	"github.com/mesh-intelligence/flexi/pkg/types"
)

func newPropertyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "property",
		Short: "Alter or delete class properties",
	}
	cmd.AddCommand(newPropertyAlterCmd())
	cmd.AddCommand(newPropertyDeleteCmd())
	return cmd
}

// alterFlags holds the flag values of "property alter".
type alterFlags struct {
	typeLabel string
	size      int
	required  bool
	unique    bool
	indexed   bool
	role      string
	target    string
	reverse   string
	kind      string
	rename    string
	items     []string
	dateOnly  bool
	fullText  bool
	noTrack   bool
}

func (a alterFlags) incoming(cmd *cobra.Command) types.IncomingProperty {
	in := types.IncomingProperty{
		Type:        a.typeLabel,
		Size:        a.size,
		Required:    a.required,
		Unique:      a.unique,
		Indexed:     a.indexed,
		Role:        a.role,
		Target:      a.target,
		ReverseName: a.reverse,
		Kind:        a.kind,
		RenameTo:    a.rename,

		FastTextSearch: a.fullText,
		NoTrackChanges: a.noTrack,
	}
	for _, label := range a.items {
		in.Items = append(in.Items, types.IncomingItem{Label: label})
	}
	if cmd.Flags().Changed("date-only") {
		withTime := !a.dateOnly
		in.Time = &withTime
	}
	return in
}

func newPropertyAlterCmd() *cobra.Command {
	var a alterFlags
	cmd := &cobra.Command{
		Use:   "alter <class> <property>",
		Short: "Create or alter a property",
		Long: `Create the property if it does not exist, otherwise alter it and
migrate the stored values.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFlexi(func(f *flexi.Flexi) error {
				report, err := f.AlterIncomingProperty(cmd.Context(), args[0], args[1], a.incoming(cmd))
				if err != nil {
					return err
				}
				return printReport(cmd.OutOrStdout(), report)
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&a.typeLabel, "type", "", "source type label (required)")
	fl.IntVar(&a.size, "size", 0, "maximum text length")
	fl.BoolVar(&a.required, "required", false, "value is mandatory")
	fl.BoolVar(&a.unique, "unique", false, "values must be unique")
	fl.BoolVar(&a.indexed, "indexed", false, "index the property")
	fl.StringVar(&a.role, "role", "", "identity role: plain, id or code")
	fl.StringVar(&a.target, "target", "", "referenced class for link types")
	fl.StringVar(&a.reverse, "reverse", "", "name of the reverse property on the target")
	fl.StringVar(&a.kind, "kind", "", "reference kind, for example regular or restrict-b")
	fl.StringVar(&a.rename, "rename", "", "new property name")
	fl.StringSliceVar(&a.items, "item", nil, "enum item label (repeatable)")
	fl.BoolVar(&a.dateOnly, "date-only", false, "store dates without a time part")
	fl.BoolVar(&a.fullText, "fast-text-search", false, "maintain a full-text index")
	fl.BoolVar(&a.noTrack, "no-track-changes", false, "exclude the property from change tracking")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newPropertyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <class> <property>",
		Short: "Delete a property",
		Long:  "Delete a property definition. Stored values remain and are reported as orphaned.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFlexi(func(f *flexi.Flexi) error {
				report, err := f.DeleteClassProperty(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return printReport(cmd.OutOrStdout(), report)
			})
		},
	}
}
