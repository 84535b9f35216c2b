package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/flexi/pkg/flexi"
)

func newDDLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ddl <class>",
		Short: "Print the view and trigger statements of a class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFlexi(func(f *flexi.Flexi) error {
				stmts, err := f.Surface(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), stmts)
				}
				for _, s := range stmts {
					fmt.Fprintln(cmd.OutOrStdout(), s)
				}
				return nil
			})
		},
	}
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [dir]",
		Short: "Export class definitions to classes.jsonl",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return withFlexi(func(f *flexi.Flexi) error {
				n, err := f.Export(cmd.Context(), dir)
				if err != nil {
					return err
				}
				if flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), map[string]int{"exported": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d classes\n", n)
				return nil
			})
		},
	}
}
