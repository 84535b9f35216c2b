package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/flexi/internal/ctl"
	"github.com/mesh-intelligence/flexi/pkg/flexi"
	"github.com/mesh-intelligence/flexi/pkg/types"
)

func newClassCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "class",
		Short: "Manage classes",
	}
	cmd.AddCommand(newClassListCmd())
	cmd.AddCommand(newClassShowCmd())
	cmd.AddCommand(newClassCreateCmd())
	cmd.AddCommand(newClassRenameCmd())
	cmd.AddCommand(newClassDropCmd())
	return cmd
}

func newClassListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all classes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFlexi(func(f *flexi.Flexi) error {
				classes, err := f.ListClasses(cmd.Context())
				if err != nil {
					return err
				}
				return printClasses(cmd.OutOrStdout(), classes)
			})
		},
	}
}

func newClassShowCmd() *cobra.Command {
	var column string
	cmd := &cobra.Command{
		Use:   "show <class>",
		Short: "Show a class and its properties",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			col := -1
			if column != "" {
				if col = ctl.ColumnIndex(column); col < 0 {
					return fmt.Errorf("%w: column %q is not one of A..J", types.ErrInvalidName, column)
				}
			}
			return withFlexi(func(f *flexi.Flexi) error {
				cls, err := f.GetClass(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if col >= 0 {
					cls = slotOnly(cls, col)
				}
				return printClass(cmd.OutOrStdout(), cls)
			})
		},
	}
	cmd.Flags().StringVar(&column, "column", "", "show only the property held in slot A..J")
	return cmd
}

// slotOnly returns a copy of cls keeping just the occupant of slot col.
func slotOnly(cls *types.ClassDefinition, col int) *types.ClassDefinition {
	out := types.NewClassDefinition(cls.Name)
	out.ClassID, out.NameID, out.Ctlo, out.Columns = cls.ClassID, cls.NameID, cls.Ctlo, cls.Columns
	if p, ok := cls.Properties[cls.Columns[col]]; ok {
		out.Properties[p.PropertyID] = p
	}
	return out
}

func newClassCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <class>",
		Short: "Create an empty class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFlexi(func(f *flexi.Flexi) error {
				cls, err := f.CreateClass(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printClass(cmd.OutOrStdout(), cls)
			})
		},
	}
}

func newClassRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <class> <new-name>",
		Short: "Rename a class",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFlexi(func(f *flexi.Flexi) error {
				if err := f.RenameClass(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				if flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), map[string]string{"from": args[0], "to": args[1]})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newClassDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <class>",
		Short: "Drop a class and all of its objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFlexi(func(f *flexi.Flexi) error {
				if err := f.DropClass(cmd.Context(), args[0]); err != nil {
					return err
				}
				if flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), map[string]string{"dropped": args[0]})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Dropped %s\n", args[0])
				return nil
			})
		},
	}
}
