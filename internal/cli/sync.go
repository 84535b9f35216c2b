package cli

import (
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/flexi/pkg/flexi"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <schema-file>",
		Short: "Sync classes with a YAML or JSON schema file",
		Long: `Create missing classes and align each class with its declared model.
Undeclared properties are removed; rows holding their values are reported.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFlexi(func(f *flexi.Flexi) error {
				report, err := f.SyncFile(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printReport(cmd.OutOrStdout(), report)
			})
		},
	}
}
