package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/flexi/pkg/flexi"
	"github.com/mesh-intelligence/flexi/pkg/types"
)

const modulePath = "github.com/mesh-intelligence/flexi"

// backendName is the only storage backend flexi ships.
const backendName = types.BackendSQLite

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the flexi version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"version": flexi.Version,
					"module":  modulePath,
					"backend": backendName,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "flexi v%s\nmodule: %s\nbackend: %s\n", flexi.Version, modulePath, backendName)
			return nil
		},
	}
}
