package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/flexi/internal/paths"
	"github.com/mesh-intelligence/flexi/pkg/flexi"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize flexi storage",
		Long:  "Create the configuration and data directories, then create the metadata tables.",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}

	written, err := writeConfigIfMissing(configDir, configFile{Backend: cfg.Backend, DataDir: cfg.DataDir})
	if err != nil {
		return err
	}

	f, err := flexi.Open(cfg, flexi.WithLogger(newLogger()))
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("finalize storage: %w", err)
	}

	if flags.jsonMode {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"configDir":     configDir,
			"dataDir":       cfg.DataDir,
			"configWritten": written,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Flexi initialized in %s\n", cfg.DataDir)
	if written {
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s/%s\n", configDir, configFileExt)
	}
	return nil
}
