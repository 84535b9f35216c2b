// Package cli implements the flexi command-line interface.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/flexi/pkg/flexi"
	"github.com/mesh-intelligence/flexi/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
	verbose   bool
}

var flags rootFlags

// userErrors are reported with exitUserError; anything else is a system error.
var userErrors = []error{
	types.ErrClassNotFound,
	types.ErrPropertyNotFound,
	types.ErrUnsupportedAlteration,
	types.ErrUnresolvedReferenceTarget,
	types.ErrUnsupportedType,
	types.ErrReferencedClassNotFound,
	types.ErrReversePropertyNotFound,
	types.ErrInvalidDefinition,
	types.ErrInvalidName,
	types.ErrDuplicateName,
}

// NewRootCmd creates the top-level "flexi" command with global flags and all
// subcommands registered.
func NewRootCmd() *cobra.Command {
	flags = rootFlags{}
	root := &cobra.Command{
		Use:     "flexi",
		Short:   "A schema-flexible class and property engine over SQLite",
		Long:    "Flexi stores objects of runtime-defined classes and migrates their\nstored values when class properties change.",
		Version: flexi.Version,
		// Do not print usage on errors returned by subcommands.
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "data directory (default: .flexi-db)")
	root.PersistentFlags().BoolVar(&flags.jsonMode, "json", false, "output in JSON format")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log engine activity to stderr")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newClassCmd())
	root.AddCommand(newPropertyCmd())
	root.AddCommand(newDDLCmd())
	root.AddCommand(newExportCmd())

	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "flexi:", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitSuccess)
}

func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	return exitSysError
}

func newLogger() *zap.Logger {
	if !flags.verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// openFlexi resolves the configuration and opens the engine. The caller must
// Close it.
func openFlexi() (*flexi.Flexi, error) {
	cfg, err := resolveConfig()
	if err != nil {
		return nil, err
	}
	f, err := flexi.Open(cfg, flexi.WithLogger(newLogger()))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return f, nil
}

// withFlexi opens the engine, runs fn and closes the engine.
func withFlexi(fn func(f *flexi.Flexi) error) error {
	f, err := openFlexi()
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(f)
}
