// Command texresolve identifies texture containers and the formats of the
// images that convert to and from them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/goopsie/texresolve/internal/config"
	"github.com/goopsie/texresolve/internal/logging"
	"github.com/goopsie/texresolve/pkg/registry"
)

// app is the state shared by every subcommand.
type app struct {
	configPath   string
	logLevel     string
	registryPath string

	cfg      *config.Config
	logger   hclog.Logger
	registry *registry.Registry
	loaded   registry.Loaded
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "texresolve",
		Short:         "Resolve texture container formats",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to configuration file (default $"+config.EnvConfig+")")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.StringVar(&a.registryPath, "registry", "", "Base registry snapshot (default: bundled)")

	root.AddCommand(
		newScanCmd(a),
		newConvertCmd(a),
		newInfoCmd(a),
		newValidateCmd(a),
		newDBCmd(a),
	)
	return root
}

// setup loads configuration, the logger and the registry.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		if _, err := logging.ParseLevel(a.logLevel); err != nil {
			return err
		}
		cfg.Log.Level = a.logLevel
	}
	if a.registryPath != "" {
		cfg.Registry.Path = a.registryPath
	}
	a.cfg = cfg
	a.logger = logging.New("texresolve", cfg.Log.Level, os.Stderr)

	reg, loaded, err := registry.Load(registry.LoadOptions{
		Path:      cfg.Registry.Path,
		LocalFile: cfg.Registry.LocalFile,
		Logger:    a.logger.Named("registry"),
	})
	if err != nil {
		return err
	}
	if err := cfg.ApplyOverrides(reg); err != nil {
		a.logger.Warn("skipping configured overrides", "error", err)
	}

	a.registry = reg
	a.loaded = loaded
	a.logger.Debug("registry loaded", "base", loaded.Base, "local", loaded.Local, "formats", reg.Len())
	return nil
}
