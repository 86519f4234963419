package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gaia-review/gaia/cmd/config"
	"github.com/gaia-review/gaia/cmd/export"
	"github.com/gaia-review/gaia/cmd/fishnet"
	"github.com/gaia-review/gaia/cmd/importpoints"
	"github.com/gaia-review/gaia/cmd/reaplocks"
	"github.com/gaia-review/gaia/cmd/serve"
	"github.com/gaia-review/gaia/cmd/version"
	"github.com/gaia-review/gaia/internal/buildinfo"
	"github.com/gaia-review/gaia/internal/conf"
	"github.com/gaia-review/gaia/internal/errors"
	"github.com/gaia-review/gaia/internal/logger"
)

// skipInit marks commands that run without loading the configuration.
const skipInit = "skip-init"

// RootCommand creates and returns the root command. settings is filled in
// before any subcommand runs.
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var (
		configFile string
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:           "gaia",
		Short:         "GAIA imagery review service",
		Long:          "Multi-reviewer annotation of detected whales and fishnet tiling of satellite imagery.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml (default: search standard locations)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")

	subcommands := []*cobra.Command{
		serve.Command(settings),
		fishnet.Command(settings),
		importpoints.Command(settings),
		reaplocks.Command(settings),
		export.Command(settings),
		config.Command(settings),
		version.Command(build),
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[skipInit] == "true" {
			return nil
		}
		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded
		if debug {
			settings.Debug = true
			settings.Logging.DefaultLevel = "debug"
			if settings.Logging.Console != nil {
				settings.Logging.Console.Level = "debug"
			}
		}
		return initialize(settings, build)
	}

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		errors.FlushSentry(2 * time.Second)
		_ = logger.Global().Flush()
	}

	return rootCmd
}

// initialize sets up logging and error telemetry once settings are known.
func initialize(settings *conf.Settings, build *buildinfo.Context) error {
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	if settings.Sentry.Enabled {
		if err := errors.InitSentry(settings.Sentry.DSN, settings.Main.Environment, build.Release()); err != nil {
			return fmt.Errorf("failed to initialize error telemetry: %w", err)
		}
	}

	central.Module("main").Info("starting",
		logger.String("version", build.GetVersion()),
		logger.String("instance", settings.Main.Name),
		logger.String("environment", settings.Main.Environment))
	return nil
}
