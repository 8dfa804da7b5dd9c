package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/granmeloco/ha-sound-analyzer-add-on/cmd/devices"
	"github.com/granmeloco/ha-sound-analyzer-add-on/cmd/realtime"
	"github.com/granmeloco/ha-sound-analyzer-add-on/cmd/replay"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/buildinfo"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/conf"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/logger"
)

// skipConfig marks commands that run without loading the configuration.
const skipConfig = "skip-config"

// RootCommand creates and returns the root command. Sub-commands share
// settings, which are filled in before any of them runs.
func RootCommand(info *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var configPath string
	var central *logger.CentralLogger

	rootCmd := &cobra.Command{
		Use:          "sound-analyzer",
		Short:        "Octave band sound level analyzer for Home Assistant",
		Version:      info.Version(),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(fmt.Sprintf("error binding flags: %v", err))
	}

	devicesCmd := devices.Command()
	devicesCmd.Annotations = map[string]string{skipConfig: "true"}

	rootCmd.AddCommand(
		realtime.Command(settings, info),
		replay.Command(settings, info),
		devicesCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[skipConfig] != "" {
			return nil
		}

		loaded, err := conf.Load(configPath)
		if err != nil {
			return err
		}
		*settings = *loaded

		central, err = initialize(settings, info)
		return err
	}

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		errors.FlushTelemetry(2 * time.Second)
		if central != nil {
			_ = central.Close()
		}
	}

	return rootCmd
}

// initialize sets up logging and error telemetry from the loaded settings.
func initialize(settings *conf.Settings, info *buildinfo.Context) (*logger.CentralLogger, error) {
	logging := settings.Main.Logging
	if settings.Debug {
		logging.DefaultLevel = "debug"
		if logging.Console != nil {
			console := *logging.Console
			console.Level = "debug"
			logging.Console = &console
		}
	}

	central, err := logger.NewCentralLogger(&logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	log := logger.Global().Module("main")
	log.Info("starting sound analyzer",
		logger.String("version", info.Version()),
		logger.String("build_date", info.BuildDate()),
		logger.String("config", settings.ConfigFile),
		logger.Bool("addon", conf.RunningAsAddon()))

	if settings.Sentry.Enabled {
		if err := errors.InitSentry(settings.Sentry.DSN, info.Release()); err != nil {
			log.Warn("error telemetry disabled", logger.Error(err))
		} else {
			log.Info("error telemetry enabled")
		}
	}

	return central, nil
}
