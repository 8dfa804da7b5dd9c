package realtime

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/app"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/buildinfo"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/conf"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/myaudio"
)

// Command creates a new command for real-time audio analysis.
func Command(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Analyze audio in realtime mode",
		Long:  "Capture audio from a sound card, publish band levels and record triggered events.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			source := myaudio.NewCaptureSource(myaudio.CaptureConfig{
				Device:        settings.Audio.Source,
				SampleRate:    settings.Audio.SampleRate,
				FallbackRates: settings.Audio.FallbackRates,
				BufferSeconds: settings.Audio.BufferSeconds,
			})

			analyzer, err := app.New(app.Options{
				Settings:    settings,
				Source:      source,
				BuildInfo:   info,
				WatchConfig: true,
			})
			if err != nil {
				return err
			}
			return analyzer.Run(ctx)
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the realtime command. Flags
// override the config file through viper.
func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("source", "", "Audio capture device name or id (\"sysdefault\", \"USB Audio\", etc.)")
	cmd.Flags().Int("samplerate", 0, "Requested capture sample rate in Hz")
	cmd.Flags().String("storage", "", "Directory for recorded events")
	cmd.Flags().String("port", "", "Web UI and API port")

	bindings := map[string]string{
		"audio.source":      "source",
		"audio.samplerate":  "samplerate",
		"recording.storage": "storage",
		"webserver.port":    "port",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
	}
	return nil
}
