package replay

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/app"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/buildinfo"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/conf"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/myaudio"
)

// Command creates a command that runs a WAV or FLAC file through the
// analyzer with the configured outputs.
func Command(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	var (
		realtime bool
		start    string
	)

	cmd := &cobra.Command{
		Use:   "replay [input.wav|input.flac]",
		Short: "Analyze an audio file",
		Long:  "Run a recorded file through the analyzer. Events and telemetry go to the configured outputs.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []myaudio.FileSourceOption{myaudio.WithRealtime(realtime)}
			if start != "" {
				t, err := time.Parse(time.RFC3339, start)
				if err != nil {
					return errors.New(err).
						Component("main").
						Category(errors.CategoryValidation).
						Context("start", start).
						Build()
				}
				opts = append(opts, myaudio.WithStartTime(t))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			analyzer, err := app.New(app.Options{
				Settings:  settings,
				Source:    myaudio.NewFileSource(args[0], opts...),
				BuildInfo: info,
			})
			if err != nil {
				return err
			}
			return analyzer.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&realtime, "realtime", false, "Pace the file at real time speed")
	cmd.Flags().StringVar(&start, "start", "", "Wall clock time of the first sample (RFC3339), defaults to now")

	return cmd
}
