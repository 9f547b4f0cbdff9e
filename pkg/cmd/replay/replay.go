package replay

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/mpapenbr/iracelog-tiretemp/log"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/cmd/util"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/config"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/predictor"
)

var (
	follow     bool
	printEvery int
)

func NewReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <recording.jsonl>",
		Short: "drives the predictor from a recorded telemetry file",
		Long: `Each line of the recording is one telemetry snapshot as JSON document.
Sessions are detected by SessionNum, the car is taken from SessionInfo.
With --follow the file is tailed while a recorder appends to it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return replayFile(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false,
		"keep waiting for new data at the end of the file")
	cmd.Flags().IntVar(&printEvery, "print-every", 60,
		"print every n-th prediction (0 disables output)")
	return cmd
}

//nolint:funlen // setup and teardown
func replayFile(ctx context.Context, path string) error {
	if _, err := util.SetupLogger(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if telemetry := util.SetupTelemetry(ctx); telemetry != nil {
		defer telemetry.Shutdown()
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var watcher *fsnotify.Watcher
	if follow {
		if watcher, err = fsnotify.NewWatcher(); err != nil {
			return fmt.Errorf("could not create file watcher: %w", err)
		}
		defer watcher.Close()
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("could not watch %s: %w", path, err)
		}
	}

	store, err := util.NewStore()
	if err != nil {
		return err
	}
	clock := newSimClock(time.Now())
	pred := predictor.New(store, config.App.PredictorOptions(predictor.WithClock(clock.Now))...)

	r := NewReplayer(pred, clock, os.Stdout, printEvery)
	log.Info("Replaying", log.String("file", path), log.Bool("follow", follow))
	runErr := r.Run(ctx, newLineSource(f, watcher))

	pred.Shutdown(context.Background())
	stats := r.Stats()
	log.Info("Replay finished",
		log.Int("lines", stats.Lines),
		log.Int("invalid", stats.Invalid),
		log.Int("predictions", stats.Predictions),
		log.Int("calibrated", stats.Calibrated))
	return runErr
}
