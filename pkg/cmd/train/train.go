package train

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/mpapenbr/iracelog-tiretemp/log"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/cmd/util"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/config"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/trainer"
)

var (
	car   string
	force bool
)

func NewTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "trains the temperature models of a car from recorded sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return train(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&car, "car", "", "car to train (as used in session file names)")
	cmd.Flags().BoolVar(&force, "force", false, "replace models even if they are not better")
	_ = cmd.MarkFlagRequired("car")
	return cmd
}

func train(ctx context.Context) error {
	if _, err := util.SetupLogger(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if telemetry := util.SetupTelemetry(ctx); telemetry != nil {
		defer telemetry.Shutdown()
	}
	store, err := util.NewStore()
	if err != nil {
		return err
	}
	res := trainer.New(store, config.App.TrainerOptions()...).TrainModels(ctx, car, force)
	if err := util.PrintJSON(os.Stdout, res); err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		log.Warn("Training not possible", log.ErrorField(err))
		return err
	}
	return nil
}
