package stats

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mpapenbr/iracelog-tiretemp/pkg/cmd/util"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/config"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/patterns"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/storage"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/trainer"
)

type summary struct {
	Storage  storage.Stats                 `json:"storage"`
	Patterns patterns.Stats                `json:"patterns"`
	Models   map[string]trainer.ModelStats `json:"models"`
}

func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "summarizes learned patterns, trained models and storage usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := util.SetupLogger(); err != nil {
				return err
			}
			store, err := util.NewStore()
			if err != nil {
				return err
			}
			return util.PrintJSON(os.Stdout, collect(store))
		},
	}
}

func collect(store *storage.Manager) summary {
	learner := patterns.New(store.Fs(), store.Layout(), store.Sessions())
	tr := trainer.New(store, config.App.TrainerOptions()...)
	ret := summary{
		Storage:  store.Stats(),
		Patterns: learner.Stats(),
		Models:   map[string]trainer.ModelStats{},
	}
	for _, car := range learner.Cars() {
		if ms := tr.ModelStats(car); ms.TotalModels > 0 {
			ret.Models[car] = ms
		}
	}
	return ret
}
