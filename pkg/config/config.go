package config

import (
	"time"

	"github.com/mpapenbr/iracelog-tiretemp/pkg/collector"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/predictor"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/storage"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/trainer"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/worker"
)

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	LogLevel          string // sets the log level (zap log level values)
	LogFormat         string // text vs json
	LogConfig         string // zapfilter rules, e.g. "*=info trainer=debug"
	EnableTelemetry   bool   // enable telemetry
	TelemetryEndpoint string // endpoint for telemetry, "stdout" writes to stdout
)

// App is bound to the CLI flags, config file and ITT_* environment.
var App = DefaultConfig()

// Config holds the tunables of the prediction pipeline.
type Config struct {
	DataDir             string
	SampleInterval      time.Duration
	FlushSize           int
	MaxStorageMB        int64
	WarnStorageMB       int64
	MinSessionsPerCombo int
	SessionRetention    int
	ModelRetention      int
	SynthCap            int
	MinSamples          int
	ValidationSplit     float64
	Trees               int
	MaxDepth            int
	LearningRate        float64
	HistoryLength       int
	TrainingYield       time.Duration
	ShutdownTimeout     time.Duration
}

const mb = 1024 * 1024

func DefaultConfig() Config {
	limits := storage.DefaultLimits()
	params := trainer.DefaultParams()
	return Config{
		DataDir:             "data",
		SampleInterval:      collector.DefaultSampleInterval,
		FlushSize:           collector.DefaultFlushSize,
		MaxStorageMB:        limits.MaxTotalBytes / mb,
		WarnStorageMB:       limits.WarnBytes / mb,
		MinSessionsPerCombo: limits.MinSessionsPerCombo,
		SessionRetention:    int(limits.SessionRetention / (24 * time.Hour)),
		ModelRetention:      int(limits.ModelRetention / (24 * time.Hour)),
		SynthCap:            limits.SynthCap,
		MinSamples:          trainer.DefaultMinSamples,
		ValidationSplit:     trainer.DefaultValidationSplit,
		Trees:               params.Trees,
		MaxDepth:            params.MaxDepth,
		LearningRate:        params.LearningRate,
		HistoryLength:       predictor.DefaultHistoryLength,
		TrainingYield:       worker.DefaultYield,
		ShutdownTimeout:     predictor.DefaultShutdownTimeout,
	}
}

func (c *Config) Layout() storage.Layout {
	return storage.Layout{Root: c.DataDir}
}

func (c *Config) Limits() storage.Limits {
	return storage.Limits{
		MaxTotalBytes:       c.MaxStorageMB * mb,
		WarnBytes:           c.WarnStorageMB * mb,
		MinSessionsPerCombo: c.MinSessionsPerCombo,
		SessionRetention:    time.Duration(c.SessionRetention) * 24 * time.Hour,
		ModelRetention:      time.Duration(c.ModelRetention) * 24 * time.Hour,
		SynthCap:            c.SynthCap,
	}
}

func (c *Config) TrainerOptions() []trainer.Option {
	params := trainer.DefaultParams()
	params.Trees = c.Trees
	params.MaxDepth = c.MaxDepth
	params.LearningRate = c.LearningRate
	return []trainer.Option{
		trainer.WithParams(params),
		trainer.WithMinSamples(c.MinSamples),
		trainer.WithValidationSplit(c.ValidationSplit),
	}
}

// PredictorOptions translates the tunables into predictor options.
// Extra options are appended and win over the configured ones.
func (c *Config) PredictorOptions(extra ...predictor.Option) []predictor.Option {
	ret := []predictor.Option{
		predictor.WithHistoryLength(c.HistoryLength),
		predictor.WithTrainingYield(c.TrainingYield),
		predictor.WithShutdownTimeout(c.ShutdownTimeout),
		predictor.WithCollectorOptions(
			collector.WithSampleInterval(c.SampleInterval),
			collector.WithFlushSize(c.FlushSize)),
		predictor.WithTrainerOptions(c.TrainerOptions()...),
	}
	return append(ret, extra...)
}
