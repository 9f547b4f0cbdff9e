// Package util holds the setup shared by the itt subcommands.
package util

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/afero"
	otlpruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/mpapenbr/iracelog-tiretemp/log"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/config"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/storage"
)

func parseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

// SetupLogger replaces the default logger according to the log flags.
func SetupLogger() (*log.Logger, error) {
	opts := []log.Option{log.WithCaller(true), log.AddCallerSkip(1)}
	if config.LogConfig != "" {
		filter, err := log.WithFilterRules(config.LogConfig)
		if err != nil {
			return nil, fmt.Errorf("invalid log config: %w", err)
		}
		opts = append(opts, filter)
	}
	var logger *log.Logger
	switch config.LogFormat {
	case "json":
		logger = log.New(os.Stderr, parseLogLevel(config.LogLevel, log.InfoLevel), opts...)
	default:
		logger = log.DevLogger(os.Stderr, parseLogLevel(config.LogLevel, log.DebugLevel), opts...)
	}
	log.ResetDefault(logger)
	return logger, nil
}

// SetupTelemetry enables exporters and runtime metrics if requested.
// Failures are logged, the command continues with no-op providers.
func SetupTelemetry(ctx context.Context) *config.Telemetry {
	if !config.EnableTelemetry {
		return nil
	}
	log.Info("Enabling telemetry", log.String("endpoint", config.TelemetryEndpoint))
	telemetry, err := config.SetupTelemetry(ctx)
	if err != nil {
		log.Warn("Could not setup telemetry", log.ErrorField(err))
		return nil
	}
	err = otlpruntime.Start(otlpruntime.WithMinimumReadMemStatsInterval(time.Second))
	if err != nil {
		log.Warn("Could not start runtime metrics", log.ErrorField(err))
	}
	return telemetry
}

// NewStore opens the data directory configured in config.App.
func NewStore(opts ...storage.ManagerOption) (*storage.Manager, error) {
	opts = append([]storage.ManagerOption{storage.WithLimits(config.App.Limits())}, opts...)
	store, err := storage.NewManager(afero.NewOsFs(), config.App.Layout(), opts...)
	if err != nil {
		return nil, fmt.Errorf("could not open data dir %s: %w", config.App.DataDir, err)
	}
	return store, nil
}

func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
