package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	replayCmd "github.com/mpapenbr/iracelog-tiretemp/pkg/cmd/replay"
	statsCmd "github.com/mpapenbr/iracelog-tiretemp/pkg/cmd/stats"
	storageCmd "github.com/mpapenbr/iracelog-tiretemp/pkg/cmd/storage"
	trainCmd "github.com/mpapenbr/iracelog-tiretemp/pkg/cmd/train"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/config"
	"github.com/mpapenbr/iracelog-tiretemp/version"
)

const envPrefix = "ITT"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "itt",
	Short:   "Tire temperature prediction for iRacing telemetry",
	Long:    ``,
	Version: version.FullVersion,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:funlen // flag definitions
func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "",
		"config file (default is $HOME/.itt.yml)")

	pf.StringVar(&config.LogLevel, "log-level", "info",
		"controls the log level (debug, info, warn, error, fatal)")
	pf.StringVar(&config.LogFormat, "log-format", "text",
		"controls the log output format (json, text)")
	pf.StringVar(&config.LogConfig, "log-config", "",
		"zapfilter rules, e.g. '*=info trainer=debug'")
	pf.BoolVar(&config.EnableTelemetry, "enable-telemetry", false,
		"enables telemetry")
	pf.StringVar(&config.TelemetryEndpoint, "telemetry-endpoint", "localhost:4317",
		"Endpoint that receives open telemetry data ('stdout' prints it)")

	app := &config.App
	pf.StringVar(&app.DataDir, "data-dir", app.DataDir,
		"directory for sessions, models and calibrations")
	pf.DurationVar(&app.SampleInterval, "sample-interval", app.SampleInterval,
		"minimum time between two recorded samples")
	pf.IntVar(&app.FlushSize, "flush-size", app.FlushSize,
		"buffered samples moved into the session at once")
	pf.Int64Var(&app.MaxStorageMB, "max-storage-mb", app.MaxStorageMB,
		"storage ceiling in MB")
	pf.Int64Var(&app.WarnStorageMB, "warn-storage-mb", app.WarnStorageMB,
		"cleanup starts above this usage in MB")
	pf.IntVar(&app.MinSessionsPerCombo, "min-sessions-per-combo", app.MinSessionsPerCombo,
		"full sessions kept per car/track combination")
	pf.IntVar(&app.SessionRetention, "session-retention-days", app.SessionRetention,
		"sessions older than this are distilled and removed")
	pf.IntVar(&app.ModelRetention, "model-retention-days", app.ModelRetention,
		"model files older than this are removed")
	pf.IntVar(&app.SynthCap, "synth-cap", app.SynthCap,
		"synthesized samples kept per combination")
	pf.IntVar(&app.MinSamples, "min-samples", app.MinSamples,
		"minimum pit entries required for training")
	pf.Float64Var(&app.ValidationSplit, "validation-split", app.ValidationSplit,
		"share of newest samples used for validation")
	pf.IntVar(&app.Trees, "trees", app.Trees,
		"boosting rounds per model")
	pf.IntVar(&app.MaxDepth, "max-depth", app.MaxDepth,
		"maximum tree depth")
	pf.Float64Var(&app.LearningRate, "learning-rate", app.LearningRate,
		"boosting learning rate")
	pf.IntVar(&app.HistoryLength, "history-length", app.HistoryLength,
		"predictions kept per zone for trend detection")
	pf.DurationVar(&app.TrainingYield, "training-yield", app.TrainingYield,
		"pause between two background training jobs")
	pf.DurationVar(&app.ShutdownTimeout, "shutdown-timeout", app.ShutdownTimeout,
		"time to wait for running training on shutdown")

	// add commands here
	rootCmd.AddCommand(replayCmd.NewReplayCmd())
	rootCmd.AddCommand(trainCmd.NewTrainCmd())
	rootCmd.AddCommand(storageCmd.NewStorageCmd())
	rootCmd.AddCommand(statsCmd.NewStatsCmd())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".itt" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".itt")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	bindFlags(rootCmd, viper.GetViper())
	for _, cmd := range rootCmd.Commands() {
		bindFlags(cmd, viper.GetViper())
	}
}

// Bind each cobra flag to its associated viper configuration
// (config file and environment variable)
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		// Environment variables can't have dashes in them, so bind them to their
		// equivalent keys with underscores, e.g. --data-dir to ITT_DATA_DIR
		if strings.Contains(f.Name, "-") {
			envVarSuffix := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			if err := v.BindEnv(f.Name,
				fmt.Sprintf("%s_%s", envPrefix, envVarSuffix)); err != nil {
				fmt.Fprintf(os.Stderr, "Could not bind env var %s: %v", f.Name, err)
			}
		}
		// Apply the viper config value to the flag when the flag is not set and viper
		// has a value
		if !f.Changed && v.IsSet(f.Name) {
			val := v.Get(f.Name)
			if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val)); err != nil {
				fmt.Fprintf(os.Stderr, "Could set flag value for %s: %v", f.Name, err)
			}
		}
	})
}
