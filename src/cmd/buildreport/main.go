// Package main provides the buildreport CLI: it reports one CI build's changeset
// and analysis results to the rule engine.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"buildreport-agent/src/config"
	"buildreport-agent/src/faults"
	"buildreport-agent/src/logger"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "buildreport",
	Short: "buildreport - Publish CI build and static-analysis reports",
	Long: `buildreport collects a finished CI build's changeset, waits for the
static-analysis server to process the build, reconciles new and fixed issues
with their duplicated blocks, and publishes one report per build to the rule
engine.

Configuration is read from --config (YAML), a .env file in the working
directory, and BUILDREPORT_* environment variables. JENKINS_URL and
BUILD_NUMBER are picked up from the CI environment.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("BUILDREPORT_CONFIG"), "path to the YAML configuration file")

	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logger.ZerologLogger {
	return logger.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr).With("build", cfg.CI.BuildKey())
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, faults.WrapError(err))
		os.Exit(exitCode(err))
	}
}

// exitCode is 1 for failed runs and 2 for usage or internal errors.
func exitCode(err error) int {
	var userErr *faults.UserError
	if faults.Fatal(err) || errors.As(err, &userErr) {
		return 1
	}
	return 2
}
