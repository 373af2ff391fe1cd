package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"buildreport-agent/src/config"
	"buildreport-agent/src/pipeline"
	"buildreport-agent/src/report"
)

var (
	buildNumber int
	jobPath     string
)

func init() {
	for _, cmd := range []*cobra.Command{publishCmd, previewCmd} {
		cmd.Flags().IntVarP(&buildNumber, "build", "b", 0, "build number (overrides BUILD_NUMBER)")
		cmd.Flags().StringVarP(&jobPath, "job", "j", "", "job path on the CI server, e.g. job/demo/")
	}
}

// publishCmd runs the full pipeline for one build.
var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Build and publish the report for a CI build",
	Long: `Run the report pipeline for one build: validate integrations, fetch
the build's changeset, wait for the analysis report, fetch new and fixed
issues, resolve duplications, assemble and publish.

A build is published at most once; a second run for a published build fails.
The guard lasts only as long as the ledger: with the default in-memory ledger
every invocation starts empty. Set ledger.dsn (or ledger.driver: postgres) to
keep it across runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sys, err := newSystem(ctx, cmd)
		if err != nil {
			return err
		}
		defer sys.Close()

		result, err := sys.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Published report for %s (run %s): %d commits, %d issues, %d duplications\n",
			sys.Target().BuildKey, result.RunID, len(result.Report.Items), len(result.Report.Issues), len(result.Report.Duplications))
		return nil
	},
}

// previewCmd assembles the report without publishing it.
var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Assemble the report for a CI build and print it without publishing",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sys, err := newSystem(ctx, cmd)
		if err != nil {
			return err
		}
		defer sys.Close()

		rep, err := sys.Preview(ctx)
		if err != nil {
			return err
		}

		data, err := report.Marshal(rep)
		if err != nil {
			return err
		}
		var out bytes.Buffer
		if err := json.Indent(&out, data, "", "  "); err != nil {
			return err
		}
		out.WriteByte('\n')
		_, err = out.WriteTo(cmd.OutOrStdout())
		return err
	},
}

func newSystem(ctx context.Context, cmd *cobra.Command) (*pipeline.System, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("build") {
		cfg.CI.BuildNumber = buildNumber
	}
	if cmd.Flags().Changed("job") {
		cfg.CI.JobPath = jobPath
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	return pipeline.NewFromConfig(ctx, cfg, newLogger(cfg))
}
