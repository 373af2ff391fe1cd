package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"buildreport-agent/src/config"
)

// validateCmd checks the configuration without contacting any server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Configuration is valid")
		fmt.Fprintf(out, "  Build:        %s\n", cfg.CI.BuildKey())
		fmt.Fprintf(out, "  Analysis:     %s (project %s)\n", cfg.Analysis.URL, cfg.Analysis.ProjectKey)
		fmt.Fprintf(out, "  Rule engine:  %s (token %s)\n", cfg.RuleEngine.URL, maskToken(cfg.RuleEngine.Token))
		fmt.Fprintf(out, "  Wait:         %s\n", describeWait(cfg.Analysis.Wait))
		fmt.Fprintf(out, "  Ledger:       %s\n", cfg.Ledger.Driver)
		fmt.Fprintf(out, "  Events:       %s\n", cfg.Events.Driver)
		return nil
	},
}

func describeWait(w config.WaitConfig) string {
	if w.Mode == config.WaitPoll {
		return fmt.Sprintf("poll every %s for up to %s", w.PollInterval, w.PollTimeout)
	}
	return fmt.Sprintf("fixed %s", w.Delay)
}

// maskToken keeps the first four characters of a token.
func maskToken(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-4)
}
