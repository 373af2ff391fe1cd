package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"buildreport-agent/src/broker"
	"buildreport-agent/src/config"
	"buildreport-agent/src/contracts"
)

var (
	watchFromStart bool
	watchReports   bool
)

func init() {
	watchCmd.Flags().BoolVar(&watchFromStart, "from-start", false, "replay the topic from its first record")
	watchCmd.Flags().BoolVar(&watchReports, "reports", false, "tail published reports instead of run events")
}

// watchCmd tails run events from the shared event bus.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Tail run events from the event bus",
	Long: `Print run state transitions as they are emitted by publish runs on
other machines. Requires events.driver: redpanda.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Events.Driver != "redpanda" {
			return fmt.Errorf("watch needs events.driver redpanda, got %q", cfg.Events.Driver)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		b, err := broker.NewRedpandaBroker(cfg.Events.Brokers,
			broker.WithClientID(cfg.Events.ClientID),
			broker.WithConsumeFromStart(watchFromStart),
			broker.WithLogger(newLogger(cfg)),
		)
		if err != nil {
			return err
		}
		defer b.Close()

		topic := contracts.TopicRuns
		if watchReports {
			topic = contracts.TopicReports
		}

		// a fresh group per invocation so every watcher sees every record
		msgs, err := b.Subscribe(ctx, topic, "buildreport-watch-"+uuid.NewString())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for msg := range msgs {
			if watchReports {
				fmt.Fprintf(out, "%s %s\n", msg.Key, msg.Value)
				continue
			}
			var event contracts.RunEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				fmt.Fprintf(out, "%s <undecodable event: %v>\n", msg.Key, err)
				continue
			}
			line := fmt.Sprintf("%s  %-24s %-24s run=%s", event.Timestamp, event.BuildKey, event.State, event.RunID)
			if event.Reason != "" {
				line += "  reason=" + event.Reason
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}
