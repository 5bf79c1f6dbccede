package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dyluth/hive/internal/node"
	"github.com/dyluth/hive/internal/transport"
	"github.com/dyluth/hive/internal/watch"
)

var (
	watchOutputFormat string
	watchAs           uint32

	// watchBus replaces the configured transport in tests.
	watchBus transport.Bus
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor swarm traffic in real time",
	Long: `Monitor the swarm's traffic as it happens.

The watcher subscribes like a node that never speaks, so it sees every
broadcast (heartbeats, knowledge shares, healing requests, emergency
signals) but not unicast healing responses between other nodes.

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch the swarm named in node.yml
  hivenode watch -c node.yml

  # Export events as JSON
  hivenode watch -c node.yml --output=json > events.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().Uint32Var(&watchAs, "as", 0, "Node id to subscribe as (default: random)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	p := out(cmd)

	format := watch.OutputFormat(watchOutputFormat)
	switch format {
	case watch.OutputFormatDefault, watch.OutputFormatJSON:
	default:
		return p.Error(
			"invalid output format",
			"Unknown format: "+watchOutputFormat,
			[]string{"Valid formats: default, json"},
		)
	}

	cfg, err := loadConfig(p)
	if err != nil {
		return err
	}

	bus := watchBus
	if bus == nil {
		bus, err = node.OpenBus(cfg)
		if err != nil {
			return p.Error("failed to connect to swarm", err.Error(), []string{"Check the transport settings in your config"})
		}
		defer bus.Close()
	}

	id := watchAs
	for id == 0 {
		id = uuid.New().ID()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub, err := bus.Subscribe(ctx, id)
	if err != nil {
		return p.Error("failed to subscribe", err.Error(), nil)
	}
	defer sub.Close()

	if format == watch.OutputFormatDefault {
		p.Success("Watching swarm %q over %s (as node %d)\n", cfg.Swarm, cfg.Transport.Kind, id)
	}
	return watch.Stream(ctx, sub, cmd.OutOrStdout(), format)
}
