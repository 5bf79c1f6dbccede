package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyluth/hive/internal/node"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a hive node until interrupted",
	Long: `Run a hive node: join the swarm, exchange heartbeats and knowledge,
answer peers' healing requests and escalate its own.

The node stops on SIGINT or SIGTERM, saving a final knowledge snapshot if a
snapshot backend is configured.

Examples:
  # Run with a config file
  hivenode run --config node.yml

  # Run against a local Redis with a fixed node id
  HIVE_NODE_ID=1001 REDIS_URL=redis://localhost:6379 hivenode run -c node.yml`,
	Args: cobra.NoArgs,
	RunE: runNode,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runNode(cmd *cobra.Command, args []string) error {
	p := out(cmd)
	cfg, err := loadConfig(p)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := node.New(cfg, runtimeOptions...)
	if err != nil {
		return p.ErrorWithContext(
			"failed to start node",
			err.Error(),
			map[string]string{"transport": cfg.Transport.Kind, "snapshot": cfg.Snapshot.Backend},
			[]string{"Check the transport and snapshot settings in your config"},
		)
	}
	defer rt.Close()

	p.Success("Node %d joined swarm %q over %s\n", cfg.NodeID, cfg.Swarm, cfg.Transport.Kind)
	if cfg.Health.Addr != "" {
		p.Info("Health and metrics on http://%s/healthz\n", cfg.Health.Addr)
	}

	if err := rt.Run(ctx); err != nil {
		return p.Error("node stopped with an error", err.Error(), nil)
	}
	p.Success("Node %d stopped\n", cfg.NodeID)
	return nil
}
