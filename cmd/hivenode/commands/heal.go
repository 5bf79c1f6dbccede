package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/hive/internal/config"
	"github.com/dyluth/hive/internal/node"
	"github.com/dyluth/hive/pkg/healing"
)

var (
	healProblem  string
	healSeverity float32
	healWait     time.Duration
	healOutcome  string
)

var healCmd = &cobra.Command{
	Use:   "heal",
	Short: "Ask the swarm how to heal a problem",
	Long: `Join the swarm as a short-lived node, evaluate a problem with the local
healing rules and, if the local verdict is weak, escalate it to every peer.

Responses that arrive before --wait expires are listed in arrival order.
The highest-confidence one is marked with *; the earliest wins a tie.

--outcome reports how the action the local rules pick for this problem
fared when it was last tried. It is recorded against the matching rule
before the problem is evaluated.

Examples:
  hivenode heal -c node.yml --problem "connection_failed to db-1"
  hivenode heal -c node.yml --problem "disk latency spike" --severity 0.95 --wait 5s
  hivenode heal -c node.yml --problem "node_failure on rack 4" --outcome failure`,
	Args: cobra.NoArgs,
	RunE: runHeal,
}

func init() {
	healCmd.Flags().StringVarP(&healProblem, "problem", "p", "", "Problem description (required)")
	healCmd.Flags().Float32VarP(&healSeverity, "severity", "s", 0, "Severity in [0,1] (default from config)")
	healCmd.Flags().DurationVarP(&healWait, "wait", "w", 3*time.Second, "How long to collect peer responses")
	healCmd.Flags().StringVar(&healOutcome, "outcome", "", "Result of the last attempt at the local action (success or failure)")
	healCmd.MarkFlagRequired("problem")
	rootCmd.AddCommand(healCmd)
}

func runHeal(cmd *cobra.Command, args []string) error {
	p := out(cmd)
	if healWait <= 0 {
		return p.Error("invalid --wait", fmt.Sprintf("wait must be positive, got %s", healWait), nil)
	}
	if healOutcome != "" && healOutcome != "success" && healOutcome != "failure" {
		return p.Error("invalid --outcome", fmt.Sprintf("outcome must be success or failure, got %q", healOutcome), nil)
	}

	cfg, err := loadConfig(p)
	if err != nil {
		return err
	}
	severity := cfg.Healing.Severity
	if cmd.Flags().Changed("severity") {
		severity = healSeverity
	}

	// An ephemeral identity: never clash with the long-running node that
	// shares this config, and never touch its snapshot.
	cfg.NodeID = 0
	cfg.Snapshot = config.SnapshotConfig{}
	cfg.Health.Addr = ""
	if err := cfg.Validate(); err != nil {
		return p.Error("invalid configuration", err.Error(), nil)
	}

	rt, err := node.New(cfg, runtimeOptions...)
	if err != nil {
		return p.Error("failed to join swarm", err.Error(), []string{"Check the transport settings in your config"})
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()
	stop := func() error {
		cancel()
		return <-done
	}

	if healOutcome != "" {
		tried, _ := rt.Oracle().Evaluate(healProblem)
		matched, err := rt.RecordOutcome(ctx, healProblem, tried, healOutcome == "success")
		if err != nil {
			stop()
			return p.Error("failed to record outcome", err.Error(), nil)
		}
		if matched {
			p.Info("Recorded %s of %s\n", healOutcome, tried)
		} else {
			p.Warning("No rule recommends %s for this problem, outcome not recorded\n", tried)
		}
	}

	outcome, err := rt.Heal(ctx, healProblem, severity)
	if err != nil {
		stop()
		return p.Error("healing request failed", err.Error(), nil)
	}

	p.Info("Local verdict: %s (confidence %.2f)\n", outcome.Action, outcome.Confidence)
	if !outcome.Escalated {
		p.Success("Handled locally, nothing to escalate\n")
		return stop()
	}

	p.Step("Escalated as problem %d, waiting %s for peers\n", outcome.Request.ProblemID, healWait)
	responses := collectResponses(ctx, rt.Responses(), outcome.Request.ProblemID, healWait)
	if err := stop(); err != nil {
		return p.Error("node stopped with an error", err.Error(), nil)
	}

	best := healing.Best(responses)
	p.Responses(responses, best)
	if best >= 0 {
		p.Success("Recommended: %s (node %d, confidence %.2f)\n",
			responses[best].RecommendedAction, responses[best].RespondingNode, responses[best].Confidence)
	}
	return nil
}

// collectResponses gathers responses to problemID in arrival order until
// wait elapses or ctx is done.
func collectResponses(ctx context.Context, in <-chan healing.Response, problemID uint32, wait time.Duration) []healing.Response {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	var got []healing.Response
	for {
		select {
		case r := <-in:
			if r.ProblemID == problemID {
				got = append(got, r)
			}
		case <-timer.C:
			return got
		case <-ctx.Done():
			return got
		}
	}
}
