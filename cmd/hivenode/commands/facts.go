package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/hive/internal/config"
	"github.com/dyluth/hive/internal/filter"
	"github.com/dyluth/hive/internal/node"
	"github.com/dyluth/hive/internal/timespec"
	"github.com/dyluth/hive/pkg/knowledge"
)

var (
	factsNodeID   uint32
	factsSince    string
	factsUntil    string
	factsName     string
	factsKinds    []string
	factsMinTruth float32
)

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Print a node's saved knowledge",
	Long: `Print the facts in a node's latest knowledge snapshot, most important
first. Reads the snapshot backend named in the config; the node itself
does not need to be running.

Filters are ANDed together. --since and --until take a duration ago
("30m") or an RFC3339 timestamp and apply to when a fact was last updated.

Examples:
  hivenode facts -c node.yml
  hivenode facts -c node.yml --node 1002
  hivenode facts -c node.yml --name 'security_*' --since 1h
  hivenode facts -c node.yml --kind concept,evaluation --min-truth 0.7`,
	Args: cobra.NoArgs,
	RunE: runFacts,
}

func init() {
	factsCmd.Flags().Uint32Var(&factsNodeID, "node", 0, "Node whose snapshot to read (default: the config's node)")
	factsCmd.Flags().StringVar(&factsSince, "since", "", "Only facts updated after this time (e.g. 1h, 2025-10-29T13:00:00Z)")
	factsCmd.Flags().StringVar(&factsUntil, "until", "", "Only facts updated before this time")
	factsCmd.Flags().StringVar(&factsName, "name", "", "Glob pattern for the fact name")
	factsCmd.Flags().StringSliceVar(&factsKinds, "kind", nil, "Fact kinds to include (node, link, concept, predicate, evaluation)")
	factsCmd.Flags().Float32Var(&factsMinTruth, "min-truth", 0, "Lowest truth value to include")
	rootCmd.AddCommand(factsCmd)
}

func runFacts(cmd *cobra.Command, args []string) error {
	p := out(cmd)
	criteria, err := factCriteria(time.Now())
	if err != nil {
		return p.Error("invalid filter", err.Error(), nil)
	}

	cfg, err := loadConfig(p)
	if err != nil {
		return err
	}
	if cfg.Snapshot.Backend == config.SnapshotNone {
		return p.Error(
			"no snapshot backend configured",
			"This node does not save its knowledge, so there is nothing to read.",
			[]string{"Set snapshot.backend to redis or sqlite in the config"},
		)
	}

	nodeID := cfg.NodeID
	if factsNodeID != 0 {
		nodeID = factsNodeID
	}

	store, err := node.OpenSnapshots(cfg)
	if err != nil {
		return p.Error("failed to open snapshot store", err.Error(), nil)
	}
	defer store.Close()

	facts, err := store.Load(cmd.Context(), nodeID)
	if err != nil {
		return p.ErrorWithContext("failed to load snapshot", err.Error(),
			map[string]string{"node": fmt.Sprint(nodeID), "backend": cfg.Snapshot.Backend}, nil)
	}

	matched := criteria.Apply(facts)
	if criteria.HasFilters() {
		p.Info("Node %d: %d of %d facts\n", nodeID, len(matched), len(facts))
	} else {
		p.Info("Node %d: %d facts\n", nodeID, len(facts))
	}
	p.Facts(matched, time.Now())
	return nil
}

// factCriteria builds the filter from the command's flags.
func factCriteria(now time.Time) (*filter.Criteria, error) {
	since, until, err := timespec.ParseRange(factsSince, factsUntil, now)
	if err != nil {
		return nil, err
	}
	if factsMinTruth < 0 || factsMinTruth > 1 {
		return nil, fmt.Errorf("--min-truth must be in [0,1], got %v", factsMinTruth)
	}
	c := &filter.Criteria{Since: since, Until: until, NameGlob: factsName, MinTruth: factsMinTruth}
	for _, name := range factsKinds {
		k, err := knowledge.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("invalid --kind: %w", err)
		}
		c.Kinds = append(c.Kinds, k)
	}
	return c, nil
}
