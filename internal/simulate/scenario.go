package simulate

import (
	"context"

	"github.com/dyluth/hive/internal/hive"
	"github.com/dyluth/hive/internal/printer"
	"github.com/dyluth/hive/pkg/healing"
	"github.com/dyluth/hive/pkg/knowledge"
)

const (
	threatFact = "security_threat_detected"

	partitionProblem = "distributed_network_partitioning: connection_failed between zones"
)

// failures are the nodes taken down in the failure phase, by index, with
// the health they report on the way out.
var failures = []struct {
	index  int
	health float32
}{
	{1, 0.1},
	{2, 0.0},
}

// Report is what the scenario observed.
type Report struct {
	// Nodes holding the shared threat fact right after it was broadcast.
	Reached []uint32
	// Answers to the collective healing request, in arrival order.
	Responses []healing.Response
	// Index into Responses of the recommendation to act on, or -1.
	Best int
	// First node's network health before the failure, right after it and
	// once the failed peers have been expired.
	HealthBefore  float32
	HealthFailed  float32
	HealthExpired float32
	// Escalations during the failure that nobody answered.
	Unanswered int
	Final      []hive.State
}

// Run walks a swarm through the full scenario, printing as it goes.
func Run(ctx context.Context, s *Swarm, p *printer.Printer) (*Report, error) {
	rep := &Report{Best: -1}
	first := s.nodes[0]

	p.Step("Starting %d nodes\n", len(s.nodes))
	if err := s.rounds(ctx, s.cfg.Rounds); err != nil {
		return nil, err
	}
	rep.HealthBefore = first.Coord.State().NetworkHealth
	for _, n := range s.nodes {
		p.Info("  node %d: network health %.2f, autonomy %.1f, peers %d\n",
			n.ID, n.Coord.State().NetworkHealth, n.Coord.Autonomy(), n.Topology.Len())
	}

	if err := shareKnowledge(ctx, s, p, rep); err != nil {
		return nil, err
	}
	if err := collectiveHealing(ctx, s, p, rep); err != nil {
		return nil, err
	}
	if err := networkFailure(ctx, s, p, rep); err != nil {
		return nil, err
	}
	emergence(s, p)

	p.Step("Final system state\n")
	rep.Final = s.States()
	for _, st := range rep.Final {
		p.State(st)
	}
	p.Success("Simulation finished at %s\n", s.Now().Format("15:04:05"))
	return rep, nil
}

func (s *Swarm) rounds(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := s.Round(ctx); err != nil {
			return err
		}
	}
	return nil
}

func shareKnowledge(ctx context.Context, s *Swarm, p *printer.Printer, rep *Report) error {
	p.Step("Knowledge sharing\n")
	first := s.nodes[0]
	f, err := first.Coord.Store().Learn(knowledge.KindConcept, threatFact, 0.9, 0.95)
	if err != nil {
		return err
	}
	p.Info("  node %d detected a security threat (truth=%.2f, importance=%.2f)\n", first.ID, f.Truth, f.Importance)

	if err := first.Coord.BroadcastKnowledge(ctx, f); err != nil {
		return err
	}
	if err := s.Settle(ctx); err != nil {
		return err
	}

	for _, n := range s.nodes {
		got, ok := n.Coord.Store().Find(threatFact)
		if !ok {
			p.Warning("node %d did not receive %s\n", n.ID, threatFact)
			continue
		}
		rep.Reached = append(rep.Reached, n.ID)
		if n != first {
			p.Info("  node %d received %s (truth=%.2f, confidence=%.2f)\n", n.ID, got.Name, got.Truth, got.Confidence)
		}
	}
	return s.rounds(ctx, s.cfg.Rounds)
}

func collectiveHealing(ctx context.Context, s *Swarm, p *printer.Printer, rep *Report) error {
	p.Step("Collective healing\n")
	first := s.nodes[0]
	out, err := first.Coord.CoordinateHealing(ctx, partitionProblem, 0.95)
	if err != nil {
		return err
	}
	p.Info("  node %d evaluated %q locally: %s (confidence %.2f)\n", first.ID, partitionProblem, out.Action, out.Confidence)
	if !out.Escalated {
		p.Info("  handled locally\n")
		return nil
	}
	p.Info("  escalated as problem %d\n", out.Request.ProblemID)
	if err := s.Settle(ctx); err != nil {
		return err
	}

	rep.Responses = healing.ForProblem(first.Responses(), out.Request.ProblemID)
	rep.Best = healing.Best(rep.Responses)
	p.Responses(rep.Responses, rep.Best)
	if rep.Best >= 0 {
		best := rep.Responses[rep.Best]
		p.Success("Adopted %s from node %d\n", best.RecommendedAction, best.RespondingNode)
	}
	return nil
}

func networkFailure(ctx context.Context, s *Swarm, p *printer.Printer, rep *Report) error {
	p.Step("Network failure\n")
	first := s.nodes[0]
	for _, f := range failures {
		if err := s.Fail(s.nodes[f.index].ID, f.health); err != nil {
			return err
		}
	}
	rep.HealthFailed = first.Coord.State().NetworkHealth
	p.Warning("Nodes %d and %d are failing, network health dropped to %.2f\n",
		s.nodes[failures[0].index].ID, s.nodes[failures[1].index].ID, rep.HealthFailed)

	for _, problem := range []string{"node_failure", "connection_failed"} {
		out, err := first.Coord.CoordinateHealing(ctx, problem, 0.9)
		if err != nil {
			return err
		}
		if err := s.Settle(ctx); err != nil {
			return err
		}
		if !out.Escalated {
			continue
		}
		answers := healing.ForProblem(first.Responses(), out.Request.ProblemID)
		if len(answers) == 0 {
			rep.Unanswered++
		}
		p.Info("  %s: %d responses\n", problem, len(answers))
	}

	// Long enough for the survivors to notice the silence and sync on it.
	settings := hive.DefaultSettings()
	need := int((settings.PeerDeadAfter+settings.KnowledgeSyncInterval)/s.cfg.Step) + 1
	if need < s.cfg.Rounds {
		need = s.cfg.Rounds
	}
	if err := s.rounds(ctx, need); err != nil {
		return err
	}
	rep.HealthExpired = first.Coord.State().NetworkHealth
	p.Info("  after %d rounds: network health %.2f, collective score %.2f, autonomy %.1f\n",
		need, rep.HealthExpired, first.Coord.CollectiveScore(), first.Coord.Autonomy())
	return nil
}

func emergence(s *Swarm, p *printer.Printer) {
	p.Step("Emergent behavior\n")
	for _, n := range s.nodes {
		if n.down {
			continue
		}
		p.Info("  node %d: emergence %.2f, swarm health %.2f\n", n.ID, n.Coord.EmergenceFactor(), n.Coord.SwarmHealth())
	}
}
