package healing

import (
	"fmt"
	"strings"
	"sync"
)

// Oracle evaluates problem descriptions. Implementations decide how; the
// coordination layer only relies on this contract.
type Oracle interface {
	// Evaluate returns the recommended action for a problem and the
	// oracle's confidence in it.
	Evaluate(description string) (Action, float32)

	// LocalHealth reports the node's own health in [0,1].
	LocalHealth() float32
}

// EvaluateLocally asks the oracle for a verdict on description.
// A nil oracle fails fast with ErrDependencyMissing.
func EvaluateLocally(o Oracle, description string) (Action, float32, error) {
	if o == nil {
		return ActionNone, 0, ErrDependencyMissing
	}
	action, confidence := o.Evaluate(description)
	return action, confidence, nil
}

// Rule maps a condition substring to an action.
type Rule struct {
	Condition  string  `json:"condition" yaml:"condition" toml:"condition"`
	Action     Action  `json:"action" yaml:"-" toml:"-"`
	Confidence float32 `json:"confidence" yaml:"confidence" toml:"confidence"`
	Successes  uint32  `json:"successes" yaml:"-" toml:"-"`
	Attempts   uint32  `json:"attempts" yaml:"-" toml:"-"`
}

// SuccessRate is the observed success ratio, or 0.5 before any attempt.
func (r Rule) SuccessRate() float32 {
	if r.Attempts == 0 {
		return 0.5
	}
	return float32(r.Successes) / float32(r.Attempts)
}

// Score weighs the rule's configured confidence by its track record.
func (r Rule) Score() float32 {
	return r.Confidence * r.SuccessRate()
}

// DefaultRules are the built-in healing rules every node starts with.
func DefaultRules() []Rule {
	return []Rule{
		{Condition: "timeout", Action: ActionRetry, Confidence: 0.7},
		{Condition: "connection_failed", Action: ActionReroute, Confidence: 0.8},
		{Condition: "node_failure", Action: ActionMigrate, Confidence: 0.9},
	}
}

// RuleOracle is the default Oracle: substring-matched rules scored by
// confidence times success rate. It is safe for concurrent use.
type RuleOracle struct {
	mu          sync.RWMutex
	rules       []Rule
	localHealth float32
}

// NewRuleOracle creates an oracle seeded with rules. Local health starts at 1.
// Any invalid rule fails the whole construction.
func NewRuleOracle(rules ...Rule) (*RuleOracle, error) {
	o := &RuleOracle{localHealth: 1}
	for i, r := range rules {
		if err := o.AddRule(r); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return o, nil
}

// MustNewRuleOracle is NewRuleOracle for fixed rule sets; it panics on an
// invalid rule.
func MustNewRuleOracle(rules ...Rule) *RuleOracle {
	o, err := NewRuleOracle(rules...)
	if err != nil {
		panic(err)
	}
	return o
}

// AddRule registers a rule. Newer rules win ties against older ones.
func (o *RuleOracle) AddRule(r Rule) error {
	if strings.TrimSpace(r.Condition) == "" {
		return fmt.Errorf("healing: rule condition cannot be empty")
	}
	if err := r.Action.Validate(); err != nil {
		return err
	}
	if !(r.Confidence >= 0 && r.Confidence <= 1) {
		return fmt.Errorf("healing: rule %q confidence %v outside [0,1]", r.Condition, r.Confidence)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rules = append([]Rule{r}, o.rules...)
	return nil
}

// Rules returns a copy of the registered rules, newest first.
func (o *RuleOracle) Rules() []Rule {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Rule, len(o.rules))
	copy(out, o.rules)
	return out
}

// Evaluate picks the best-scoring rule whose condition occurs in the
// description. With no applicable rule it returns ActionRetry at zero confidence.
func (o *RuleOracle) Evaluate(description string) (Action, float32) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	best := -1
	var bestScore float32
	for i, r := range o.rules {
		if !strings.Contains(description, r.Condition) {
			continue
		}
		if score := r.Score(); score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return ActionRetry, 0
	}
	return o.rules[best].Action, bestScore
}

// RecordOutcome feeds the result of executing action for description back
// into the first matching rule that recommends it. Returns false when no
// rule matched.
func (o *RuleOracle) RecordOutcome(description string, action Action, success bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.rules {
		r := &o.rules[i]
		if r.Action != action || !strings.Contains(description, r.Condition) {
			continue
		}
		r.Attempts++
		if success {
			r.Successes++
		}
		return true
	}
	return false
}

// LocalHealth implements Oracle.
func (o *RuleOracle) LocalHealth() float32 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.localHealth
}

// SetLocalHealth records the node's own health, clamped to [0,1].
func (o *RuleOracle) SetLocalHealth(h float32) {
	switch {
	case h < 0 || h != h:
		h = 0
	case h > 1:
		h = 1
	}
	o.mu.Lock()
	o.localHealth = h
	o.mu.Unlock()
}
