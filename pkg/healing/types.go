// Package healing defines the fault-healing vocabulary shared by hive nodes:
// the actions a node can take, the request/response pair exchanged when a
// node escalates a problem to its peers, and the Oracle that turns a problem
// description into a recommended action.
package healing

import (
	"errors"
	"fmt"
	"time"
)

// MaxDescriptionLen is the longest problem description, in bytes, that fits a request.
const MaxDescriptionLen = 256

var (
	// ErrDependencyMissing is returned when an operation needs an Oracle and none is configured.
	ErrDependencyMissing = errors.New("healing: oracle dependency missing")

	// ErrInvalidAction is returned for action ordinals outside the known set.
	ErrInvalidAction = errors.New("healing: invalid action")

	// ErrInvalidRequest is returned by Request.Validate.
	ErrInvalidRequest = errors.New("healing: invalid request")
)

// Action is a remedial step. Ordinals are part of the wire format.
type Action uint8

const (
	// ActionNone means no action is recommended.
	ActionNone Action = iota

	// ActionRetry repeats the failed operation. It is also the fallback when
	// no rule applies, so an escalation always carries some hint.
	ActionRetry

	// ActionReroute sends traffic along an alternative path.
	ActionReroute

	// ActionReconstruct rebuilds the failed component.
	ActionReconstruct

	// ActionMigrate moves the workload to a different node.
	ActionMigrate
)

// String returns the lower-case name of the action.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionRetry:
		return "retry"
	case ActionReroute:
		return "reroute"
	case ActionReconstruct:
		return "reconstruct"
	case ActionMigrate:
		return "migrate"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// Validate checks that the action is a known ordinal.
func (a Action) Validate() error {
	if a > ActionMigrate {
		return fmt.Errorf("%w: %d", ErrInvalidAction, uint8(a))
	}
	return nil
}

// Weak reports whether a locally chosen action is inconclusive enough to
// warrant asking peers for help.
func (a Action) Weak() bool {
	return a == ActionNone || a == ActionRetry
}

// ParseAction maps an action name back to its ordinal.
func ParseAction(s string) (Action, error) {
	for a := ActionNone; a <= ActionMigrate; a++ {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// Request asks peers to evaluate a problem the requesting node could not
// resolve confidently on its own.
type Request struct {
	ProblemID       uint32    `json:"problem_id"`
	Description     string    `json:"description"`
	Severity        float32   `json:"severity"` // In [0,1]
	RequestingNode  uint32    `json:"requesting_node"`
	RequestedAt     time.Time `json:"requested_at"`
	SuggestedAction Action    `json:"suggested_action"` // The requester's own weak verdict
}

// Validate checks description length, severity range and action.
func (r *Request) Validate() error {
	if r.Description == "" {
		return fmt.Errorf("%w: empty description", ErrInvalidRequest)
	}
	if len(r.Description) > MaxDescriptionLen {
		return fmt.Errorf("%w: description is %d bytes, limit %d", ErrInvalidRequest, len(r.Description), MaxDescriptionLen)
	}
	if !(r.Severity >= 0 && r.Severity <= 1) {
		return fmt.Errorf("%w: severity %v outside [0,1]", ErrInvalidRequest, r.Severity)
	}
	if err := r.SuggestedAction.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Response is one peer's recommendation for a Request.
type Response struct {
	ProblemID         uint32  `json:"problem_id"`
	RespondingNode    uint32  `json:"responding_node"`
	RecommendedAction Action  `json:"recommended_action"`
	Confidence        float32 `json:"confidence"`
}

// Outcome summarises what CoordinateHealing did with a problem.
type Outcome struct {
	Action     Action   // Locally evaluated action
	Confidence float32  // Oracle confidence for Action
	Escalated  bool     // True when a Request was broadcast to peers
	Request    *Request // The broadcast request, nil unless Escalated
}
