// Package council implements the council state and consensus engine of the
// Drey control plane. A fixed set of council agents casts weighted,
// time-decaying votes on the execution strategy for the current turn; the
// consensus engine tallies them into one winning strategy, calibrates agent
// weights as outcomes become known, and flags oscillation when recent votes
// thrash between strategies.
//
// All council state - the vote ring, the hive memory, and the blackboard -
// is held in an explicitly constructed State passed by reference to the
// components that need it. There is no ambient global state.
package council

import (
	"fmt"
	"time"
)

// Strategy is a turn-level execution strategy the council can elect.
type Strategy string

const (
	// StrategyExecute pushes forward with the current plan
	StrategyExecute Strategy = "execute"

	// StrategyDebug stops forward progress to chase a defect
	StrategyDebug Strategy = "debug"

	// StrategyResearch gathers more context before acting
	StrategyResearch Strategy = "research"

	// StrategyHype doubles down on an approach that is working
	StrategyHype Strategy = "hype"

	// StrategyPanic backs out and stabilizes after repeated failures
	StrategyPanic Strategy = "panic"
)

// Strategies lists every strategy in a fixed order so tallies and
// tie-breaks iterate deterministically.
var Strategies = []Strategy{
	StrategyExecute,
	StrategyDebug,
	StrategyResearch,
	StrategyHype,
	StrategyPanic,
}

// Validate checks if the Strategy is a valid enum value.
func (s Strategy) Validate() error {
	switch s {
	case StrategyExecute, StrategyDebug, StrategyResearch, StrategyHype, StrategyPanic:
		return nil
	default:
		return fmt.Errorf("unknown strategy: %q", s)
	}
}

// Agent identifies one of the six council voters.
type Agent string

const (
	// AgentYolo is the founder seat. Its weight is boosted when recent run
	// health is good, dampened when it is poor, and its preferred strategy
	// wins near-ties.
	AgentYolo Agent = "yolo"

	// AgentWarden watches for safety blockers
	AgentWarden Agent = "warden"

	// AgentTracer argues for debugging when errors accumulate
	AgentTracer Agent = "tracer"

	// AgentScholar argues for research when context is thin
	AgentScholar Agent = "scholar"

	// AgentHerald amplifies momentum when the run is going well
	AgentHerald Agent = "herald"

	// AgentDoomer calls for stabilization when the run is going badly
	AgentDoomer Agent = "doomer"
)

// Members lists the fixed council membership in a stable order.
var Members = []Agent{
	AgentYolo,
	AgentWarden,
	AgentTracer,
	AgentScholar,
	AgentHerald,
	AgentDoomer,
}

// Validate checks if the Agent is one of the six council members.
func (a Agent) Validate() error {
	switch a {
	case AgentYolo, AgentWarden, AgentTracer, AgentScholar, AgentHerald, AgentDoomer:
		return nil
	default:
		return fmt.Errorf("unknown council agent: %q", a)
	}
}

// Vote is one council member's proposal for the turn's strategy.
// Votes live only in the fixed-capacity ring buffer; the oldest are
// silently overwritten.
type Vote struct {
	Agent      Agent     `json:"agent"`      // Voting council member
	Strategy   Strategy  `json:"strategy"`   // Proposed strategy
	Reason     string    `json:"reason"`     // Free-text justification
	Confidence float64   `json:"confidence"` // Voter conviction; >= the fast-path threshold short-circuits tallying
	CastAt     time.Time `json:"cast_at"`    // When the vote arrived
}

// AgentStats is a running accuracy counter for one agent, persisted across
// sessions through the store port.
type AgentStats struct {
	Attempts int `json:"attempts"` // Calibrations this agent participated in
	Hits     int `json:"hits"`     // Calibrations where the agent called the outcome correctly
}

// Accuracy returns the agent's hit rate, or 0.5 before any attempts.
func (s AgentStats) Accuracy() float64 {
	if s.Attempts == 0 {
		return 0.5
	}
	return float64(s.Hits) / float64(s.Attempts)
}

// StrategyStats is a persisted attempts/successes counter for one strategy.
type StrategyStats struct {
	Attempts  int `json:"attempts"`  // Times the strategy was elected and executed
	Successes int `json:"successes"` // Times it succeeded
}

// SuccessRate returns the strategy's historical success rate, or 0.5 before
// any attempts.
func (s StrategyStats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0.5
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// Recommendation is the most recent externally supplied strategic
// recommendation, kept on the hive memory.
type Recommendation struct {
	Strategy   Strategy          `json:"strategy"`
	Confidence float64           `json:"confidence"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// StatsSnapshot bundles the persisted counters for the store port.
// The core never performs I/O itself; adapters move snapshots in and out.
type StatsSnapshot struct {
	Agents     map[Agent]AgentStats       `json:"agents"`
	Strategies map[Strategy]StrategyStats `json:"strategies"`
}
