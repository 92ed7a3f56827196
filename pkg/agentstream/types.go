// Package agentstream provides the type-safe vocabulary shared by the Drey
// control plane. Auxiliary agent streams are proposed as intents, admitted
// as spawn plans, tracked as handles, and reconciled as envelopes - every
// component speaks these types and nothing else.
package agentstream

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IntentType classifies why an auxiliary agent stream would be spawned.
// The category carries a fixed prior in admission scoring: safety checks
// are prioritized over speculative exploration.
type IntentType string

const (
	// IntentSafetyBlockerCheck verifies nothing in flight is about to break the run
	IntentSafetyBlockerCheck IntentType = "safety_blocker_check"

	// IntentQualityRegressionScan looks for quality regressions in recent edits
	IntentQualityRegressionScan IntentType = "quality_regression_scan"

	// IntentReadinessGate checks whether the turn's output is ready to land
	IntentReadinessGate IntentType = "readiness_gate"

	// IntentTrajectoryOptimization evaluates whether the current approach is still the best one
	IntentTrajectoryOptimization IntentType = "trajectory_optimization"

	// IntentSpeculativeDiscovery explores adjacent ideas that may or may not pay off
	IntentSpeculativeDiscovery IntentType = "speculative_discovery"
)

// Validate checks if the IntentType is a valid enum value.
func (it IntentType) Validate() error {
	switch it {
	case IntentSafetyBlockerCheck, IntentQualityRegressionScan, IntentReadinessGate,
		IntentTrajectoryOptimization, IntentSpeculativeDiscovery:
		return nil
	default:
		return fmt.Errorf("unknown intent type: %q", it)
	}
}

// Critical reports whether streams of this intent survive pressure shedding.
// Safety and quality scans are never shed; everything else is sheddable.
func (it IntentType) Critical() bool {
	return it == IntentSafetyBlockerCheck || it == IntentQualityRegressionScan
}

// Pressure is a coarse system-load signal that dampens admission scores and
// triggers stream shedding.
type Pressure string

const (
	PressureLow    Pressure = "LOW"
	PressureMedium Pressure = "MEDIUM"
	PressureHigh   Pressure = "HIGH"
)

// Validate checks if the Pressure is a valid enum value.
func (p Pressure) Validate() error {
	switch p {
	case PressureLow, PressureMedium, PressureHigh:
		return nil
	default:
		return fmt.Errorf("unknown pressure level: %q", p)
	}
}

// StreamMode distinguishes scored-only planning from execution-enabled planning.
type StreamMode string

const (
	// ModeShadow scores and logs decisions but never spawns work
	ModeShadow StreamMode = "SHADOW"

	// ModeLive allows admitted plans to actually spawn streams
	ModeLive StreamMode = "LIVE"
)

// StreamStatus is the lifecycle state of an agent stream handle.
// RUNNING is the only non-terminal state; the four terminal states are
// absorbing and no transition out of them is permitted.
type StreamStatus string

const (
	StatusRunning   StreamStatus = "RUNNING"
	StatusCompleted StreamStatus = "COMPLETED"
	StatusFailed    StreamStatus = "FAILED"
	StatusCancelled StreamStatus = "CANCELLED"
	StatusTimedOut  StreamStatus = "TIMED_OUT"
)

// Validate checks if the StreamStatus is a valid enum value.
func (s StreamStatus) Validate() error {
	switch s {
	case StatusRunning, StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return nil
	default:
		return fmt.Errorf("unknown stream status: %q", s)
	}
}

// Terminal reports whether the status is absorbing.
func (s StreamStatus) Terminal() bool {
	return s != StatusRunning
}

// TurnContext is the immutable per-turn snapshot the engine hands to the
// control plane. Created once per turn; read-only to every component.
type TurnContext struct {
	RunID             string   `json:"run_id"`             // UUID identifying the run this turn belongs to
	FlowState         float64  `json:"flow_state"`         // Running health/momentum score, 0-100
	ErrorCount        int      `json:"error_count"`        // Errors observed so far this run
	HotspotCount      int      `json:"hotspot_count"`      // Files repeatedly producing errors
	PendingObjectives int      `json:"pending_objectives"` // Objectives still open this run
	Pressure          Pressure `json:"pressure"`           // Coarse system load signal
}

// Validate checks if the TurnContext has valid field values.
func (tc *TurnContext) Validate() error {
	if !isValidUUID(tc.RunID) {
		return fmt.Errorf("invalid run ID: not a valid UUID")
	}

	if tc.FlowState < 0 || tc.FlowState > 100 {
		return fmt.Errorf("flow state must be in [0,100], got %g", tc.FlowState)
	}

	if tc.ErrorCount < 0 || tc.HotspotCount < 0 || tc.PendingObjectives < 0 {
		return fmt.Errorf("counts cannot be negative")
	}

	if err := tc.Pressure.Validate(); err != nil {
		return fmt.Errorf("invalid pressure: %w", err)
	}

	return nil
}

// IntentRequest is a proposal to spawn one auxiliary agent stream.
// Ephemeral - produced by the engine each turn and consumed by the scheduler.
type IntentRequest struct {
	Intent            IntentType `json:"intent"`              // Category of reason for spawning
	CandidateAgents   []string   `json:"candidate_agents"`    // Ranked agent identifiers; first is chosen
	Urgency           float64    `json:"urgency"`             // 0-1, how time-sensitive the check is
	Risk              float64    `json:"risk"`                // 0-1, how much is at stake if skipped
	ExpectedValue     float64    `json:"expected_value"`      // 0-1, likelihood the stream produces a usable finding
	TokenCostEstimate int        `json:"token_cost_estimate"` // Estimated tokens the stream will consume
	ContentionFactor  float64    `json:"contention_factor"`   // >=1, how much the stream competes for shared resources
}

// Validate checks if the IntentRequest has valid field values.
func (r *IntentRequest) Validate() error {
	if err := r.Intent.Validate(); err != nil {
		return fmt.Errorf("invalid intent: %w", err)
	}

	if len(r.CandidateAgents) == 0 {
		return fmt.Errorf("intent %s has no candidate agents", r.Intent)
	}

	for i, agent := range r.CandidateAgents {
		if agent == "" {
			return fmt.Errorf("candidate agent at index %d is empty", i)
		}
	}

	if r.TokenCostEstimate < 0 {
		return fmt.Errorf("token cost estimate cannot be negative, got %d", r.TokenCostEstimate)
	}

	return nil
}

// SpawnPlan is the scheduler's decision record for one candidate stream.
// Immutable once produced; consumed exactly once by the stream manager.
//
// PolicyAccepted reflects the policy engine's true verdict regardless of
// mode. ExecutionAccepted additionally requires LIVE mode - in SHADOW mode
// it is always false, which lets operators observe what the engine would
// have done without spawning work.
type SpawnPlan struct {
	StreamID          string        `json:"stream_id"`          // {run_id}_{agent_id}_{sequence}, unique within the run
	RunID             string        `json:"run_id"`             // Run this plan belongs to
	AgentID           string        `json:"agent_id"`           // Chosen agent (first candidate)
	Sequence          uint64        `json:"sequence"`           // Per-run monotonic sequence number, never reused
	Intent            IntentType    `json:"intent"`             // Originating intent category
	Score             float64       `json:"score"`              // Admission score from the policy engine
	PolicyAccepted    bool          `json:"policy_accepted"`    // Policy engine verdict
	ExecutionAccepted bool          `json:"execution_accepted"` // Policy accepted AND live mode AND not pressure-vetoed
	Reason            string        `json:"reason"`             // Human-readable admission reason
	TokenBudget       int           `json:"token_budget"`       // Tokens the stream may spend
	Timeout           time.Duration `json:"timeout"`            // Per-stream deadline
	Mode              StreamMode    `json:"mode"`               // SHADOW or LIVE
	CreatedAt         time.Time     `json:"created_at"`         // Wall-clock planning time
}

// Envelope is the structured payload produced by a completed agent stream,
// subject to merge arbitration. A non-empty BlockingConditions list makes
// the envelope dominate all non-blocking envelopes in its batch.
type Envelope struct {
	StreamID           string     `json:"stream_id"`                     // Stream that produced this envelope
	AgentID            string     `json:"agent_id"`                      // Agent that produced this envelope
	Intent             IntentType `json:"intent"`                        // Intent the stream was spawned for
	Decision           string     `json:"decision"`                      // Decision label, "NO_DECISION" when absent
	Confidence         float64    `json:"confidence"`                    // 0 when absent
	Evidence           []string   `json:"evidence,omitempty"`            // References backing the decision
	RecommendedActions []string   `json:"recommended_actions,omitempty"` // Actions the agent suggests
	BlockingConditions []string   `json:"blocking_conditions,omitempty"` // Non-empty means hard blocker
	Summary            string     `json:"summary,omitempty"`             // Optional one-line summary
	CreatedAt          time.Time  `json:"created_at"`                    // When the envelope was built
}

// Blocking reports whether the envelope carries any blocking condition.
func (e *Envelope) Blocking() bool {
	return len(e.BlockingConditions) > 0
}

// TerminalState records how a stream ended. Retained in a bounded cache so
// a collector racing with the deadline timer can still read the true
// outcome exactly once; evicted oldest-first and deleted on read.
type TerminalState struct {
	Status  StreamStatus `json:"status"`           // Terminal status the stream reached
	Reason  string       `json:"reason,omitempty"` // e.g. "timeout", "pressure_shed", "manual_cancel"
	EndedAt time.Time    `json:"ended_at"`         // When the terminal transition happened
}

// StreamID builds the globally unique stream identity for a plan.
// Pattern: {run_id}_{agent_id}_{sequence}
func StreamID(runID, agentID string, sequence uint64) string {
	return fmt.Sprintf("%s_%s_%d", runID, agentID, sequence)
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
