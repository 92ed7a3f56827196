package agentstream

import (
	"testing"

	"github.com/google/uuid"
)

// TestIntentTypeValidate tests that all defined intent types pass validation
func TestIntentTypeValidate(t *testing.T) {
	valid := []IntentType{
		IntentSafetyBlockerCheck,
		IntentQualityRegressionScan,
		IntentReadinessGate,
		IntentTrajectoryOptimization,
		IntentSpeculativeDiscovery,
	}
	for _, it := range valid {
		if err := it.Validate(); err != nil {
			t.Errorf("valid intent type %q failed validation: %v", it, err)
		}
	}

	if err := IntentType("coffee_run").Validate(); err == nil {
		t.Error("expected validation to fail for unknown intent type, but it passed")
	}
	if err := IntentType("").Validate(); err == nil {
		t.Error("expected validation to fail for empty intent type, but it passed")
	}
}

// TestIntentTypeCritical tests that only safety and quality intents survive shedding
func TestIntentTypeCritical(t *testing.T) {
	critical := map[IntentType]bool{
		IntentSafetyBlockerCheck:     true,
		IntentQualityRegressionScan:  true,
		IntentReadinessGate:          false,
		IntentTrajectoryOptimization: false,
		IntentSpeculativeDiscovery:   false,
	}
	for it, want := range critical {
		if got := it.Critical(); got != want {
			t.Errorf("intent %q: Critical() = %v, want %v", it, got, want)
		}
	}
}

// TestStreamStatusTerminal tests that RUNNING is the only non-terminal status
func TestStreamStatusTerminal(t *testing.T) {
	if StatusRunning.Terminal() {
		t.Error("RUNNING must not be terminal")
	}
	for _, s := range []StreamStatus{StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut} {
		if !s.Terminal() {
			t.Errorf("status %q must be terminal", s)
		}
	}
}

// TestPressureValidate tests pressure enum validation
func TestPressureValidate(t *testing.T) {
	for _, p := range []Pressure{PressureLow, PressureMedium, PressureHigh} {
		if err := p.Validate(); err != nil {
			t.Errorf("valid pressure %q failed validation: %v", p, err)
		}
	}
	if err := Pressure("EXTREME").Validate(); err == nil {
		t.Error("expected validation to fail for unknown pressure, but it passed")
	}
}

// TestTurnContextValidate_Valid tests that a well-formed turn context passes validation
func TestTurnContextValidate_Valid(t *testing.T) {
	tc := &TurnContext{
		RunID:             uuid.New().String(),
		FlowState:         62.5,
		ErrorCount:        1,
		HotspotCount:      0,
		PendingObjectives: 3,
		Pressure:          PressureLow,
	}
	if err := tc.Validate(); err != nil {
		t.Errorf("valid turn context failed validation: %v", err)
	}
}

// TestTurnContextValidate_Invalid tests each rejection path of turn context validation
func TestTurnContextValidate_Invalid(t *testing.T) {
	base := func() TurnContext {
		return TurnContext{
			RunID:     uuid.New().String(),
			FlowState: 50,
			Pressure:  PressureMedium,
		}
	}

	tc := base()
	tc.RunID = "not-a-uuid"
	if err := tc.Validate(); err == nil {
		t.Error("expected validation to fail for non-UUID run ID, but it passed")
	}

	tc = base()
	tc.FlowState = 101
	if err := tc.Validate(); err == nil {
		t.Error("expected validation to fail for flow state above 100, but it passed")
	}

	tc = base()
	tc.FlowState = -0.1
	if err := tc.Validate(); err == nil {
		t.Error("expected validation to fail for negative flow state, but it passed")
	}

	tc = base()
	tc.ErrorCount = -1
	if err := tc.Validate(); err == nil {
		t.Error("expected validation to fail for negative error count, but it passed")
	}

	tc = base()
	tc.Pressure = "PANIC"
	if err := tc.Validate(); err == nil {
		t.Error("expected validation to fail for unknown pressure, but it passed")
	}
}

// TestIntentRequestValidate tests intent request validation
func TestIntentRequestValidate(t *testing.T) {
	req := &IntentRequest{
		Intent:            IntentReadinessGate,
		CandidateAgents:   []string{"reviewer", "backup-reviewer"},
		Urgency:           0.7,
		Risk:              0.3,
		ExpectedValue:     0.6,
		TokenCostEstimate: 2000,
		ContentionFactor:  1.2,
	}
	if err := req.Validate(); err != nil {
		t.Errorf("valid intent request failed validation: %v", err)
	}

	req.CandidateAgents = nil
	if err := req.Validate(); err == nil {
		t.Error("expected validation to fail with no candidate agents, but it passed")
	}

	req.CandidateAgents = []string{"reviewer", ""}
	if err := req.Validate(); err == nil {
		t.Error("expected validation to fail with an empty candidate agent, but it passed")
	}

	req.CandidateAgents = []string{"reviewer"}
	req.TokenCostEstimate = -1
	if err := req.Validate(); err == nil {
		t.Error("expected validation to fail with negative token estimate, but it passed")
	}

	req.TokenCostEstimate = 0
	req.Intent = "unknown"
	if err := req.Validate(); err == nil {
		t.Error("expected validation to fail with unknown intent, but it passed")
	}
}

// TestStreamID tests the stream identity pattern
func TestStreamID(t *testing.T) {
	got := StreamID("run-1", "scout", 7)
	want := "run-1_scout_7"
	if got != want {
		t.Errorf("StreamID() = %q, want %q", got, want)
	}
}

// TestEnvelopeBlocking tests blocking detection on envelopes
func TestEnvelopeBlocking(t *testing.T) {
	env := &Envelope{StreamID: "s1"}
	if env.Blocking() {
		t.Error("envelope with no blocking conditions must not be blocking")
	}
	env.BlockingConditions = []string{"secrets committed to diff"}
	if !env.Blocking() {
		t.Error("envelope with a blocking condition must be blocking")
	}
}
