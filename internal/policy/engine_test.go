package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dyluth/drey/pkg/agentstream"
)

func testConfig() Config {
	return Config{
		AdmissionThreshold: 0.45,
		MaxConcurrent:      3,
		DefaultTimeout:     45 * time.Second,
		LiveSpawning:       true,
	}
}

func lowPressureContext() agentstream.TurnContext {
	return agentstream.TurnContext{
		RunID:     "11111111-1111-1111-1111-111111111111",
		FlowState: 50,
		Pressure:  agentstream.PressureLow,
	}
}

// TestEvaluateScoreFormula tests the admission score against hand-computed values
func TestEvaluateScoreFormula(t *testing.T) {
	e := NewEngine(testConfig())

	intent := agentstream.IntentRequest{
		Intent:            agentstream.IntentSafetyBlockerCheck,
		CandidateAgents:   []string{"warden"},
		Urgency:           0.9,
		Risk:              0.8,
		ExpectedValue:     0.7,
		TokenCostEstimate: 1000,
		ContentionFactor:  1.0,
	}

	d := e.Evaluate(lowPressureContext(), intent)
	// ((0.9*0.6 + 0.8*0.4) * 0.7 * 1.5) / (1.0 * 1.0 * 1.0)
	assert.InDelta(t, 0.903, d.Score, 1e-9)
	assert.True(t, d.Accepted)
	assert.Contains(t, d.Reason, "meets threshold")
}

// TestEvaluatePressureDampensScore tests that the divisor grows with pressure
func TestEvaluatePressureDampensScore(t *testing.T) {
	e := NewEngine(testConfig())
	intent := agentstream.IntentRequest{
		Intent:            agentstream.IntentReadinessGate,
		CandidateAgents:   []string{"gatekeeper"},
		Urgency:           1.0,
		Risk:              1.0,
		ExpectedValue:     1.0,
		TokenCostEstimate: 1000,
		ContentionFactor:  1.0,
	}

	ctx := lowPressureContext()
	low := e.Evaluate(ctx, intent).Score

	ctx.Pressure = agentstream.PressureMedium
	medium := e.Evaluate(ctx, intent).Score

	ctx.Pressure = agentstream.PressureHigh
	high := e.Evaluate(ctx, intent).Score

	assert.InDelta(t, low/1.5, medium, 1e-9)
	assert.InDelta(t, low/2.5, high, 1e-9)
}

// TestEvaluateSpeculativeVetoUnderHighPressure tests the unconditional rejection rule
func TestEvaluateSpeculativeVetoUnderHighPressure(t *testing.T) {
	e := NewEngine(Config{AdmissionThreshold: 0.0, LiveSpawning: true})

	intent := agentstream.IntentRequest{
		Intent:            agentstream.IntentSpeculativeDiscovery,
		CandidateAgents:   []string{"scout"},
		Urgency:           1.0,
		Risk:              1.0,
		ExpectedValue:     1.0,
		TokenCostEstimate: 100,
		ContentionFactor:  1.0,
	}

	ctx := lowPressureContext()
	ctx.Pressure = agentstream.PressureHigh

	d := e.Evaluate(ctx, intent)
	assert.False(t, d.Accepted, "speculative discovery is rejected under HIGH pressure even with a zero threshold")
	assert.Contains(t, d.Reason, "HIGH pressure")

	// The same intent is scoreable under lower pressure.
	ctx.Pressure = agentstream.PressureMedium
	assert.True(t, e.Evaluate(ctx, intent).Accepted)
}

// TestEvaluateInputClamps tests that hostile inputs cannot zero or invert the score
func TestEvaluateInputClamps(t *testing.T) {
	e := NewEngine(testConfig())

	intent := agentstream.IntentRequest{
		Intent:            agentstream.IntentQualityRegressionScan,
		CandidateAgents:   []string{"scanner"},
		Urgency:           7.0,  // clamped to 1
		Risk:              -3.0, // clamped to 0
		ExpectedValue:     2.0,  // clamped to 1
		TokenCostEstimate: 0,    // floored to 0.25 kilotokens
		ContentionFactor:  0,    // floored to 1
	}

	d := e.Evaluate(lowPressureContext(), intent)
	// ((1*0.6 + 0*0.4) * 1 * 1.2) / (0.25 * 1 * 1)
	assert.InDelta(t, 2.88, d.Score, 1e-9)
	assert.False(t, d.Score < 0)

	intent.ContentionFactor = 99 // clamped to 5
	d = e.Evaluate(lowPressureContext(), intent)
	assert.InDelta(t, 2.88/5, d.Score, 1e-9)
}

// TestEvaluateBelowThreshold tests the rejection reason
func TestEvaluateBelowThreshold(t *testing.T) {
	e := NewEngine(testConfig())

	intent := agentstream.IntentRequest{
		Intent:            agentstream.IntentSpeculativeDiscovery,
		CandidateAgents:   []string{"scout"},
		Urgency:           0.2,
		Risk:              0.1,
		ExpectedValue:     0.3,
		TokenCostEstimate: 5000,
		ContentionFactor:  2.0,
	}

	d := e.Evaluate(lowPressureContext(), intent)
	assert.False(t, d.Accepted)
	assert.Contains(t, d.Reason, "below threshold")
}

// TestEngineAccessors tests the configuration passthroughs
func TestEngineAccessors(t *testing.T) {
	cfg := testConfig()
	e := NewEngine(cfg)

	assert.True(t, e.LiveEnabled())
	assert.Equal(t, 0.45, e.Threshold())
	assert.Equal(t, 3, e.MaxConcurrent())
	assert.Equal(t, 45*time.Second, e.DefaultTimeout())
}
