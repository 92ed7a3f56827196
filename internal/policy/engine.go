// Package policy implements the stateless admission scorer for agent
// stream intents. Evaluate is a pure function of the turn context and the
// proposed intent; the engine itself only carries configuration.
package policy

import (
	"fmt"
	"time"

	"github.com/dyluth/drey/pkg/agentstream"
)

// Relative weight of urgency vs risk in the admission numerator.
const (
	urgencyWeight = 0.6
	riskWeight    = 0.4
)

// intentPriors are fixed per-category constants reflecting baseline
// importance: safety checks are prioritized over speculative exploration.
var intentPriors = map[agentstream.IntentType]float64{
	agentstream.IntentSafetyBlockerCheck:     1.5,
	agentstream.IntentQualityRegressionScan:  1.2,
	agentstream.IntentReadinessGate:          1.0,
	agentstream.IntentTrajectoryOptimization: 0.9,
	agentstream.IntentSpeculativeDiscovery:   0.6,
}

// pressureMultipliers increase the effective cost of a stream under load.
var pressureMultipliers = map[agentstream.Pressure]float64{
	agentstream.PressureLow:    1.0,
	agentstream.PressureMedium: 1.5,
	agentstream.PressureHigh:   2.5,
}

// Config is the externally supplied policy configuration.
type Config struct {
	AdmissionThreshold float64       // minimum score for acceptance
	MaxConcurrent      int           // concurrency ceiling for the stream manager
	DefaultTimeout     time.Duration // per-stream deadline
	LiveSpawning       bool          // global live/shadow enable flag
}

// Decision is the outcome of evaluating one intent: a normal negative
// decision carries its reason, it is not an error.
type Decision struct {
	Score    float64
	Accepted bool
	Reason   string
}

// Engine scores intents against a turn context. It never mutates either.
type Engine struct {
	cfg Config
}

// NewEngine creates a policy engine with the given configuration.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate computes the admission score
//
//	((urgency*w1 + risk*w2) * expectedValue * intentPrior)
//	/ (tokenCostUnits * contentionFactor * pressureMultiplier)
//
// with every input clamped to a safe range so the divisor can never be
// zero or negative. Speculative-discovery intents are rejected outright
// under HIGH pressure regardless of score.
func (e *Engine) Evaluate(ctx agentstream.TurnContext, intent agentstream.IntentRequest) Decision {
	urgency := clamp(intent.Urgency, 0, 1)
	risk := clamp(intent.Risk, 0, 1)
	expectedValue := clamp(intent.ExpectedValue, 0, 1)

	prior, ok := intentPriors[intent.Intent]
	if !ok {
		return Decision{Accepted: false, Reason: fmt.Sprintf("unknown intent category %q", intent.Intent)}
	}

	// Token cost in kilotoken units, floored so a free estimate cannot
	// zero the divisor.
	tokenCostUnits := clamp(float64(intent.TokenCostEstimate)/1000, 0.25, 1000)
	contention := clamp(intent.ContentionFactor, 1, 5)
	pressureMult := pressureMultipliers[ctx.Pressure]
	if pressureMult == 0 {
		pressureMult = 1.0
	}

	score := ((urgency*urgencyWeight + risk*riskWeight) * expectedValue * prior) /
		(tokenCostUnits * contention * pressureMult)

	if intent.Intent == agentstream.IntentSpeculativeDiscovery && ctx.Pressure == agentstream.PressureHigh {
		return Decision{
			Score:    score,
			Accepted: false,
			Reason:   "speculative discovery rejected under HIGH pressure",
		}
	}

	if score >= e.cfg.AdmissionThreshold {
		return Decision{
			Score:    score,
			Accepted: true,
			Reason:   fmt.Sprintf("score %.3f meets threshold %.3f", score, e.cfg.AdmissionThreshold),
		}
	}

	return Decision{
		Score:    score,
		Accepted: false,
		Reason:   fmt.Sprintf("score %.3f below threshold %.3f", score, e.cfg.AdmissionThreshold),
	}
}

// LiveEnabled reports whether live spawning is globally enabled.
func (e *Engine) LiveEnabled() bool {
	return e.cfg.LiveSpawning
}

// Threshold returns the configured acceptance threshold.
func (e *Engine) Threshold() float64 {
	return e.cfg.AdmissionThreshold
}

// MaxConcurrent returns the configured concurrency ceiling.
func (e *Engine) MaxConcurrent() int {
	return e.cfg.MaxConcurrent
}

// DefaultTimeout returns the configured per-stream deadline.
func (e *Engine) DefaultTimeout() time.Duration {
	return e.cfg.DefaultTimeout
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
