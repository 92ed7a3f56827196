// Package scheduler turns a batch of candidate intents into deterministic,
// sequenced spawn plans using the policy engine. Two schedulers given
// identical inputs and policy decisions produce byte-identical plan batches
// except for wall-clock timestamps.
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dyluth/drey/internal/policy"
	"github.com/dyluth/drey/pkg/agentstream"
)

// Token budget derivation from the intent's cost estimate.
const (
	tokenBudgetMultiplier = 1.2
	tokenBudgetFloor      = 500
)

// Scheduler produces ordered spawn plans. Sequence counters are scoped per
// run id and strictly increase across repeated calls, so stream-id suffixes
// within a run are stable and never reused.
type Scheduler struct {
	policy *policy.Engine
	logger *zap.Logger

	mu        sync.Mutex
	sequences map[string]uint64 // run id -> last issued sequence number
}

// New creates a scheduler over the given policy engine.
// A nil logger is replaced with a no-op logger.
func New(p *policy.Engine, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		policy:    p,
		logger:    logger,
		sequences: make(map[string]uint64),
	}
}

// Plan evaluates each intent against the policy engine and returns spawn
// plans sorted by score descending, ties broken by ascending sequence
// number (first proposed wins).
//
// The first candidate agent of each intent is selected; ordering within
// CandidateAgents is the caller's responsibility. Invalid intents are
// skipped with a log line rather than failing the batch.
//
// In SHADOW mode (live spawning globally disabled) every plan's
// ExecutionAccepted is forced false with a reason naming SHADOW mode,
// while PolicyAccepted still reflects the policy engine's true verdict.
// In LIVE mode ExecutionAccepted equals PolicyAccepted.
func (s *Scheduler) Plan(ctx agentstream.TurnContext, intents []agentstream.IntentRequest) []agentstream.SpawnPlan {
	mode := agentstream.ModeShadow
	if s.policy.LiveEnabled() {
		mode = agentstream.ModeLive
	}

	plans := make([]agentstream.SpawnPlan, 0, len(intents))
	for _, intent := range intents {
		if err := intent.Validate(); err != nil {
			s.logger.Warn("skipping invalid intent", zap.Error(err))
			continue
		}

		agentID := intent.CandidateAgents[0]
		seq := s.nextSequence(ctx.RunID)
		decision := s.policy.Evaluate(ctx, intent)

		plan := agentstream.SpawnPlan{
			StreamID:       agentstream.StreamID(ctx.RunID, agentID, seq),
			RunID:          ctx.RunID,
			AgentID:        agentID,
			Sequence:       seq,
			Intent:         intent.Intent,
			Score:          decision.Score,
			PolicyAccepted: decision.Accepted,
			TokenBudget:    tokenBudget(intent.TokenCostEstimate),
			Timeout:        s.policy.DefaultTimeout(),
			Mode:           mode,
			CreatedAt:      time.Now().UTC(),
		}

		switch {
		case mode == agentstream.ModeShadow:
			plan.ExecutionAccepted = false
			plan.Reason = fmt.Sprintf("SHADOW mode: execution disabled (policy: %s)", decision.Reason)
		case decision.Accepted:
			plan.ExecutionAccepted = true
			plan.Reason = fmt.Sprintf("Execution admitted (%s)", decision.Reason)
		default:
			plan.ExecutionAccepted = false
			plan.Reason = decision.Reason
		}

		s.logger.Debug("spawn plan produced",
			zap.String("stream_id", plan.StreamID),
			zap.String("intent", string(plan.Intent)),
			zap.Float64("score", plan.Score),
			zap.Bool("policy_accepted", plan.PolicyAccepted),
			zap.Bool("execution_accepted", plan.ExecutionAccepted))

		plans = append(plans, plan)
	}

	sort.Slice(plans, func(i, j int) bool {
		if plans[i].Score != plans[j].Score {
			return plans[i].Score > plans[j].Score
		}
		return plans[i].Sequence < plans[j].Sequence
	})

	return plans
}

// nextSequence issues the next strictly increasing sequence number for a
// run. Numbers start at 1 and are never reused.
func (s *Scheduler) nextSequence(runID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[runID]++
	return s.sequences[runID]
}

// ReleaseRun drops the sequence counter for a finished run so counters do
// not accumulate across a long session.
func (s *Scheduler) ReleaseRun(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sequences, runID)
}

func tokenBudget(estimate int) int {
	budget := int(float64(estimate) * tokenBudgetMultiplier)
	if budget < tokenBudgetFloor {
		budget = tokenBudgetFloor
	}
	return budget
}
