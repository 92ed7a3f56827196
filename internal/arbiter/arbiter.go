// Package arbiter reconciles the envelopes produced by concurrently
// completed streams into one accepted set: duplicate-agent collisions are
// resolved by confidence, and blocking findings dominate advisory ones so
// a critical safety finding always outranks a routine readiness signal.
package arbiter

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dyluth/drey/pkg/agentstream"
)

// Rejection pairs a rejected envelope with the reason it lost arbitration.
type Rejection struct {
	Envelope agentstream.Envelope
	Reason   string
}

// Result is the outcome of one arbitration batch. Accepted plus rejected
// always account for every staged envelope.
type Result struct {
	Accepted []agentstream.Envelope
	Rejected []Rejection
}

// Arbiter accumulates envelopes into a pending batch and resolves the
// batch exactly once per Evaluate call.
type Arbiter struct {
	mu     sync.Mutex
	staged []agentstream.Envelope
	logger *zap.Logger
}

// New creates an arbiter. A nil logger is replaced with a no-op logger.
func New(logger *zap.Logger) *Arbiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Arbiter{logger: logger}
}

// Stage adds an envelope to the pending batch.
func (a *Arbiter) Stage(env agentstream.Envelope) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.staged = append(a.staged, env)
}

// StagedCount returns the number of envelopes in the pending batch.
func (a *Arbiter) StagedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.staged)
}

// Evaluate resolves the pending batch and clears it.
//
// Resolution rules, in order:
//  1. Collision: envelopes sharing agent and intent keep only the highest
//     confidence one; on equal confidence the first staged survives.
//  2. Dominance: if any survivor carries blocking conditions, the blocking
//     envelope with the earliest creation time is kept ("first reported");
//     equal timestamps fall back to higher confidence, then stage order.
//     Every other envelope in the batch is rejected.
//  3. Otherwise all surviving envelopes are accepted.
func (a *Arbiter) Evaluate() Result {
	a.mu.Lock()
	staged := a.staged
	a.staged = nil
	a.mu.Unlock()

	var result Result
	if len(staged) == 0 {
		return result
	}

	// Rule 1: duplicate agent+intent collisions.
	type collisionKey struct {
		agent  string
		intent agentstream.IntentType
	}
	winners := make(map[collisionKey]int, len(staged))
	rejected := make(map[int]string, len(staged))

	for i, env := range staged {
		key := collisionKey{env.AgentID, env.Intent}
		prev, seen := winners[key]
		if !seen {
			winners[key] = i
			continue
		}
		if env.Confidence > staged[prev].Confidence {
			rejected[prev] = duplicateReason(env.StreamID)
			winners[key] = i
		} else {
			rejected[i] = duplicateReason(staged[prev].StreamID)
		}
	}

	// Rule 2: blocking dominance among survivors.
	dominant := -1
	for i, env := range staged {
		if _, lost := rejected[i]; lost || !env.Blocking() {
			continue
		}
		if dominant == -1 || blocksBefore(env, staged[dominant]) {
			dominant = i
		}
	}

	if dominant != -1 {
		for i := range staged {
			if i == dominant {
				continue
			}
			if _, lost := rejected[i]; lost {
				continue
			}
			rejected[i] = fmt.Sprintf("dominated by blocking envelope from stream %s", staged[dominant].StreamID)
		}
		a.logger.Info("blocking envelope dominates batch",
			zap.String("stream_id", staged[dominant].StreamID),
			zap.Strings("blocking_conditions", staged[dominant].BlockingConditions))
	}

	for i, env := range staged {
		if reason, lost := rejected[i]; lost {
			result.Rejected = append(result.Rejected, Rejection{Envelope: env, Reason: reason})
		} else {
			result.Accepted = append(result.Accepted, env)
		}
	}

	a.logger.Debug("arbitration complete",
		zap.Int("staged", len(staged)),
		zap.Int("accepted", len(result.Accepted)),
		zap.Int("rejected", len(result.Rejected)))

	return result
}

// blocksBefore reports whether candidate should dominate over current:
// earliest created first, then higher confidence. Stage order breaks the
// final tie because the incumbent is only replaced on a strict win.
func blocksBefore(candidate, current agentstream.Envelope) bool {
	if !candidate.CreatedAt.Equal(current.CreatedAt) {
		return candidate.CreatedAt.Before(current.CreatedAt)
	}
	return candidate.Confidence > current.Confidence
}

func duplicateReason(winnerStreamID string) string {
	return fmt.Sprintf("duplicate agent+intent: lower confidence than stream %s", winnerStreamID)
}
