package council

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EntropyAlertKey is the blackboard key flagged while recent votes are
// thrashing between strategies.
const EntropyAlertKey = "council:entropy_alert"

// entropyWindow is how many trailing votes the oscillation score considers.
const entropyWindow = 3

// Policy holds the tunable consensus parameters. The founder tie-break
// epsilon and multipliers are product policy, not algorithmic constants,
// so they are configured rather than hard-coded.
type Policy struct {
	// FastPathConfidence short-circuits tallying when the single most
	// recent vote meets it.
	FastPathConfidence float64 `yaml:"fast_path_confidence"`

	// StalenessWindow is the age beyond which a vote's weight decays.
	StalenessWindow time.Duration `yaml:"staleness_window"`

	// StalenessDecay multiplies the weight of stale votes.
	StalenessDecay float64 `yaml:"staleness_decay"`

	// TieEpsilon is the weight difference under which the founder's
	// preferred strategy wins a near-tie.
	TieEpsilon float64 `yaml:"tie_epsilon"`

	// FounderHealthyBoost multiplies the founder's weight when recent run
	// health is good.
	FounderHealthyBoost float64 `yaml:"founder_healthy_boost"`

	// FounderShakyDampen multiplies the founder's weight when recent run
	// health is poor. Dampened, never eliminated.
	FounderShakyDampen float64 `yaml:"founder_shaky_dampen"`

	// FailurePenalty multiplies the weight of votes for a strategy the
	// failure predictor flags as likely to fail again.
	FailurePenalty float64 `yaml:"failure_penalty"`

	// BaselineWeight is every agent's starting weight and the reset value
	// when a calibration would produce a non-finite weight.
	BaselineWeight float64 `yaml:"baseline_weight"`

	// MinWeight and MaxWeight clamp calibrated weights.
	MinWeight float64 `yaml:"min_weight"`
	MaxWeight float64 `yaml:"max_weight"`
}

// DefaultPolicy returns the consensus parameters used when none are
// configured.
func DefaultPolicy() Policy {
	return Policy{
		FastPathConfidence:  1.8,
		StalenessWindow:     30 * time.Second,
		StalenessDecay:      0.5,
		TieEpsilon:          0.15,
		FounderHealthyBoost: 1.5,
		FounderShakyDampen:  0.6,
		FailurePenalty:      0.2,
		BaselineWeight:      1.0,
		MinWeight:           0.25,
		MaxWeight:           3.0,
	}
}

// FailurePredictor reports whether a candidate strategy is likely to fail
// again, based on recovery-pattern statistics the caller owns.
type FailurePredictor func(Strategy) bool

// Consensus turns the vote ring into one winning strategy per turn.
//
// Votes are weighted by calibrated agent weight times confidence, adjusted
// for founder health, historical strategy success, predicted failure and
// staleness. Results are cached and only recomputed when new votes arrive.
type Consensus struct {
	mu     sync.Mutex
	state  *State
	policy Policy
	logger *zap.Logger

	weights       map[Agent]float64
	agentStats    map[Agent]AgentStats
	strategyStats map[Strategy]StrategyStats

	entropy      float64
	dirty        bool
	cachedWinner Strategy
	hasCached    bool
}

// NewConsensus creates a consensus engine over the given council state.
// A nil logger is replaced with a no-op logger.
func NewConsensus(state *State, policy Policy, logger *zap.Logger) *Consensus {
	if state == nil {
		panic("NewConsensus called with nil state")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	weights := make(map[Agent]float64, len(Members))
	for _, agent := range Members {
		weights[agent] = policy.BaselineWeight
	}

	return &Consensus{
		state:         state,
		policy:        policy,
		logger:        logger,
		weights:       weights,
		agentStats:    make(map[Agent]AgentStats),
		strategyStats: make(map[Strategy]StrategyStats),
	}
}

// RegisterVote appends a vote to the ring and recalculates the oscillation
// score over the trailing window. Three distinct strategies in the last
// three votes saturate the score at 100 and flag the entropy alert on the
// blackboard; the alert is cleared once voting settles.
func (c *Consensus) RegisterVote(agent Agent, strategy Strategy, reason string, confidence float64) error {
	if err := agent.Validate(); err != nil {
		return fmt.Errorf("invalid vote: %w", err)
	}
	if err := strategy.Validate(); err != nil {
		return fmt.Errorf("invalid vote: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Votes.Append(Vote{
		Agent:      agent,
		Strategy:   strategy,
		Reason:     reason,
		Confidence: confidence,
		CastAt:     time.Now().UTC(),
	})
	c.dirty = true

	recent := c.state.Votes.Recent(entropyWindow)
	unique := make(map[Strategy]bool, len(recent))
	for _, v := range recent {
		unique[v.Strategy] = true
	}
	c.entropy = float64(len(unique)-1) * 50
	if c.entropy > 100 {
		c.entropy = 100
	}

	if c.entropy >= 100 {
		if err := c.state.Board.Put(EntropyAlertKey, map[string]any{
			"entropy": c.entropy,
			"window":  entropyWindow,
		}); err != nil {
			c.logger.Warn("failed to flag entropy alert", zap.Error(err))
		}
	} else {
		c.state.Board.Delete(EntropyAlertKey)
	}

	c.logger.Debug("vote registered",
		zap.String("agent", string(agent)),
		zap.String("strategy", string(strategy)),
		zap.Float64("confidence", confidence),
		zap.Float64("entropy", c.entropy))

	return nil
}

// Entropy returns the current oscillation score in [0,100].
func (c *Consensus) Entropy() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entropy
}

// WinningStrategy computes the current consensus.
//
// Fast path: the single most recent vote wins outright when its confidence
// meets the fast-path threshold. Otherwise every ringed vote is weighted by
// calibrated agent weight x confidence, with founder health adjustment,
// strategy success-rate scaling, failure-prediction penalty and staleness
// decay, then summed per strategy. The founder's preferred strategy wins
// any near-tie within TieEpsilon. With no votes at all, execute is the
// standing default.
//
// The result is cached until new votes arrive. predict may be nil.
func (c *Consensus) WinningStrategy(predict FailurePredictor) Strategy {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasCached && !c.dirty {
		return c.cachedWinner
	}

	winner := c.tallyLocked(predict)
	c.cachedWinner = winner
	c.hasCached = true
	c.dirty = false
	return winner
}

func (c *Consensus) tallyLocked(predict FailurePredictor) Strategy {
	last, ok := c.state.Votes.Last()
	if !ok {
		return StrategyExecute
	}

	if last.Confidence >= c.policy.FastPathConfidence {
		c.logger.Debug("consensus fast path",
			zap.String("agent", string(last.Agent)),
			zap.String("strategy", string(last.Strategy)),
			zap.Float64("confidence", last.Confidence))
		return last.Strategy
	}

	now := time.Now().UTC()
	healthy := c.runHealthyLocked()
	totals := make(map[Strategy]float64, len(Strategies))
	var founderPreference Strategy
	hasFounderVote := false

	for _, v := range c.state.Votes.Snapshot() {
		w := c.weights[v.Agent] * v.Confidence

		if v.Agent == AgentYolo {
			founderPreference = v.Strategy
			hasFounderVote = true
			if healthy {
				w *= c.policy.FounderHealthyBoost
			} else {
				w *= c.policy.FounderShakyDampen
			}
		}

		if ss, tracked := c.strategyStats[v.Strategy]; tracked && ss.Attempts > 0 {
			// Scale 0.5x-1.5x by historical success rate.
			w *= 0.5 + ss.SuccessRate()
		}

		if predict != nil && predict(v.Strategy) {
			w *= c.policy.FailurePenalty
		}

		if now.Sub(v.CastAt) > c.policy.StalenessWindow {
			w *= c.policy.StalenessDecay
		}

		totals[v.Strategy] += w
	}

	winner := StrategyExecute
	best := math.Inf(-1)
	for _, s := range Strategies {
		if total, voted := totals[s]; voted && total > best {
			best = total
			winner = s
		}
	}

	// Founder near-tie precedence: a weight gap under epsilon goes to the
	// founder's preference, but a clear majority stands.
	if hasFounderVote && founderPreference != winner {
		if gap := best - totals[founderPreference]; gap >= 0 && gap < c.policy.TieEpsilon && totals[founderPreference] > 0 {
			c.logger.Debug("founder tie-break applied",
				zap.String("nominal_winner", string(winner)),
				zap.String("founder_preference", string(founderPreference)),
				zap.Float64("gap", gap))
			winner = founderPreference
		}
	}

	return winner
}

// runHealthyLocked gauges recent run health from the hive memory: few
// errors, few hotspots, and no entropy alert.
func (c *Consensus) runHealthyLocked() bool {
	return c.state.Memory.ErrorCount() < 3 &&
		c.state.Memory.HotspotCount() <= 2 &&
		c.entropy < 100
}

// RecordStrategyOutcome updates the persisted attempts/successes counter
// for a strategy after its outcome is known.
func (c *Consensus) RecordStrategyOutcome(strategy Strategy, success bool) error {
	if err := strategy.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ss := c.strategyStats[strategy]
	ss.Attempts++
	if success {
		ss.Successes++
	}
	c.strategyStats[strategy] = ss
	c.dirty = true
	return nil
}

// CalibrateWeights updates every voting agent's weight after the winning
// strategy's outcome is known. An agent is credited when backing the winner
// on a success or opposing it on a failure. Weights are recomputed from
// running accuracy and clamped to always be finite; a computation that
// would produce NaN or infinity resets that agent to the baseline.
func (c *Consensus) CalibrateWeights(winning Strategy, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	latest := make(map[Agent]Vote, len(Members))
	for _, v := range c.state.Votes.Snapshot() {
		latest[v.Agent] = v
	}

	for agent, vote := range latest {
		matched := vote.Strategy == winning

		stats := c.agentStats[agent]
		stats.Attempts++
		if matched == success {
			stats.Hits++
		}
		c.agentStats[agent] = stats

		weight := c.policy.BaselineWeight * (0.5 + stats.Accuracy())
		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			c.logger.Warn("non-finite weight reset to baseline",
				zap.String("agent", string(agent)))
			weight = c.policy.BaselineWeight
		}
		if weight < c.policy.MinWeight {
			weight = c.policy.MinWeight
		}
		if weight > c.policy.MaxWeight {
			weight = c.policy.MaxWeight
		}
		c.weights[agent] = weight
	}

	c.dirty = true
}

// Weight returns an agent's current calibrated weight.
func (c *Consensus) Weight(agent Agent) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.weights[agent]
}

// ExportStats snapshots the accuracy and outcome counters for the
// persistence port. The core never performs I/O itself.
func (c *Consensus) ExportStats() StatsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := StatsSnapshot{
		Agents:     make(map[Agent]AgentStats, len(c.agentStats)),
		Strategies: make(map[Strategy]StrategyStats, len(c.strategyStats)),
	}
	for agent, stats := range c.agentStats {
		snap.Agents[agent] = stats
	}
	for strategy, stats := range c.strategyStats {
		snap.Strategies[strategy] = stats
	}
	return snap
}

// ImportStats restores persisted counters and recomputes weights from them.
// Unknown agents and strategies are dropped rather than imported.
func (c *Consensus) ImportStats(snap StatsSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for agent, stats := range snap.Agents {
		if agent.Validate() != nil {
			continue
		}
		c.agentStats[agent] = stats

		weight := c.policy.BaselineWeight * (0.5 + stats.Accuracy())
		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			weight = c.policy.BaselineWeight
		}
		if weight < c.policy.MinWeight {
			weight = c.policy.MinWeight
		}
		if weight > c.policy.MaxWeight {
			weight = c.policy.MaxWeight
		}
		c.weights[agent] = weight
	}

	for strategy, stats := range snap.Strategies {
		if strategy.Validate() != nil {
			continue
		}
		c.strategyStats[strategy] = stats
	}

	c.dirty = true
}
