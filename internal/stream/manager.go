// Package stream implements the data-plane lifecycle registry for agent
// streams: concurrency ceiling enforcement, per-stream deadlines,
// cancellation and cleanup, pressure shedding, and a bounded history of
// terminal outcomes for late collectors.
package stream

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/dyluth/drey/pkg/agentstream"
)

// DefaultTerminalCacheSize bounds the terminal-outcome history. Entries are
// evicted oldest-first past this size, and immediately once read.
const DefaultTerminalCacheSize = 256

// Cancellation reasons the manager applies when none is supplied.
const (
	ReasonTimeout      = "timeout"
	ReasonManualCancel = "manual_cancel"
	ReasonPressureShed = "pressure_shed"
	ReasonUnknown      = "unknown"
)

// Handle is the mutable runtime record of one active stream, owned
// exclusively by the Manager. The identity fields are immutable; status
// lives behind the manager's lock and is queried via Manager.Status.
// Stream workers observe cancellation cooperatively through Context.
type Handle struct {
	id          string
	agentID     string
	intent      agentstream.IntentType
	tokenBudget int
	startedAt   time.Time
	timeout     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
	status agentstream.StreamStatus
}

// ID returns the globally unique stream identity.
func (h *Handle) ID() string { return h.id }

// AgentID returns the agent executing this stream.
func (h *Handle) AgentID() string { return h.agentID }

// Intent returns the intent category the stream was spawned for.
func (h *Handle) Intent() agentstream.IntentType { return h.intent }

// TokenBudget returns the tokens the stream may spend.
func (h *Handle) TokenBudget() int { return h.tokenBudget }

// StartedAt returns when the stream was registered.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Timeout returns the stream's deadline duration.
func (h *Handle) Timeout() time.Duration { return h.timeout }

// Context is cancelled when the stream is cancelled, shed, or times out.
// The unit of work must observe it at its own suspension points; the
// manager never force-terminates anything.
func (h *Handle) Context() context.Context { return h.ctx }

// Manager enforces the concurrency ceiling and drives the stream status
// state machine: RUNNING -> {COMPLETED, FAILED, CANCELLED, TIMED_OUT}.
// All four terminal states are absorbing; a second terminal operation on
// an already-terminal id is a no-op. The ceiling check and handle
// registration happen atomically under one lock.
type Manager struct {
	mu            sync.Mutex
	logger        *zap.Logger
	maxConcurrent int
	active        map[string]*Handle
	terminal      *lru.Cache[string, agentstream.TerminalState]
}

// NewManager creates a stream manager with the given concurrency ceiling.
// terminalCacheSize bounds the outcome history; values below 1 fall back
// to DefaultTerminalCacheSize. A nil logger is replaced with a no-op
// logger.
func NewManager(maxConcurrent, terminalCacheSize int, logger *zap.Logger) (*Manager, error) {
	if terminalCacheSize < 1 {
		terminalCacheSize = DefaultTerminalCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Entries are written once at a terminal transition and removed on
	// first read, so LRU order equals insertion order and eviction is
	// oldest-first.
	cache, err := lru.New[string, agentstream.TerminalState](terminalCacheSize)
	if err != nil {
		return nil, err
	}

	return &Manager{
		logger:        logger,
		maxConcurrent: maxConcurrent,
		active:        make(map[string]*Handle),
		terminal:      cache,
	}, nil
}

// Spawn registers a handle for an execution-accepted plan and arms its
// deadline timer. Returns nil with no side effect if the plan was not
// execution-accepted, the stream id is already active, or the active-stream
// count is at the ceiling - this is the sole place concurrency is
// enforced, independent of whatever the scheduler decided.
func (m *Manager) Spawn(plan agentstream.SpawnPlan) *Handle {
	if !plan.ExecutionAccepted {
		m.logger.Debug("spawn rejected: plan not execution-accepted",
			zap.String("stream_id", plan.StreamID),
			zap.String("reason", plan.Reason))
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[plan.StreamID]; exists {
		m.logger.Warn("spawn rejected: stream id already active",
			zap.String("stream_id", plan.StreamID))
		return nil
	}

	if len(m.active) >= m.maxConcurrent {
		m.logger.Info("spawn rejected: concurrency ceiling reached",
			zap.String("stream_id", plan.StreamID),
			zap.Int("active", len(m.active)),
			zap.Int("ceiling", m.maxConcurrent))
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		id:          plan.StreamID,
		agentID:     plan.AgentID,
		intent:      plan.Intent,
		tokenBudget: plan.TokenBudget,
		startedAt:   time.Now().UTC(),
		timeout:     plan.Timeout,
		ctx:         ctx,
		cancel:      cancel,
		status:      agentstream.StatusRunning,
	}

	// Each stream owns an independent deadline, armed here and disarmed on
	// any terminal transition, so a hung stream cannot block anything else.
	h.timer = time.AfterFunc(plan.Timeout, func() {
		m.timeoutStream(plan.StreamID)
	})

	m.active[plan.StreamID] = h

	m.logger.Info("stream spawned",
		zap.String("stream_id", plan.StreamID),
		zap.String("agent", plan.AgentID),
		zap.String("intent", string(plan.Intent)),
		zap.Duration("timeout", plan.Timeout),
		zap.Int("active", len(m.active)))

	return h
}

// Complete transitions a running stream to COMPLETED.
// Returns false if the id is not active (already terminal or unknown).
func (m *Manager) Complete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminateLocked(id, agentstream.StatusCompleted, "")
}

// Fail transitions a running stream to FAILED. The reason defaults to
// "unknown" when none is supplied upstream.
func (m *Manager) Fail(id, reason string) bool {
	if reason == "" {
		reason = ReasonUnknown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminateLocked(id, agentstream.StatusFailed, reason)
}

// Cancel transitions a running stream to CANCELLED and triggers its
// cancellation signal. The reason defaults to "manual_cancel".
func (m *Manager) Cancel(id, reason string) bool {
	if reason == "" {
		reason = ReasonManualCancel
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminateLocked(id, agentstream.StatusCancelled, reason)
}

// CancelAll cancels every active stream with the given reason and returns
// how many were cancelled. Safe to call while streams are mid-flight;
// already-terminal handles are not double-counted.
func (m *Manager) CancelAll(reason string) int {
	if reason == "" {
		reason = ReasonManualCancel
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}

	cancelled := 0
	for _, id := range ids {
		if m.terminateLocked(id, agentstream.StatusCancelled, reason) {
			cancelled++
		}
	}
	return cancelled
}

// ShedNonCriticalStreams cancels every active stream whose intent is not
// in the critical allow-list, tagging each with reason "pressure_shed",
// and returns the shed stream ids. Invoked by the engine under sustained
// pressure; safety and quality streams are never shed.
func (m *Manager) ShedNonCriticalStreams() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []string
	for id, h := range m.active {
		if !h.intent.Critical() {
			candidates = append(candidates, id)
		}
	}

	var shed []string
	for _, id := range candidates {
		if m.terminateLocked(id, agentstream.StatusCancelled, ReasonPressureShed) {
			shed = append(shed, id)
		}
	}

	if len(shed) > 0 {
		m.logger.Warn("non-critical streams shed under pressure",
			zap.Int("count", len(shed)),
			zap.Strings("stream_ids", shed))
	}
	return shed
}

// ConsumeTerminalState returns how a stream ended, exactly once. The
// record is deleted on read; a second call for the same id returns false.
func (m *Manager) ConsumeTerminalState(id string) (agentstream.TerminalState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.terminal.Peek(id)
	if !ok {
		return agentstream.TerminalState{}, false
	}
	m.terminal.Remove(id)
	return state, true
}

// Status reports the current status of a stream: RUNNING while active, the
// terminal status while its outcome record is still cached.
func (m *Manager) Status(id string) (agentstream.StreamStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.active[id]; ok {
		return h.status, true
	}
	if state, ok := m.terminal.Peek(id); ok {
		return state.Status, true
	}
	return "", false
}

// ActiveCount returns the number of currently active streams. Never
// exceeds the configured ceiling.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// EnvelopePartial carries the caller-supplied envelope fields for
// ToEnvelope.
type EnvelopePartial struct {
	Decision           string
	Confidence         float64
	Evidence           []string
	RecommendedActions []string
	BlockingConditions []string
	Summary            string
}

// ToEnvelope builds an envelope from a handle plus caller-supplied fields,
// defaulting the decision to "NO_DECISION" and confidence to 0 when absent.
func (m *Manager) ToEnvelope(h *Handle, partial EnvelopePartial) agentstream.Envelope {
	decision := partial.Decision
	if decision == "" {
		decision = "NO_DECISION"
	}

	return agentstream.Envelope{
		StreamID:           h.id,
		AgentID:            h.agentID,
		Intent:             h.intent,
		Decision:           decision,
		Confidence:         partial.Confidence,
		Evidence:           partial.Evidence,
		RecommendedActions: partial.RecommendedActions,
		BlockingConditions: partial.BlockingConditions,
		Summary:            partial.Summary,
		CreatedAt:          time.Now().UTC(),
	}
}

// timeoutStream is the deadline-timer callback. The handle may have
// reached another terminal state while the timer fired; in that case it is
// no longer active and this is a no-op.
func (m *Manager) timeoutStream(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminateLocked(id, agentstream.StatusTimedOut, ReasonTimeout) {
		m.logger.Warn("stream deadline exceeded", zap.String("stream_id", id))
	}
}

// terminateLocked performs a terminal transition: disarm the deadline
// timer, deliver the cancellation signal, record the outcome in the
// bounded cache, and remove the handle from the active set. Returns false
// if the id is not active, which makes every terminal operation a no-op on
// already-terminal streams.
func (m *Manager) terminateLocked(id string, status agentstream.StreamStatus, reason string) bool {
	h, ok := m.active[id]
	if !ok {
		return false
	}

	h.status = status
	h.timer.Stop()
	h.cancel()

	m.terminal.Add(id, agentstream.TerminalState{
		Status:  status,
		Reason:  reason,
		EndedAt: time.Now().UTC(),
	})
	delete(m.active, id)

	m.logger.Info("stream terminal",
		zap.String("stream_id", id),
		zap.String("status", string(status)),
		zap.String("reason", reason),
		zap.Int("active", len(m.active)))

	return true
}
