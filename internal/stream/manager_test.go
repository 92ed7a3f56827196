package stream

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dyluth/drey/pkg/agentstream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func acceptedPlan(id string, intent agentstream.IntentType, timeout time.Duration) agentstream.SpawnPlan {
	return agentstream.SpawnPlan{
		StreamID:          id,
		RunID:             "run",
		AgentID:           "agent",
		Sequence:          1,
		Intent:            intent,
		Score:             1.0,
		PolicyAccepted:    true,
		ExecutionAccepted: true,
		TokenBudget:       1000,
		Timeout:           timeout,
		Mode:              agentstream.ModeLive,
		CreatedAt:         time.Now().UTC(),
	}
}

// TestSpawnRejectsShadowPlan tests that only execution-accepted plans spawn
func TestSpawnRejectsShadowPlan(t *testing.T) {
	m, err := NewManager(3, 0, nil)
	require.NoError(t, err)
	defer m.CancelAll("")

	plan := acceptedPlan("run_agent_1", agentstream.IntentReadinessGate, time.Minute)
	plan.ExecutionAccepted = false

	assert.Nil(t, m.Spawn(plan))
	assert.Equal(t, 0, m.ActiveCount())
}

// TestSpawnEnforcesConcurrencyCeiling tests the ceiling and that releases reopen capacity
func TestSpawnEnforcesConcurrencyCeiling(t *testing.T) {
	m, err := NewManager(1, 0, nil)
	require.NoError(t, err)
	defer m.CancelAll("")

	first := m.Spawn(acceptedPlan("run_agent_1", agentstream.IntentReadinessGate, time.Minute))
	require.NotNil(t, first)

	// Ceiling of one: the second spawn is refused outright.
	assert.Nil(t, m.Spawn(acceptedPlan("run_agent_2", agentstream.IntentReadinessGate, time.Minute)))
	assert.Equal(t, 1, m.ActiveCount())

	require.True(t, m.Cancel(first.ID(), ""))

	second := m.Spawn(acceptedPlan("run_agent_2", agentstream.IntentReadinessGate, time.Minute))
	require.NotNil(t, second)
	assert.Equal(t, 1, m.ActiveCount())
}

// TestSpawnRejectsDuplicateID tests that an active stream id cannot be reused
func TestSpawnRejectsDuplicateID(t *testing.T) {
	m, err := NewManager(3, 0, nil)
	require.NoError(t, err)
	defer m.CancelAll("")

	require.NotNil(t, m.Spawn(acceptedPlan("run_agent_1", agentstream.IntentReadinessGate, time.Minute)))
	assert.Nil(t, m.Spawn(acceptedPlan("run_agent_1", agentstream.IntentReadinessGate, time.Minute)))
}

// TestTimeoutTransition tests the independent per-stream deadline
func TestTimeoutTransition(t *testing.T) {
	m, err := NewManager(3, 0, nil)
	require.NoError(t, err)

	h := m.Spawn(acceptedPlan("run_agent_1", agentstream.IntentReadinessGate, 20*time.Millisecond))
	require.NotNil(t, h)

	select {
	case <-h.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("stream context not cancelled after deadline")
	}

	state, ok := m.ConsumeTerminalState(h.ID())
	require.True(t, ok)
	assert.Equal(t, agentstream.StatusTimedOut, state.Status)
	assert.Equal(t, ReasonTimeout, state.Reason)
	assert.Equal(t, 0, m.ActiveCount())
}

// TestCompleteDisarmsDeadline tests that a finished stream cannot later time out
func TestCompleteDisarmsDeadline(t *testing.T) {
	m, err := NewManager(3, 0, nil)
	require.NoError(t, err)

	h := m.Spawn(acceptedPlan("run_agent_1", agentstream.IntentReadinessGate, 30*time.Millisecond))
	require.NotNil(t, h)
	require.True(t, m.Complete(h.ID()))

	// Let the original deadline elapse; the recorded outcome must not change.
	time.Sleep(60 * time.Millisecond)

	state, ok := m.ConsumeTerminalState(h.ID())
	require.True(t, ok)
	assert.Equal(t, agentstream.StatusCompleted, state.Status)
}

// TestTerminalStatesAreAbsorbing tests that no transition leaves a terminal state
func TestTerminalStatesAreAbsorbing(t *testing.T) {
	m, err := NewManager(3, 0, nil)
	require.NoError(t, err)

	h := m.Spawn(acceptedPlan("run_agent_1", agentstream.IntentReadinessGate, time.Minute))
	require.NotNil(t, h)
	require.True(t, m.Cancel(h.ID(), ""))

	assert.False(t, m.Complete(h.ID()), "complete after cancel is a no-op")
	assert.False(t, m.Fail(h.ID(), "late failure"), "fail after cancel is a no-op")
	assert.False(t, m.Cancel(h.ID(), "again"), "double cancel is a no-op")

	state, ok := m.ConsumeTerminalState(h.ID())
	require.True(t, ok)
	assert.Equal(t, agentstream.StatusCancelled, state.Status)
	assert.Equal(t, ReasonManualCancel, state.Reason, "default reason applied")
}

// TestFailDefaultsReason tests the unknown-reason fallback
func TestFailDefaultsReason(t *testing.T) {
	m, err := NewManager(3, 0, nil)
	require.NoError(t, err)

	h := m.Spawn(acceptedPlan("run_agent_1", agentstream.IntentReadinessGate, time.Minute))
	require.NotNil(t, h)
	require.True(t, m.Fail(h.ID(), ""))

	state, ok := m.ConsumeTerminalState(h.ID())
	require.True(t, ok)
	assert.Equal(t, agentstream.StatusFailed, state.Status)
	assert.Equal(t, ReasonUnknown, state.Reason)
}

// TestConsumeTerminalStateOnce tests the consume-once contract
func TestConsumeTerminalStateOnce(t *testing.T) {
	m, err := NewManager(3, 0, nil)
	require.NoError(t, err)

	h := m.Spawn(acceptedPlan("run_agent_1", agentstream.IntentReadinessGate, time.Minute))
	require.NotNil(t, h)
	require.True(t, m.Complete(h.ID()))

	_, ok := m.ConsumeTerminalState(h.ID())
	require.True(t, ok)

	_, ok = m.ConsumeTerminalState(h.ID())
	assert.False(t, ok, "terminal state is deleted on first read")
}

// TestTerminalCacheEvictsOldest tests the bounded outcome history
func TestTerminalCacheEvictsOldest(t *testing.T) {
	m, err := NewManager(10, 2, nil)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("run_agent_%d", i)
		h := m.Spawn(acceptedPlan(id, agentstream.IntentReadinessGate, time.Minute))
		require.NotNil(t, h)
		require.True(t, m.Complete(id))
	}

	_, ok := m.ConsumeTerminalState("run_agent_1")
	assert.False(t, ok, "oldest outcome evicted past the cache size")
	_, ok = m.ConsumeTerminalState("run_agent_3")
	assert.True(t, ok)
}

// TestShedNonCriticalStreams tests that only sheddable intents are cancelled
func TestShedNonCriticalStreams(t *testing.T) {
	m, err := NewManager(5, 0, nil)
	require.NoError(t, err)
	defer m.CancelAll("")

	safety := m.Spawn(acceptedPlan("run_agent_1", agentstream.IntentSafetyBlockerCheck, time.Minute))
	quality := m.Spawn(acceptedPlan("run_agent_2", agentstream.IntentQualityRegressionScan, time.Minute))
	discovery := m.Spawn(acceptedPlan("run_agent_3", agentstream.IntentSpeculativeDiscovery, time.Minute))
	traj := m.Spawn(acceptedPlan("run_agent_4", agentstream.IntentTrajectoryOptimization, time.Minute))
	require.NotNil(t, safety)
	require.NotNil(t, quality)
	require.NotNil(t, discovery)
	require.NotNil(t, traj)

	shed := m.ShedNonCriticalStreams()
	assert.ElementsMatch(t, []string{"run_agent_3", "run_agent_4"}, shed)
	assert.Equal(t, 2, m.ActiveCount(), "safety and quality streams survive")

	for _, id := range shed {
		state, ok := m.ConsumeTerminalState(id)
		require.True(t, ok)
		assert.Equal(t, agentstream.StatusCancelled, state.Status)
		assert.Equal(t, ReasonPressureShed, state.Reason)
	}
}

// TestCancelAll tests bulk cancellation
func TestCancelAll(t *testing.T) {
	m, err := NewManager(5, 0, nil)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NotNil(t, m.Spawn(acceptedPlan(fmt.Sprintf("run_agent_%d", i), agentstream.IntentReadinessGate, time.Minute)))
	}

	assert.Equal(t, 3, m.CancelAll("turn_cancelled"))
	assert.Equal(t, 0, m.ActiveCount())
	assert.Equal(t, 0, m.CancelAll("turn_cancelled"), "nothing left to cancel")

	state, ok := m.ConsumeTerminalState("run_agent_2")
	require.True(t, ok)
	assert.Equal(t, "turn_cancelled", state.Reason)
}

// TestStatus tests status visibility across the lifecycle
func TestStatus(t *testing.T) {
	m, err := NewManager(3, 0, nil)
	require.NoError(t, err)

	status, ok := m.Status("run_agent_1")
	assert.False(t, ok)
	assert.Empty(t, status)

	h := m.Spawn(acceptedPlan("run_agent_1", agentstream.IntentReadinessGate, time.Minute))
	require.NotNil(t, h)

	status, ok = m.Status("run_agent_1")
	require.True(t, ok)
	assert.Equal(t, agentstream.StatusRunning, status)

	m.Complete("run_agent_1")
	status, ok = m.Status("run_agent_1")
	require.True(t, ok)
	assert.Equal(t, agentstream.StatusCompleted, status)

	// Consuming the outcome removes the last trace of the stream.
	m.ConsumeTerminalState("run_agent_1")
	_, ok = m.Status("run_agent_1")
	assert.False(t, ok)
}

// TestToEnvelope tests envelope construction defaults
func TestToEnvelope(t *testing.T) {
	m, err := NewManager(3, 0, nil)
	require.NoError(t, err)
	defer m.CancelAll("")

	h := m.Spawn(acceptedPlan("run_agent_1", agentstream.IntentSafetyBlockerCheck, time.Minute))
	require.NotNil(t, h)

	env := m.ToEnvelope(h, EnvelopePartial{})
	assert.Equal(t, "NO_DECISION", env.Decision)
	assert.Equal(t, 0.0, env.Confidence)
	assert.Equal(t, "run_agent_1", env.StreamID)
	assert.Equal(t, agentstream.IntentSafetyBlockerCheck, env.Intent)
	assert.False(t, env.Blocking())

	env = m.ToEnvelope(h, EnvelopePartial{
		Decision:           "BLOCK",
		Confidence:         0.95,
		BlockingConditions: []string{"secrets in diff"},
	})
	assert.Equal(t, "BLOCK", env.Decision)
	assert.True(t, env.Blocking())
}
