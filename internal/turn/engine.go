// Package turn drives one conversational turn through the control plane:
// plan the intent batch, spawn what was admitted, collect envelopes from
// the streams that finish, arbitrate them, and ask the council for the
// turn's winning strategy. Nothing in here is fatal to the caller - a
// failed turn simply proceeds without extra verification.
package turn

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dyluth/drey/internal/arbiter"
	"github.com/dyluth/drey/internal/scheduler"
	"github.com/dyluth/drey/internal/stream"
	"github.com/dyluth/drey/pkg/agentstream"
	"github.com/dyluth/drey/pkg/council"
)

// StreamExecutor runs one admitted stream and returns the envelope fields
// it produced. Implementations must observe ctx at their own suspension
// points; cancellation is cooperative, never forced.
type StreamExecutor func(ctx context.Context, h *stream.Handle) (stream.EnvelopePartial, error)

// Report summarizes what one turn did.
type Report struct {
	Plans            []agentstream.SpawnPlan               // every plan the scheduler produced, in order
	Spawned          []string                              // stream ids actually registered
	CapacityRejected []string                              // execution-accepted plans refused by the manager
	Shed             []string                              // stream ids shed before planning under HIGH pressure
	Outcomes         map[string]agentstream.TerminalState  // terminal outcome per spawned stream
	Arbitration      arbiter.Result                        // accepted/rejected envelopes
	Winning          council.Strategy                      // the council's strategy for this turn
}

// Engine wires the control-plane components for turn processing.
// All fields are required except Predict, which may be nil.
type Engine struct {
	Scheduler *scheduler.Scheduler
	Streams   *stream.Manager
	Arbiter   *arbiter.Arbiter
	Consensus *council.Consensus
	Predict   council.FailurePredictor
	Logger    *zap.Logger
}

// RunTurn processes one turn. Under HIGH pressure non-critical streams
// from earlier turns are shed before new planning. Stream failures and
// capacity rejections are recorded in the report, never returned as
// errors; the only error is an invalid turn context.
func (e *Engine) RunTurn(ctx context.Context, tc agentstream.TurnContext, intents []agentstream.IntentRequest, exec StreamExecutor) (*Report, error) {
	if err := tc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid turn context: %w", err)
	}

	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	report := &Report{Outcomes: make(map[string]agentstream.TerminalState)}

	if tc.Pressure == agentstream.PressureHigh {
		report.Shed = e.Streams.ShedNonCriticalStreams()
	}

	report.Plans = e.Scheduler.Plan(tc, intents)

	var handles []*stream.Handle
	for _, plan := range report.Plans {
		if !plan.ExecutionAccepted {
			continue
		}
		h := e.Streams.Spawn(plan)
		if h == nil {
			// Capacity rejection: the caller may retry next turn or drop
			// the intent.
			report.CapacityRejected = append(report.CapacityRejected, plan.StreamID)
			continue
		}
		report.Spawned = append(report.Spawned, plan.StreamID)
		handles = append(handles, h)
	}

	if len(handles) > 0 && exec != nil {
		e.runStreams(ctx, handles, exec, logger)
	}

	for _, id := range report.Spawned {
		if state, ok := e.Streams.ConsumeTerminalState(id); ok {
			report.Outcomes[id] = state
		}
	}

	report.Arbitration = e.Arbiter.Evaluate()
	report.Winning = e.Consensus.WinningStrategy(e.Predict)

	logger.Info("turn complete",
		zap.String("run_id", tc.RunID),
		zap.Int("plans", len(report.Plans)),
		zap.Int("spawned", len(report.Spawned)),
		zap.Int("accepted_envelopes", len(report.Arbitration.Accepted)),
		zap.String("winning_strategy", string(report.Winning)))

	return report, nil
}

// runStreams executes every handle concurrently and waits for all of them.
// Streams are independent: one failing does not cancel the others, but
// cancelling the turn context cancels every still-active stream through
// the manager.
func (e *Engine) runStreams(ctx context.Context, handles []*stream.Handle, exec StreamExecutor, logger *zap.Logger) {
	stop := make(chan struct{})
	var once sync.Once
	defer once.Do(func() { close(stop) })

	go func() {
		select {
		case <-ctx.Done():
			e.Streams.CancelAll("turn_cancelled")
		case <-stop:
		}
	}()

	var g errgroup.Group
	for _, h := range handles {
		h := h
		g.Go(func() error {
			partial, err := exec(h.Context(), h)
			if err != nil {
				logger.Warn("stream execution failed",
					zap.String("stream_id", h.ID()),
					zap.Error(err))
				e.Streams.Fail(h.ID(), err.Error())
				return nil
			}

			env := e.Streams.ToEnvelope(h, partial)
			if e.Streams.Complete(h.ID()) {
				e.Arbiter.Stage(env)
			}
			// A stream that already timed out or was shed produced its
			// envelope too late; it is dropped, not arbitrated.
			return nil
		})
	}
	_ = g.Wait()
	once.Do(func() { close(stop) })
}
