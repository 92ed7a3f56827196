package commands

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dyluth/drey/internal/config"
	"github.com/dyluth/drey/internal/logging"
	"github.com/dyluth/drey/internal/policy"
	"github.com/dyluth/drey/internal/printer"
	"github.com/dyluth/drey/internal/scheduler"
	"github.com/dyluth/drey/pkg/agentstream"
)

var (
	simulateConfig string
	simulateDebug  bool
)

// scenario is the yaml shape of a simulation input file: one turn context
// plus the intent batch to plan.
type scenario struct {
	RunID   string `yaml:"run_id,omitempty"`
	Context struct {
		FlowState         float64              `yaml:"flow_state"`
		ErrorCount        int                  `yaml:"error_count"`
		HotspotCount      int                  `yaml:"hotspot_count"`
		PendingObjectives int                  `yaml:"pending_objectives"`
		Pressure          agentstream.Pressure `yaml:"pressure"`
	} `yaml:"context"`
	Intents []struct {
		Intent            agentstream.IntentType `yaml:"intent"`
		CandidateAgents   []string               `yaml:"candidate_agents"`
		Urgency           float64                `yaml:"urgency"`
		Risk              float64                `yaml:"risk"`
		ExpectedValue     float64                `yaml:"expected_value"`
		TokenCostEstimate int                    `yaml:"token_cost_estimate"`
		ContentionFactor  float64                `yaml:"contention_factor"`
	} `yaml:"intents"`
}

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.yml>",
	Short: "Plan a scenario's intent batch and print the admission decisions",
	Long: `Simulate runs one turn's intent batch through the policy engine and
scheduler, then prints every spawn plan with its score and decision.

With live_spawning disabled in drey.yml (the default) this shows exactly
what the control plane would have done without spawning any work.`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&simulateConfig, "config", "", "Path to drey.yml (defaults when omitted)")
	simulateCmd.Flags().BoolVar(&simulateDebug, "debug", false, "Verbose logging")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(simulateConfig)
	if err != nil {
		return printer.Error("Invalid configuration", err.Error(), nil)
	}

	scn, err := loadScenario(args[0])
	if err != nil {
		return printer.Error("Invalid scenario", err.Error(), nil)
	}

	runID := scn.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	tc := agentstream.TurnContext{
		RunID:             runID,
		FlowState:         scn.Context.FlowState,
		ErrorCount:        scn.Context.ErrorCount,
		HotspotCount:      scn.Context.HotspotCount,
		PendingObjectives: scn.Context.PendingObjectives,
		Pressure:          scn.Context.Pressure,
	}
	if err := tc.Validate(); err != nil {
		return printer.Error("Invalid scenario context", err.Error(), nil)
	}

	intents := make([]agentstream.IntentRequest, 0, len(scn.Intents))
	for _, in := range scn.Intents {
		intents = append(intents, agentstream.IntentRequest{
			Intent:            in.Intent,
			CandidateAgents:   in.CandidateAgents,
			Urgency:           in.Urgency,
			Risk:              in.Risk,
			ExpectedValue:     in.ExpectedValue,
			TokenCostEstimate: in.TokenCostEstimate,
			ContentionFactor:  in.ContentionFactor,
		})
	}

	logger := logging.New(simulateDebug)
	defer func() { _ = logger.Sync() }()

	engine := policy.NewEngine(cfg.PolicyConfig())
	sched := scheduler.New(engine, logger)
	plans := sched.Plan(tc, intents)

	mode := "SHADOW"
	if engine.LiveEnabled() {
		mode = "LIVE"
	}
	printer.Info("Planned %d intent(s) for run %s in %s mode (pressure %s)\n\n",
		len(plans), runID, mode, tc.Pressure)

	for _, plan := range plans {
		if plan.ExecutionAccepted {
			printer.Success("%s\n", plan.StreamID)
		} else if plan.PolicyAccepted {
			printer.Warning("%s\n", plan.StreamID)
		} else {
			printer.Printf("✗ %s\n", plan.StreamID)
		}
		printer.Printf("    intent=%s agent=%s score=%.3f budget=%d timeout=%s\n",
			plan.Intent, plan.AgentID, plan.Score, plan.TokenBudget, plan.Timeout)
		printer.Printf("    %s\n", plan.Reason)
	}

	return nil
}

func loadConfig(path string) (*config.DreyConfig, error) {
	if path == "" {
		if _, err := os.Stat("drey.yml"); err == nil {
			return config.Load("drey.yml")
		}
		return config.Default(), nil
	}
	return config.Load(path)
}

func loadScenario(path string) (*scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}

	var scn scenario
	if err := yaml.Unmarshal(data, &scn); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if len(scn.Intents) == 0 {
		return nil, fmt.Errorf("scenario has no intents")
	}

	return &scn, nil
}
