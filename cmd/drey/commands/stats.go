package commands

import (
	"context"
	"encoding/json"
	"os"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dyluth/drey/internal/printer"
	"github.com/dyluth/drey/internal/store"
	"github.com/dyluth/drey/pkg/council"
)

var (
	statsInstance string
	statsRedisURL string
	statsJSON     bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show persisted council statistics for an instance",
	Long: `Stats reads the agent-accuracy and strategy-outcome counters that the
council persists across sessions and prints them per agent and per
strategy.

The Redis URL is taken from --redis or the REDIS_URL environment
variable. Use --json for machine-readable output.`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsInstance, "instance", "default", "Drey instance name")
	statsCmd.Flags().StringVar(&statsRedisURL, "redis", "", "Redis URL (defaults to REDIS_URL)")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	redisURL := statsRedisURL
	if redisURL == "" {
		redisURL = os.Getenv("REDIS_URL")
	}
	if redisURL == "" {
		return printer.Error("Redis URL required",
			"No Redis URL was provided.",
			[]string{"Pass --redis redis://host:6379", "Set the REDIS_URL environment variable"})
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return printer.Error("Invalid Redis URL", err.Error(), nil)
	}

	st, err := store.New(redisOpts, statsInstance)
	if err != nil {
		return printer.Error("Failed to create store", err.Error(), nil)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Ping(ctx); err != nil {
		return printer.Error("Redis not accessible", err.Error(), nil)
	}

	snap, err := st.LoadStats(ctx)
	if err != nil {
		return printer.Error("Failed to load stats", err.Error(), nil)
	}

	if statsJSON {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return printer.Error("Failed to encode stats", err.Error(), nil)
		}
		printer.Println(string(data))
		return nil
	}

	printer.Info("Council statistics for instance '%s'\n\n", statsInstance)

	printer.Info("Agents:\n")
	for _, agent := range council.Members {
		stats, ok := snap.Agents[agent]
		if !ok {
			printer.Printf("  %-8s no history\n", agent)
			continue
		}
		printer.Printf("  %-8s accuracy=%.2f (%d/%d)\n",
			agent, stats.Accuracy(), stats.Hits, stats.Attempts)
	}

	printer.Info("\nStrategies:\n")
	strategies := make([]council.Strategy, 0, len(snap.Strategies))
	for strategy := range snap.Strategies {
		strategies = append(strategies, strategy)
	}
	sort.Slice(strategies, func(i, j int) bool { return strategies[i] < strategies[j] })
	for _, strategy := range strategies {
		stats := snap.Strategies[strategy]
		printer.Printf("  %-9s success=%.2f (%d/%d)\n",
			strategy, stats.SuccessRate(), stats.Successes, stats.Attempts)
	}
	if len(strategies) == 0 {
		printer.Printf("  no history\n")
	}

	return nil
}
