package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"github.com/longregen/promptopt/internal/config"
	"github.com/longregen/promptopt/internal/logger"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "promptopt",
		Short: "promptopt - staged system prompt optimizer",
		Long: `promptopt searches for a better system prompt for a task.

It generates candidate prompts, filters them with a quick test suite,
re-scores the survivors on a rigorous suite and refines the best of them
in parallel tracks until they stop improving.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger.InitGlobalLogger(logger.Config{
				Level:  cfg.Log.Level,
				Pretty: cfg.Log.Pretty,
			})
			log = logger.GetGlobalLogger()

			return nil
		},
	}

	rootCmd.AddCommand(
		optimizeCmd(),
		runsCmd(),
		configCmd(),
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configCmd shows current configuration
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Current configuration:")
			fmt.Println()

			fmt.Println("LLM:")
			fmt.Printf("  URL:     %s\n", cfg.LLM.URL)
			fmt.Printf("  API Key: %s\n", maskSecret(cfg.LLM.APIKey))
			fmt.Printf("  Timeout: %ds\n", cfg.LLM.TimeoutSeconds)
			fmt.Println()

			fmt.Println("Agents:")
			for _, a := range []struct {
				name  string
				agent config.AgentConfig
			}{
				{"generator", cfg.Agents.Generator},
				{"test_designer", cfg.Agents.TestDesigner},
				{"evaluator", cfg.Agents.Evaluator},
				{"refiner", cfg.Agents.Refiner},
			} {
				fmt.Printf("  %-14s %s (temperature %.2f, max tokens %d)\n", a.name+":", a.agent.Model, a.agent.Temperature, a.agent.MaxTokens)
			}
			fmt.Println()

			fmt.Println("Target:")
			fmt.Printf("  URL:         %s\n", cfg.TargetURL())
			fmt.Printf("  Model:       %s\n", cfg.Target.Model)
			fmt.Printf("  Temperature: %.2f\n", cfg.Target.Temperature)
			fmt.Printf("  API Key:     %s\n", maskSecret(cfg.TargetAPIKey()))
			fmt.Println()

			fmt.Println("Database:")
			fmt.Printf("  SQLite Path: %s\n", cfg.Database.Path)
			fmt.Printf("  PostgreSQL:  %s\n", maskSecret(cfg.Database.PostgresURL))
			fmt.Printf("  Active:      %s\n", storeName())
			fmt.Println()

			o := cfg.Optimizer
			fmt.Println("Optimizer:")
			fmt.Printf("  Initial prompts:   %d\n", o.NumInitialPrompts)
			fmt.Printf("  Quick tests:       %d\n", o.QuickTestDistribution.Total())
			fmt.Printf("  Rigorous tests:    %d\n", o.RigorousTestDistribution.Total())
			fmt.Printf("  Top K / Top M:     %d / %d\n", o.TopKAdvance, o.TopMRefine)
			fmt.Printf("  Max iterations:    %d\n", o.MaxIterationsPerTrack)
			fmt.Printf("  Convergence:       %.3f (patience %d)\n", o.ConvergenceThreshold, o.EarlyStoppingPatience)
			fmt.Printf("  Concurrency:       %d (%s)\n", o.MaxConcurrentEvaluations, executionMode(o.ParallelExecution))
			fmt.Printf("  Weakness cutoff:   %.1f\n", o.WeaknessThreshold)
			fmt.Printf("  Include original:  %s\n", boolStatus(o.IncludeOriginalPrompt))
			fmt.Printf("  Compare original:  %s\n", boolStatus(o.EvaluateOriginalForComparison))
			fmt.Printf("  Output directory:  %s\n", o.OutputDir)
			fmt.Println()

			fmt.Println("Environment variables:")
			fmt.Println("  PROMPTOPT_CONFIG, PROMPTOPT_LLM_URL, PROMPTOPT_LLM_API_KEY (or OPENAI_API_KEY)")
			fmt.Println("  PROMPTOPT_<ROLE>_MODEL, PROMPTOPT_TARGET_URL, PROMPTOPT_TARGET_MODEL")
			fmt.Println("  PROMPTOPT_DB_PATH, PROMPTOPT_POSTGRES_URL")
			fmt.Println("  PROMPTOPT_TOP_K, PROMPTOPT_TOP_M, PROMPTOPT_MAX_ITERATIONS, PROMPTOPT_PARALLEL_EXECUTION")

			return nil
		},
	}
}

// versionCmd shows version information
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("promptopt %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Build Date: %s\n", buildDate)
		},
	}
}
