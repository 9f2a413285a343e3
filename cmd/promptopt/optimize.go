package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/longregen/promptopt/internal/adapters/id"
	"github.com/longregen/promptopt/internal/application/usecases"
	"github.com/longregen/promptopt/internal/config"
	"github.com/longregen/promptopt/internal/ports"
	"github.com/longregen/promptopt/internal/report"
)

// optimizeCmd groups the commands that execute the pipeline
func optimizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Run prompt optimization",
	}
	cmd.AddCommand(optimizeRunCmd())
	return cmd
}

type runFlags struct {
	task          string
	output        string
	sequential    bool
	topK          int
	topM          int
	maxIterations int
	concurrency   int
	quiet         bool
	serve         bool
}

// optimizeRunCmd executes the full pipeline for a task file
func optimizeRunCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Optimize the system prompt for a task",
		Long: `Run the full optimization pipeline for a task file.

The task file is YAML (or JSON) with task_description, behavioral_specification,
validation_rules and optionally original_prompt or original_prompt_file.

Progress is printed as it happens. When the run completes, the champion prompt
and the reports are written to the output directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.task == "" {
				return fmt.Errorf("task file is required (use --task)")
			}
			task, err := config.LoadTaskSpec(f.task)
			if err != nil {
				return err
			}

			opt := applyRunFlags(cmd, cfg.Optimizer, f)
			if err := opt.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing := initTracing()
			defer shutdownTracing(context.Background())

			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.close()

			p := buildPipeline(st, opt)
			runID := id.New().GenerateRunID()
			if f.serve {
				stopServer := serveInBackground(st, p)
				defer stopServer()
				fmt.Printf("Watching at http://%s:%d/api/v1/runs/%s/events\n", cfg.Server.Host, cfg.Server.Port, runID)
			}

			// Subscribe before Execute so the started event is not missed.
			events := p.publisher.Subscribe(runID)
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for evt := range events {
					if !f.quiet {
						printEvent(evt)
					}
				}
			}()

			fmt.Printf("Run %s: %d prompts, %d quick tests, %d rigorous tests, %s\n",
				runID, opt.NumInitialPrompts, opt.QuickTestDistribution.Total(),
				opt.RigorousTestDistribution.Total(), executionMode(opt.ParallelExecution))

			result, err := p.useCase.Execute(ctx, &ports.RunOptimizationInput{Task: task, RunID: runID})
			// Execute closes the run's channels itself unless it rejected the input early.
			p.publisher.Close(runID)
			wg.Wait()
			if err != nil {
				if usecases.IsCancelled(err) {
					return fmt.Errorf("run %s cancelled", runID)
				}
				return err
			}

			paths, err := report.NewWriter(log).Write(result, task, opt.OutputDir)
			if err != nil {
				return fmt.Errorf("run %s completed but reports failed: %w", runID, err)
			}

			printSummary(result.RunID, result.ElapsedSeconds, result.TotalTestsRun, result.BestPrompt, result.OriginalRigorousScore)
			fmt.Println()
			fmt.Println("Reports:")
			for _, p := range paths {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&f.task, "task", "t", "", "Task file (YAML or JSON, required)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Output directory for reports (default from config)")
	cmd.Flags().BoolVar(&f.sequential, "sequential", false, "Evaluate one test at a time")
	cmd.Flags().IntVar(&f.topK, "top-k", 0, "Candidates advancing past the quick filter")
	cmd.Flags().IntVar(&f.topM, "top-m", 0, "Candidates that get a refinement track")
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", 0, "Maximum refinement iterations per track")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "Maximum concurrent evaluations")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Do not print progress events")
	cmd.Flags().BoolVar(&f.serve, "serve", false, "Serve the HTTP API while the run executes")

	return cmd
}

// applyRunFlags overrides the configured optimizer settings with the flags
// the user actually set.
func applyRunFlags(cmd *cobra.Command, opt config.OptimizerConfig, f runFlags) config.OptimizerConfig {
	flags := cmd.Flags()
	if flags.Changed("output") {
		opt.OutputDir = f.output
	}
	if flags.Changed("sequential") {
		opt.ParallelExecution = !f.sequential
	}
	if flags.Changed("top-k") {
		opt.TopKAdvance = f.topK
	}
	if flags.Changed("top-m") {
		opt.TopMRefine = f.topM
	}
	if flags.Changed("max-iterations") {
		opt.MaxIterationsPerTrack = f.maxIterations
	}
	if flags.Changed("concurrency") {
		opt.MaxConcurrentEvaluations = f.concurrency
	}
	return opt
}

func printEvent(evt ports.OptimizationProgressEvent) {
	ts := time.Now().Format("15:04:05")
	switch evt.Type {
	case ports.EventStage:
		fmt.Printf("%s  stage    %s\n", ts, evt.Stage)
	case ports.EventIteration:
		verdict := "rejected"
		if evt.Accepted {
			verdict = "accepted"
		}
		track := -1
		if evt.TrackID != nil {
			track = *evt.TrackID
		}
		fmt.Printf("%s  track %d  iteration %d/%d  score %.2f  best %.2f  %s\n",
			ts, track, evt.Iteration, evt.MaxIterations, evt.CurrentScore, evt.BestScore, verdict)
	case ports.EventCompleted:
		fmt.Printf("%s  done     best score %.2f\n", ts, evt.BestScore)
	case ports.EventFailed:
		fmt.Printf("%s  failed   %s\n", ts, evt.Message)
	default:
		if evt.Message != "" {
			fmt.Printf("%s  %-8s %s\n", ts, evt.Type, evt.Message)
		}
	}
}
