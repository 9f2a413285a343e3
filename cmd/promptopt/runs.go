package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/longregen/promptopt/internal/domain/models"
	"github.com/longregen/promptopt/internal/ports"
)

// runsCmd provides subcommands for inspecting stored runs
func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect optimization runs",
		Long: `Inspect optimization runs recorded in the configured store.

Subcommands:
  list        List runs
  show        Show details of a run
  candidates  List prompt candidates of a run
  best        Show the champion (or best so far) of a run
  lineage     Show the refinement chain of one track`,
	}

	cmd.AddCommand(
		runsListCmd(),
		runsShowCmd(),
		runsCandidatesCmd(),
		runsBestCmd(),
		runsLineageCmd(),
	)

	return cmd
}

// withQuery opens the store for the duration of fn
func withQuery(fn func(ctx context.Context, q ports.OptimizationQueryService) error) error {
	ctx := context.Background()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.close()
	return fn(ctx, newQueryService(st))
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func runsListCmd() *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List optimization runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(func(ctx context.Context, q ports.OptimizationQueryService) error {
				runs, err := q.ListRuns(ctx, ports.ListRunsOptions{Status: status, Limit: limit})
				if err != nil {
					return fmt.Errorf("failed to list runs: %w", err)
				}
				if len(runs) == 0 {
					fmt.Println("No optimization runs found.")
					return nil
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTATUS\tSTAGE\tTESTS\tELAPSED\tSTARTED\tTASK")
				fmt.Fprintln(w, "--\t------\t-----\t-----\t-------\t-------\t----")
				for _, run := range runs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.0fs\t%s\t%s\n",
						run.ID,
						run.Status,
						run.CurrentStage,
						run.TotalTestsRun,
						run.ElapsedSeconds,
						run.StartedAt.Local().Format("2006-01-02 15:04"),
						truncate(run.TaskDescription, 48),
					)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "Filter by status (running, completed, failed)")
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum number of runs to list")

	return cmd
}

func runsShowCmd() *cobra.Command {
	var showJSON bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show optimization run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(func(ctx context.Context, q ports.OptimizationQueryService) error {
				result, err := q.BuildResult(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to load run: %w", err)
				}
				run, err := q.GetRun(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to load run: %w", err)
				}
				if showJSON {
					return printJSON(struct {
						Run    *models.OptimizationRun    `json:"run"`
						Result *models.OptimizationResult `json:"result"`
					}{run, result})
				}

				fmt.Printf("Optimization Run: %s\n", run.ID)
				fmt.Printf("Task:        %s\n", run.TaskDescription)
				fmt.Printf("Status:      %s\n", run.Status)
				fmt.Printf("Stage:       %s\n", run.CurrentStage)
				fmt.Printf("Tests run:   %d\n", run.TotalTestsRun)
				fmt.Printf("Started:     %s\n", run.StartedAt.Format(time.RFC3339))
				if run.CompletedAt != nil {
					fmt.Printf("Completed:   %s\n", run.CompletedAt.Format(time.RFC3339))
				}
				if run.ErrorMessage != "" {
					fmt.Printf("Error:       %s\n", run.ErrorMessage)
				}
				fmt.Println()

				if len(result.Tracks) > 0 {
					w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
					fmt.Fprintln(w, "TRACK\tITERATIONS\tINITIAL\tBEST\tIMPROVEMENT\tSTOP")
					for _, t := range result.Tracks {
						initial := 0.0
						if len(t.Scores) > 0 {
							initial = t.Scores[0]
						}
						fmt.Fprintf(w, "%d\t%d\t%.2f\t%.2f\t%+.2f\t%s\n",
							t.TrackID, len(t.Iterations), initial, initial+t.Improvement, t.Improvement, t.StopReason)
					}
					w.Flush()
					fmt.Println()
				}

				if result.OriginalRigorousScore != nil {
					fmt.Printf("Original prompt (rigorous): %.2f\n", *result.OriginalRigorousScore)
				}
				if result.BestPrompt != nil {
					score, _ := result.BestPrompt.Score()
					fmt.Printf("Champion: %s (%.2f)\n", result.BestPrompt.ID, score)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&showJSON, "json", false, "Output as JSON")

	return cmd
}

func runsCandidatesCmd() *cobra.Command {
	var stage string
	var showJSON bool

	cmd := &cobra.Command{
		Use:   "candidates <run-id>",
		Short: "List prompt candidates for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(func(ctx context.Context, q ports.OptimizationQueryService) error {
				var (
					candidates []*models.PromptCandidate
					err        error
				)
				if stage == "" {
					candidates, err = q.GetAllCandidates(ctx, args[0])
				} else {
					parsed, ok := models.ParsePromptStage(stage)
					if !ok {
						return fmt.Errorf("unknown stage %q (initial, quick_filter, rigorous, refined)", stage)
					}
					candidates, err = q.GetCandidates(ctx, args[0], parsed)
				}
				if err != nil {
					return fmt.Errorf("failed to get candidates: %w", err)
				}
				if len(candidates) == 0 {
					fmt.Println("No candidates found for this run.")
					return nil
				}
				if showJSON {
					return printJSON(candidates)
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTAGE\tSTRATEGY\tQUICK\tRIGOROUS\tTRACK\tITER\tORIGINAL")
				fmt.Fprintln(w, "--\t-----\t--------\t-----\t--------\t-----\t----\t--------")
				for _, c := range candidates {
					track := "-"
					if c.TrackID != nil {
						track = strconv.Itoa(*c.TrackID)
					}
					original := ""
					if c.IsOriginalSystemPrompt {
						original = "yes"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
						c.ID, c.Stage, truncate(c.Strategy, 24),
						formatScore(c.QuickScore), formatScore(c.RigorousScore),
						track, c.Iteration, original)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVarP(&stage, "stage", "s", "", "Only candidates in this stage")
	cmd.Flags().BoolVar(&showJSON, "json", false, "Output as JSON")

	return cmd
}

func runsBestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "best <run-id>",
		Short: "Show the champion prompt of a run",
		Long:  `Show the champion of a completed run, or the best track prompt so far for a run in progress.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(func(ctx context.Context, q ports.OptimizationQueryService) error {
				result, err := q.BuildResult(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to get best candidate: %w", err)
				}
				if result.BestPrompt == nil {
					fmt.Println("No refined candidates yet.")
					return nil
				}
				printSummary(result.RunID, result.ElapsedSeconds, result.TotalTestsRun, result.BestPrompt, result.OriginalRigorousScore)
				return nil
			})
		},
	}
}

func runsLineageCmd() *cobra.Command {
	var showPrompts bool

	cmd := &cobra.Command{
		Use:   "lineage <run-id> <track>",
		Short: "Show the refinement chain of a track",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			trackID, err := strconv.Atoi(args[1])
			if err != nil || trackID < 0 {
				return fmt.Errorf("track must be a non-negative integer, got %q", args[1])
			}

			return withQuery(func(ctx context.Context, q ports.OptimizationQueryService) error {
				track, err := q.GetTrack(ctx, args[0], trackID)
				if err != nil {
					return fmt.Errorf("failed to get track: %w", err)
				}

				fmt.Printf("Track %d of run %s (stop: %s)\n\n", track.TrackID, args[0], track.StopReason)
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ITER\tID\tPARENT\tSCORE\tFINAL")
				for i, p := range track.Iterations {
					final := ""
					if track.FinalPrompt != nil && p.ID == track.FinalPrompt.ID {
						final = "*"
					}
					parent := p.ParentPromptID
					if parent == "" {
						parent = "-"
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%s\n", p.Iteration, p.ID, parent, track.Scores[i], final)
				}
				w.Flush()

				if showPrompts {
					for _, p := range track.Iterations {
						fmt.Printf("\n--- iteration %d (%s) ---\n%s\n", p.Iteration, p.ID, p.PromptText)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&showPrompts, "prompts", "p", false, "Print every prompt text in the chain")

	return cmd
}

func printSummary(runID string, elapsed float64, tests int, best *models.PromptCandidate, original *float64) {
	score, _ := best.Score()
	fmt.Println()
	fmt.Printf("Run:         %s\n", runID)
	fmt.Printf("Champion:    %s\n", best.ID)
	fmt.Printf("Score:       %.2f\n", score)
	if best.TrackID != nil {
		fmt.Printf("Track:       %d (iteration %d)\n", *best.TrackID, best.Iteration)
	}
	if original != nil {
		fmt.Printf("Original:    %.2f (%+.2f)\n", *original, score-*original)
	}
	fmt.Printf("Tests run:   %d\n", tests)
	fmt.Printf("Elapsed:     %.1fs\n", elapsed)
	fmt.Println()
	fmt.Println("Prompt Text:")
	fmt.Println("---")
	fmt.Println(best.PromptText)
	fmt.Println("---")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
