package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/treliq/treliq/internal/actions"
)

func init() {
	rootCmd.AddCommand(newCloseSpamCmd())
	rootCmd.AddCommand(newLabelByScoreCmd())
}

func newCloseSpamCmd() *cobra.Command {
	var flags commonFlags
	var confirm bool
	var exclude []int
	var batchLimit int

	cmd := &cobra.Command{
		Use:   "close-spam",
		Short: "Close spam-flagged items (dry-run without --confirm)",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context(), &flags)
			if err != nil {
				return err
			}
			defer rt.close()

			result, err := rt.orch.Scan(cmd.Context(), rt.opts)
			if err != nil {
				return err
			}

			planner := newPlanner(rt, exclude, batchLimit)
			plan := planner.CloseSpam(result.RankedPRs)
			if !flags.comment {
				for i := range plan {
					plan[i].Comment = ""
				}
			}
			return runPlan(cmd, rt, plan, confirm)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Execute the plan instead of printing it")
	cmd.Flags().IntSliceVar(&exclude, "exclude", nil, "Item numbers to never act on")
	cmd.Flags().IntVar(&batchLimit, "batch-limit", 10, "Maximum actions per run")
	return cmd
}

func newLabelByScoreCmd() *cobra.Command {
	var flags commonFlags
	var confirm bool
	var exclude []int
	var batchLimit int

	cmd := &cobra.Command{
		Use:   "label-by-score",
		Short: "Label items with their classified intent (dry-run without --confirm)",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context(), &flags)
			if err != nil {
				return err
			}
			defer rt.close()

			result, err := rt.orch.Scan(cmd.Context(), rt.opts)
			if err != nil {
				return err
			}

			planner := newPlanner(rt, exclude, batchLimit)
			plan := planner.LabelIntents(result.RankedPRs)
			return runPlan(cmd, rt, plan, confirm)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Execute the plan instead of printing it")
	cmd.Flags().IntSliceVar(&exclude, "exclude", nil, "Item numbers to never act on")
	cmd.Flags().IntVar(&batchLimit, "batch-limit", 10, "Maximum actions per run")
	return cmd
}

func newPlanner(rt *runtime, exclude []int, batchLimit int) *actions.Planner {
	planner := actions.NewPlanner()
	planner.MergeThreshold = rt.cfg.Scan.MergeThreshold
	planner.BatchLimit = batchLimit
	for _, n := range exclude {
		planner.Exclude[n] = true
	}
	return planner
}

func runPlan(cmd *cobra.Command, rt *runtime, plan []actions.Item, confirm bool) error {
	out := cmd.OutOrStdout()
	if !confirm {
		fmt.Fprintln(out, actions.FormatDryRun(plan))
		return nil
	}

	executor := actions.NewExecutor(rt.host)
	results := executor.Execute(cmd.Context(), plan)

	executed, skipped, failed := 0, 0, 0
	for _, r := range results {
		switch r.Outcome {
		case actions.OutcomeExecuted:
			executed++
			fmt.Fprintf(out, "executed %s #%d\n", r.Item.Kind, r.Item.Target)
		case actions.OutcomeSkipped:
			skipped++
			fmt.Fprintf(out, "skipped  %s #%d: %s\n", r.Item.Kind, r.Item.Target, r.Reason)
		default:
			failed++
			fmt.Fprintf(out, "failed   %s #%d: %s\n", r.Item.Kind, r.Item.Target, r.Reason)
		}
	}
	fmt.Fprintf(out, "\n%d executed, %d skipped, %d failed\n", executed, skipped, failed)
	if failed > 0 {
		return fmt.Errorf("%d action(s) failed", failed)
	}
	return nil
}
