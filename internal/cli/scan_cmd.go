package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/treliq/treliq/internal/dedup"
	"github.com/treliq/treliq/internal/scan"
	"github.com/treliq/treliq/internal/triage"
)

func init() {
	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newScoreCmd())
	rootCmd.AddCommand(newCompareCmd())
	rootCmd.AddCommand(newDedupCmd())
}

func newScanCmd() *cobra.Command {
	var flags commonFlags
	var includeIssues bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the full triage pipeline over a repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := scan.ParseFormat(flags.format)
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cmd.Context(), &flags)
			if err != nil {
				return err
			}
			defer rt.close()

			rt.opts.IncludeIssues = includeIssues
			result, err := rt.orch.Scan(cmd.Context(), rt.opts)
			if err != nil {
				return err
			}
			return scan.Render(cmd.OutOrStdout(), result, format)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&includeIssues, "issues", false, "Also triage open issues")
	return cmd
}

func newScoreCmd() *cobra.Command {
	var flags commonFlags
	var prNumber int

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a single pull request",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context(), &flags)
			if err != nil {
				return err
			}
			defer rt.close()

			item, err := rt.orch.ScanOne(cmd.Context(), rt.opts, prNumber)
			if err != nil {
				return err
			}
			return renderItem(cmd, item, flags.format)
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&prNumber, "pr", 0, "Pull request number (required)")
	cmd.MarkFlagRequired("pr")
	return cmd
}

func newCompareCmd() *cobra.Command {
	var flags commonFlags
	var prNumbers []int

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Pairwise-cluster a given set of pull requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(prNumbers) < 2 {
				return fmt.Errorf("compare needs at least two --pr numbers")
			}
			rt, err := buildRuntime(cmd.Context(), &flags)
			if err != nil {
				return err
			}
			defer rt.close()

			items, err := scoreSet(cmd, rt, prNumbers)
			if err != nil {
				return err
			}
			clusters, err := runDedup(cmd, rt, items)
			if err != nil {
				return err
			}
			renderClusters(cmd, clusters)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntSliceVar(&prNumbers, "pr", nil, "Pull request numbers (repeatable)")
	cmd.MarkFlagRequired("pr")
	return cmd
}

func newDedupCmd() *cobra.Command {
	var flags commonFlags

	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Find duplicate clusters across all open pull requests",
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
			renderClusters(cmd, result.DuplicateClusters)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// scoreSet fetches and scores an explicit PR set.
func scoreSet(cmd *cobra.Command, rt *runtime, numbers []int) ([]*triage.ScoredItem, error) {
	items := make([]*triage.ScoredItem, 0, len(numbers))
	for _, n := range numbers {
		item, err := rt.orch.ScanOne(cmd.Context(), rt.opts, n)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func runDedup(cmd *cobra.Command, rt *runtime, items []*triage.ScoredItem) ([]dedup.Cluster, error) {
	if rt.provider == nil {
		return nil, fmt.Errorf("dedup requires an LLM provider for embeddings")
	}
	engine := dedup.NewEngine(rt.provider)
	return engine.FindDuplicates(cmd.Context(), items, nil, rt.opts.VerifyWithLLM)
}

func renderClusters(cmd *cobra.Command, clusters []dedup.Cluster) {
	out := cmd.OutOrStdout()
	if len(clusters) == 0 {
		fmt.Fprintln(out, "No duplicate clusters found.")
		return
	}
	for _, c := range clusters {
		fmt.Fprintf(out, "Cluster %d (%s, %.0f%% similar, best #%d): ",
			c.ID, c.Type, c.AvgSimilarity*100, c.BestMemberNumber)
		for i, m := range c.Members {
			if i > 0 {
				fmt.Fprint(out, ", ")
			}
			fmt.Fprintf(out, "#%d", m.Number())
		}
		fmt.Fprintf(out, "\n  %s\n", c.Reason)
	}
}

func renderItem(cmd *cobra.Command, item *triage.ScoredItem, format string) error {
	f, err := scan.ParseFormat(format)
	if err != nil {
		return err
	}
	if f == scan.FormatJSON {
		result := &scan.Result{RankedPRs: []*triage.ScoredItem{item}, TotalPRs: 1}
		return scan.Render(cmd.OutOrStdout(), result, f)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "#%d %s\n", item.Number(), item.Title())
	fmt.Fprintf(out, "Total score: %d  Intent: %s (%.1f)  Spam: %v\n",
		item.TotalScore, item.Intent, item.IntentConfidence, item.IsSpam)
	if item.LLMScore != nil {
		fmt.Fprintf(out, "LLM: score %d, risk %s: %s\n", *item.LLMScore, item.LLMRisk, item.LLMReason)
	}
	fmt.Fprintln(out, "Signals:")
	for _, s := range item.Signals {
		fmt.Fprintf(out, "  %-20s %3d  w=%.3f  %s\n", s.Name, s.Score, s.Weight, s.Reason)
	}
	return nil
}
