package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lazypower/secondbrain/internal/engine"
)

// --- decay command ---

var decayMode string

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Apply one heat decay pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.heat.ApplyDecay(cmd.Context(), decayMode)
		if err != nil {
			return fmt.Errorf("decay: %w", err)
		}
		out := cmd.OutOrStdout()
		if queryJSON {
			return writeJSON(out, report)
		}
		fmt.Fprintf(out, "%s decay: %s records in %d windows (%d failed), %s\n",
			report.Mode, humanize.Comma(int64(report.Updated)), report.Windows,
			report.FailedWindows, roundDuration(report.Duration))
		return nil
	},
}

// --- dedup command ---

var dedupOpts engine.DedupOptions

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Find and merge near-duplicate memories",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.dedup.Deduplicate(cmd.Context(), dedupOpts)
		if err != nil {
			return fmt.Errorf("dedup: %w", err)
		}
		out := cmd.OutOrStdout()
		if queryJSON {
			return writeJSON(out, report)
		}
		for _, e := range report.Log {
			line := fmt.Sprintf("%-8s keep %s  remove %s  sim %.4f", e.Action, e.KeepID, e.RemoveID, e.Similarity)
			if e.Reason != "" {
				line += "  (" + e.Reason + ")"
			}
			fmt.Fprintln(out, line)
		}
		prefix := ""
		if report.DryRun {
			prefix = "dry run: "
		}
		fmt.Fprintf(out, "%sfound %d, merged %d, skipped %d, failed %d in %s\n",
			prefix, report.Found, report.Merged, report.Skipped, report.Failed, roundDuration(report.Duration))
		return nil
	},
}

// --- merge command ---

var (
	mergeContent    string
	mergeTags       []string
	mergeImportance float64
)

var mergeCmd = &cobra.Command{
	Use:   "merge [keep-id] [remove-id]",
	Short: "Merge one memory into another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var override *engine.MergeOverride
		if mergeContent != "" || len(mergeTags) > 0 || cmd.Flags().Changed("importance") {
			override = &engine.MergeOverride{Content: mergeContent, Tags: mergeTags}
			if cmd.Flags().Changed("importance") {
				override.Importance = &mergeImportance
			}
		}

		// Override content needs a vector.
		a, err := openApp(cmd.Context(), mergeContent != "")
		if err != nil {
			return err
		}
		defer a.Close()

		outcome, err := a.dedup.Merge(cmd.Context(), args[0], args[1], override)
		if err != nil {
			return fmt.Errorf("merge: %w", err)
		}
		if !outcome.Merged {
			return fmt.Errorf("merge %s into %s: %s", args[1], args[0], outcome.Reason)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "merged %s into %s\n", outcome.RemoveID, outcome.KeepID)
		return nil
	},
}

func init() {
	decayCmd.Flags().StringVar(&decayMode, "mode", "", "decay mode: simple or advanced (default from config)")
	decayCmd.Flags().BoolVar(&queryJSON, "json", false, "print JSON")

	f := dedupCmd.Flags()
	f.BoolVar(&dedupOpts.DryRun, "dry-run", false, "report decisions without merging")
	f.Float64Var(&dedupOpts.Threshold, "threshold", 0, "minimum cosine similarity (default from config)")
	f.IntVarP(&dedupOpts.Limit, "limit", "n", 0, "maximum pairs to consider (default from config)")
	f.IntVar(&dedupOpts.RecentDays, "recent-days", 0, "only pair records created in the last N days")
	f.IntVar(&dedupOpts.RecentLimit, "recent-limit", 0, "only pair the N newest records")
	f.IntVar(&dedupOpts.MinCreatedDaysApart, "min-days-apart", 0, "require creation times at least N days apart")
	f.BoolVar(&queryJSON, "json", false, "print JSON")

	mergeCmd.Flags().StringVar(&mergeContent, "content", "", "replace the merged content")
	mergeCmd.Flags().StringSliceVarP(&mergeTags, "tag", "t", nil, "replace the merged tags")
	mergeCmd.Flags().Float64Var(&mergeImportance, "importance", 0, "replace the merged importance")
}
