package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lazypower/secondbrain/internal/store"
)

var (
	queryLimit  int
	queryJSON   bool
	queryFilter []string

	coldThreshold float64
	coldMinAge    int
)

// --- search command ---

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search memories ranked by similarity, heat and importance",
	Long: "Search embeds the query and ranks stored memories. Returned memories are warmed.\n" +
		"Filters take key=value on " + strings.Join(store.FilterKeys(), ", ") + ".",
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	filters, err := parseFilters(queryFilter)
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.ranking.Search(cmd.Context(), strings.Join(args, " "), queryLimit, filters)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	out := cmd.OutOrStdout()
	if queryJSON {
		return writeJSON(out, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%d. [%.3f] %s  sim %.3f  heat %.2f  %s\n",
			i+1, r.EffectiveScore, r.Record.ID, r.Similarity, r.Heat, humanize.Time(r.Record.Created()))
		fmt.Fprintf(out, "   %s\n\n", preview(r.Record.Content))
	}
	return nil
}

func parseFilters(pairs []string) (store.Filters, error) {
	filters := store.Filters{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("filter %q: want key=value", p)
		}
		filters[k] = v
	}
	return filters, filters.Validate()
}

// --- hot / cold commands ---

var hotCmd = &cobra.Command{
	Use:   "hot",
	Short: "List the hottest memories",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.heat.Hot(cmd.Context(), queryLimit)
		if err != nil {
			return err
		}
		return printHeated(cmd.OutOrStdout(), recs)
	},
}

var coldCmd = &cobra.Command{
	Use:   "cold",
	Short: "List cold memories that are candidates for archiving",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.heat.Cold(cmd.Context(), coldThreshold, queryLimit, coldMinAge)
		if err != nil {
			return err
		}
		return printHeated(cmd.OutOrStdout(), recs)
	},
}

func printHeated(out io.Writer, recs []store.HeatedRecord) error {
	if queryJSON {
		return writeJSON(out, recs)
	}
	if len(recs) == 0 {
		fmt.Fprintln(out, "No memories found.")
		return nil
	}
	for _, r := range recs {
		pin := ""
		if r.Record.Pinned {
			pin = " pinned"
		}
		fmt.Fprintf(out, "%6.2f  %s%s  %s  %s\n",
			r.Heat, r.Record.ID, pin, humanize.Time(r.Record.Created()), preview(r.Record.Content))
	}
	return nil
}

// --- stats command ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the heat distribution",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.heat.Stats(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if queryJSON {
			return writeJSON(out, st)
		}
		fmt.Fprintf(out, "records:   %s\n", humanize.Comma(int64(st.Total)))
		fmt.Fprintf(out, "pinned:    %s\n", humanize.Comma(int64(st.Pinned)))
		fmt.Fprintf(out, "hot:       %s\n", humanize.Comma(int64(st.Hot)))
		fmt.Fprintf(out, "cold:      %s\n", humanize.Comma(int64(st.Cold)))
		fmt.Fprintf(out, "no heat:   %s\n", humanize.Comma(int64(st.NoHeat)))
		fmt.Fprintf(out, "mean heat: %s\n", humanize.FtoaWithDigits(st.MeanHeat, 3))
		return nil
	},
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// preview shortens content to one line of at most 100 runes.
func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > 100 {
		return string(r[:100]) + "..."
	}
	return s
}

func roundDuration(d time.Duration) time.Duration {
	if d > time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(time.Microsecond)
}

func init() {
	for _, c := range []*cobra.Command{searchCmd, hotCmd, coldCmd} {
		c.Flags().IntVarP(&queryLimit, "limit", "n", 10, "maximum number of results")
	}
	for _, c := range []*cobra.Command{searchCmd, hotCmd, coldCmd, statsCmd} {
		c.Flags().BoolVar(&queryJSON, "json", false, "print JSON")
	}
	searchCmd.Flags().StringArrayVarP(&queryFilter, "filter", "f", nil, "metadata filter key=value (repeatable)")
	coldCmd.Flags().Float64Var(&coldThreshold, "threshold", 0, "heat at or below which a memory is cold (default from config)")
	coldCmd.Flags().IntVar(&coldMinAge, "min-age-days", 0, "only memories created at least this many days ago")
}
