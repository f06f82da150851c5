package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/secondbrain/internal/engine"
)

// --- remember command ---

var (
	rememberImportance float64
	rememberPinned     bool
	rememberTags       []string
	rememberEntities   []string
	rememberNote       engine.Note
)

var rememberCmd = &cobra.Command{
	Use:   "remember [content]",
	Short: "Store a new memory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemember,
}

func runRemember(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	n := rememberNote
	n.Content = strings.Join(args, " ")
	n.Tags = rememberTags
	n.Entities = rememberEntities
	n.Pinned = rememberPinned
	if cmd.Flags().Changed("importance") {
		n.Importance = &rememberImportance
	}

	rec, err := a.recorder.Remember(cmd.Context(), n)
	if err != nil {
		return fmt.Errorf("remember: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (heat %.2f)\n", rec.ID, rec.HeatOr(0))
	return nil
}

// --- forget command ---

var forgetCmd = &cobra.Command{
	Use:   "forget [id]",
	Short: "Delete a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		ok, err := a.recorder.Forget(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("forget: %w", err)
		}
		if !ok {
			return fmt.Errorf("record %s not found", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", args[0])
		return nil
	},
}

// --- pin / unpin commands ---

var pinCmd = &cobra.Command{
	Use:   "pin [id]",
	Short: "Pin a memory at maximum heat",
	Args:  cobra.ExactArgs(1),
	RunE:  pinRunner(true),
}

var unpinCmd = &cobra.Command{
	Use:   "unpin [id]",
	Short: "Unpin a memory so it decays again",
	Args:  cobra.ExactArgs(1),
	RunE:  pinRunner(false),
}

func pinRunner(pinned bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		set := a.heat.Unpin
		verb := "unpinned"
		if pinned {
			set, verb = a.heat.Pin, "pinned"
		}
		ok, err := set(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("record %s not found", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, args[0])
		return nil
	}
}

// --- embed command ---

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Compute vectors for records stored without one",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.recorder.EmbedMissing(cmd.Context())
		if err != nil {
			return fmt.Errorf("embed: %w", err)
		}
		left, err := a.recorder.MissingVectors(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "embedded %d records, %d still without a vector\n", n, left)
		return nil
	},
}

func init() {
	f := rememberCmd.Flags()
	f.Float64Var(&rememberImportance, "importance", 1, "importance weight (>= 0)")
	f.BoolVar(&rememberPinned, "pin", false, "pin the memory at maximum heat")
	f.StringSliceVarP(&rememberTags, "tag", "t", nil, "tag (repeatable)")
	f.StringSliceVar(&rememberEntities, "entity", nil, "entity (repeatable)")
	f.StringVar(&rememberNote.Client, "client", "", "client label")
	f.StringVarP(&rememberNote.Project, "project", "p", "", "project label")
	f.StringVar(&rememberNote.Domain, "domain", "", "domain label")
	f.StringVar(&rememberNote.Source, "source", "", "source label")
}
