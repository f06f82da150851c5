package cli

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "secondbrain",
	Short: "Heat-ranked personal memory store",
	Long: "Secondbrain stores notes with a heat score that rises on use and decays with time. " +
		"Search ranks by similarity, heat and importance; near-duplicates are merged without losing history.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.secondbrain/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides database.path)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rememberCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(unpinCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(hotCmd)
	rootCmd.AddCommand(coldCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(decayCmd)
	rootCmd.AddCommand(dedupCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(embedCmd)
}
