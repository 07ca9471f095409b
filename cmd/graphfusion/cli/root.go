package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
	verbose    bool
	jsonLogs   bool
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "graphfusion",
	Short: "Knowledge graph with a dynamic, addressable memory",
	Long: `graphfusion keeps a knowledge graph, an embedding table and a fixed-capacity
vector memory side by side. Queries walk the graph from a seed entity, rank what
they reach by embedding similarity blended with memory, and write the best hits
back into memory so later queries remember earlier ones.`,
	SilenceUsage: true,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (.yaml or .json)")
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Snapshot database (default ~/.graphfusion/graphfusion.db)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	RootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Write logs as JSON")
}
