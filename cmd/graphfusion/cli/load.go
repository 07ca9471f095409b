package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load [dataset-file]",
	Short: "Add nodes, edges, embeddings and memory entries from a YAML or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, cleanup, err := newRunner()
		if err != nil {
			return err
		}
		defer cleanup()

		sum, err := r.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d nodes, %d edges, %d embeddings, %d memory entries\n",
			sum.Nodes, sum.Edges, sum.Embeddings, sum.MemoryWrites)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove [node-id]",
	Short: "Remove a node with its edges, embedding and memory slot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, cleanup, err := newRunner()
		if err != nil {
			return err
		}
		defer cleanup()

		e, err := r.Open(cmd.Context())
		if err != nil {
			return err
		}
		if !e.RemoveNode(args[0]) {
			fmt.Fprintf(cmd.OutOrStdout(), "No such node: %s\n", args[0])
			return nil
		}
		if err := r.Save(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show graph, embedding and memory sizes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, cleanup, err := newRunner()
		if err != nil {
			return err
		}
		defer cleanup()

		e, err := r.Open(cmd.Context())
		if err != nil {
			return err
		}
		gs := e.Graph().Stats()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "nodes:      %d\n", gs.Nodes)
		fmt.Fprintf(out, "edges:      %d\n", gs.Edges)
		fmt.Fprintf(out, "relations:  %d\n", gs.Relations)
		fmt.Fprintf(out, "embeddings: %d (dim %d)\n", e.Embeddings().Len(), e.Embeddings().Dim())
		fmt.Fprintf(out, "memory:     %d/%d slots (%s)\n", e.Memory().Occupied(), e.Memory().Capacity(), e.Memory().Metric())
		return nil
	},
}

func init() {
	RootCmd.AddCommand(loadCmd)
	RootCmd.AddCommand(removeCmd)
	RootCmd.AddCommand(statsCmd)
}
