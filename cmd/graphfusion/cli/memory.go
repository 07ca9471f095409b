package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	memoryVector   string
	memoryNode     string
	memoryTopK     int
	memoryStrength float64
	memoryAll      bool
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and edit the dynamic memory directly",
}

var memoryReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Content-addressed read; returned slots gain usage",
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

		var query []float32
		switch {
		case memoryVector != "":
			if query, err = parseVector(memoryVector); err != nil {
				return err
			}
		case memoryNode != "":
			node, err := e.Graph().GetNode(memoryNode)
			if err != nil {
				return err
			}
			if query, err = e.Embeddings().Get(node.EmbeddingKey()); err != nil {
				return err
			}
		default:
			return fmt.Errorf("read needs --vector or --node")
		}

		hits, err := e.Memory().Read(query, memoryTopK)
		if err != nil {
			return err
		}
		if err := r.Save(cmd.Context()); err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SLOT\tNODE\tSCORE\tUSAGE")
		for _, h := range hits {
			fmt.Fprintf(tw, "%d\t%s\t%.4f\t%d\n", h.Index, h.NodeID, h.Score, h.Usage)
		}
		return tw.Flush()
	},
}

var memoryWriteCmd = &cobra.Command{
	Use:   "write [node-id]",
	Short: "Gated write of a vector into a node's slot",
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

		node, err := e.Graph().GetNode(args[0])
		if err != nil {
			return err
		}
		var vec []float32
		if memoryVector != "" {
			vec, err = parseVector(memoryVector)
		} else {
			vec, err = e.Embeddings().Get(node.EmbeddingKey())
		}
		if err != nil {
			return err
		}

		out, err := e.Memory().Write(args[0], vec, memoryStrength)
		if err != nil {
			return err
		}
		if err := r.Save(cmd.Context()); err != nil {
			return err
		}

		switch {
		case out.Blended:
			fmt.Fprintf(cmd.OutOrStdout(), "Blended into slot %d\n", out.Index)
		case out.Evicted != "":
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote slot %d (evicted %s)\n", out.Index, out.Evicted)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote slot %d\n", out.Index)
		}
		return nil
	},
}

var memoryForgetCmd = &cobra.Command{
	Use:   "forget [node-id]",
	Short: "Free the slot bound to a node",
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
		if !e.Memory().Forget(args[0]) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s has no slot\n", args[0])
			return nil
		}
		if err := r.Save(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s\n", args[0])
		return nil
	},
}

var memorySlotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "List memory slots without touching usage",
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

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SLOT\tNODE\tUSAGE\tWRITTEN\tVECTOR")
		for _, s := range e.Memory().Slots() {
			if s.Free() {
				if memoryAll {
					fmt.Fprintf(tw, "%d\t-\t0\t-\t-\n", s.Index)
				}
				continue
			}
			fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", s.Index, s.NodeID, s.Usage, s.Written, formatVector(s.Vector))
		}
		return tw.Flush()
	},
}

func init() {
	RootCmd.AddCommand(memoryCmd)
	memoryCmd.AddCommand(memoryReadCmd)
	memoryCmd.AddCommand(memoryWriteCmd)
	memoryCmd.AddCommand(memoryForgetCmd)
	memoryCmd.AddCommand(memorySlotsCmd)

	memoryReadCmd.Flags().StringVar(&memoryVector, "vector", "", "Comma separated query vector")
	memoryReadCmd.Flags().StringVar(&memoryNode, "node", "", "Use this node's embedding as the query")
	memoryReadCmd.Flags().IntVarP(&memoryTopK, "top", "k", 3, "Number of slots to return")

	memoryWriteCmd.Flags().StringVar(&memoryVector, "vector", "", "Comma separated vector (default the node's embedding)")
	memoryWriteCmd.Flags().Float64VarP(&memoryStrength, "strength", "s", 1, "Write strength in [0, 1]")

	memorySlotsCmd.Flags().BoolVar(&memoryAll, "all", false, "Include free slots")
}
