package main

import (
	"fmt"

	"github.com/aretw0/loom/internal/cli"
	"github.com/aretw0/loom/internal/presentation/graph"
	"github.com/aretw0/loom/pkg/state"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph <workflow>",
	Short: "Export the workflow graph as a Mermaid diagram",
	Long: `Prints a Mermaid diagram (graph TD) of the workflow. With --session the
diagram is overlaid with the execution counts, paused and rejected nodes of
that run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, eng, err := setup(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		wf, err := cli.LoadWorkflow(eng, args[0])
		if err != nil {
			return err
		}

		var overlay *graph.Overlay
		if sessionID, _ := cmd.Flags().GetString("session"); sessionID != "" {
			p, err := eng.Inspect(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			st, err := state.Restore(p)
			if err != nil {
				return err
			}
			overlay = graph.OverlayFromState(wf, st)
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(wf, overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringP("session", "s", "", "overlay the run of this session")
}
