package main

import (
	"github.com/aretw0/loom/internal/cli"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <workflow>",
	Short: "Run a workflow in a new session",
	Long: `Runs a workflow given by name (looked up in the workflows directory) or by
path to a .yaml file. The run is saved as a session; a paused run can be
continued with 'loom resume'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, eng, err := setup(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		pairs, _ := cmd.Flags().GetStringArray("input")
		inputs, err := cli.ParseInputs(pairs)
		if err != nil {
			return err
		}
		sessionID, _ := cmd.Flags().GetString("session")

		wf, err := cli.LoadWorkflow(eng, args[0])
		if err != nil {
			return err
		}
		res, err := eng.RunWorkflow(cmd.Context(), wf, sessionID, inputs)
		if res != nil {
			cli.PrintResult(cmd.OutOrStdout(), res)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringArrayP("input", "i", nil, "workflow input as key=value (repeatable)")
	runCmd.Flags().StringP("session", "s", "", "session id (generated when empty)")
}
