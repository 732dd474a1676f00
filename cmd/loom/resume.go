package main

import (
	"github.com/aretw0/loom"
	"github.com/aretw0/loom/internal/cli"
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a paused session with external inputs",
	Long: `Continues a paused run. The workflow is the one recorded in the session
unless --workflow names another definition (by name or .yaml path).`,
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

		var res *loom.Result
		if name, _ := cmd.Flags().GetString("workflow"); name != "" {
			wf, err := cli.LoadWorkflow(eng, name)
			if err != nil {
				return err
			}
			res, err = eng.ResumeWorkflow(cmd.Context(), wf, args[0], inputs)
			if res != nil {
				cli.PrintResult(cmd.OutOrStdout(), res)
			}
			return err
		}
		res, err = eng.Resume(cmd.Context(), args[0], inputs)
		if res != nil {
			cli.PrintResult(cmd.OutOrStdout(), res)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().StringArrayP("input", "i", nil, "external input as key=value (repeatable)")
	resumeCmd.Flags().StringP("workflow", "w", "", "workflow to resume against")
}
