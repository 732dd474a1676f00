package main

import (
	"errors"
	"fmt"

	"github.com/aretw0/loom/internal/cli"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [workflow...]",
	Short: "Compile workflows and check their graphs",
	Long: `Compiles each workflow (every one in the workflows directory when none is
given) and reports unknown targets, missing default ports, invalid merge
behaviors and recursive sub-workflows.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, eng, err := setup(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		if len(args) == 0 {
			if args, err = eng.Workflows(); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		var errs []error
		for _, name := range args {
			wf, err := cli.LoadWorkflow(eng, name)
			if err != nil {
				fmt.Fprintf(out, "✗ %s: %v\n", name, err)
				errs = append(errs, err)
				continue
			}
			fmt.Fprintf(out, "✓ %s (%d nodes)\n", wf.Name, len(wf.Nodes))
		}
		if len(errs) > 0 {
			return fmt.Errorf("%d of %d workflows invalid: %w", len(errs), len(args), errors.Join(errs...))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
