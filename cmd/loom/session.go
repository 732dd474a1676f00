package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/aretw0/loom/internal/presentation/tui"
	"github.com/aretw0/loom/pkg/graph"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage persisted sessions",
	Long:  `List, inspect and remove the sessions kept by the configured store.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, eng, err := setup(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		ids, err := eng.ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(ids) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SESSION\tWORKFLOW\tSTATUS\tUPDATED")
		for _, id := range ids {
			p, err := eng.Inspect(cmd.Context(), id)
			if err != nil {
				logger.Warn("skipping unreadable session", "session_id", id, "err", err)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, p.Run.WorkflowName, p.Run.Status, p.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Inspect the state of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, eng, err := setup(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		p, err := eng.Inspect(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("load session %q: %w", args[0], err)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			data, err := json.MarshalIndent(p, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		// Node names are a nicety; a session of an unknown workflow still renders.
		var wf *graph.Workflow
		if p.Run.WorkflowName != "" {
			wf, _ = eng.Workflow(p.Run.WorkflowName)
		}
		return tui.NewRenderer(cmd.OutOrStdout()).Render(tui.Report(p, wf))
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args: func(cmd *cobra.Command, args []string) error {
		if all, _ := cmd.Flags().GetBool("all"); all {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, eng, err := setup(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		if all, _ := cmd.Flags().GetBool("all"); all {
			if args, err = eng.ListSessions(cmd.Context()); err != nil {
				return err
			}
		}

		var errs []error
		for _, id := range args {
			if err := eng.DeleteSession(cmd.Context(), id); err != nil {
				errs = append(errs, fmt.Errorf("remove %q: %w", id, err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed session '%s'\n", id)
		}
		return errors.Join(errs...)
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd, sessionInspectCmd, sessionRmCmd)
	sessionInspectCmd.Flags().Bool("json", false, "print the raw persisted state")
	sessionRmCmd.Flags().Bool("all", false, "remove every session")
}
