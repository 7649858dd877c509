package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/ElderMedic/FAIRiAgent-sub001/engine"
	"github.com/spf13/cobra"
)

func newResumeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume SESSION",
		Short: "Resume a session from its latest checkpoint",
		Long: `Resume a session from its latest checkpoint. Accepted stages are not run
again. Resuming a finished session prints it unchanged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOne(cmd.Context(), cmd, root, func(ctx context.Context, c *engine.Controller) (*fairiagent.Result, error) {
				return c.Resume(ctx, args[0])
			})
		},
	}
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status SESSION",
		Short: "Show the checkpointed state of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			state, err := a.controller.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printState(cmd.OutOrStdout(), state, root.jsonOutput)
		},
	}
}

func newListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List checkpointed sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			ids, err := a.controller.ListSessions(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if root.jsonOutput {
				return json.NewEncoder(w).Encode(ids)
			}
			for _, id := range ids {
				fmt.Fprintln(w, id)
			}
			return nil
		},
	}
}

func printState(w io.Writer, state *fairiagent.WorkflowState, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	}

	fmt.Fprintf(w, "Session:  %s\n", state.SessionID)
	fmt.Fprintf(w, "Document: %s\n", state.Document.Reference)
	fmt.Fprintf(w, "Status:   %s\n", state.Status)
	fmt.Fprintf(w, "Progress: %.0f%%\n", state.Progress()*100)
	if next, ok := state.NextStage(); ok && !state.Status.IsTerminal() {
		fmt.Fprintf(w, "Next:     %s (attempt %d)\n", next, state.StageAttempts[next]+1)
		if fb := state.PendingFeedback[next]; fb != "" {
			fmt.Fprintf(w, "Feedback: %s\n", fb)
		}
	}
	printHistory(w, state.History)
	return nil
}
