package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/ElderMedic/FAIRiAgent-sub001/memory"
	"github.com/spf13/cobra"
)

func newMemoryCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Manage session memory",
		Long: `Add, search and clear the insights stored for a session.

Examples:
  # Record an insight
  fairiagent memory add paper-1 "organism is stated in the abstract" --stage parse --score 0.9

  # Search a session's memory
  fairiagent memory search paper-1 organism -k 3

  # Forget everything about a session
  fairiagent memory clear paper-1`,
	}

	cmd.AddCommand(newMemoryAddCmd(root), newMemorySearchCmd(root), newMemoryClearCmd(root))
	return cmd
}

func newMemoryAddCmd(root *rootOptions) *cobra.Command {
	var (
		stage string
		score float64
	)

	cmd := &cobra.Command{
		Use:   "add SESSION SUMMARY",
		Short: "Store an insight for a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(root)
			if err != nil {
				return err
			}
			svc, err := memory.Open(cfg.Memory, cfg.NewLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			entry, err := svc.Add(cmd.Context(), args[0], stage, args[1], score)
			if err != nil {
				return err
			}

			if root.jsonOutput {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(entry)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", entry.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "Stage the insight belongs to")
	cmd.Flags().Float64Var(&score, "score", 1, "Quality score within [0, 1]")
	return cmd
}

func newMemorySearchCmd(root *rootOptions) *cobra.Command {
	var (
		stage string
		k     int
	)

	cmd := &cobra.Command{
		Use:   "search SESSION QUERY",
		Short: "Retrieve the most relevant insights of a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(root)
			if err != nil {
				return err
			}
			svc, err := memory.Open(cfg.Memory, cfg.NewLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			entries, err := svc.Retrieve(cmd.Context(), args[0], stage, args[1], k)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if root.jsonOutput {
				return json.NewEncoder(w).Encode(entries)
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "STAGE\tSCORE\tSUMMARY")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%.2f\t%s\n", e.StageName, e.Score, e.Summary)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "Stage relevance hint")
	cmd.Flags().IntVarP(&k, "k", "k", 5, "Maximum entries to return")
	return cmd
}

func newMemoryClearCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear SESSION",
		Short: "Remove every insight of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(root)
			if err != nil {
				return err
			}
			svc, err := memory.Open(cfg.Memory, cfg.NewLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			if err := svc.Clear(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared memory of %s\n", args[0])
			return nil
		},
	}
}
