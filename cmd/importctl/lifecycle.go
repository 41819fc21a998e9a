package main

import (
	"fmt"
	"os"

	"github.com/rpattn/stockimport/internal/staging"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func sessionArg(args []string) (uuid.UUID, error) {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid session id: %w", err)
	}
	return id, nil
}

func newApproveCmd(global *globalOptions) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "approve <session-id>",
		Short: "Approve a staged session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := sessionArg(args)
			if err != nil {
				return err
			}
			ctx, err := global.scoped(cmd.Context())
			if err != nil {
				return err
			}
			pipeline, closeFn, err := global.openPostgres(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			decision, err := pipeline.Imports.Approve(ctx, id, global.actor, notes)
			if err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), decision.Session)
			fmt.Fprintf(cmd.OutOrStdout(), "approved %d records, rejected %d\n", decision.ApprovedCount, decision.RejectedCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Approval notes")
	return cmd
}

func newRejectCmd(global *globalOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <session-id>",
		Short: "Reject a staged session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := sessionArg(args)
			if err != nil {
				return err
			}
			ctx, err := global.scoped(cmd.Context())
			if err != nil {
				return err
			}
			pipeline, closeFn, err := global.openPostgres(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			decision, err := pipeline.Imports.Reject(ctx, id, global.actor, reason)
			if err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), decision.Session)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Rejection reason (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newProcessCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "process <session-id>",
		Short: "Commit an approved session to the stock ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := sessionArg(args)
			if err != nil {
				return err
			}
			ctx, err := global.scoped(cmd.Context())
			if err != nil {
				return err
			}
			pipeline, closeFn, err := global.openPostgres(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			summary, err := pipeline.Imports.Process(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s %s: %d processed, %d failed, %d skipped\n",
				summary.SessionID, summary.Status, summary.ProcessedCount, summary.FailedCount, summary.SkippedCount)
			for _, failure := range summary.Failures {
				fmt.Fprintf(cmd.OutOrStdout(), "row %d: %s\n", failure.SourceRowNumber, failure.Reason)
			}
			return nil
		},
	}
}

func newReportCmd(global *globalOptions) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "report <session-id>",
		Short: "Export the validation report of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := sessionArg(args)
			if err != nil {
				return err
			}
			reportFormat, err := staging.ParseFormat(format)
			if err != nil {
				return err
			}
			ctx, err := global.scoped(cmd.Context())
			if err != nil {
				return err
			}
			pipeline, closeFn, err := global.openPostgres(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if output == "" {
				_, err := pipeline.Imports.Report(ctx, id, reportFormat, cmd.OutOrStdout())
				return err
			}
			out, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create report: %w", err)
			}
			defer out.Close()
			_, err = pipeline.Imports.Report(ctx, id, reportFormat, out)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "Report format: csv or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (stdout when empty)")
	return cmd
}
