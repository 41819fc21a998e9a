package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rpattn/stockimport/internal/app"
	"github.com/rpattn/stockimport/internal/domain"
	"github.com/rpattn/stockimport/internal/ingestion"
	"github.com/rpattn/stockimport/internal/repository/memory"
	"github.com/rpattn/stockimport/internal/staging"

	"github.com/spf13/cobra"
)

type validateOptions struct {
	importType string
	reportPath string
	headerRow  int
	items      []string
}

func newValidateCmd(global *globalOptions) *cobra.Command {
	var opts validateOptions
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Dry run a file through the pipeline without touching the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, global, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.importType, "type", "", "Import type: OPENING_STOCK, GRN, PURCHASE or SALES (required)")
	cmd.Flags().StringVar(&opts.reportPath, "report", "", "Write the validation report here (.csv or .xlsx)")
	cmd.Flags().IntVar(&opts.headerRow, "header-row", -1, "Zero-based header row; detected when negative")
	cmd.Flags().StringSliceVar(&opts.items, "items", nil, "Item codes treated as known master data")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func runValidate(cmd *cobra.Command, global *globalOptions, opts validateOptions, path string) error {
	ctx, err := global.scoped(cmd.Context())
	if err != nil {
		return err
	}
	orgID, _ := global.organization()
	importType, err := domain.ParseImportType(opts.importType)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	cfg, logger, err := global.load()
	if err != nil {
		return err
	}
	store := memory.NewStore()
	for _, code := range opts.items {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if err := store.Upsert(ctx, domain.Item{OrganizationID: orgID, Code: code, Name: code, Active: true}); err != nil {
			return err
		}
	}
	pipeline, err := app.NewPipeline(cfg, app.MemoryStores(store), logger)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	req := ingestion.UploadRequest{
		OrganizationID: orgID,
		ImportType:     importType,
		FileName:       filepath.Base(path),
		Data:           data,
		UploadedBy:     global.actor,
	}
	if opts.headerRow >= 0 {
		row := opts.headerRow
		req.HeaderRowIndex = &row
	}
	summary, err := pipeline.Imports.Upload(ctx, req)
	if err != nil {
		return err
	}
	printSession(cmd.OutOrStdout(), summary.Session)
	if len(summary.UnmappedFields) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "unmapped headers: %s\n", strings.Join(summary.UnmappedFields, ", "))
	}
	for _, recommendation := range summary.Session.Quality.Recommendations {
		fmt.Fprintf(cmd.OutOrStdout(), "- %s\n", recommendation)
	}

	if opts.reportPath == "" {
		return nil
	}
	format, err := staging.ParseFormat(strings.TrimPrefix(filepath.Ext(opts.reportPath), "."))
	if err != nil {
		return err
	}
	out, err := os.Create(opts.reportPath)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if _, err := pipeline.Imports.Report(ctx, summary.Session.ID, format, out); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", opts.reportPath)
	return nil
}

func printSession(w io.Writer, session domain.UploadSession) {
	fmt.Fprintf(w, "session %s %s\n", session.ID, session.Status)
	fmt.Fprintf(w, "rows: %d total, %d valid, %d warning, %d invalid, %d duplicate\n",
		session.TotalRows, session.ValidCount, session.WarningCount, session.InvalidCount, session.DuplicateCount)
	fmt.Fprintf(w, "quality: %d\n", session.Quality.OverallScore)
}
