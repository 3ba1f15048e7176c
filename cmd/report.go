// File: cmd/report.go
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reconctl/internal/observability"
	"github.com/xkilldash9x/reconctl/internal/reporting"
)

// newReportCmd creates the `report` command, which renders an export written
// by a tool command.
func newReportCmd() *cobra.Command {
	var outputPath string
	var format string

	reportCmd := &cobra.Command{
		Use:   "report <export.json>",
		Short: "Render a JSON export produced with --output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.OutOrStdout(), observability.GetLogger(), args[0], outputPath, format)
		},
	}

	reportCmd.Flags().StringVar(&outputPath, "to", "", "Write the rendering to this file. If unset, it is printed to stdout.")
	reportCmd.Flags().StringVar(&format, "as", reporting.FormatText, "Rendering format ('text' or 'json').")
	return reportCmd
}

// runReport contains the core, testable logic of the report command.
func runReport(out io.Writer, logger *zap.Logger, exportPath, outputPath, format string) error {
	f, err := os.Open(exportPath)
	if err != nil {
		return fmt.Errorf("failed to open export: %w", err)
	}
	defer f.Close()

	doc, err := reporting.ReadJSON(f)
	if err != nil {
		return err
	}
	logger.Debug("Loaded export",
		zap.String("path", exportPath),
		zap.String("version", doc.Version),
		zap.Int("records", len(doc.Records)),
	)

	var reporter reporting.Reporter
	if outputPath == "" {
		reporter, err = reporting.NewWithWriter(format, nopCloser{out}, doc.Version)
	} else {
		reporter, err = reporting.New(format, outputPath, doc.Version)
	}
	if err != nil {
		return err
	}

	for _, rec := range doc.Records {
		if err := reporter.Write(rec); err != nil {
			reporter.Close()
			return fmt.Errorf("failed to write record %s: %w", rec.ID, err)
		}
	}
	if err := reporter.Close(); err != nil {
		return err
	}
	if outputPath != "" {
		logger.Info("Report generated successfully", zap.String("path", outputPath))
	}
	return nil
}
