// File: cmd/history.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reconctl/internal/config"
	"github.com/xkilldash9x/reconctl/internal/observability"
	"github.com/xkilldash9x/reconctl/internal/reporting"
	"github.com/xkilldash9x/reconctl/internal/service"
)

// nopCloser keeps a reporter from closing the command's output.
type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func newHistoryCmd(factory service.ComponentFactory) *cobra.Command {
	var limit int
	var format string

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List past jobs of the current user or guest session",
		Long: `Fetches the job history kept by the backend for the current identity and
prints each entry in the same shape as a live result. A guest whose session
the backend does not know gets an empty history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runHistory(ctx, cmd.OutOrStdout(), cfg, factory, limit, format, observability.GetLogger())
		},
	}

	historyCmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many records (0 shows all).")
	historyCmd.Flags().StringVar(&format, "as", reporting.FormatText, "Output format ('text' or 'json').")
	return historyCmd
}

func runHistory(ctx context.Context, out io.Writer, cfg config.Interface, factory service.ComponentFactory, limit int, format string, logger *zap.Logger) error {
	reporter, err := reporting.NewWithWriter(format, nopCloser{out}, Version)
	if err != nil {
		return err
	}

	components, err := createComponents(ctx, factory, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Shutdown()

	principal, err := components.Resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	records, err := components.History.FetchHistory(ctx, principal)
	if err != nil {
		return fmt.Errorf("failed to fetch history: %w", err)
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	logger.Debug("History fetched", zap.Int("records", len(records)), zap.Stringer("identity", principal.Kind))

	if len(records) == 0 && format == reporting.FormatText {
		fmt.Fprintln(out, "No history.")
	}
	for _, rec := range records {
		if err := reporter.Write(rec); err != nil {
			return err
		}
	}
	return reporter.Close()
}
