// File: cmd/dashboard.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reconctl/internal/config"
	"github.com/xkilldash9x/reconctl/internal/dashboard"
	"github.com/xkilldash9x/reconctl/internal/observability"
	"github.com/xkilldash9x/reconctl/internal/service"
)

func newDashboardCmd(factory service.ComponentFactory) *cobra.Command {
	var recent int

	dashboardCmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show the job counters and the most recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runDashboard(ctx, cmd.OutOrStdout(), cfg, factory, recent, observability.GetLogger())
		},
	}

	dashboardCmd.Flags().IntVarP(&recent, "recent", "r", 5, "Number of recent jobs to show (0 shows all).")
	return dashboardCmd
}

func runDashboard(ctx context.Context, out io.Writer, cfg config.Interface, factory service.ComponentFactory, recent int, logger *zap.Logger) error {
	components, err := createComponents(ctx, factory, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Shutdown()

	principal, err := components.Resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	overview, err := components.Dashboard.Overview(ctx, principal, recent)
	if err != nil {
		return fmt.Errorf("failed to build dashboard: %w", err)
	}
	return renderOverview(out, overview)
}

func renderOverview(out io.Writer, overview dashboard.Overview) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	if overview.CountersLive {
		fmt.Fprintln(tw, "Counters")
	} else {
		fmt.Fprintf(tw, "Counters (placeholders, backend unavailable: %v)\n", overview.CountersErr)
	}
	for _, c := range overview.Counters.Counters() {
		fmt.Fprintf(tw, "  %s\t%d\n", c.Label, c.Value)
	}
	fmt.Fprintf(tw, "  Total\t%d\n", overview.Counters.Total())

	fmt.Fprintln(tw)
	if len(overview.Recent) == 0 {
		fmt.Fprintln(tw, "No recent jobs.")
		return tw.Flush()
	}
	fmt.Fprintln(tw, "Recent jobs")
	for _, rec := range overview.Recent {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", rec.Timestamp, rec.Label, rec.Target, rec.Status, rec.Duration)
	}
	return tw.Flush()
}
