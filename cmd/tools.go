// File: cmd/tools.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reconctl/api/schemas"
	"github.com/xkilldash9x/reconctl/internal/bus"
	"github.com/xkilldash9x/reconctl/internal/config"
	"github.com/xkilldash9x/reconctl/internal/observability"
	"github.com/xkilldash9x/reconctl/internal/poller"
	"github.com/xkilldash9x/reconctl/internal/reporting"
	"github.com/xkilldash9x/reconctl/internal/service"
)

const logTimeLayout = "15:04:05"

var toolArgNames = map[schemas.ToolKind]string{
	schemas.ToolKatana:  "<url>",
	schemas.ToolNmap:    "<target>",
	schemas.ToolWhois:   "<domain|ip>",
	schemas.ToolCommand: "<command...>",
}

// newToolCmds creates one command per remote tool.
func newToolCmds(factory service.ComponentFactory) []*cobra.Command {
	tools := schemas.Tools()
	cmds := make([]*cobra.Command, 0, len(tools))
	for _, tool := range tools {
		cmds = append(cmds, newToolCmd(tool, factory))
	}
	return cmds
}

func newToolCmd(tool schemas.Tool, factory service.ComponentFactory) *cobra.Command {
	args := cobra.ExactArgs(1)
	if tool.Kind == schemas.ToolCommand {
		// The command line may be given unquoted.
		args = cobra.MinimumNArgs(1)
	}

	toolCmd := &cobra.Command{
		Use:   fmt.Sprintf("%s %s", tool.Kind, toolArgNames[tool.Kind]),
		Short: fmt.Sprintf("Run a %s job and follow it to completion", tool.Label),
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runTool(ctx, cmd.OutOrStdout(), cfg, factory, tool.Kind, strings.Join(args, " "), observability.GetLogger())
		},
	}

	toolCmd.Flags().StringP("output", "o", "", "Export the finished record to this file ('stdout' for the terminal). If unset, nothing is exported.")
	toolCmd.Flags().StringP("format", "f", reporting.FormatJSON, "Export format ('json' or 'text').")
	return toolCmd
}

// runTool submits one job, streams its progress to out and prints the
// normalized record once it finishes.
func runTool(ctx context.Context, out io.Writer, cfg config.Interface, factory service.ComponentFactory, kind schemas.ToolKind, parameter string, logger *zap.Logger) error {
	components, err := createComponents(ctx, factory, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Shutdown()

	controller, err := components.Controller(kind)
	if err != nil {
		return err
	}

	events, unsubscribe := components.Bus.Subscribe()
	defer unsubscribe()

	stop := make(chan struct{})
	displayDone := make(chan struct{})
	go func() {
		defer close(displayDone)
		renderEvents(out, components.Bus, events, stop)
	}()

	run, startErr := controller.Start(ctx, parameter)
	var outcome poller.Outcome
	if startErr == nil {
		outcome = run.Wait()
	}
	// Every event of this run is buffered by now; the display flushes them.
	close(stop)
	<-displayDone

	if startErr != nil {
		return startErr
	}

	if rec, ok := run.Record(); ok {
		fmt.Fprintln(out)
		if err := reporting.RenderRecord(out, rec); err != nil {
			return err
		}
	}
	if exp := cfg.Export(); components.Exporting() && exp.Output != "stdout" {
		fmt.Fprintf(out, "\nRecord exported to %s (%s)\n", exp.Output, exp.Format)
	}

	switch outcome.State {
	case poller.Succeeded:
		return nil
	case poller.Cancelled:
		if err := ctx.Err(); err != nil {
			return err
		}
		return context.Canceled
	default:
		return outcome.Err
	}
}

// renderEvents prints log lines and poll progress until stop is closed,
// then prints whatever is still buffered.
func renderEvents(out io.Writer, jobs *bus.JobBus, events <-chan bus.Event, stop <-chan struct{}) {
	handle := func(ev bus.Event) {
		defer jobs.Acknowledge(ev)
		switch p := ev.Payload.(type) {
		case bus.LogLine:
			fmt.Fprintf(out, "[%s] %s\n", p.Time.Format(logTimeLayout), p.Text)
		case bus.Progress:
			fmt.Fprintf(out, "[%s] Polling %d/%d (%.0f%%)\n", ev.Timestamp.Local().Format(logTimeLayout), p.Attempt, p.MaxAttempts, p.Percent)
		}
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			handle(ev)
		case <-stop:
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return
					}
					handle(ev)
				default:
					return
				}
			}
		}
	}
}
