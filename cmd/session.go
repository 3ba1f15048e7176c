// File: cmd/session.go
package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/reconctl/internal/config"
	"github.com/xkilldash9x/reconctl/internal/identity"
	"github.com/xkilldash9x/reconctl/internal/observability"
	"github.com/xkilldash9x/reconctl/internal/service"
)

func newSessionCmd() *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or reset the guest session used when not signed in",
	}

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored guest session id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return runSessionShow(cmd.OutOrStdout(), cfg)
		},
	})

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget the guest session; the next job starts a new one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return runSessionClear(cmd.OutOrStdout(), cfg)
		},
	})
	return sessionCmd
}

func runSessionShow(out io.Writer, cfg config.Interface) error {
	_, store, err := service.InitializeIdentity(cfg.Identity(), observability.GetLogger())
	if err != nil {
		return err
	}
	id, err := store.Get()
	if err != nil {
		return err
	}
	if id == "" {
		fmt.Fprintln(out, "No guest session.")
		return nil
	}
	fmt.Fprintln(out, id)
	if marker, ok := identity.ParseSessionMarker(id); ok {
		fmt.Fprintf(out, "Marker: %s\n", marker.UTC().Format(time.RFC3339))
	}
	return nil
}

func runSessionClear(out io.Writer, cfg config.Interface) error {
	resolver, _, err := service.InitializeIdentity(cfg.Identity(), observability.GetLogger())
	if err != nil {
		return err
	}
	if err := resolver.ClearSession(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	fmt.Fprintln(out, "Guest session cleared.")
	return nil
}
