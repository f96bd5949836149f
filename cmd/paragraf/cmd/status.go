package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paragraf/paragraf/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status per dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context())
		},
	}
}

func runStatus(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.cleanup()

	backend := "sqlite"
	if a.cfg.UsePostgres() {
		backend = "postgres"
	}
	fmt.Printf("Backend: %s\n\n", backend)

	for _, ds := range store.Datasets {
		state, err := a.store.GetSyncState(ctx, ds)
		if err != nil {
			return err
		}
		fmt.Printf("%s:\n", ds)
		if state.SyncedAt.IsZero() && state.Status == store.SyncIdle {
			fmt.Println("  never synced")
			continue
		}
		fmt.Printf("  status:        %s\n", state.Status)
		if !state.LastModified.IsZero() {
			fmt.Printf("  last modified: %s\n", state.LastModified.Format("2006-01-02 15:04:05"))
		}
		if !state.SyncedAt.IsZero() {
			fmt.Printf("  synced at:     %s\n", state.SyncedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("  documents:     %d\n", state.FileCount)
		if state.ErrorMessage != "" {
			fmt.Printf("  error:         %s\n", state.ErrorMessage)
		}
	}
	return nil
}
