package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sketchpacks/plugin-catalog/pkg/api"
	"github.com/sketchpacks/plugin-catalog/pkg/catalog"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull the registry catalog into the local store",
	Long: `Trigger a registry sync and wait for it to finish.

A sync already in progress is joined rather than started again.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the outcome of the last registry sync",
	Args:  cobra.NoArgs,
	RunE:  runSyncStatus,
}

func init() {
	syncCmd.AddCommand(syncStatusCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	var resp api.SyncResponse
	if err := newClient().postJSON("/api/v1/sync", nil, &resp); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	return render(resp, func() {
		if resp.Status != nil {
			printSyncStatus(*resp.Status)
			return
		}
		fmt.Fprintf(stdout, "Synced %d plugins\n", resp.Loaded)
	})
}

func runSyncStatus(cmd *cobra.Command, args []string) error {
	var status catalog.SyncStatusRecord
	if err := newClient().getJSON("/api/v1/sync/status", &status); err != nil {
		return fmt.Errorf("failed to get sync status: %w", err)
	}

	return render(status, func() { printSyncStatus(status) })
}

func printSyncStatus(s catalog.SyncStatusRecord) {
	lastError := orDash(&s.LastError)
	lastSync := "-"
	if s.LastSyncTime != nil {
		lastSync = s.LastSyncTime.UTC().Format(time.RFC3339)
	}

	t := newTable("Source", "Status", "Summary", "Loaded", "Last Sync", "Duration", "Error")
	t.row(s.Source, s.LastSyncStatus, s.LastSyncSummary, strconv.Itoa(s.PluginsLoaded), lastSync,
		(time.Duration(s.DurationMs) * time.Millisecond).String(), truncate(lastError, 50))
	t.flush()
}
