package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sketchpacks/plugin-catalog/pkg/api"
)

var updatesCmd = &cobra.Command{
	Use:   "updates",
	Short: "List installed plugins with a newer catalog version",
	Args:  cobra.NoArgs,
	RunE:  runUpdates,
}

func runUpdates(cmd *cobra.Command, args []string) error {
	var resp api.PluginList
	if err := newClient().getJSON("/api/v1/updates", &resp); err != nil {
		return fmt.Errorf("failed to list updates: %w", err)
	}

	return render(resp, func() {
		for _, w := range resp.Warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
		}
		if len(resp.Plugins) == 0 {
			fmt.Fprintln(stdout, "All installed plugins are up to date.")
			return
		}
		printPlugins(resp.Plugins)
	})
}
