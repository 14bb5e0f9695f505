package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check daemon health",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	var healthResp map[string]any
	if err := newClient().getJSON("/healthz", &healthResp); err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}

	return render(healthResp, func() {
		status, _ := healthResp["status"].(string)
		t := newTable("Check", "Status")
		t.row("Liveness", status)
		t.row("Plugins", fmt.Sprint(healthResp["plugins"]))
		if caches, ok := healthResp["cache"].(map[string]any); ok {
			for _, name := range []string{"views", "records"} {
				if c, ok := caches[name].(map[string]any); ok {
					t.row("Cache "+name, fmt.Sprintf("%v entries, %v hits, %v misses", c["size"], c["hits"], c["misses"]))
				}
			}
		}
		t.flush()
	})
}
