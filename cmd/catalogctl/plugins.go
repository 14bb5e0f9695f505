package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sketchpacks/plugin-catalog/pkg/api"
	"github.com/sketchpacks/plugin-catalog/pkg/catalog"
)

var listView string

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Browse the local plugin catalog",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog plugins",
	Long:  "List catalog plugins in one of the views: all, popular, newest, installed.",
	Args:  cobra.NoArgs,
	RunE:  runPluginsList,
}

var pluginsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one plugin",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginsGet,
}

var pluginsLockCmd = &cobra.Command{
	Use:   "lock <id>",
	Short: "Toggle the update lock of a plugin",
	Long:  "Flip the lock flag of a plugin. Locked plugins are never updated automatically.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginsLock,
}

func init() {
	pluginsListCmd.Flags().StringVar(&listView, "view", "", "Catalog view: all, popular, newest, installed")

	pluginsCmd.AddCommand(pluginsListCmd)
	pluginsCmd.AddCommand(pluginsGetCmd)
	pluginsCmd.AddCommand(pluginsLockCmd)
}

func runPluginsList(cmd *cobra.Command, args []string) error {
	if _, err := catalog.ParseView(listView); err != nil {
		return err
	}

	path := "/api/v1/plugins"
	if listView != "" {
		path += "?view=" + url.QueryEscape(listView)
	}

	var resp api.PluginList
	if err := newClient().getJSON(path, &resp); err != nil {
		return fmt.Errorf("failed to list plugins: %w", err)
	}

	return render(resp, func() { printPlugins(resp.Plugins) })
}

func runPluginsGet(cmd *cobra.Command, args []string) error {
	var rec catalog.PluginRecord
	if err := newClient().getJSON("/api/v1/plugins/"+url.PathEscape(args[0]), &rec); err != nil {
		return fmt.Errorf("failed to get plugin %s: %w", args[0], err)
	}

	return render(rec, func() { printRecord(rec) })
}

func runPluginsLock(cmd *cobra.Command, args []string) error {
	var rec catalog.PluginRecord
	if err := newClient().postJSON("/api/v1/plugins/"+url.PathEscape(args[0])+"/lock", nil, &rec); err != nil {
		return fmt.Errorf("failed to toggle lock on %s: %w", args[0], err)
	}

	return render(rec, func() {
		state := "unlocked"
		if rec.Locked {
			state = "locked"
		}
		fmt.Fprintf(stdout, "Plugin %s is now %s\n", rec.ID, state)
	})
}

// printPlugins shows the installed version in place of "yes" when known.
func printPlugins(records []catalog.PluginRecord) {
	t := newTable("ID", "Name", "Version", "Installed", "Locked", "Score", "Updated")
	for _, r := range records {
		installed := yesNo(r.Installed)
		if r.Installed && r.InstalledVersion != nil {
			installed = *r.InstalledVersion
		}
		t.row(r.ID, truncate(r.DisplayName(), 30), r.Version, installed,
			yesNo(r.Locked), formatScore(r.Score), formatDate(r.UpdatedAt))
	}
	t.flush()
}

func printRecord(r catalog.PluginRecord) {
	t := newTable("Field", "Value")
	t.row("ID", r.ID)
	t.row("Name", r.DisplayName())
	t.row("Author", r.Author)
	t.row("Version", r.Version)
	t.row("Description", truncate(r.Description, 60))
	t.row("Score", formatScore(r.Score))
	t.row("Published", formatDate(r.PublishedAt))
	t.row("Updated", formatDate(r.UpdatedAt))
	t.row("Installed", yesNo(r.Installed))
	t.row("Install path", orDash(r.InstallPath))
	t.row("Installed version", orDash(r.InstalledVersion))
	t.row("Locked", yesNo(r.Locked))
	t.flush()
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
