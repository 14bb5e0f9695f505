package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/sketchpacks/plugin-catalog/pkg/api"
	"github.com/sketchpacks/plugin-catalog/pkg/catalog"
)

var (
	installPath    string
	installVersion string
)

var installationCmd = &cobra.Command{
	Use:     "installation",
	Aliases: []string{"install"},
	Short:   "Record install outcomes reported by the lifecycle manager",
}

var installationSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Mark a plugin installed at a path and version",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstallationSet,
}

var installationRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Mark a plugin uninstalled",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstallationRemove,
}

func init() {
	installationSetCmd.Flags().StringVar(&installPath, "path", "", "Install path on disk")
	installationSetCmd.Flags().StringVar(&installVersion, "version", "", "Installed version")
	_ = installationSetCmd.MarkFlagRequired("path")
	_ = installationSetCmd.MarkFlagRequired("version")

	installationCmd.AddCommand(installationSetCmd)
	installationCmd.AddCommand(installationRemoveCmd)
}

func installationPath(id string) string {
	return "/api/v1/plugins/" + url.PathEscape(id) + "/installation"
}

func runInstallationSet(cmd *cobra.Command, args []string) error {
	req := api.InstallationRequest{InstallPath: installPath, Version: installVersion}

	var rec catalog.PluginRecord
	if err := newClient().putJSON(installationPath(args[0]), req, &rec); err != nil {
		return fmt.Errorf("failed to record installation of %s: %w", args[0], err)
	}

	return render(rec, func() {
		fmt.Fprintf(stdout, "Plugin %s installed at %s (version %s)\n", rec.ID, orDash(rec.InstallPath), orDash(rec.InstalledVersion))
	})
}

func runInstallationRemove(cmd *cobra.Command, args []string) error {
	var rec catalog.PluginRecord
	if err := newClient().deleteJSON(installationPath(args[0]), &rec); err != nil {
		return fmt.Errorf("failed to record removal of %s: %w", args[0], err)
	}

	return render(rec, func() { fmt.Fprintf(stdout, "Plugin %s uninstalled\n", rec.ID) })
}
