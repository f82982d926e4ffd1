package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentshield/shield/internal/config"
	"github.com/agentshield/shield/internal/ui"
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage the global workspace registry",
	Long: `Manage the registry of protected workspaces in ~/.shield/config.json,
so protected directories can be enumerated without remembering paths.`,
}

var workspaceAddCmd = &cobra.Command{
	Use:   "add [dir]",
	Short: "Register a workspace",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := workspaceFlag
		if len(args) == 1 {
			dir = args[0]
		}
		reg, err := config.OpenRegistry()
		if err != nil {
			fatal("%v", err)
		}
		ws, err := reg.Add(dir)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Registered %s (%s)\n", ui.RenderPass("✓"), ws.Name, ws.Path)
	},
}

var workspaceRemoveCmd = &cobra.Command{
	Use:   "remove [dir]",
	Short: "Unregister a workspace",
	Long: `Remove a workspace from the registry. Its vault and snapshots are
left untouched.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := workspaceFlag
		if len(args) == 1 {
			dir = args[0]
		}
		reg, err := config.OpenRegistry()
		if err != nil {
			fatal("%v", err)
		}
		if err := reg.Remove(dir); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Unregistered %s\n", ui.RenderPass("✓"), dir)
	},
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered workspaces",
	Run: func(cmd *cobra.Command, args []string) {
		reg, err := config.OpenRegistry()
		if err != nil {
			fatal("%v", err)
		}
		workspaces := reg.List()
		if len(workspaces) == 0 {
			fmt.Printf("%s No workspaces registered\n", ui.RenderWarn("⚠"))
			return
		}
		fmt.Printf("\n%s Registered workspaces\n\n", ui.RenderTitle("🗂"))
		for _, ws := range workspaces {
			added := time.UnixMilli(ws.AddedAt).Format("2006-01-02")
			fmt.Printf("%s  %s  %s\n",
				ui.RenderAccent(ws.Name),
				ws.Path,
				ui.RenderDim("added "+added))
		}
		fmt.Println()
	},
}

func init() {
	workspaceCmd.AddCommand(workspaceAddCmd)
	workspaceCmd.AddCommand(workspaceRemoveCmd)
	workspaceCmd.AddCommand(workspaceListCmd)
	rootCmd.AddCommand(workspaceCmd)
}
