package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentshield/shield/internal/daemon"
	"github.com/agentshield/shield/internal/ui"
	"github.com/agentshield/shield/internal/vault"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the background watcher",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start watching in the background",
	Run: func(cmd *cobra.Command, args []string) {
		v := mustVault()
		pid, err := daemon.Start(v)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Watcher started (pid %d)\n", ui.RenderPass("✓"), pid)
		fmt.Printf("   Log: %s\n", v.LogPath())
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background watcher",
	Run: func(cmd *cobra.Command, args []string) {
		v := mustVault()
		if err := daemon.Stop(v); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Watcher stopped\n", ui.RenderPass("✓"))
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background watcher is running",
	Run: func(cmd *cobra.Command, args []string) {
		v := mustVault()
		st, err := daemon.Probe(v)
		if err != nil {
			fatal("%v", err)
		}
		if st.Running {
			fmt.Printf("%s Watcher running (pid %d)\n", ui.RenderPass("✓"), st.PID)
		} else {
			fmt.Printf("%s Watcher not running\n", ui.RenderWarn("⚠"))
		}
	},
}

func mustVault() *vault.Vault {
	v, err := vault.New(workspaceFlag)
	if err != nil {
		fatal("opening workspace: %v", err)
	}
	return v
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}
