package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentshield/shield/internal/daemon"
	"github.com/agentshield/shield/internal/ui"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show snapshot store statistics",
	Run: func(cmd *cobra.Command, args []string) {
		ws := openWorkspace(true)

		st := ws.store.Stats()
		watcherSt, _ := daemon.Probe(ws.vault)

		fmt.Printf("\n%s Workspace: %s\n\n", ui.RenderTitle("📊"), ws.vault.Root())
		if watcherSt.Running {
			fmt.Printf("Watcher:      %s (pid %d)\n", ui.RenderPass("running"), watcherSt.PID)
		} else {
			fmt.Printf("Watcher:      %s\n", ui.RenderWarn("not running"))
		}
		fmt.Printf("Snapshots:    %d\n", st.Snapshots)
		fmt.Printf("File entries: %d\n", st.TotalFiles)
		fmt.Printf("Unique files: %d\n", st.UniqueFiles)
		fmt.Printf("Indexed size: %s\n", formatBytes(st.TotalBytes))
		fmt.Printf("Retention:    %d day(s)\n", ws.cfg.RetentionDays)
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
