package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentshield/shield/internal/ui"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		ws := openWorkspace(true)

		snaps := ws.store.Snapshots()
		if len(snaps) == 0 {
			fmt.Printf("%s No snapshots yet\n", ui.RenderWarn("⚠"))
			return
		}
		if listLimit > 0 && len(snaps) > listLimit {
			snaps = snaps[:listLimit]
		}

		fmt.Printf("\n%s Snapshots in %s\n\n", ui.RenderTitle("🗂"), ws.vault.Root())
		for _, snap := range snaps {
			when := time.UnixMilli(snap.Timestamp).Format("2006-01-02 15:04:05")
			fmt.Printf("%s  %s  %s\n",
				ui.RenderAccent(snap.ID),
				ui.RenderDim(when),
				fmt.Sprintf("%d file(s)", len(snap.Files)))
			for _, f := range snap.Files {
				line := fmt.Sprintf("    %-7s %s", f.EventType, f.Path)
				if f.RenamedTo != "" {
					line += " -> " + f.RenamedTo
				}
				fmt.Println(ui.RenderDim(line))
			}
		}
		fmt.Println()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <file>",
	Short: "Show the recorded versions of one file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws := openWorkspace(true)

		versions := ws.store.FileHistory(args[0])
		if len(versions) == 0 {
			fmt.Printf("%s No history for %s\n", ui.RenderWarn("⚠"), args[0])
			return
		}

		fmt.Printf("\n%s History of %s\n\n", ui.RenderTitle("🗂"), args[0])
		for _, ver := range versions {
			when := time.UnixMilli(ver.Snapshot.Timestamp).Format("2006-01-02 15:04:05")
			fmt.Printf("%s  %s  %-7s %s\n",
				ui.RenderAccent(ver.Snapshot.ID),
				ui.RenderDim(when),
				ver.File.EventType,
				ui.RenderDim(fmt.Sprintf("%d bytes", ver.File.Size)))
		}
		fmt.Println()
	},
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "show at most this many snapshots (0 = all)")
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(historyCmd)
}
