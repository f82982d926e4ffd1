package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentshield/shield/internal/ui"
)

var cleanDays int

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove snapshots older than the retention window",
	Run: func(cmd *cobra.Command, args []string) {
		ws := openWorkspace(true)

		days := cleanDays
		if days == 0 {
			days = ws.cfg.RetentionDays
		}

		res, err := ws.store.CleanOldSnapshots(days)
		if err != nil {
			fatal("cleaning snapshots: %v", err)
		}
		if res.Removed == 0 {
			fmt.Printf("%s Nothing older than %d day(s)\n", ui.RenderPass("✓"), days)
			return
		}
		fmt.Printf("%s Removed %d snapshot(s), freed %s\n",
			ui.RenderPass("✓"), res.Removed, formatBytes(res.FreedBytes))
	},
}

func formatBytes(n int64) string {
	switch {
	case n > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	case n > 1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

func init() {
	cleanCmd.Flags().IntVarP(&cleanDays, "days", "d", 0, "remove snapshots older than this many days (default: configured retention)")
	rootCmd.AddCommand(cleanCmd)
}
