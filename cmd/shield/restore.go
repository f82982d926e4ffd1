package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentshield/shield/internal/restore"
	"github.com/agentshield/shield/internal/ui"
)

var (
	restoreTime int64
	restoreFile string
)

var restoreCmd = &cobra.Command{
	Use:   "restore [snapshot-id]",
	Short: "Undo the changes recorded in a snapshot",
	Long: `Reverse a snapshot: deleted files come back, changed files get
their previous content, renames are undone and created files are removed.

Without arguments the most recent snapshot is restored. A snapshot can also
be named by id (snap_1712345678901 or the bare timestamp), selected by
--time, or a single file can be put back with --file.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws := openWorkspace(true)
		eng := restore.New(ws.store, ws.cfg.LockHold(), ws.logger)

		if restoreFile != "" {
			if err := eng.RestoreFile(restoreFile); err != nil {
				fatal("%v", err)
			}
			fmt.Printf("%s Restored %s\n", ui.RenderPass("✓"), restoreFile)
			return
		}

		var (
			res restore.Result
			err error
		)
		switch {
		case restoreTime != 0:
			res, err = eng.RestoreToTimestamp(restoreTime)
		case len(args) == 1:
			res, err = eng.RestoreSnapshot(args[0])
		default:
			snaps := ws.store.Snapshots()
			if len(snaps) == 0 {
				fatal("no snapshots to restore")
			}
			res, err = eng.RestoreSnapshot(snaps[0].ID)
		}
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("%s Restore complete\n", ui.RenderPass("✓"))
		fmt.Printf("   Restored: %d\n", res.Restored)
		if res.Deleted > 0 {
			fmt.Printf("   Removed:  %d\n", res.Deleted)
		}
		if res.Skipped > 0 {
			fmt.Printf("   Skipped:  %d\n", res.Skipped)
		}
		if res.Failed > 0 {
			fmt.Printf("%s Failed:   %d (see %s)\n", ui.RenderFail("✗"), res.Failed, ws.vault.LogPath())
		}
	},
}

func init() {
	restoreCmd.Flags().Int64VarP(&restoreTime, "time", "t", 0, "restore the snapshot taken at this epoch-millisecond timestamp")
	restoreCmd.Flags().StringVarP(&restoreFile, "file", "f", "", "restore only this file to its most recent backup")
	rootCmd.AddCommand(restoreCmd)
}
