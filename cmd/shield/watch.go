package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentshield/shield/internal/daemon"
	"github.com/agentshield/shield/internal/ui"
	"github.com/agentshield/shield/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the workspace in the foreground",
	Long: `Watch the workspace and snapshot pre-change file content until
interrupted. Changes are debounced per file, renames are reconciled, and a
burst of edits lands in a single snapshot.

Run 'shield daemon start' instead to watch in the background.`,
	Run: func(cmd *cobra.Command, args []string) {
		ws := openWorkspace(false)

		w, err := watcher.New(ws.vault, ws.store, ws.matcher, &watcher.Config{
			DebounceWindow: ws.cfg.Debounce(),
			RenameGrace:    ws.cfg.RenameGrace(),
			BatchWindow:    ws.cfg.Batch(),
			Logger:         ws.logger,
		})
		if err != nil {
			fatal("creating watcher: %v", err)
		}
		if err := w.Start(); err != nil {
			fatal("starting watcher: %v", err)
		}
		if err := daemon.WriteOwnPID(ws.vault); err != nil {
			fatal("recording pid: %v", err)
		}
		defer daemon.ClearOwnPID(ws.vault)

		fmt.Printf("%s Watching %s\n", ui.RenderPass("✓"), ws.vault.Root())
		fmt.Printf("   Snapshots: %s\n", ws.vault.BlobDir())
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		sigC := make(chan os.Signal, 1)
		signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
		<-sigC

		fmt.Printf("\n%s Stopping, flushing pending changes...\n", ui.RenderAccent("●"))
		if err := w.Stop(); err != nil {
			fatal("stopping watcher: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
