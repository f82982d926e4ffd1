// Command shield watches a workspace for file changes made by coding agents,
// snapshots the pre-change content, and restores it on demand.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentshield/shield/internal/config"
	"github.com/agentshield/shield/internal/exclude"
	"github.com/agentshield/shield/internal/logging"
	"github.com/agentshield/shield/internal/store"
	"github.com/agentshield/shield/internal/vault"
)

var version = "dev"

var workspaceFlag string

var rootCmd = &cobra.Command{
	Use:   "shield",
	Short: "File-level undo for agent-edited workspaces",
	Long: `shield watches a workspace, captures the state of files before an
agent changes, renames or deletes them, and can put everything back.

Snapshots live in the workspace's .shield directory. Start protection with
'shield watch' (foreground) or 'shield daemon start' (background).`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", ".", "workspace directory to protect")
}

// workspace holds everything a command needs to operate on one directory.
type workspace struct {
	vault   *vault.Vault
	cfg     config.Config
	matcher *exclude.Matcher
	store   *store.Store
	logger  *log.Logger
}

// openWorkspace resolves the --workspace flag into a ready-to-use store.
// Commands that present their own output pass quiet to keep log lines off
// the terminal; everything still reaches the vault's activity log.
func openWorkspace(quiet bool) *workspace {
	v, err := vault.New(workspaceFlag)
	if err != nil {
		fatal("opening workspace: %v", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		fatal("loading configuration: %v", err)
	}
	matcher := exclude.New(config.Patterns(v, cfg))

	logger := logging.New(v.LogPath(), !quiet)
	s, err := store.Open(v, matcher, logger)
	if err != nil {
		fatal("opening snapshot store: %v", err)
	}
	return &workspace{vault: v, cfg: cfg, matcher: matcher, store: s, logger: logger}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
