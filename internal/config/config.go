// Package config resolves shield's runtime settings from defaults, the
// optional .shield/config.yaml, SHIELD_* environment variables and the
// workspace's .shieldignore file, in that precedence order.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/agentshield/shield/internal/vault"
)

// ConfigFile is the optional per-workspace settings file inside the vault.
const ConfigFile = "config.yaml"

// Config holds every tunable of the detector, batcher and retention.
// Durations are stored as milliseconds to match the on-disk index, which
// timestamps everything in epoch millis.
type Config struct {
	DebounceMillis    int      `mapstructure:"debounce_ms"`
	RenameGraceMillis int      `mapstructure:"rename_grace_ms"`
	BatchMillis       int      `mapstructure:"batch_ms"`
	LockHoldMillis    int      `mapstructure:"lock_hold_ms"`
	RetentionDays     int      `mapstructure:"retention_days"`
	Exclude           []string `mapstructure:"exclude"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		DebounceMillis:    1000,
		RenameGraceMillis: 500,
		BatchMillis:       2000,
		LockHoldMillis:    4000,
		RetentionDays:     7,
		Exclude:           nil,
	}
}

// DefaultExcludes are always-on exclusion patterns. The vault itself must
// never be snapshotted, and the rest are the usual build/VCS noise.
var DefaultExcludes = []string{
	vault.DirName,
	".git",
	".hg",
	".svn",
	"node_modules",
	"__pycache__",
	"target/debug",
	"target/release",
	".DS_Store",
	"*.swp",
	"*.tmp",
	"*~",
}

// Load resolves the configuration for one workspace.
func Load(v *vault.Vault) (Config, error) {
	def := Default()

	vp := viper.New()
	vp.SetDefault("debounce_ms", def.DebounceMillis)
	vp.SetDefault("rename_grace_ms", def.RenameGraceMillis)
	vp.SetDefault("batch_ms", def.BatchMillis)
	vp.SetDefault("lock_hold_ms", def.LockHoldMillis)
	vp.SetDefault("retention_days", def.RetentionDays)
	vp.SetDefault("exclude", def.Exclude)

	vp.SetEnvPrefix("SHIELD")
	vp.AutomaticEnv()

	cfgPath := ConfigPath(v)
	if _, err := os.Stat(cfgPath); err == nil {
		vp.SetConfigFile(cfgPath)
		if err := vp.ReadInConfig(); err != nil {
			return def, fmt.Errorf("reading %s: %w", cfgPath, err)
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return def, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return def, err
	}
	return cfg, nil
}

// ConfigPath returns the workspace's settings file path.
func ConfigPath(v *vault.Vault) string {
	return filepath.Join(v.Dir(), ConfigFile)
}

func (c Config) validate() error {
	if c.DebounceMillis <= 0 {
		return fmt.Errorf("debounce_ms must be positive, got %d", c.DebounceMillis)
	}
	if c.RenameGraceMillis <= 0 {
		return fmt.Errorf("rename_grace_ms must be positive, got %d", c.RenameGraceMillis)
	}
	if c.BatchMillis <= 0 {
		return fmt.Errorf("batch_ms must be positive, got %d", c.BatchMillis)
	}
	if c.LockHoldMillis < 0 {
		return fmt.Errorf("lock_hold_ms must not be negative, got %d", c.LockHoldMillis)
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be positive, got %d", c.RetentionDays)
	}
	return nil
}

// Debounce returns the per-path quiet window.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMillis) * time.Millisecond
}

// RenameGrace returns the delete-vs-rename pairing window.
func (c Config) RenameGrace() time.Duration {
	return time.Duration(c.RenameGraceMillis) * time.Millisecond
}

// Batch returns the snapshot batching window.
func (c Config) Batch() time.Duration {
	return time.Duration(c.BatchMillis) * time.Millisecond
}

// LockHold returns how long the restore lock outlives a finished restore.
func (c Config) LockHold() time.Duration {
	return time.Duration(c.LockHoldMillis) * time.Millisecond
}

// Patterns merges the always-on defaults, the config file's exclude list and
// the workspace's .shieldignore into the final exclusion pattern set.
func Patterns(v *vault.Vault, cfg Config) []string {
	out := append([]string{}, DefaultExcludes...)
	out = append(out, cfg.Exclude...)
	out = append(out, loadIgnoreFile(v.IgnorePath())...)
	return out
}

// loadIgnoreFile reads one pattern per line, skipping blanks and # comments.
// A missing file is fine.
func loadIgnoreFile(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var patterns []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}
