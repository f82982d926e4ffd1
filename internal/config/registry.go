package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/agentshield/shield/internal/vault"
)

// RegistryFile is the global workspace registry under the user's home
// directory (~/.shield/config.json).
const RegistryFile = "config.json"

// Workspace is one registered workspace in the global registry.
type Workspace struct {
	Path    string `json:"path"`
	Name    string `json:"name"`
	AddedAt int64  `json:"added_at"` // epoch milliseconds
}

// Registry is the persisted set of workspaces shield knows about, so an
// operator can enumerate protected directories without remembering paths.
// Every mutation rewrites the file.
type Registry struct {
	path       string
	Workspaces []Workspace `json:"workspaces"`
}

// RegistryPath returns the global registry location.
func RegistryPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, vault.DirName, RegistryFile), nil
}

// OpenRegistry loads the global registry. A missing or corrupted file is
// treated as empty, matching the snapshot index's soft-failure policy.
func OpenRegistry() (*Registry, error) {
	path, err := RegistryPath()
	if err != nil {
		return nil, err
	}
	return OpenRegistryAt(path), nil
}

// OpenRegistryAt loads a registry from an explicit path.
func OpenRegistryAt(path string) *Registry {
	r := &Registry{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return r
	}
	if jerr := json.Unmarshal(data, r); jerr != nil {
		r.Workspaces = nil
	}
	return r
}

// List returns the registered workspaces sorted by name.
func (r *Registry) List() []Workspace {
	out := make([]Workspace, len(r.Workspaces))
	copy(out, r.Workspaces)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Add registers a workspace directory. The path must exist and be a
// directory; registering the same path twice is an error.
func (r *Registry) Add(dir string) (Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Workspace{}, fmt.Errorf("resolving %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Workspace{}, fmt.Errorf("workspace %s: %w", dir, err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("workspace %s is not a directory", dir)
	}
	for _, w := range r.Workspaces {
		if w.Path == abs {
			return Workspace{}, fmt.Errorf("workspace %s already registered", abs)
		}
	}

	ws := Workspace{
		Path:    abs,
		Name:    filepath.Base(abs),
		AddedAt: time.Now().UnixMilli(),
	}
	r.Workspaces = append(r.Workspaces, ws)
	if err := r.save(); err != nil {
		return Workspace{}, err
	}
	return ws, nil
}

// Remove unregisters a workspace by path. Removing a path that was never
// registered is not an error; the registry only promises the path is gone.
func (r *Registry) Remove(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", dir, err)
	}
	kept := r.Workspaces[:0]
	for _, w := range r.Workspaces {
		if w.Path != abs {
			kept = append(kept, w)
		}
	}
	r.Workspaces = kept
	return r.save()
}

func (r *Registry) save() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("writing registry: %w", err)
	}
	return nil
}
