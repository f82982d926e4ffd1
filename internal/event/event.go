// Package event defines the file event kinds shared by the watcher, the
// backup strategy and the snapshot store.
package event

// Type classifies what happened to a watched file.
type Type string

const (
	// Change is an in-place content modification.
	Change Type = "change"
	// Delete is a genuine removal (no paired appearance).
	Delete Type = "delete"
	// Rename is a removal paired with an appearance elsewhere.
	Rename Type = "rename"
	// Create is an appearance with no prior content to preserve.
	Create Type = "create"
)

// Valid reports whether t is one of the known kinds.
func (t Type) Valid() bool {
	switch t {
	case Change, Delete, Rename, Create:
		return true
	}
	return false
}

func (t Type) String() string { return string(t) }
