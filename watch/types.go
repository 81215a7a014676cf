// Package watch turns filesystem changes into task runs.
//
// An FSWatcher reports ChangeEvents for paths under the project root. The
// Scheduler matches each event against its Bindings and triggers the bound
// tasks, coalescing bursts of changes into a single run and never running
// the same binding twice at once.
package watch

import "strings"

// Op is the kind of change observed.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

func (op Op) String() string {
	var parts []string
	for _, p := range []struct {
		op   Op
		name string
	}{
		{OpCreate, "CREATE"},
		{OpWrite, "WRITE"},
		{OpRemove, "REMOVE"},
		{OpRename, "RENAME"},
		{OpChmod, "CHMOD"},
	} {
		if op.Has(p.op) {
			parts = append(parts, p.name)
		}
	}
	if len(parts) == 0 {
		return "UNKNOWN"
	}
	return strings.Join(parts, "|")
}

func (op Op) Has(o Op) bool { return op&o == o }

// ChangeEvent is a single filesystem notification.
type ChangeEvent struct {
	// Path is slash-separated and relative to the watched root.
	Path string
	Op   Op
}

// Binding maps watched globs to the tasks they re-trigger.
type Binding struct {
	Globs []string
	Tasks []string
}
