package scanner

import (
	"sync"

	"github.com/google/uuid"
)

// Namer generates unique scratch directory names for batch items.
// Implemented by UUIDv7Namer (production) and FixedNamer (tests).
type Namer interface {
	Name() string
}

// UUIDv7Namer generates time-sortable UUIDv7 scratch names.
//
// UUIDv7 embeds a timestamp in the most significant bits, so leaked
// scratch directories sort by creation time when debugging a crashed run.
//
// Thread-safety: UUIDv7Namer is stateless and safe for concurrent use.
type UUIDv7Namer struct{}

// Name returns a fresh scratch directory name.
//
// Format: "dexns-550e8400-e29b-41d4-a716-446655440000"
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Namer) Name() string {
	return "dexns-" + uuid.Must(uuid.NewV7()).String()
}

// FixedNamer returns predetermined scratch names for testing.
//
// This makes scratch directory locations predictable, so tests can assert
// that they are removed after each item.
//
// Thread-safety: FixedNamer is safe for concurrent use via internal mutex.
type FixedNamer struct {
	mu    sync.Mutex
	names []string
	idx   int
}

// NewFixedNamer creates a namer that returns names in order.
//
// Example:
//
//	namer := NewFixedNamer("scratch-1", "scratch-2")
//	namer.Name() // "scratch-1"
//	namer.Name() // "scratch-2"
//	namer.Name() // panic: all names exhausted
func NewFixedNamer(names ...string) *FixedNamer {
	return &FixedNamer{
		names: names,
		idx:   0,
	}
}

// Name returns the next predetermined name.
// Thread-safe: uses mutex to protect index access.
//
// Panics if all names have been consumed. This is a fail-fast approach
// to catch test misconfiguration (test processed more items than expected).
func (n *FixedNamer) Name() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.idx >= len(n.names) {
		panic("FixedNamer: all names exhausted")
	}
	name := n.names[n.idx]
	n.idx++
	return name
}
