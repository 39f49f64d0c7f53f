package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/dexns/internal/apk"
	"github.com/roach88/dexns/internal/namespace"
)

// createTestStore creates a new on-disk store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestIdentity creates a test package identity with minimal fields.
func createTestIdentity(id, date string) apk.Identity {
	return apk.Identity{
		ID:       id,
		Date:     date,
		Filename: id + "-" + date + ".apk",
	}
}

// createTestSet builds a namespace set from literal bodies.
func createTestSet(bodies ...string) namespace.Set {
	set := namespace.Set{}
	for _, b := range bodies {
		set.Add(b)
	}
	return set
}
