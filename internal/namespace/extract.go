// Package namespace derives the set of dotted code-namespace prefixes
// implied by an unpacked class-archive directory tree.
package namespace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// MaxDepth bounds the directory traversal. Real class archives nest a
// handful of levels deep; a tree deeper than this is malformed input,
// not a namespace hierarchy.
const MaxDepth = 256

// Set holds the distinct dotted namespaces observed for one package.
// Entries are never empty strings.
type Set map[string]struct{}

// Add inserts a namespace into the set. Empty strings are ignored so
// the never-empty invariant holds regardless of caller discipline.
func (s Set) Add(ns string) {
	if ns == "" {
		return
	}
	s[ns] = struct{}{}
}

// Contains reports whether ns is in the set.
func (s Set) Contains(ns string) bool {
	_, ok := s[ns]
	return ok
}

// Sorted returns the namespaces in lexicographic order. All persistence
// and display paths iterate through Sorted so that output and row order
// are deterministic.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for ns := range s {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// frame is one pending directory in the traversal.
type frame struct {
	dir    string // filesystem path
	prefix string // dotted namespace of dir itself; empty for the root
	depth  int
}

// Extract walks the directory tree under root and returns the namespace
// set it implies: every directory, at every depth, contributes the
// dot-joined names from root down to itself (so a/b yields both "a" and
// "a.b"). Files are ignored. A root with no subdirectories yields an
// empty set.
//
// The traversal is iterative with an explicit stack, so namespace depth
// is bounded by MaxDepth rather than by the goroutine stack. Segment
// names are NFC-normalized before joining; filesystems disagree about
// the normalization of extracted names, and the inventory must not.
func Extract(root string) (Set, error) {
	set := Set{}
	stack := []frame{{dir: root}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(f.dir)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", f.dir, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if f.depth+1 > MaxDepth {
				return nil, fmt.Errorf("namespace tree under %s exceeds depth limit %d", root, MaxDepth)
			}
			ns := norm.NFC.String(entry.Name())
			if f.prefix != "" {
				ns = f.prefix + "." + ns
			}
			set.Add(ns)
			stack = append(stack, frame{
				// Descend using the on-disk name; normalization applies
				// to the namespace string, not to filesystem access.
				dir:    filepath.Join(f.dir, entry.Name()),
				prefix: ns,
				depth:  f.depth + 1,
			})
		}
	}
	return set, nil
}
