// Package apk handles the APK side of the pipeline: classifying batch
// filenames into package identities and extracting entries from the
// zip containers (APKs and the class archives produced from them).
package apk

import "regexp"

// Identity is the package identity parsed from a batch filename.
// It is derived once and never mutated; ID keys the persisted record.
type Identity struct {
	// ID is the primary package identifier (everything before the
	// first hyphen; never contains a hyphen).
	ID string

	// Build is the optional numeric build qualifier between the ID and
	// the date. Empty when the filename carries none.
	Build string

	// Date is the capture date in YYYY_MM_DD form.
	Date string

	// Filename is the full matched filename, kept for provenance.
	Filename string
}

// identityPattern is the batch naming convention, anchored at both ends:
//
//	<id>[-<build>]-<YYYY_MM_DD>.apk
//
// The id is any run of non-hyphen characters, the build qualifier is
// purely numeric, and the match is case-insensitive (APK files copied
// off devices frequently arrive with an uppercase suffix).
var identityPattern = regexp.MustCompile(`(?i)^([^-]+)-?(\d*)?-(\d{4}_\d{2}_\d{2})\.apk$`)

// ParseIdentity matches filename against the batch naming convention.
//
// The second return value reports whether the name is a package at all.
// A non-match is a classification, not an error: input directories
// routinely hold README files and other strays, and the caller is
// expected to skip them.
func ParseIdentity(filename string) (Identity, bool) {
	m := identityPattern.FindStringSubmatch(filename)
	if m == nil {
		return Identity{}, false
	}
	return Identity{
		ID:       m[1],
		Build:    m[2],
		Date:     m[3],
		Filename: m[0],
	}, true
}
