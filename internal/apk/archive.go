package apk

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ArchiveError reports a malformed or unreadable zip container, or an
// entry that cannot be safely extracted. It is fatal to the item being
// processed, never to the batch.
type ArchiveError struct {
	// Archive is the container path.
	Archive string

	// Entry is the offending entry name, when one is involved.
	Entry string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *ArchiveError) Error() string {
	switch {
	case e.Entry != "" && e.Err != nil:
		return fmt.Sprintf("archive %s: entry %q: %v", e.Archive, e.Entry, e.Err)
	case e.Entry != "":
		return fmt.Sprintf("archive %s: entry %q", e.Archive, e.Entry)
	case e.Err != nil:
		return fmt.Sprintf("archive %s: %v", e.Archive, e.Err)
	default:
		return fmt.Sprintf("archive %s", e.Archive)
	}
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// ExtractEntry extracts the single named entry from the zip container
// into destDir and returns the path it was written to.
//
// Entry names inside a container are attacker-influenceable, so the
// requested name is resolved strictly within destDir; the archive's own
// directory metadata is ignored for a single-entry extraction.
func ExtractEntry(archive, name, destDir string) (string, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return "", &ArchiveError{Archive: archive, Err: err}
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != name {
			continue
		}
		dest, err := safeJoin(destDir, f.Name)
		if err != nil {
			return "", &ArchiveError{Archive: archive, Entry: f.Name, Err: err}
		}
		if err := writeEntry(f, dest); err != nil {
			return "", &ArchiveError{Archive: archive, Entry: f.Name, Err: err}
		}
		return dest, nil
	}
	return "", &ArchiveError{Archive: archive, Entry: name, Err: fmt.Errorf("entry not found")}
}

// ExtractAll unpacks every entry of the zip container into destDir and
// returns the number of file entries written.
//
// Each entry path is validated before use: absolute names and names
// escaping destDir through ".." components are rejected (zip-slip).
// Directory entries are created with normalized permissions; archives
// produced by converters carry no meaningful modes.
func ExtractAll(archive, destDir string) (int, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return 0, &ArchiveError{Archive: archive, Err: err}
	}
	defer r.Close()

	written := 0
	for _, f := range r.File {
		dest, err := safeJoin(destDir, f.Name)
		if err != nil {
			return written, &ArchiveError{Archive: archive, Entry: f.Name, Err: err}
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return written, &ArchiveError{Archive: archive, Entry: f.Name, Err: err}
			}
			continue
		}
		if err := writeEntry(f, dest); err != nil {
			return written, &ArchiveError{Archive: archive, Entry: f.Name, Err: err}
		}
		written++
	}
	return written, nil
}

// safeJoin resolves an archive entry name inside destDir, rejecting
// names that would land outside it.
func safeJoin(destDir, name string) (string, error) {
	rel := filepath.FromSlash(name)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("unsafe entry path")
	}
	return filepath.Join(destDir, rel), nil
}

// writeEntry copies one zip file entry to dest, creating parents as
// needed.
func writeEntry(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := f.Open()
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
