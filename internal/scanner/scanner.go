package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/dexns/internal/apk"
	"github.com/roach88/dexns/internal/dex"
	"github.com/roach88/dexns/internal/namespace"
	"github.com/roach88/dexns/internal/store"
)

// Converter turns the classes.dex inside a scratch directory into a jar
// archive. Implemented by dex.Converter (production) and by test stubs.
type Converter interface {
	Convert(ctx context.Context, dir string) (string, error)
}

// Scanner is the batch orchestrator. It walks a directory of APK files,
// runs the extract-convert-extract pipeline on each one, and records the
// results in the store.
//
// Items are processed strictly in directory order, one at a time. A
// pipeline failure on one item is logged and never stops the batch; only
// store write failures abort the run, since a half-written inventory is
// worse than a shorter one.
type Scanner struct {
	store     *store.Store
	converter Converter
	namer     Namer
	workDir   string
	progress  io.Writer
}

// ScannerOption allows configuration of scanner parameters.
type ScannerOption func(*Scanner)

// WithWorkDir sets the directory under which per-item scratch
// directories are created.
//
// Default: os.TempDir()
func WithWorkDir(dir string) ScannerOption {
	return func(s *Scanner) {
		s.workDir = dir
	}
}

// WithProgress sets the writer that receives per-item progress lines.
//
// Default: io.Discard
func WithProgress(w io.Writer) ScannerOption {
	return func(s *Scanner) {
		s.progress = w
	}
}

// WithNamer sets the scratch directory namer.
//
// Default: UUIDv7Namer
func WithNamer(n Namer) ScannerOption {
	return func(s *Scanner) {
		s.namer = n
	}
}

// New creates a Scanner with the given store and converter.
//
// Options can be passed to configure the scanner (e.g., WithWorkDir).
func New(s *store.Store, conv Converter, opts ...ScannerOption) *Scanner {
	sc := &Scanner{
		store:     s,
		converter: conv,
		namer:     UUIDv7Namer{},
		workDir:   os.TempDir(),
		progress:  io.Discard,
	}

	// Apply options
	for _, opt := range opts {
		opt(sc)
	}

	return sc
}

// Summary reports the outcome of one batch run.
//
// Total = Scanned + Skipped + Failed always holds.
type Summary struct {
	// Total is the number of directory entries considered.
	Total int

	// Scanned is the number of packages fully recorded with namespaces.
	Scanned int

	// Skipped is the number of entries that are not APK packages.
	Skipped int

	// Failed is the number of packages whose pipeline failed after the
	// identity was recorded.
	Failed int
}

// Run scans every entry of dir in name order.
//
// For each entry a progress line of the form
//
//	=> Processing N of M: <package id>
//	=> Processing N of M: <name> is not an APK
//
// is written to the progress writer. N counts all entries, matching or
// not.
//
// The package identity is recorded before the pipeline runs, so a
// package that fails conversion is still visible in the inventory with
// an empty namespace set.
//
// ERROR HANDLING: Pipeline failures (extraction, conversion) are logged
// with full item context and processing continues. Store write failures
// abort the batch. Returns the summary accumulated so far in either case.
func (sc *Scanner) Run(ctx context.Context, dir string) (Summary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Summary{}, fmt.Errorf("read package dir: %w", err)
	}

	summary := Summary{Total: len(entries)}
	slog.Info("scan starting", "dir", dir, "entries", summary.Total)

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		name := entry.Name()
		ident, ok := apk.ParseIdentity(name)
		if !ok || !entry.Type().IsRegular() {
			fmt.Fprintf(sc.progress, "=> Processing %d of %d: %s is not an APK\n", i+1, summary.Total, name)
			summary.Skipped++
			continue
		}

		fmt.Fprintf(sc.progress, "=> Processing %d of %d: %s\n", i+1, summary.Total, ident.ID)

		// Identity first: a pipeline failure below must still leave the
		// package visible in the inventory.
		if err := sc.store.RecordPackage(ctx, ident); err != nil {
			return summary, err
		}

		set, procErr := sc.processItem(ctx, filepath.Join(dir, name))
		if procErr != nil {
			logItemError(ident, procErr)
			summary.Failed++
			continue
		}

		if err := sc.store.RecordNamespaces(ctx, ident.ID, set); err != nil {
			return summary, err
		}

		slog.Info("package scanned",
			"id", ident.ID,
			"file", ident.Filename,
			"namespaces", len(set),
		)
		summary.Scanned++
	}

	slog.Info("scan finished",
		"total", summary.Total,
		"scanned", summary.Scanned,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)

	return summary, nil
}

// processItem runs the pipeline for one package inside a fresh scratch
// directory: extract classes.dex from the APK, convert it to a jar, then
// unpack the jar and collect namespaces from its directory tree.
//
// The scratch directory is removed unconditionally, success or failure.
func (sc *Scanner) processItem(ctx context.Context, apkPath string) (namespace.Set, error) {
	scratch := filepath.Join(sc.workDir, sc.namer.Name())
	if err := os.Mkdir(scratch, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	slog.Debug("extracting dex", "apk", apkPath, "scratch", scratch)
	if _, err := apk.ExtractEntry(apkPath, dex.DexName, scratch); err != nil {
		return nil, err
	}

	slog.Debug("converting dex to jar", "apk", apkPath)
	jarPath, err := sc.converter.Convert(ctx, scratch)
	if err != nil {
		return nil, err
	}

	slog.Debug("extracting jar classes", "jar", jarPath)
	if _, err := apk.ExtractAll(jarPath, scratch); err != nil {
		return nil, err
	}

	return namespace.Extract(scratch)
}

// logItemError logs a per-item pipeline failure with full item context.
// This enables manual investigation without stopping the batch.
func logItemError(ident apk.Identity, err error) {
	var convErr *dex.ConvertError
	if errors.As(err, &convErr) {
		if convErr.Code == dex.ErrCodeConvertTimeout {
			slog.Error("conversion timed out",
				"error", err,
				"id", ident.ID,
				"file", ident.Filename,
			)
		} else {
			slog.Error("conversion failed",
				"error", err,
				"id", ident.ID,
				"file", ident.Filename,
			)
		}
		return
	}

	var archErr *apk.ArchiveError
	if errors.As(err, &archErr) {
		slog.Error("extraction failed",
			"error", err,
			"id", ident.ID,
			"file", ident.Filename,
			"archive", archErr.Archive,
		)
		return
	}

	slog.Error("item processing failed",
		"error", err,
		"id", ident.ID,
		"file", ident.Filename,
	)
}
