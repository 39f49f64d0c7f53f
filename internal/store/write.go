package store

import (
	"context"
	"fmt"

	"github.com/roach88/dexns/internal/apk"
	"github.com/roach88/dexns/internal/namespace"
)

// RecordPackage inserts the identity row for one scanned package.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - re-scanning a batch
// never duplicates a package record.
//
// All values are bound as parameters. Filenames come from directory
// listings and archive metadata and must never be spliced into SQL.
func (s *Store) RecordPackage(ctx context.Context, ident apk.Identity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO apks (id, date, filename)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		ident.ID,
		ident.Date,
		ident.Filename,
	)
	if err != nil {
		return fmt.Errorf("record package: %w", err)
	}

	return nil
}

// RecordNamespaces inserts the namespace observations for one package.
// All rows for the package go through a single transaction, so a batch
// item is recorded atomically or not at all. An empty set commits an
// empty transaction and is not an error.
//
// Uses ON CONFLICT DO NOTHING per row: together with the in-memory set
// semantics this makes re-runs idempotent. Rows are inserted in sorted
// order for deterministic rowid assignment.
//
// Note: The package referenced by apkID must exist (foreign key constraint).
func (s *Store) RecordNamespaces(ctx context.Context, apkID string, set namespace.Set) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record namespaces: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO namespaces (apk_id, body)
		VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("record namespaces: prepare: %w", err)
	}
	defer stmt.Close()

	for _, ns := range set.Sorted() {
		if _, err := stmt.ExecContext(ctx, apkID, ns); err != nil {
			return fmt.Errorf("record namespaces: insert %q: %w", ns, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record namespaces: commit: %w", err)
	}

	return nil
}
