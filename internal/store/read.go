package store

import (
	"context"
	"fmt"
)

// PackageRow is one package from the inventory joined with the number of
// namespaces observed in it.
type PackageRow struct {
	ID         string
	Date       string
	Filename   string
	Namespaces int
}

// NamespaceCount pairs a namespace body with the number of distinct
// packages it was observed in.
type NamespaceCount struct {
	Body     string
	Packages int
}

// CountPackages returns the number of recorded packages.
func (s *Store) CountPackages(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM apks
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count packages: %w", err)
	}
	return count, nil
}

// ListPackages returns every recorded package with its namespace count.
// Results are ordered deterministically: ORDER BY date ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if no packages have been recorded.
func (s *Store) ListPackages(ctx context.Context) ([]PackageRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.date, a.filename, COUNT(n.body)
		FROM apks a
		LEFT JOIN namespaces n ON n.apk_id = a.id
		GROUP BY a.id
		ORDER BY a.date ASC, a.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query packages: %w", err)
	}
	defer rows.Close()

	var packages []PackageRow
	for rows.Next() {
		var p PackageRow
		if err := rows.Scan(&p.ID, &p.Date, &p.Filename, &p.Namespaces); err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		packages = append(packages, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate packages: %w", err)
	}

	// Return empty slice instead of nil
	if packages == nil {
		packages = []PackageRow{}
	}

	return packages, nil
}

// PackageByID retrieves a single package with its namespace count.
// Returns sql.ErrNoRows if not found.
func (s *Store) PackageByID(ctx context.Context, id string) (PackageRow, error) {
	var p PackageRow
	err := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.date, a.filename, COUNT(n.body)
		FROM apks a
		LEFT JOIN namespaces n ON n.apk_id = a.id
		WHERE a.id = ?
		GROUP BY a.id
	`, id).Scan(&p.ID, &p.Date, &p.Filename, &p.Namespaces)
	if err != nil {
		return PackageRow{}, err
	}
	return p, nil
}

// NamespacesForPackage returns all namespace bodies recorded for a package.
// Results ordered by body ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the package has no namespaces.
func (s *Store) NamespacesForPackage(ctx context.Context, apkID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body
		FROM namespaces
		WHERE apk_id = ?
		ORDER BY body COLLATE BINARY ASC
	`, apkID)
	if err != nil {
		return nil, fmt.Errorf("query namespaces: %w", err)
	}
	defer rows.Close()

	var bodies []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan namespace: %w", err)
		}
		bodies = append(bodies, body)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate namespaces: %w", err)
	}

	if bodies == nil {
		bodies = []string{}
	}

	return bodies, nil
}

// TopNamespaces returns the namespaces observed in the most packages.
// Ties break on body ASC COLLATE BINARY so output is stable across runs.
//
// Returns an empty slice (not nil) if nothing has been recorded.
func (s *Store) TopNamespaces(ctx context.Context, limit int) ([]NamespaceCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body, COUNT(DISTINCT apk_id) AS packages
		FROM namespaces
		GROUP BY body
		ORDER BY packages DESC, body COLLATE BINARY ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top namespaces: %w", err)
	}
	defer rows.Close()

	var counts []NamespaceCount
	for rows.Next() {
		var nc NamespaceCount
		if err := rows.Scan(&nc.Body, &nc.Packages); err != nil {
			return nil, fmt.Errorf("scan namespace count: %w", err)
		}
		counts = append(counts, nc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate namespace counts: %w", err)
	}

	if counts == nil {
		counts = []NamespaceCount{}
	}

	return counts, nil
}
