package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/dexns/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database string
	APK      string // optional - report on a single package
	Top      int    // how many namespaces to rank
}

// PackageSummary describes one package in the inventory.
type PackageSummary struct {
	ID         string `json:"id"`
	Date       string `json:"date"`
	Filename   string `json:"filename"`
	Namespaces int    `json:"namespaces"`
}

// NamespaceUsage counts how many packages a namespace was observed in.
type NamespaceUsage struct {
	Body     string `json:"body"`
	Packages int    `json:"packages"`
}

// InventoryReport holds the whole-inventory report output.
type InventoryReport struct {
	Database      string           `json:"database"`
	Packages      []PackageSummary `json:"packages"`
	TopNamespaces []NamespaceUsage `json:"top_namespaces"`
}

// PackageReport holds the single-package report output.
type PackageReport struct {
	Package    PackageSummary `json:"package"`
	Namespaces []string       `json:"namespaces"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report on a scanned inventory",
		Long: `Report on the packages and namespaces recorded in an inventory database.

Without --apk, lists every package with its namespace count plus the
namespaces observed in the most packages. With --apk, shows the recorded
namespaces for a single package.

Examples:
  dexns report --db ./results.sqlite
  dexns report --db ./results.sqlite --top 5
  dexns report --db ./results.sqlite --apk mailer
  dexns report --db ./results.sqlite --apk mailer --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite inventory database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.APK, "apk", "", "report on a single package id")
	cmd.Flags().IntVar(&opts.Top, "top", 10, "number of namespaces to rank")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	// A report never creates an inventory, so the database must already exist.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.APK != "" {
		return reportPackage(ctx, st, opts, cmd)
	}
	return reportInventory(ctx, st, opts, cmd)
}

// reportInventory builds and outputs the whole-inventory report.
func reportInventory(ctx context.Context, st *store.Store, opts *ReportOptions, cmd *cobra.Command) error {
	packages, err := st.ListPackages(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list packages", err)
	}

	top, err := st.TopNamespaces(ctx, opts.Top)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to rank namespaces", err)
	}

	result := InventoryReport{
		Database:      opts.Database,
		Packages:      make([]PackageSummary, 0, len(packages)),
		TopNamespaces: make([]NamespaceUsage, 0, len(top)),
	}
	for _, p := range packages {
		result.Packages = append(result.Packages, PackageSummary{
			ID:         p.ID,
			Date:       p.Date,
			Filename:   p.Filename,
			Namespaces: p.Namespaces,
		})
	}
	for _, n := range top {
		result.TopNamespaces = append(result.TopNamespaces, NamespaceUsage{
			Body:     n.Body,
			Packages: n.Packages,
		})
	}

	if opts.Format == "json" {
		return outputReportJSON(cmd, result)
	}
	return outputInventoryText(cmd, result)
}

// reportPackage builds and outputs the single-package report.
func reportPackage(ctx context.Context, st *store.Store, opts *ReportOptions, cmd *cobra.Command) error {
	row, err := st.PackageByID(ctx, opts.APK)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if opts.Format == "json" {
				return outputReportJSON(cmd, PackageReport{
					Package:    PackageSummary{ID: opts.APK},
					Namespaces: []string{},
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "No package found with id: %s\n", opts.APK)
			return nil
		}
		return WrapExitError(ExitCommandError, "failed to read package", err)
	}

	bodies, err := st.NamespacesForPackage(ctx, opts.APK)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read namespaces", err)
	}

	result := PackageReport{
		Package: PackageSummary{
			ID:         row.ID,
			Date:       row.Date,
			Filename:   row.Filename,
			Namespaces: row.Namespaces,
		},
		Namespaces: bodies,
	}

	if opts.Format == "json" {
		return outputReportJSON(cmd, result)
	}
	return outputPackageText(cmd, result)
}

// outputReportJSON outputs a report result as JSON.
func outputReportJSON(cmd *cobra.Command, result interface{}) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputInventoryText outputs the whole-inventory report as text.
func outputInventoryText(cmd *cobra.Command, result InventoryReport) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Inventory: %s\n", result.Database)
	fmt.Fprintf(w, "Packages: %d\n", len(result.Packages))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Packages ===")
	if len(result.Packages) == 0 {
		fmt.Fprintln(w, "  (no packages)")
	} else {
		for _, p := range result.Packages {
			fmt.Fprintf(w, "  [%s] %s: %d namespace(s)\n", p.Date, p.ID, p.Namespaces)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Top Namespaces ===")
	if len(result.TopNamespaces) == 0 {
		fmt.Fprintln(w, "  (no namespaces)")
	} else {
		for _, n := range result.TopNamespaces {
			fmt.Fprintf(w, "  %s: %d package(s)\n", n.Body, n.Packages)
		}
	}

	return nil
}

// outputPackageText outputs the single-package report as text.
func outputPackageText(cmd *cobra.Command, result PackageReport) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Package: %s\n", result.Package.ID)
	fmt.Fprintf(w, "Date: %s\n", result.Package.Date)
	fmt.Fprintf(w, "File: %s\n", result.Package.Filename)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Namespaces ===")
	if len(result.Namespaces) == 0 {
		fmt.Fprintln(w, "  (no namespaces)")
	} else {
		for _, body := range result.Namespaces {
			fmt.Fprintf(w, "  %s\n", body)
		}
	}

	return nil
}
