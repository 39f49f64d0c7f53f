package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/dexns/internal/dex"
	"github.com/roach88/dexns/internal/scanner"
	"github.com/roach88/dexns/internal/store"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	Database string
	Dex2jar  string
	WorkDir  string
	Timeout  time.Duration
	Config   string

	// Converter allows overriding the dex-to-jar converter (for testing).
	// If nil, defaults to a dex2jar converter resolved from PATH.
	Converter scanner.Converter
}

// ScanReport summarizes a finished scan for CLI output.
type ScanReport struct {
	Directory string `json:"directory"`
	Database  string `json:"database"`
	Total     int    `json:"total"`
	Scanned   int    `json:"scanned"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}
	defaults := DefaultConfig()

	cmd := &cobra.Command{
		Use:   "scan <apk-dir>",
		Short: "Scan a directory of APKs into the inventory",
		Long: `Scan a directory of APK files and record each package's namespaces.

Every regular file named like <id>-<date>.apk is decompiled with dex2jar
and the Java namespaces found inside are written to a SQLite inventory
database (created if it doesn't exist). Entries that don't look like APKs
are skipped, and a package whose conversion fails keeps its inventory row
with no namespaces.

Example:
  dexns scan ./apks
  dexns scan --db ./results.sqlite --work-dir /tmp/dexns ./apks --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", defaults.Database, "path to SQLite inventory database")
	cmd.Flags().StringVar(&opts.Dex2jar, "dex2jar", defaults.Dex2jar, "dex2jar executable name or path")
	cmd.Flags().StringVar(&opts.WorkDir, "work-dir", defaults.WorkDir, "scratch directory for decompiled packages")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", defaults.Timeout(), "per-package conversion timeout")
	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML config file")

	return cmd
}

func runScan(opts *ScanOptions, apkDir string, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	cfg, timeout, err := resolveScanConfig(opts, cmd)
	if err != nil {
		return outputScanError(formatter, ErrCodeBadConfig, err.Error())
	}

	// The scan directory must exist up front
	info, err := os.Stat(apkDir)
	if err != nil {
		return outputScanError(formatter, ErrCodeNotFound, fmt.Sprintf("APK directory: %v", err))
	}
	if !info.IsDir() {
		return outputScanError(formatter, ErrCodeNotFound, fmt.Sprintf("not a directory: %s", apkDir))
	}

	// Resolve the converter (default to dex2jar from PATH)
	conv := opts.Converter
	if conv == nil {
		path, lookErr := exec.LookPath(cfg.Dex2jar)
		if lookErr != nil {
			return outputScanError(formatter, ErrCodeNoConverter, fmt.Sprintf("dex2jar not found: %v", lookErr))
		}
		slog.Debug("converter resolved", "dex2jar", path, "timeout", timeout)
		conv = dex.New(path, timeout)
	}

	// Scratch space for decompiled packages
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return outputScanError(formatter, ErrCodeGeneric, fmt.Sprintf("creating work directory: %v", err))
	}

	// Open database (create if not exists)
	slog.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return outputScanError(formatter, ErrCodeDatabase, fmt.Sprintf("opening database: %v", err))
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database ready")

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping scan", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	// Progress lines go to stdout like the summary, except in JSON mode
	// where stdout must stay clean for the JSON document.
	progress := cmd.OutOrStdout()
	if opts.Format == "json" {
		progress = cmd.ErrOrStderr()
	}

	sc := scanner.New(st, conv,
		scanner.WithWorkDir(cfg.WorkDir),
		scanner.WithProgress(progress),
	)

	summary, err := sc.Run(ctx, apkDir)
	if err != nil {
		if err != context.Canceled && err != context.DeadlineExceeded {
			return WrapExitError(ExitFailure, "scan error", err)
		}
		slog.Info("scan interrupted", "scanned", summary.Scanned, "skipped", summary.Skipped, "failed", summary.Failed)
		return nil
	}

	return outputScanSuccess(formatter, ScanReport{
		Directory: apkDir,
		Database:  cfg.Database,
		Total:     summary.Total,
		Scanned:   summary.Scanned,
		Skipped:   summary.Skipped,
		Failed:    summary.Failed,
	})
}

// resolveScanConfig merges defaults, the optional config file, and any flags
// set on the command line, in increasing order of precedence. The timeout is
// returned separately so sub-second flag values survive.
func resolveScanConfig(opts *ScanOptions, cmd *cobra.Command) (Config, time.Duration, error) {
	cfg := DefaultConfig()
	if opts.Config != "" {
		loaded, err := LoadConfig(opts.Config)
		if err != nil {
			return Config{}, 0, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Database = opts.Database
	}
	if flags.Changed("dex2jar") {
		cfg.Dex2jar = opts.Dex2jar
	}
	if flags.Changed("work-dir") {
		cfg.WorkDir = opts.WorkDir
	}

	timeout := cfg.Timeout()
	if flags.Changed("timeout") {
		timeout = opts.Timeout
	}

	return cfg, timeout, nil
}

// outputScanSuccess outputs the scan summary.
func outputScanSuccess(formatter *OutputFormatter, report ScanReport) error {
	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	// Human-readable text output
	fmt.Fprintf(formatter.Writer, "✓ Scanned %d package(s), %d skipped, %d failed\n",
		report.Scanned, report.Skipped, report.Failed)
	fmt.Fprintf(formatter.Writer, "Inventory written to %s\n", report.Database)
	return nil
}

// outputScanError outputs a scan setup error.
func outputScanError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// Setup errors are command-level errors (exit code 2)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}
