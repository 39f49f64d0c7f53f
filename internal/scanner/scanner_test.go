package scanner

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dexns/internal/dex"
	"github.com/roach88/dexns/internal/store"
)

// stubConverter fakes the dex2jar step. It reads the extracted
// classes.dex payload and either writes a jar whose tree yields the
// configured class entries or fails when the payload matches failOn.
type stubConverter struct {
	classes []string        // jar entries to emit, e.g. "com/example/Mail.class"
	failOn  map[string]bool // dex payloads that fail conversion
	timeout bool            // report failures as timeouts
	calls   int
}

func (c *stubConverter) Convert(ctx context.Context, dir string) (string, error) {
	c.calls++

	payload, err := os.ReadFile(filepath.Join(dir, dex.DexName))
	if err != nil {
		return "", err
	}

	if c.failOn[string(payload)] {
		code := dex.ErrCodeConvertFailed
		if c.timeout {
			code = dex.ErrCodeConvertTimeout
		}
		return "", &dex.ConvertError{
			Code: code,
			Dex:  filepath.Join(dir, dex.DexName),
		}
	}

	jarPath := filepath.Join(dir, dex.JarName)
	if err := writeJar(jarPath, c.classes); err != nil {
		return "", err
	}
	return jarPath, nil
}

// writeJar writes a zip archive with empty file entries at the given paths.
func writeJar(path string, entries []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, name := range entries {
		if _, err := zw.Create(name); err != nil {
			return err
		}
	}
	return zw.Close()
}

// writeAPK writes a minimal APK fixture containing a classes.dex entry
// with the given payload.
func writeAPK(t *testing.T, dir, filename, payload string) {
	t.Helper()
	writeZip(t, filepath.Join(dir, filename), map[string]string{dex.DexName: payload})
}

// writeZip writes a zip archive with the given entry name/body pairs.
func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func setupScanStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestScanner_New_Defaults(t *testing.T) {
	s := setupScanStore(t)
	conv := &stubConverter{}

	sc := New(s, conv)

	assert.NotNil(t, sc.namer)
	assert.NotNil(t, sc.progress)
	assert.Equal(t, os.TempDir(), sc.workDir)
}

func TestScanner_Run_EmptyDir(t *testing.T) {
	s := setupScanStore(t)
	sc := New(s, &stubConverter{}, WithWorkDir(t.TempDir()))

	summary, err := sc.Run(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, Summary{}, summary)
}

func TestScanner_Run_MissingDir(t *testing.T) {
	s := setupScanStore(t)
	sc := New(s, &stubConverter{}, WithWorkDir(t.TempDir()))

	_, err := sc.Run(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestScanner_Run_ScansPackage(t *testing.T) {
	s := setupScanStore(t)
	apkDir := t.TempDir()
	writeAPK(t, apkDir, "mailer-12-2024_01_15.apk", "dex-mailer")

	conv := &stubConverter{classes: []string{"com/example/Mail.class"}}
	var progress bytes.Buffer
	sc := New(s, conv, WithWorkDir(t.TempDir()), WithProgress(&progress))

	summary, err := sc.Run(context.Background(), apkDir)
	require.NoError(t, err)

	assert.Equal(t, Summary{Total: 1, Scanned: 1}, summary)
	assert.Equal(t, "=> Processing 1 of 1: mailer\n", progress.String())
	assert.Equal(t, 1, conv.calls)

	p, err := s.PackageByID(context.Background(), "mailer")
	require.NoError(t, err)
	assert.Equal(t, "2024_01_15", p.Date)
	assert.Equal(t, "mailer-12-2024_01_15.apk", p.Filename)

	bodies, err := s.NamespacesForPackage(context.Background(), "mailer")
	require.NoError(t, err)
	assert.Equal(t, []string{"com", "com.example"}, bodies)
}

func TestScanner_Run_SkipsNonAPK(t *testing.T) {
	s := setupScanStore(t)
	apkDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(apkDir, "notes.txt"), []byte("x"), 0o644))

	conv := &stubConverter{}
	var progress bytes.Buffer
	sc := New(s, conv, WithWorkDir(t.TempDir()), WithProgress(&progress))

	summary, err := sc.Run(context.Background(), apkDir)
	require.NoError(t, err)

	assert.Equal(t, Summary{Total: 1, Skipped: 1}, summary)
	assert.Equal(t, "=> Processing 1 of 1: notes.txt is not an APK\n", progress.String())
	assert.Equal(t, 0, conv.calls)

	count, err := s.CountPackages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestScanner_Run_SkipsDirectoryNamedLikeAPK(t *testing.T) {
	s := setupScanStore(t)
	apkDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(apkDir, "fake-2024_01_01.apk"), 0o755))

	conv := &stubConverter{}
	var progress bytes.Buffer
	sc := New(s, conv, WithWorkDir(t.TempDir()), WithProgress(&progress))

	summary, err := sc.Run(context.Background(), apkDir)
	require.NoError(t, err)

	assert.Equal(t, Summary{Total: 1, Skipped: 1}, summary)
	assert.Equal(t, "=> Processing 1 of 1: fake-2024_01_01.apk is not an APK\n", progress.String())
}

func TestScanner_Run_ConversionFailureRecordsIdentity(t *testing.T) {
	s := setupScanStore(t)
	apkDir := t.TempDir()
	writeAPK(t, apkDir, "mailer-2024_01_15.apk", "dex-mailer")

	conv := &stubConverter{failOn: map[string]bool{"dex-mailer": true}}
	sc := New(s, conv, WithWorkDir(t.TempDir()))

	summary, err := sc.Run(context.Background(), apkDir)
	require.NoError(t, err, "item failure must not fail the batch")

	assert.Equal(t, Summary{Total: 1, Failed: 1}, summary)

	// Identity was recorded before the pipeline ran
	p, err := s.PackageByID(context.Background(), "mailer")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Namespaces)
}

func TestScanner_Run_MissingDexIsItemFailure(t *testing.T) {
	s := setupScanStore(t)
	apkDir := t.TempDir()

	// Valid zip, but no classes.dex inside
	writeZip(t, filepath.Join(apkDir, "broken-2024_01_15.apk"), map[string]string{"other.txt": "x"})

	conv := &stubConverter{}
	sc := New(s, conv, WithWorkDir(t.TempDir()))

	summary, err := sc.Run(context.Background(), apkDir)
	require.NoError(t, err)

	assert.Equal(t, Summary{Total: 1, Failed: 1}, summary)
	assert.Equal(t, 0, conv.calls, "conversion must not run without a dex")

	_, err = s.PackageByID(context.Background(), "broken")
	assert.NoError(t, err, "identity recorded before extraction")
}

func TestScanner_Run_IsolatesFailures(t *testing.T) {
	s := setupScanStore(t)
	apkDir := t.TempDir()
	writeAPK(t, apkDir, "bad-2024_01_10.apk", "dex-bad")
	writeAPK(t, apkDir, "good-2024_01_20.apk", "dex-good")

	conv := &stubConverter{
		classes: []string{"org/apache/Util.class"},
		failOn:  map[string]bool{"dex-bad": true},
	}
	sc := New(s, conv, WithWorkDir(t.TempDir()))

	summary, err := sc.Run(context.Background(), apkDir)
	require.NoError(t, err)

	assert.Equal(t, Summary{Total: 2, Scanned: 1, Failed: 1}, summary)

	count, err := s.CountPackages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count, "both identities recorded")

	bodies, err := s.NamespacesForPackage(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, []string{"org", "org.apache"}, bodies)
}

func TestScanner_Run_RemovesScratchDirs(t *testing.T) {
	s := setupScanStore(t)
	apkDir := t.TempDir()
	writeAPK(t, apkDir, "bad-2024_01_10.apk", "dex-bad")
	writeAPK(t, apkDir, "good-2024_01_20.apk", "dex-good")

	workDir := t.TempDir()
	conv := &stubConverter{
		classes: []string{"com/A.class"},
		failOn:  map[string]bool{"dex-bad": true},
	}
	sc := New(s, conv,
		WithWorkDir(workDir),
		WithNamer(NewFixedNamer("scratch-1", "scratch-2")),
	)

	_, err := sc.Run(context.Background(), apkDir)
	require.NoError(t, err)

	// Scratch dirs removed on failure and success alike
	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScanner_Run_ProgressLines(t *testing.T) {
	s := setupScanStore(t)
	apkDir := t.TempDir()
	writeAPK(t, apkDir, "alpha-2024_01_01.apk", "dex-alpha")
	require.NoError(t, os.WriteFile(filepath.Join(apkDir, "notes.txt"), []byte("x"), 0o644))
	writeAPK(t, apkDir, "zeta-3-2024_02_02.apk", "dex-zeta")

	conv := &stubConverter{classes: []string{"com/A.class"}}
	var progress bytes.Buffer
	sc := New(s, conv, WithWorkDir(t.TempDir()), WithProgress(&progress))

	summary, err := sc.Run(context.Background(), apkDir)
	require.NoError(t, err)

	assert.Equal(t, Summary{Total: 3, Scanned: 2, Skipped: 1}, summary)

	// Entries are visited in name order, every entry gets a line
	want := "=> Processing 1 of 3: alpha\n" +
		"=> Processing 2 of 3: notes.txt is not an APK\n" +
		"=> Processing 3 of 3: zeta\n"
	assert.Equal(t, want, progress.String())
}

func TestScanner_Run_SummaryInvariant(t *testing.T) {
	s := setupScanStore(t)
	apkDir := t.TempDir()
	writeAPK(t, apkDir, "alpha-2024_01_01.apk", "dex-alpha")
	writeAPK(t, apkDir, "beta-2024_01_02.apk", "dex-beta")
	require.NoError(t, os.WriteFile(filepath.Join(apkDir, "readme.md"), []byte("x"), 0o644))

	conv := &stubConverter{
		classes: []string{"com/A.class"},
		failOn:  map[string]bool{"dex-beta": true},
	}
	sc := New(s, conv, WithWorkDir(t.TempDir()))

	summary, err := sc.Run(context.Background(), apkDir)
	require.NoError(t, err)

	assert.Equal(t, summary.Total, summary.Scanned+summary.Skipped+summary.Failed)
}

func TestScanner_Run_RerunIsIdempotent(t *testing.T) {
	s := setupScanStore(t)
	apkDir := t.TempDir()
	writeAPK(t, apkDir, "mailer-2024_01_15.apk", "dex-mailer")

	conv := &stubConverter{classes: []string{"com/example/Mail.class"}}
	sc := New(s, conv, WithWorkDir(t.TempDir()))

	first, err := sc.Run(context.Background(), apkDir)
	require.NoError(t, err)
	second, err := sc.Run(context.Background(), apkDir)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	// Re-scanning must not duplicate rows
	count, err := s.CountPackages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	bodies, err := s.NamespacesForPackage(context.Background(), "mailer")
	require.NoError(t, err)
	assert.Equal(t, []string{"com", "com.example"}, bodies)
}

func TestScanner_Run_ContextCancelled(t *testing.T) {
	s := setupScanStore(t)
	apkDir := t.TempDir()
	writeAPK(t, apkDir, "mailer-2024_01_15.apk", "dex-mailer")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sc := New(s, &stubConverter{}, WithWorkDir(t.TempDir()))

	_, err := sc.Run(ctx, apkDir)
	assert.ErrorIs(t, err, context.Canceled)
}
