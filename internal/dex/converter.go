// Package dex adapts the external dex2jar converter: it turns a
// classes.dex bytecode file into a classes.jar class archive, bounds
// the converter's execution time, and works around the converter's
// unreliable exit-code contract.
package dex

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DexName and JarName are the fixed in/out entry names the converter
// operates on inside a scratch directory.
const (
	DexName = "classes.dex"
	JarName = "classes.jar"
)

// DefaultTimeout bounds a single conversion. Converting one dex file is
// a seconds-scale job; a converter still running after a minute is
// stuck, not slow.
const DefaultTimeout = 60 * time.Second

// failureMarker is dex2jar's diagnostic signature. On certain internal
// errors the converter prints this exception and still exits zero, so
// the exit code alone cannot be trusted; combined output is inspected
// for the marker as a correctness workaround. Isolated here so the
// check can be swapped if the converter is ever replaced.
const failureMarker = "com.googlecode.dex2jar.DexException"

// ConvertErrorCode categorizes converter failures.
type ConvertErrorCode string

const (
	// ErrCodeConvertFailed indicates the converter exited non-zero, or
	// exited zero while printing its failure marker.
	ErrCodeConvertFailed ConvertErrorCode = "CONVERT_FAILED"

	// ErrCodeConvertTimeout indicates the converter exceeded the
	// wall-clock bound and was killed.
	ErrCodeConvertTimeout ConvertErrorCode = "CONVERT_TIMEOUT"
)

// ConvertError reports a failed conversion. It is recoverable at the
// batch level: the owning package keeps its identity row and an empty
// namespace set.
type ConvertError struct {
	// Code identifies the failure category.
	Code ConvertErrorCode

	// Dex is the input bytecode path.
	Dex string

	// Output is the converter's combined stdout+stderr, trimmed.
	Output string

	// Err is the underlying exec error, if any.
	Err error
}

// Error implements the error interface.
func (e *ConvertError) Error() string {
	msg := fmt.Sprintf("%s: convert %s", e.Code, e.Dex)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	if out := excerpt(e.Output); out != "" {
		msg += fmt.Sprintf(" (output: %s)", out)
	}
	return msg
}

func (e *ConvertError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a conversion timeout.
// Uses errors.As to handle wrapped errors.
func IsTimeout(err error) bool {
	var ce *ConvertError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeConvertTimeout
	}
	return false
}

// Converter invokes the external dex2jar executable.
type Converter struct {
	path    string
	timeout time.Duration
}

// New creates a Converter for the given executable path. A timeout of
// zero or less selects DefaultTimeout.
func New(path string, timeout time.Duration) *Converter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Converter{path: path, timeout: timeout}
}

// Convert runs the converter against dir, which must contain
// classes.dex, and returns the path of the produced classes.jar.
//
// The invocation is bounded by the converter timeout on top of any
// deadline already carried by ctx. Combined stdout and stderr are
// captured: both streams are needed for the failure-marker check, and
// either may hold the only diagnostic worth reporting.
func (c *Converter) Convert(ctx context.Context, dir string) (string, error) {
	dexPath := filepath.Join(dir, DexName)
	jarPath := filepath.Join(dir, JarName)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.path, "-o", jarPath, dexPath)
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))

	if ctx.Err() == context.DeadlineExceeded {
		return "", &ConvertError{Code: ErrCodeConvertTimeout, Dex: dexPath, Output: output, Err: ctx.Err()}
	}
	if err != nil {
		return "", &ConvertError{Code: ErrCodeConvertFailed, Dex: dexPath, Output: output, Err: err}
	}
	if strings.Contains(output, failureMarker) {
		return "", &ConvertError{Code: ErrCodeConvertFailed, Dex: dexPath, Output: output}
	}
	return jarPath, nil
}

// excerpt shortens converter output for error messages. The full output
// stays on the ConvertError for callers that want it.
func excerpt(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}
