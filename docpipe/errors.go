package docpipe

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when the document path does not exist.
var ErrNotFound = errors.New("docpipe: file not found")

// ErrInvalidInput is returned when the path exists but cannot be processed
// (not a regular file, too large).
var ErrInvalidInput = errors.New("docpipe: invalid input")

// ErrUnsupportedFormat is returned by the Router for unregistered extensions.
var ErrUnsupportedFormat = errors.New("docpipe: unsupported file format")

// ErrExtraction wraps parse failures inside a capability.
var ErrExtraction = errors.New("docpipe: extraction failed")

// ErrEncrypted is returned when a PDF cannot be decrypted with the configured password.
var ErrEncrypted = errors.New("document is encrypted")

// ErrNotImplemented is returned by every capability of a stub extractor.
var ErrNotImplemented = errors.New("not yet implemented")

// UnsupportedFormatError names the rejected extension and the registered ones.
type UnsupportedFormatError struct {
	Ext       string
	Supported []string
}

func (e *UnsupportedFormatError) Error() string {
	ext := e.Ext
	if ext == "" {
		ext = "(none)"
	}
	return fmt.Sprintf("Unsupported file format: '%s'. Supported formats: %s",
		ext, strings.Join(e.Supported, ", "))
}

func (e *UnsupportedFormatError) Is(target error) bool { return target == ErrUnsupportedFormat }

// NotImplementedError is the typed signal of a stub capability.
type NotImplementedError struct {
	Format     FileFormat
	Capability Capability
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("%s %s extraction not yet implemented",
		strings.ToUpper(string(e.Format)), strings.ToLower(string(e.Capability)))
}

func (e *NotImplementedError) Is(target error) bool { return target == ErrNotImplemented }

// ExtractionError is a capability-level parse failure. It matches ErrExtraction.
type ExtractionError struct {
	Msg   string
	Cause error
}

func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return e.Msg + ": " + e.Cause.Error()
	}
	return e.Msg
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

func extractionError(cause error, format string, args ...any) error {
	return &ExtractionError{Msg: fmt.Sprintf(format, args...), Cause: cause}
}
