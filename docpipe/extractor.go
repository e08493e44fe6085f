// Package docpipe extracts normalised content from document files.
//
// Supported formats:
//   - .pdf: text with font-size heading inference, ruled tables, image
//     metadata and Info-dict metadata (pdfcpu + content-stream interpretation)
//   - .docx: Microsoft Word, read from word/document.xml inside the archive
//   - .pptx, .xlsx: registered stubs; every capability reports "not yet implemented"
//
// Every extractor exposes four capabilities (text, tables, images, metadata).
// ExtractAll runs them in isolation: a failing capability is recorded in
// ExtractionResult.Errors and replaced by an empty value, so callers always
// receive a complete result once construction succeeded.
//
// Usage:
//
//	router := docpipe.NewRouter(docpipe.Config{})
//	res, err := router.Process("/path/to/file.pdf")
//	fmt.Println(res.Markdown, len(res.Tables), res.Errors)
package docpipe

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
)

// Capability names one of the four extraction operations.
type Capability string

const (
	CapText     Capability = "Text"
	CapTables   Capability = "Table"
	CapImages   Capability = "Image"
	CapMetadata Capability = "Metadata"
)

// Capabilities is the per-format extraction contract.
type Capabilities interface {
	// ExtractText returns the document as markdown in reading order.
	// Empty documents yield "" and no error.
	ExtractText() (string, error)
	// ExtractTables returns tables in document order. A table region that
	// fails is skipped; no tables is not an error.
	ExtractTables() ([]TableData, error)
	// ExtractImages returns image metadata in document order. A corrupt
	// image is skipped; no images is not an error.
	ExtractImages() ([]ImageData, error)
	// ExtractMetadata is best-effort document metadata.
	ExtractMetadata() (DocumentMetadata, error)
}

// Extractor is a format-specific extractor bound to one file.
type Extractor interface {
	Capabilities
	// Format is the format this extractor handles.
	Format() FileFormat
	// Path is the validated document path.
	Path() string
	// ExtractAll runs every capability and never fails.
	ExtractAll() *ExtractionResult
	// Close releases the parsed document. Safe to call more than once.
	Close() error
}

// base holds what every extractor shares: the validated path and config.
type base struct {
	path   string
	format FileFormat
	cfg    Config
	logger *slog.Logger
}

// newBase validates path without parsing the document body.
func newBase(path string, format FileFormat, cfg Config) (base, error) {
	cfg.defaults()
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return base{}, fmt.Errorf("%w: stat %s: %v", ErrInvalidInput, path, err)
	}
	if !info.Mode().IsRegular() {
		return base{}, fmt.Errorf("%w: not a regular file: %s", ErrInvalidInput, path)
	}
	if info.Size() > cfg.MaxFileSize {
		return base{}, fmt.Errorf("%w: file too large: %d bytes (max %d)", ErrInvalidInput, info.Size(), cfg.MaxFileSize)
	}
	return base{
		path:   path,
		format: format,
		cfg:    cfg,
		logger: cfg.Logger.With("path", path, "format", string(format)),
	}, nil
}

func (b *base) Path() string       { return b.path }
func (b *base) Format() FileFormat { return b.format }

// minimalMetadata builds the mandatory metadata fields straight from the
// filesystem. It cannot fail: a stat error leaves the size at zero.
func (b *base) minimalMetadata() DocumentMetadata {
	return MinimalMetadata(b.path, b.format)
}

// MinimalMetadata returns metadata holding only the filesystem-derived fields.
func MinimalMetadata(path string, format FileFormat) DocumentMetadata {
	if !format.Valid() || format == "" {
		format = FormatUnknown
	}
	md := DocumentMetadata{
		FileFormat:     format,
		SourceFilename: filepath.Base(path),
	}
	if info, err := os.Stat(path); err == nil {
		md.FileSizeBytes = info.Size()
	}
	return md
}

// runCapabilities is the shared orchestration: each capability runs in
// isolation and any failure, including a panic, becomes one entry in Errors.
func runCapabilities(c Capabilities, b *base) *ExtractionResult {
	res := &ExtractionResult{
		Tables: []TableData{},
		Images: []ImageData{},
		Errors: []string{},
	}

	text, err := capture(b.logger, func() (string, error) { return c.ExtractText() })
	if err != nil {
		res.Errors = append(res.Errors, b.failure(CapText, err))
		text = ""
	}
	res.Markdown = text

	tables, err := capture(b.logger, func() ([]TableData, error) { return c.ExtractTables() })
	if err != nil {
		res.Errors = append(res.Errors, b.failure(CapTables, err))
	} else if tables != nil {
		res.Tables = tables
	}

	images, err := capture(b.logger, func() ([]ImageData, error) { return c.ExtractImages() })
	if err != nil {
		res.Errors = append(res.Errors, b.failure(CapImages, err))
	} else if images != nil {
		res.Images = images
	}

	md, err := capture(b.logger, func() (DocumentMetadata, error) { return c.ExtractMetadata() })
	if err != nil {
		res.Errors = append(res.Errors, b.failure(CapMetadata, err))
		md = b.minimalMetadata()
	}
	res.Metadata = b.completeMetadata(md)

	b.logger.Debug("extraction finished",
		"markdown_bytes", len(res.Markdown),
		"tables", len(res.Tables),
		"images", len(res.Images),
		"errors", len(res.Errors))
	return res
}

// completeMetadata fills any mandatory field a capability left empty.
func (b *base) completeMetadata(md DocumentMetadata) DocumentMetadata {
	if md.FileFormat == "" {
		md.FileFormat = b.format
	}
	if md.SourceFilename == "" || md.FileSizeBytes == 0 {
		fs := b.minimalMetadata()
		if md.SourceFilename == "" {
			md.SourceFilename = fs.SourceFilename
		}
		if md.FileSizeBytes == 0 {
			md.FileSizeBytes = fs.FileSizeBytes
		}
	}
	return md
}

func (b *base) failure(c Capability, err error) string {
	msg := fmt.Sprintf("%s extraction failed: %v", c, err)
	b.logger.Warn("capability failed", "capability", string(c), "error", err)
	return msg
}

// capture runs fn, converting a panic into an error. The stack goes to
// logger at Debug.
func capture[T any](logger *slog.Logger, fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("capability panic recovered", "panic", r, "stack", string(debug.Stack()))
			var zero T
			v, err = zero, fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
