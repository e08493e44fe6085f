package docpipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Constructor opens one document with a format-specific extractor.
type Constructor func(path string, cfg Config) (Extractor, error)

// Adapt turns a typed extractor constructor into a Constructor.
func Adapt[E Extractor](open func(string, Config) (E, error)) Constructor {
	return func(path string, cfg Config) (Extractor, error) {
		e, err := open(path, cfg)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}

type registration struct {
	ext    string // lowercase, with leading dot
	format FileFormat
	open   Constructor
}

// Router maps file extensions to extractors and is the entry point for
// callers (CLI, HTTP, MCP, batch jobs).
type Router struct {
	cfg    Config
	logger *slog.Logger
	regs   []registration
}

// NewRouter returns a Router with the built-in formats registered in the
// order pdf, docx, pptx, xlsx.
func NewRouter(cfg Config) *Router {
	cfg.defaults()
	r := &Router{cfg: cfg, logger: cfg.Logger}
	r.Register(".pdf", FormatPDF, Adapt(NewPDFExtractor))
	r.Register(".docx", FormatDocx, Adapt(NewDocxExtractor))
	r.Register(".pptx", FormatPptx, Adapt(NewPptxExtractor))
	r.Register(".xlsx", FormatXlsx, Adapt(NewXlsxExtractor))
	return r
}

// Register adds or replaces the extractor for ext.
func (r *Router) Register(ext string, format FileFormat, open Constructor) {
	ext = normalizeExt(ext)
	for i := range r.regs {
		if r.regs[i].ext == ext {
			r.regs[i] = registration{ext: ext, format: format, open: open}
			return
		}
	}
	r.regs = append(r.regs, registration{ext: ext, format: format, open: open})
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// SupportedExtensions lists the registered extensions, e.g. ".pdf".
func (r *Router) SupportedExtensions() []string {
	out := make([]string, len(r.regs))
	for i, reg := range r.regs {
		out[i] = reg.ext
	}
	return out
}

// SupportedFormats lists the registered formats in registration order.
func (r *Router) SupportedFormats() []FileFormat {
	out := make([]FileFormat, 0, len(r.regs))
	for _, reg := range r.regs {
		out = append(out, reg.format)
	}
	return out
}

func (r *Router) lookup(path string) (registration, error) {
	ext := strings.ToLower(filepath.Ext(path))
	for _, reg := range r.regs {
		if reg.ext == ext {
			return reg, nil
		}
	}
	return registration{}, &UnsupportedFormatError{Ext: ext, Supported: r.SupportedExtensions()}
}

// Detect returns the document format from the file extension without
// touching the file.
func (r *Router) Detect(path string) (FileFormat, error) {
	reg, err := r.lookup(path)
	if err != nil {
		return FormatUnknown, err
	}
	return reg.format, nil
}

// GetExtractor checks that path exists, then returns the extractor
// registered for its extension.
func (r *Router) GetExtractor(path string) (Extractor, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: stat %s: %v", ErrInvalidInput, path, err)
	}
	reg, err := r.lookup(path)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("routing document", "path", path, "format", string(reg.format))
	return reg.open(path, r.cfg)
}

// IsInputError reports errors that reject the request before extraction:
// missing file, invalid path or unsupported extension.
func IsInputError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrUnsupportedFormat)
}

// Process extracts path in one call. Input errors are returned; a document
// that cannot be opened (encrypted, corrupt) yields a result carrying the
// error and filesystem metadata.
func (r *Router) Process(path string) (*ExtractionResult, error) {
	ex, err := r.GetExtractor(path)
	if err != nil {
		if IsInputError(err) {
			return nil, err
		}
		format, _ := r.Detect(path)
		r.logger.Warn("document open failed", "path", path, "error", err)
		return failedResult(path, format, fmt.Sprintf("Document open failed: %v", err)), nil
	}
	defer ex.Close()
	res := ex.ExtractAll()
	r.reportQuality(path, ex)
	return res, nil
}

// reportQuality logs a warning when the extractor measured a text layer
// that is probably unusable, so scans surface in CLI, batch and server logs.
func (r *Router) reportQuality(path string, ex Extractor) {
	qr, ok := ex.(QualityReporter)
	if !ok {
		return
	}
	q := qr.Quality()
	if q == nil {
		return
	}
	if hints := q.Hints(); len(hints) > 0 {
		r.logger.Warn("low text quality",
			"path", path,
			"hints", hints,
			"chars_per_page", q.CharsPerPage,
			"printable_ratio", q.PrintableRatio,
			"wordlike_ratio", q.WordlikeRatio)
	}
}

// ProcessContext is Process bounded by ctx and Config.Timeout. When the
// bound expires first the result holds filesystem metadata and a single
// timeout error; the abandoned extraction finishes in the background and
// its result is discarded.
func (r *Router) ProcessContext(ctx context.Context, path string) (*ExtractionResult, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	// Input errors surface immediately, before any extraction work.
	if _, err := os.Stat(path); err != nil && os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	format, err := r.Detect(path)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		res *ExtractionResult
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		res, err := r.Process(path)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		r.logger.Warn("extraction timed out", "path", path, "elapsed", time.Since(start), "error", ctx.Err())
		return failedResult(path, format, fmt.Sprintf("Extraction timed out: %v", ctx.Err())), nil
	}
}

func failedResult(path string, format FileFormat, msg string) *ExtractionResult {
	return &ExtractionResult{
		Tables:   []TableData{},
		Images:   []ImageData{},
		Metadata: MinimalMetadata(path, format),
		Errors:   []string{msg},
	}
}

// ProcessDocument extracts path with a default Router.
func ProcessDocument(path string) (*ExtractionResult, error) {
	return NewRouter(Config{}).Process(path)
}
