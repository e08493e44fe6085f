package docpipe

import (
	"fmt"
	"strings"
)

// StubExtractor stands in for a registered format whose extraction is not
// implemented. Every capability fails with *NotImplementedError; ExtractAll
// reports a single error instead of one per capability.
type StubExtractor struct {
	base
}

// NewPptxExtractor returns the PowerPoint stub.
func NewPptxExtractor(path string, cfg Config) (*StubExtractor, error) {
	return newStub(path, FormatPptx, cfg)
}

// NewXlsxExtractor returns the Excel stub.
func NewXlsxExtractor(path string, cfg Config) (*StubExtractor, error) {
	return newStub(path, FormatXlsx, cfg)
}

func newStub(path string, format FileFormat, cfg Config) (*StubExtractor, error) {
	b, err := newBase(path, format, cfg)
	if err != nil {
		return nil, err
	}
	return &StubExtractor{base: b}, nil
}

func (e *StubExtractor) unimplemented(c Capability) error {
	return &NotImplementedError{Format: e.format, Capability: c}
}

func (e *StubExtractor) ExtractText() (string, error) {
	return "", e.unimplemented(CapText)
}

func (e *StubExtractor) ExtractTables() ([]TableData, error) {
	return nil, e.unimplemented(CapTables)
}

func (e *StubExtractor) ExtractImages() ([]ImageData, error) {
	return nil, e.unimplemented(CapImages)
}

func (e *StubExtractor) ExtractMetadata() (DocumentMetadata, error) {
	return e.minimalMetadata(), e.unimplemented(CapMetadata)
}

// ExtractAll does not run the capabilities: it returns empty content, the
// filesystem metadata tagged with the stub's format and one explanatory error.
func (e *StubExtractor) ExtractAll() *ExtractionResult {
	msg := fmt.Sprintf("%s extraction not yet implemented", strings.ToUpper(string(e.format)))
	e.logger.Info("format not implemented")
	return &ExtractionResult{
		Tables:   []TableData{},
		Images:   []ImageData{},
		Metadata: e.minimalMetadata(),
		Errors:   []string{msg},
	}
}

func (e *StubExtractor) Close() error { return nil }
