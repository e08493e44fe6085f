package docpipe

import (
	"encoding/json"
	"fmt"
	"time"
)

// FileFormat identifies a document type.
type FileFormat string

const (
	FormatPDF     FileFormat = "pdf"
	FormatDocx    FileFormat = "docx"
	FormatPptx    FileFormat = "pptx"
	FormatXlsx    FileFormat = "xlsx"
	FormatUnknown FileFormat = "unknown"
)

// Valid reports whether f is one of the known format tags.
func (f FileFormat) Valid() bool {
	switch f {
	case FormatPDF, FormatDocx, FormatPptx, FormatXlsx, FormatUnknown:
		return true
	}
	return false
}

// UnmarshalJSON rejects tags outside the closed set.
func (f *FileFormat) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v := FileFormat(s)
	if !v.Valid() {
		return fmt.Errorf("unknown file format %q", s)
	}
	*f = v
	return nil
}

// TableData is one extracted table. Row 0 is conventionally the header row;
// rows may be ragged.
type TableData struct {
	Content     [][]string `json:"content"`
	PageOrSlide *int       `json:"page_or_slide"` // 1-indexed; nil for DOCX/XLSX
	Caption     *string    `json:"caption"`       // reserved, never populated
}

// ImageData is the metadata envelope of one embedded image. Image bytes are
// not retained.
type ImageData struct {
	Filename    string  `json:"filename"`
	Format      string  `json:"format"`
	Width       *int    `json:"width"`
	Height      *int    `json:"height"`
	AltText     *string `json:"alt_text"`
	Description *string `json:"description"` // reserved for captioning, always nil
	PageOrSlide *int    `json:"page_or_slide"`
}

// DocumentMetadata describes the source document. FileFormat, FileSizeBytes
// and SourceFilename are always set.
type DocumentMetadata struct {
	Title          *string    `json:"title"`
	Author         *string    `json:"author"`
	CreatedDate    *time.Time `json:"created_date"`
	ModifiedDate   *time.Time `json:"modified_date"`
	PageCount      *int       `json:"page_count"`
	FileFormat     FileFormat `json:"file_format"`
	FileSizeBytes  int64      `json:"file_size_bytes"`
	SourceFilename string     `json:"source_filename"`
}

// ExtractionResult is the unified output of every extractor. A non-empty
// Errors list means degraded but usable output.
type ExtractionResult struct {
	Markdown string           `json:"markdown"`
	Tables   []TableData      `json:"tables"`
	Images   []ImageData      `json:"images"`
	Metadata DocumentMetadata `json:"metadata"`
	Errors   []string         `json:"errors"`
}

// MarshalJSON emits empty arrays instead of null for unset slices.
func (r ExtractionResult) MarshalJSON() ([]byte, error) {
	type plain ExtractionResult
	p := plain(r)
	if p.Tables == nil {
		p.Tables = []TableData{}
	}
	if p.Images == nil {
		p.Images = []ImageData{}
	}
	if p.Errors == nil {
		p.Errors = []string{}
	}
	return json.Marshal(p)
}

// UnmarshalJSON restores empty (non-nil) slices for absent or null arrays.
func (r *ExtractionResult) UnmarshalJSON(data []byte) error {
	type plain ExtractionResult
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Tables == nil {
		p.Tables = []TableData{}
	}
	if p.Images == nil {
		p.Images = []ImageData{}
	}
	if p.Errors == nil {
		p.Errors = []string{}
	}
	*r = ExtractionResult(p)
	return nil
}

// OK reports whether the extraction completed without any recorded error.
func (r *ExtractionResult) OK() bool { return len(r.Errors) == 0 }

func intPtr(n int) *int { return &n }

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
