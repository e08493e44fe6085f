package docpipe

import (
	"log/slog"
	"time"
)

// Config configures extractors and the Router.
type Config struct {
	// MaxFileSize is the maximum file size to process (default: 100 MB).
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`

	// PDFPassword is tried as user password when a PDF is encrypted.
	PDFPassword string `json:"-" yaml:"pdf_password"`

	// HeadingLevels is how many of the largest distinct font sizes become
	// headings in PDF text (default: 3).
	HeadingLevels int `json:"heading_levels" yaml:"heading_levels"`

	// Timeout bounds one ProcessContext call. Zero means no bound.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Logger for debug/error messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 100 * 1024 * 1024
	}
	if c.HeadingLevels <= 0 {
		c.HeadingLevels = 3
	}
	if c.HeadingLevels > 6 {
		c.HeadingLevels = 6
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
