package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docextract/docpipe"
	"github.com/hazyhaar/docextract/horosafe"
)

// appConfig is the CLI configuration. Precedence: flags > environment >
// config file > defaults.
type appConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json or text

	MaxFileSize   int64         `yaml:"max_file_size"`
	PDFPassword   string        `yaml:"pdf_password"`
	HeadingLevels int           `yaml:"heading_levels"`
	Timeout       time.Duration `yaml:"timeout"`

	// batch
	Workers int    `yaml:"workers"`
	DB      string `yaml:"db"`

	// serve
	Port      string `yaml:"port"`
	DataDir   string `yaml:"data_dir"`   // root for GET /api/extract?path=; empty disables it
	RateLimit int    `yaml:"rate_limit"` // extraction requests per minute per client IP
}

func defaultConfig() appConfig {
	return appConfig{
		LogLevel:      "info",
		LogFormat:     "json",
		MaxFileSize:   100 << 20,
		HeadingLevels: 3,
		Workers:       4,
		Port:          "8080",
		RateLimit:     60,
	}
}

// lookupFunc reads one environment variable.
type lookupFunc func(key string) (string, bool)

// loadConfig applies the optional YAML file at path, then .env and the
// environment read through lookup.
func loadConfig(path string, lookup lookupFunc) (appConfig, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := horosafe.ReadFileLimited(path, horosafe.MaxConfigFile)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadDotEnv loads .env into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv() error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: .env: %w", err)
	}
	return nil
}

func (c *appConfig) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("PORT", &c.Port)
	str("DATA_DIR", &c.DataDir)
	str("DOCEXTRACT_PDF_PASSWORD", &c.PDFPassword)
	str("DOCEXTRACT_DB", &c.DB)
	integer("DOCEXTRACT_HEADING_LEVELS", &c.HeadingLevels)
	integer("DOCEXTRACT_WORKERS", &c.Workers)
	integer("DOCEXTRACT_RATE_LIMIT", &c.RateLimit)
	if v, ok := lookup("DOCEXTRACT_MAX_FILE_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("DOCEXTRACT_MAX_FILE_SIZE: %w", err))
		} else {
			c.MaxFileSize = n
		}
	}
	if v, ok := lookup("DOCEXTRACT_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DOCEXTRACT_TIMEOUT: %w", err))
		} else {
			c.Timeout = d
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *appConfig) docpipeConfig(logger *slog.Logger) docpipe.Config {
	return docpipe.Config{
		MaxFileSize:   c.MaxFileSize,
		PDFPassword:   c.PDFPassword,
		HeadingLevels: c.HeadingLevels,
		Timeout:       c.Timeout,
		Logger:        logger,
	}
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

func envLookup() lookupFunc { return os.LookupEnv }
