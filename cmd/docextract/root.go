package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/docextract/docpipe"
)

// app carries what every command needs once flags and config are resolved.
type app struct {
	stdout, stderr io.Writer
	lookup         lookupFunc

	configPath string
	flags      appConfig // flag values; applied only when the flag was set
	cfg        appConfig
	logger     *slog.Logger
	router     *docpipe.Router
}

func newRootCmd(stdout, stderr io.Writer, lookup lookupFunc) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, lookup: lookup}
	var output string

	root := &cobra.Command{
		Use:   "docextract <input> [-o output.json]",
		Short: "Extract markdown, tables, images and metadata from documents",
		Long: "docextract reads a PDF, DOCX, PPTX or XLSX file and writes one JSON result with\n" +
			"markdown, tables, image metadata, document metadata and the list of partial\n" +
			"failures. The default output is <input stem>_extracted.json next to the input.",
		Version:           version,
		Args:              cobra.MaximumNArgs(1),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.setup(cmd) },
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return a.extract(cmd.Context(), args[0], output)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML config file")
	pf.StringVar(&a.flags.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.flags.LogFormat, "log-format", "", "log format: json or text")
	pf.Int64Var(&a.flags.MaxFileSize, "max-file-size", 0, "largest accepted input in bytes")
	pf.StringVar(&a.flags.PDFPassword, "pdf-password", "", "user password for encrypted PDFs")
	pf.IntVar(&a.flags.HeadingLevels, "heading-levels", 0, "number of largest PDF font sizes mapped to headings")
	pf.DurationVar(&a.flags.Timeout, "timeout", 0, "per-document extraction timeout (0 = none)")
	root.Flags().StringVarP(&output, "output", "o", "", "output JSON path")

	extractCmd := &cobra.Command{
		Use:   "extract <input>",
		Short: "Extract one document (same as the root command)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.extract(cmd.Context(), args[0], output)
		},
	}
	extractCmd.Flags().StringVarP(&output, "output", "o", "", "output JSON path")

	root.AddCommand(extractCmd, a.batchCmd(), a.serveCmd(), a.mcpCmd(), a.formatsCmd())
	return root
}

// setup resolves configuration and builds the logger and router.
func (a *app) setup(cmd *cobra.Command) error {
	if err := loadDotEnv(); err != nil {
		return err
	}
	cfg, err := loadConfig(a.configPath, a.lookup)
	if err != nil {
		return err
	}
	a.applyFlags(cmd, &cfg)
	a.cfg = cfg

	a.logger, err = newLogger(a.stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(a.logger)
	a.router = docpipe.NewRouter(cfg.docpipeConfig(a.logger))
	return nil
}

func (a *app) applyFlags(cmd *cobra.Command, cfg *appConfig) {
	f := &a.flags
	set := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}
	if set("log-level") {
		cfg.LogLevel = f.LogLevel
	}
	if set("log-format") {
		cfg.LogFormat = f.LogFormat
	}
	if set("max-file-size") {
		cfg.MaxFileSize = f.MaxFileSize
	}
	if set("pdf-password") {
		cfg.PDFPassword = f.PDFPassword
	}
	if set("heading-levels") {
		cfg.HeadingLevels = f.HeadingLevels
	}
	if set("timeout") {
		cfg.Timeout = f.Timeout
	}
	if set("workers") {
		cfg.Workers = f.Workers
	}
	if set("db") {
		cfg.DB = f.DB
	}
	if set("port") {
		cfg.Port = f.Port
	}
	if set("data-dir") {
		cfg.DataDir = f.DataDir
	}
	if set("rate-limit") {
		cfg.RateLimit = f.RateLimit
	}
}

// defaultOutput is <stem>_extracted.json in the input's directory.
func defaultOutput(input string) string {
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(input), stem+"_extracted.json")
}

// extract runs one document. Missing files and unsupported extensions are
// returned as errors so the process exits 1.
func (a *app) extract(ctx context.Context, input, output string) error {
	res, err := a.router.ProcessContext(ctx, input)
	if err != nil {
		return err
	}
	if output == "" {
		output = defaultOutput(input)
	}
	if err := writeResult(output, res); err != nil {
		return err
	}
	for _, e := range res.Errors {
		a.logger.Warn("partial failure", "file", input, "error", e)
	}
	fmt.Fprintf(a.stdout, "%s: %d chars, %d tables, %d images, %d errors -> %s\n",
		filepath.Base(input), len(res.Markdown), len(res.Tables), len(res.Images), len(res.Errors), output)
	return nil
}

// writeResult writes res as indented JSON, creating parent directories.
func writeResult(path string, res *docpipe.ExtractionResult) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func (a *app) formatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List supported formats and extensions",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			formats := a.router.SupportedFormats()
			exts := a.router.SupportedExtensions()
			for i := range formats {
				fmt.Fprintf(a.stdout, "%s\t%s\n", formats[i], exts[i])
			}
			return nil
		},
	}
}
