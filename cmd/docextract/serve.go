package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/docextract/docpipe"
	"github.com/hazyhaar/docextract/horosafe"
	"github.com/hazyhaar/docextract/kit"
	"github.com/hazyhaar/docextract/shield"
)

// multipartOverhead is the room left for part headers and boundaries on top
// of MaxFileSize.
const multipartOverhead = 1 << 20

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the extraction HTTP API",
		Long: "serve exposes:\n" +
			"  POST /api/extract           multipart upload, field \"file\"\n" +
			"  GET  /api/extract?path=...  file under --data-dir (disabled when unset)\n" +
			"  GET  /api/formats\n" +
			"  GET  /health",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringVar(&a.flags.Port, "port", "", "listen port")
	f.StringVar(&a.flags.DataDir, "data-dir", "", "root directory for path-based extraction")
	f.IntVar(&a.flags.RateLimit, "rate-limit", 0, "extraction requests per minute per client IP (0 = unlimited)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           a.handler(ctx.Done()),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("http server starting", "addr", srv.Addr, "data_dir", a.cfg.DataDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}

// handler builds the API router. done stops background middleware work.
func (a *app) handler(done <-chan struct{}) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(shield.StackConfig{
		MaxBody:     a.cfg.MaxFileSize + multipartOverhead,
		RateLimit:   a.cfg.RateLimit,
		RateExclude: []string{"/health", "/api/formats"},
		Logger:      a.logger,
		Done:        done,
	}) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		kit.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/api/formats", func(w http.ResponseWriter, _ *http.Request) {
		kit.WriteJSON(w, http.StatusOK, map[string]any{
			"formats":    a.router.SupportedFormats(),
			"extensions": a.router.SupportedExtensions(),
		})
	})

	extract := kit.Chain(
		kit.WithRequestIDs(kit.Prefixed("req_", kit.UUIDv7())),
		kit.Logging(a.logger, "extract"),
	)(a.extractEndpoint)
	r.Post("/api/extract", kit.HTTPHandler(extract, a.decodeUpload, extractStatus))
	if a.cfg.DataDir != "" {
		r.Get("/api/extract", kit.HTTPHandler(extract, a.decodePath, extractStatus))
	}
	return r
}

// extractReq names the file to extract. cleanup, when set, removes an
// uploaded temp copy once extraction is done.
type extractReq struct {
	path    string
	cleanup func()
}

func (a *app) extractEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*extractReq)
	if r.cleanup != nil {
		defer r.cleanup()
	}
	return a.router.ProcessContext(ctx, r.path)
}

func extractStatus(err error) int {
	switch {
	case errors.Is(err, docpipe.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, docpipe.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, docpipe.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, horosafe.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, horosafe.ErrPathTraversal):
		return http.StatusForbidden
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge
	}
	return 0
}

func (a *app) decodePath(r *http.Request) (any, error) {
	rel := r.URL.Query().Get("path")
	if rel == "" {
		return nil, errors.New("query parameter path is required")
	}
	path, err := horosafe.SafePath(a.cfg.DataDir, rel)
	if err != nil {
		return nil, err
	}
	return &extractReq{path: path}, nil
}

// decodeUpload streams the "file" part of a multipart body into a private
// temp directory under its sanitized client name, so the extension drives
// format detection and source_filename matches the upload.
func (a *app) decodeUpload(r *http.Request) (any, error) {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || ct != "multipart/form-data" {
		return nil, errors.New("expected multipart/form-data with a file field")
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errors.New("multipart body has no file field")
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		req, err := a.saveUpload(part.FileName(), part)
		part.Close()
		return req, err
	}
}

func (a *app) saveUpload(name string, src io.Reader) (*extractReq, error) {
	name, err := horosafe.SafeFilename(name)
	if err != nil {
		return nil, err
	}
	if _, err := a.router.Detect(name); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "docextract-upload-")
	if err != nil {
		return nil, err
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			a.logger.Warn("upload cleanup failed", "dir", dir, "error", err)
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		cleanup()
		return nil, err
	}
	n, err := horosafe.CopyLimited(f, src, a.cfg.MaxFileSize)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return nil, err
	}
	a.logger.Debug("upload stored", "file", name, "bytes", n)
	return &extractReq{path: path, cleanup: cleanup}, nil
}

