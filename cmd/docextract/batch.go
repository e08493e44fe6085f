package main

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/docextract/docpipe"
	"github.com/hazyhaar/docextract/store"
)

func (a *app) batchCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Extract every supported document under a directory",
		Long: "batch walks <dir>, extracts every file with a supported extension using up to\n" +
			"--workers documents at a time, and writes <stem>_extracted.json for each, mirrored\n" +
			"under --out-dir (default: next to the input). With --db every result is also\n" +
			"recorded in an SQLite run.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := a.batch(cmd.Context(), args[0], outDir)
			if sum != nil {
				fmt.Fprintf(a.stdout, "%d documents, %d with errors, %d skipped", sum.documents, sum.failed, sum.skipped)
				if sum.runID != "" {
					fmt.Fprintf(a.stdout, " (run %s)", sum.runID)
				}
				fmt.Fprintln(a.stdout)
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&outDir, "out-dir", "", "directory for result files")
	f.IntVar(&a.flags.Workers, "workers", 0, "documents processed concurrently")
	f.StringVar(&a.flags.DB, "db", "", "SQLite database recording the run")
	return cmd
}

type batchSummary struct {
	runID     string
	documents int64
	failed    int64 // results with at least one error
	skipped   int64 // input errors: vanished files, oversized files
}

// collect lists the files under dir the router can handle, in walk order.
func (a *app) collect(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, err := a.router.Detect(path); err == nil {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// batch processes every supported file under dir. One extractor is opened
// per document, so workers share nothing but the router and the store.
func (a *app) batch(ctx context.Context, dir, outDir string) (*batchSummary, error) {
	files, err := a.collect(dir)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	sum := &batchSummary{}
	var st *store.Store
	if a.cfg.DB != "" {
		st, err = store.Open(a.cfg.DB, store.Config{Logger: a.logger})
		if err != nil {
			return nil, err
		}
		defer st.Close()
		run, err := st.StartRun(ctx, dir)
		if err != nil {
			return nil, err
		}
		sum.runID = run.ID
	}
	a.logger.Info("batch started", "dir", dir, "files", len(files), "workers", a.cfg.Workers, "run_id", sum.runID)

	var documents, failed, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(a.cfg.Workers, 1))
	for _, path := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := a.router.ProcessContext(gctx, path)
			if err != nil {
				if docpipe.IsInputError(err) {
					a.logger.Warn("batch: skipped", "file", path, "error", err)
					skipped.Add(1)
					return nil
				}
				return err
			}
			out, err := batchOutput(dir, outDir, path)
			if err != nil {
				return err
			}
			if err := writeResult(out, res); err != nil {
				return err
			}
			if st != nil {
				if _, err := st.SaveResult(gctx, sum.runID, path, out, res); err != nil {
					return err
				}
			}
			documents.Add(1)
			if !res.OK() {
				failed.Add(1)
				a.logger.Warn("batch: partial failure", "file", path, "errors", res.Errors)
			}
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	sum.documents, sum.failed, sum.skipped = documents.Load(), failed.Load(), skipped.Load()

	if st != nil {
		status := store.StatusCompleted
		if err != nil {
			status = store.StatusCancelled
		}
		// The run context may already be cancelled; the final status must
		// still be written.
		if ferr := st.FinishRun(context.WithoutCancel(ctx), sum.runID, status); ferr != nil && err == nil {
			err = ferr
		}
	}
	a.logger.Info("batch finished", "documents", sum.documents, "failed", sum.failed, "skipped", sum.skipped, "error", err)
	return sum, err
}

// batchOutput mirrors path's position under dir into outDir. An empty
// outDir writes next to the input.
func batchOutput(dir, outDir, path string) (string, error) {
	if outDir == "" {
		return defaultOutput(path), nil
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return "", err
	}
	return defaultOutput(filepath.Join(outDir, rel)), nil
}
