// Command docextract extracts markdown, tables, image metadata and document
// metadata from PDF, DOCX, PPTX and XLSX files.
//
//	docextract report.pdf                 # writes report_extracted.json
//	docextract report.pdf -o out.json
//	docextract batch ./inbox --out-dir ./out --db runs.db --workers 8
//	docextract serve --port 8080 --data-dir /srv/docs
//	docextract mcp                        # MCP server on stdio
//	docextract formats
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cmd := newRootCmd(os.Stdout, os.Stderr, envLookup())
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "docextract:", err)
		os.Exit(1)
	}
}
