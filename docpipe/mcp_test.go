package docpipe

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testMCPImpl = &mcp.Implementation{Name: "docextract-test", Version: "0.1.0"}

func mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	router := NewRouter(Config{})
	srv := mcp.NewServer(testMCPImpl, nil)
	router.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return result
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result := mcpCall(t, session, name, args)
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

// --- docextract_formats ---

func TestMCP_Formats(t *testing.T) {
	session := mcpSession(t)

	text := mcpCallTool(t, session, "docextract_formats", map[string]any{})

	var resp struct {
		Formats    []string `json:"formats"`
		Extensions []string `json:"extensions"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := strings.Join(resp.Formats, ","); got != "pdf,docx,pptx,xlsx" {
		t.Errorf("formats = %s", got)
	}
	if got := strings.Join(resp.Extensions, ","); got != ".pdf,.docx,.pptx,.xlsx" {
		t.Errorf("extensions = %s", got)
	}
}

// --- docextract_detect ---

func TestMCP_Detect(t *testing.T) {
	session := mcpSession(t)

	tests := []struct {
		path   string
		format string
	}{
		{"report.docx", "docx"},
		{"manual.PDF", "pdf"},
		{"deck.pptx", "pptx"},
		{"sheet.xlsx", "xlsx"},
	}
	for _, tt := range tests {
		text := mcpCallTool(t, session, "docextract_detect", map[string]any{"path": tt.path})
		var resp struct {
			Format string `json:"format"`
		}
		json.Unmarshal([]byte(text), &resp)
		if resp.Format != tt.format {
			t.Errorf("Detect(%q) = %q, want %q", tt.path, resp.Format, tt.format)
		}
	}
}

func TestMCP_Detect_Unsupported(t *testing.T) {
	// WHAT: An unknown extension.
	// WHY: Rejections come back as tool errors listing the supported extensions.
	session := mcpSession(t)

	result := mcpCall(t, session, "docextract_detect", map[string]any{"path": "notes.odt"})
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	tc := result.Content[0].(*mcp.TextContent)
	if !strings.Contains(tc.Text, ".odt") || !strings.Contains(tc.Text, ".pdf") {
		t.Errorf("error text = %q", tc.Text)
	}
}

// --- docextract_extract ---

func TestMCP_Extract_Docx(t *testing.T) {
	session := mcpSession(t)
	path := writeDocx(t, "report.docx")

	text := mcpCallTool(t, session, "docextract_extract", map[string]any{"path": path})

	var res ExtractionResult
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Metadata.FileFormat != FormatDocx {
		t.Errorf("format = %q", res.Metadata.FileFormat)
	}
	if !strings.HasPrefix(res.Markdown, "# Quarterly Review") {
		t.Errorf("markdown = %q", res.Markdown)
	}
	if len(res.Tables) != 1 || len(res.Images) != 1 || len(res.Errors) != 0 {
		t.Errorf("tables=%d images=%d errors=%v", len(res.Tables), len(res.Images), res.Errors)
	}
}

func TestMCP_Extract_Stub(t *testing.T) {
	session := mcpSession(t)
	path := writeFile(t, "book.xlsx", []byte("x"))

	text := mcpCallTool(t, session, "docextract_extract", map[string]any{"path": path})

	var res ExtractionResult
	json.Unmarshal([]byte(text), &res)
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "XLSX extraction not yet implemented") {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestMCP_Extract_Missing(t *testing.T) {
	session := mcpSession(t)

	result := mcpCall(t, session, "docextract_extract", map[string]any{"path": "/nonexistent/x.pdf"})
	if !result.IsError {
		t.Fatal("expected tool error for missing file")
	}
	tc := result.Content[0].(*mcp.TextContent)
	if !strings.Contains(tc.Text, "file not found") {
		t.Errorf("error text = %q", tc.Text)
	}
}
