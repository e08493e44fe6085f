package docpipe

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docextract/kit"
)

// RegisterMCP registers the extraction tools on an MCP server:
// docextract_extract, docextract_detect and docextract_formats.
func (r *Router) RegisterMCP(srv *mcp.Server) {
	r.registerExtractTool(srv)
	r.registerDetectTool(srv)
	r.registerFormatsTool(srv)
}

func (r *Router) mcpChain(op string) kit.Middleware {
	return kit.Chain(
		kit.WithRequestIDs(kit.Prefixed("req_", kit.UUIDv7())),
		kit.Logging(r.logger, op),
	)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- extract ---

type extractReq struct {
	Path string `json:"path"`
}

func (r *Router) registerExtractTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "docextract_extract",
		Description: "Extract markdown text, tables, image metadata and document metadata " +
			"from a PDF, DOCX, PPTX or XLSX file. Partial failures are listed in errors.",
		InputSchema: inputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "File path to extract"},
		}, []string{"path"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return r.ProcessContext(ctx, req.(*extractReq).Path)
	}

	kit.RegisterMCPTool(srv, tool, r.mcpChain("extract")(endpoint), kit.DecodeArgs[extractReq])
}

// --- detect ---

type detectReq struct {
	Path string `json:"path"`
}

func (r *Router) registerDetectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docextract_detect",
		Description: "Detect the format of a document file from its extension.",
		InputSchema: inputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "File path to detect"},
		}, []string{"path"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		format, err := r.Detect(req.(*detectReq).Path)
		if err != nil {
			return nil, err
		}
		return map[string]any{"format": string(format)}, nil
	}

	kit.RegisterMCPTool(srv, tool, r.mcpChain("detect")(endpoint), kit.DecodeArgs[detectReq])
}

// --- formats ---

func (r *Router) registerFormatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docextract_formats",
		Description: "List the supported document formats and extensions.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return map[string]any{
			"formats":    r.SupportedFormats(),
			"extensions": r.SupportedExtensions(),
		}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
