package handbook

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// QueryArgument defines the parameters of the question tools.
type QueryArgument struct {
	Query  string `json:"query" jsonschema_description:"The employee's question in natural language"`
	Source string `json:"source,omitempty" jsonschema_description:"Handbook source tag (defaults to the configured handbook)"`
}

// IndexArgument defines the parameters of the indexing tool.
type IndexArgument struct {
	Path   string `json:"path" jsonschema_description:"Path to the handbook PDF, inside the server's documents directory"`
	Source string `json:"source,omitempty" jsonschema_description:"Handbook source tag (defaults to the configured handbook)"`
}

// AskHandler handles the ask_handbook MCP tool.
type AskHandler struct {
	service *Service
}

// NewAskHandler creates a new ask handler.
func NewAskHandler(service *Service) *AskHandler {
	return &AskHandler{service: service}
}

// Handle answers the question from the handbook.
func (h *AskHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args QueryArgument) (*mcp.CallToolResult, any, error) {
	answer, err := h.service.Answer(ctx, args.Source, args.Query)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to answer from the handbook: %s", err)), nil, nil
	}
	return textResult(answer), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *AskHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "ask_handbook",
		Description: "Answer an employee policy question using only the indexed handbook, citing page ranges",
	}
}

// ProbeHandler handles the handbook_has_matches MCP tool.
type ProbeHandler struct {
	service *Service
}

// NewProbeHandler creates a new probe handler.
func NewProbeHandler(service *Service) *ProbeHandler {
	return &ProbeHandler{service: service}
}

// Handle returns "true" when the handbook has any match for the query.
func (h *ProbeHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args QueryArgument) (*mcp.CallToolResult, any, error) {
	found, err := h.service.HasMatches(ctx, args.Source, args.Query)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to search the handbook: %s", err)), nil, nil
	}
	return textResult(strconv.FormatBool(found)), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *ProbeHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "handbook_has_matches",
		Description: "Cheap check whether the handbook plausibly covers a question; returns true or false",
	}
}

// IndexHandler handles the index_handbook MCP tool.
type IndexHandler struct {
	service *Service
}

// NewIndexHandler creates a new index handler.
func NewIndexHandler(service *Service) *IndexHandler {
	return &IndexHandler{service: service}
}

// Handle indexes the PDF at the given path. Paths outside the documents
// directory are refused.
func (h *IndexHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args IndexArgument) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(args.Path) == "" {
		return errorResult("Path cannot be empty"), nil, nil
	}

	path, err := h.service.ResolveDocumentPath(args.Path)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to index handbook: %s", err)), nil, nil
	}

	result, err := h.service.IndexFile(ctx, path, args.Source)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to index handbook: %s", err)), nil, nil
	}
	return textResult(FormatIndexResult(result)), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *IndexHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "index_handbook",
		Description: "Index a handbook PDF; unchanged documents are skipped",
	}
}

// FormatIndexResult renders an indexing result for humans.
func FormatIndexResult(r IndexResult) string {
	if r.Skipped {
		return fmt.Sprintf("Handbook %q is unchanged (hash %s), nothing to index.", r.Source, shortHash(r.DocHash))
	}
	msg := fmt.Sprintf("Indexed %d chunks into handbook %q (hash %s) in %s.",
		r.Chunks, r.Source, shortHash(r.DocHash), r.Duration.Round(time.Millisecond))
	if r.NoteFailures > 0 {
		msg += fmt.Sprintf(" %d chunks were indexed without an index note.", r.NoteFailures)
	}
	return msg
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}

// RegisterTools registers the handbook tools with an MCP server.
func RegisterTools(server *mcp.Server, service *Service) {
	ask := NewAskHandler(service)
	mcp.AddTool(server, ask.GetToolDefinition(), ask.Handle)

	probe := NewProbeHandler(service)
	mcp.AddTool(server, probe.GetToolDefinition(), probe.Handle)

	index := NewIndexHandler(service)
	mcp.AddTool(server, index.GetToolDefinition(), index.Handle)
}
