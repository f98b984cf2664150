package handbook

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) != 1 {
		t.Fatalf("Expected one content item, got %d", len(result.Content))
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("Expected text content, got %T", result.Content[0])
	}
	return text.Text
}

func writeHandbook(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "handbook.pdf")
	if err := os.WriteFile(path, []byte(handbookV1), 0644); err != nil {
		t.Fatalf("Failed to write document: %v", err)
	}
	return path
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		tool *mcp.Tool
		name string
	}{
		{NewAskHandler(nil).GetToolDefinition(), "ask_handbook"},
		{NewProbeHandler(nil).GetToolDefinition(), "handbook_has_matches"},
		{NewIndexHandler(nil).GetToolDefinition(), "index_handbook"},
	}

	for _, tt := range tests {
		if tt.tool.Name != tt.name {
			t.Errorf("Expected tool %s, got %s", tt.name, tt.tool.Name)
		}
		if tt.tool.Description == "" {
			t.Errorf("Tool %s has no description", tt.name)
		}
	}
}

func TestIndexHandler(t *testing.T) {
	settings := testHandbookSettings(t)
	settings.DocumentsDir = t.TempDir()
	svc := newTestService(t, settings, &recordingCompleter{}, nil)
	handler := NewIndexHandler(svc)
	path := writeHandbook(t, settings.DocumentsDir)

	result, _, err := handler.Handle(context.Background(), &mcp.CallToolRequest{}, IndexArgument{Path: path})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("Unexpected error result: %s", resultText(t, result))
	}
	if text := resultText(t, result); !strings.Contains(text, "Indexed 14 chunks") {
		t.Errorf("Unexpected result: %s", text)
	}

	result, _, _ = handler.Handle(context.Background(), &mcp.CallToolRequest{}, IndexArgument{Path: "handbook.pdf"})
	if text := resultText(t, result); !strings.Contains(text, "unchanged") {
		t.Errorf("Expected unchanged result for a relative path, got %s", text)
	}
}

func TestIndexHandler_PathsOutsideDocumentsDir(t *testing.T) {
	settings := testHandbookSettings(t)
	settings.DocumentsDir = t.TempDir()
	svc := newTestService(t, settings, &recordingCompleter{}, nil)
	handler := NewIndexHandler(svc)
	outside := writeHandbook(t, t.TempDir())

	paths := []string{
		outside,
		"../handbook.pdf",
		filepath.Join(settings.DocumentsDir, "..", "handbook.pdf"),
		"/etc/passwd",
	}

	for _, path := range paths {
		result, _, err := handler.Handle(context.Background(), &mcp.CallToolRequest{}, IndexArgument{Path: path})
		if err != nil {
			t.Fatalf("Handle returned error: %v", err)
		}
		if !result.IsError {
			t.Errorf("Expected %q to be refused", path)
		}
		if text := resultText(t, result); !strings.Contains(text, "outside the handbook documents directory") {
			t.Errorf("Unexpected result for %q: %s", path, text)
		}
	}
	if _, ok := svc.Status(""); ok {
		t.Error("Nothing should have been indexed")
	}
}

func TestIndexHandler_NoDocumentsDir(t *testing.T) {
	svc := newTestService(t, testHandbookSettings(t), &recordingCompleter{}, nil)
	path := writeHandbook(t, t.TempDir())

	result, _, _ := NewIndexHandler(svc).Handle(context.Background(), &mcp.CallToolRequest{}, IndexArgument{Path: path})
	if !result.IsError {
		t.Error("Expected every path to be refused without a documents directory")
	}
}

func TestIndexHandler_Errors(t *testing.T) {
	settings := testHandbookSettings(t)
	settings.DocumentsDir = t.TempDir()
	svc := newTestService(t, settings, &recordingCompleter{}, nil)
	handler := NewIndexHandler(svc)

	result, _, err := handler.Handle(context.Background(), &mcp.CallToolRequest{}, IndexArgument{Path: "  "})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if !result.IsError {
		t.Error("Expected error result for empty path")
	}

	result, _, _ = handler.Handle(context.Background(), &mcp.CallToolRequest{},
		IndexArgument{Path: filepath.Join(settings.DocumentsDir, "missing.pdf")})
	if !result.IsError {
		t.Error("Expected error result for missing file")
	}
}

func TestAskHandler(t *testing.T) {
	completer := &recordingCompleter{
		answer: func(string) (string, error) { return "Sixteen weeks (Pages 12-13).", nil },
	}
	svc := newTestService(t, testHandbookSettings(t), completer, nil)
	if _, err := svc.Index(context.Background(), []byte(handbookV1), ""); err != nil {
		t.Fatalf("Index failed: %v", err)
	}

	handler := NewAskHandler(svc)
	result, _, err := handler.Handle(context.Background(), &mcp.CallToolRequest{}, QueryArgument{Query: maternityQuestion})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("Unexpected error result: %s", resultText(t, result))
	}
	if text := resultText(t, result); text != "Sixteen weeks (Pages 12-13)." {
		t.Errorf("Unexpected answer: %s", text)
	}
}

func TestAskHandler_Fallback(t *testing.T) {
	svc := newTestService(t, testHandbookSettings(t), &recordingCompleter{}, nil)
	handler := NewAskHandler(svc)

	result, _, err := handler.Handle(context.Background(), &mcp.CallToolRequest{}, QueryArgument{Query: maternityQuestion})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if result.IsError || resultText(t, result) != FallbackAnswer {
		t.Errorf("Expected fallback answer, got %+v", result)
	}
}

func TestAskHandler_ClosedService(t *testing.T) {
	svc := newTestService(t, testHandbookSettings(t), &recordingCompleter{}, nil)
	_ = svc.Close()

	result, _, err := NewAskHandler(svc).Handle(context.Background(), &mcp.CallToolRequest{}, QueryArgument{Query: "leave"})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if !result.IsError {
		t.Error("Expected error result for a closed service")
	}
}

func TestProbeHandler(t *testing.T) {
	svc := newTestService(t, testHandbookSettings(t), &recordingCompleter{}, nil)
	if _, err := svc.Index(context.Background(), []byte(handbookV1), ""); err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	handler := NewProbeHandler(svc)

	tests := []struct {
		query string
		want  string
	}{
		{maternityQuestion, "true"},
		{"zorblax quuxifying", "false"},
		{"", "false"},
	}

	for _, tt := range tests {
		result, _, err := handler.Handle(context.Background(), &mcp.CallToolRequest{}, QueryArgument{Query: tt.query})
		if err != nil {
			t.Fatalf("Handle returned error: %v", err)
		}
		if got := resultText(t, result); got != tt.want {
			t.Errorf("probe(%q) = %s, want %s", tt.query, got, tt.want)
		}
	}
}

func TestFormatIndexResult(t *testing.T) {
	hash := DocumentHash([]byte(handbookV1))

	skipped := FormatIndexResult(IndexResult{Source: "handbook", DocHash: hash, Skipped: true})
	if !strings.Contains(skipped, "unchanged") || !strings.Contains(skipped, hash[:12]) {
		t.Errorf("Unexpected skipped message: %s", skipped)
	}
	if strings.Contains(skipped, hash) {
		t.Error("Hash should be shortened")
	}

	indexed := FormatIndexResult(IndexResult{
		Source: "handbook", DocHash: hash, Chunks: 3, NoteFailures: 1, Duration: 1500 * time.Millisecond,
	})
	if !strings.Contains(indexed, "Indexed 3 chunks") || !strings.Contains(indexed, "1.5s") {
		t.Errorf("Unexpected indexed message: %s", indexed)
	}
	if !strings.Contains(indexed, "1 chunks were indexed without an index note") {
		t.Errorf("Expected note failure count: %s", indexed)
	}
}

func TestRegisterTools(t *testing.T) {
	svc := newTestService(t, testHandbookSettings(t), &recordingCompleter{}, nil)
	server := mcp.NewServer(&mcp.Implementation{Name: "test", Version: "1.0.0"}, nil)

	RegisterTools(server, svc)
}
