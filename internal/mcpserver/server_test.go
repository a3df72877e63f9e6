package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/tiwaz/internal/build"
	"github.com/starford/tiwaz/internal/needservice"
	"github.com/starford/tiwaz/internal/registry"
	"github.com/starford/tiwaz/internal/storage"
	"github.com/starford/tiwaz/internal/testutil"
)

const mcpDoc = "# Requirements\n\n```need\ntype: req\nid: REQ_1\ntitle: Login\nstatus: open\n---\nUsers log in with a password.\n```\n\n```need\ntype: spec\nid: SPEC_1\ntitle: Login form\nlinks: REQ_1\n```\n"

func testServer(t *testing.T) (*Server, storage.Provider) {
	t.Helper()
	_, store := testutil.TestSource(t, map[string]string{"reqs.md": mcpDoc})
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc := needservice.New(registry.NewDefault(), build.Inputs{Loader: build.Loader{Provider: store}},
		needservice.WithLogger(logger))
	if err := svc.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	return New(svc, store), store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so handlers are invoked
	// directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "filter_needs":
		result, err = srv.filterNeeds(ctx, req)
	case "get_need":
		result, err = srv.getNeed(ctx, req)
	case "need_tree":
		result, err = srv.needTree(ctx, req)
	case "get_backlinks":
		result, err = srv.getBacklinks(ctx, req)
	case "search_needs":
		result, err = srv.searchNeeds(ctx, req)
	case "select_needs":
		result, err = srv.selectNeeds(ctx, req)
	case "write_document":
		result, err = srv.writeDocument(ctx, req)
	case "get_need_contract":
		result, err = srv.getNeedContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestFilterNeeds(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "filter_needs", map[string]any{"filter": "type == 'spec'"})
	if r.IsError {
		t.Fatalf("filter error: %s", resultText(r))
	}
	var needs []map[string]any
	if err := json.Unmarshal([]byte(resultText(r)), &needs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(needs) != 1 || needs[0]["id"] != "SPEC_1" {
		t.Errorf("needs = %v", needs)
	}

	r = callTool(t, srv, "filter_needs", map[string]any{"filter": "type =="})
	if !r.IsError {
		t.Error("expected error for invalid filter")
	}
}

func TestGetNeed(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_need", map[string]any{"id": "REQ_1"})
	if !strings.Contains(resultText(r), `"title": "Login"`) {
		t.Errorf("get result = %q", resultText(r))
	}

	r = callTool(t, srv, "get_need", map[string]any{"id": "NOPE"})
	if !r.IsError {
		t.Error("expected error for missing need")
	}
}

func TestNeedTree(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "need_tree", map[string]any{"id": "SPEC_1", "depth": 1})
	var entries []needservice.TreeEntry
	if err := json.Unmarshal([]byte(resultText(r)), &entries); err != nil {
		t.Fatalf("decode: %v (%s)", err, resultText(r))
	}
	if len(entries) != 2 || entries[1].ID != "REQ_1" {
		t.Errorf("tree = %+v", entries)
	}

	r = callTool(t, srv, "need_tree", map[string]any{"id": "SPEC_1", "direction": "up"})
	if !r.IsError {
		t.Error("expected error for bad direction")
	}
}

func TestGetBacklinks(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_backlinks", map[string]any{"id": "REQ_1"})
	if text := resultText(r); text != "SPEC_1" {
		t.Errorf("backlinks = %q, want SPEC_1", text)
	}
	r = callTool(t, srv, "get_backlinks", map[string]any{"id": "SPEC_1"})
	if text := resultText(r); text != "no backlinks found" {
		t.Errorf("backlinks = %q", text)
	}
}

func TestSearchAndSelect(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "search_needs", map[string]any{"query": "password"})
	if !strings.Contains(resultText(r), "REQ_1") {
		t.Errorf("search = %q", resultText(r))
	}

	r = callTool(t, srv, "select_needs", map[string]any{"selector": "$.versions.*.needs.SPEC_1.title"})
	if !strings.Contains(resultText(r), "Login form") {
		t.Errorf("select = %q", resultText(r))
	}
}

func TestWriteDocument(t *testing.T) {
	srv, store := testServer(t)
	doc := "```need\ntype: test\nid: TEST_1\ntitle: Login test\nlinks: SPEC_1\n```\n"
	r := callTool(t, srv, "write_document", map[string]any{"path": "tests.md", "content": doc})
	if r.IsError {
		t.Fatalf("write error: %s", resultText(r))
	}
	if _, err := store.Read("tests.md"); err != nil {
		t.Fatalf("document not written: %v", err)
	}
	r = callTool(t, srv, "get_backlinks", map[string]any{"id": "SPEC_1"})
	if text := resultText(r); text != "TEST_1" {
		t.Errorf("backlinks after write = %q, want TEST_1", text)
	}

	r = callTool(t, srv, "write_document", map[string]any{"path": "tests.md", "content": doc})
	if !r.IsError {
		t.Error("expected error for existing document")
	}
}

func TestWriteDocument_RejectsInvalid(t *testing.T) {
	srv, store := testServer(t)
	r := callTool(t, srv, "write_document", map[string]any{
		"path":    "bad.md",
		"content": "```need\ntype: unknown\ntitle: Nope\n```\n",
	})
	if !r.IsError {
		t.Fatal("expected error for unknown type")
	}
	if _, err := store.Read("bad.md"); err == nil {
		t.Error("invalid document should not be written")
	}
}

func TestNeedContract(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_need_contract", map[string]any{})
	if !strings.Contains(resultText(r), "Need Document Contract") {
		t.Error("contract text missing")
	}
}
