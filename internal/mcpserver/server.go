// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Tiwaz needs queries for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/tiwaz/internal/build"
	"github.com/starford/tiwaz/internal/links"
	"github.com/starford/tiwaz/internal/needservice"
	"github.com/starford/tiwaz/internal/storage"
)

// FormatURI is the resource URI of the need document contract.
const FormatURI = "tiwaz://need-format"

// Server wraps the MCP server with Tiwaz tools.
type Server struct {
	mcp   *server.MCPServer
	svc   *needservice.Service
	store storage.Provider
}

// New creates a new MCP server with all Tiwaz tools registered. store may be
// nil, in which case write_document reports an error.
func New(svc *needservice.Service, store storage.Provider) *Server {
	s := &Server{svc: svc, store: store}

	s.mcp = server.NewMCPServer(
		"Tiwaz",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("filter_needs",
		mcp.WithDescription("List needs matching a filter expression, e.g. "+
			"\"type == 'req' and status == 'open'\" or \"'security' in tags\"."),
		mcp.WithString("filter", mcp.Description("Filter expression (empty for all needs)")),
		mcp.WithString("sort", mcp.Description("Field to sort by")),
	), s.filterNeeds)

	s.mcp.AddTool(mcp.NewTool("get_need",
		mcp.WithDescription("Read the full record of one need, including back links."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Need id")),
	), s.getNeed)

	s.mcp.AddTool(mcp.NewTool("need_tree",
		mcp.WithDescription("List the needs reachable from a need over its links."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Root need id")),
		mcp.WithString("direction", mcp.Description("outgoing (default), incoming or both")),
		mcp.WithNumber("depth", mcp.Description("Maximum depth; omit for unbounded")),
		mcp.WithString("links", mcp.Description("Comma separated link categories (default all)")),
	), s.needTree)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all needs that link to the specified need."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Need id")),
		mcp.WithString("category", mcp.Description("Link category (default all)")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("search_needs",
		mcp.WithDescription("Full-text search through need ids, titles, content and tags."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchNeeds)

	s.mcp.AddTool(mcp.NewTool("select_needs",
		mcp.WithDescription("Evaluate a JSONPath selector against the needs.json export."),
		mcp.WithString("selector", mcp.Required(), mcp.Description("JSONPath, e.g. $.versions.*.needs.*.id")),
	), s.selectNeeds)

	s.mcp.AddTool(mcp.NewTool("write_document",
		mcp.WithDescription("Create a new Markdown document holding need blocks and rebuild. "+
			"Content MUST follow the need document contract. Read it first via "+
			"the get_need_contract tool or the "+FormatURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path for the new document (must end with .md)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content with need blocks")),
	), s.writeDocument)

	s.mcp.AddTool(mcp.NewTool("get_need_contract",
		mcp.WithDescription("Returns the need document contract. "+
			"Call this before writing documents to ensure correct structure."),
	), s.getNeedContract)

	// Resource: need document contract.
	s.mcp.AddResource(
		mcp.NewResource(FormatURI, "Need Document Contract",
			mcp.WithResourceDescription("Markdown format of documents defining needs."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) filterNeeds(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	needs, err := s.svc.Filter(ctx, req.GetString("filter", ""), req.GetString("sort", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(needs), nil
}

func (s *Server) getNeed(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.svc.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rec), nil
}

func (s *Server) needTree(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dir, err := links.ParseDirection(req.GetString("direction", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	q := needservice.TreeQuery{Direction: dir}
	if d := req.GetInt("depth", -1); d >= 0 {
		q.MaxDepth = &d
	}
	for _, c := range strings.Split(req.GetString("links", ""), ",") {
		if c = strings.TrimSpace(c); c != "" {
			q.Categories = append(q.Categories, c)
		}
	}
	entries, err := s.svc.Tree(ctx, id, q)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(entries), nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bl, err := s.svc.Backlinks(ctx, id, req.GetString("category", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(bl) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return mcp.NewToolResultText(strings.Join(bl, "\n")), nil
}

func (s *Server) searchNeeds(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results), nil
}

func (s *Server) selectNeeds(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sel, err := req.RequireString("selector")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	values, err := s.svc.Select(ctx, sel)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(values), nil
}

func (s *Server) writeDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("no writable source tree"), nil
	}
	if !strings.HasSuffix(path, ".md") {
		return mcp.NewToolResultError("path must end with .md"), nil
	}
	if _, readErr := s.store.Read(path); readErr == nil {
		return mcp.NewToolResultError(fmt.Sprintf("document already exists: %s", path)), nil
	}

	// Reject documents that fail on their own before touching the tree.
	data := []byte(content)
	check, err := build.NewSession(s.svc.Config())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := check.ScanDocument(build.DocName(path), data); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.store.Write(path, data); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.Rebuild(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("written: %s, rebuild failed: %v", path, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("written: %s (%d needs)", path, check.Store.Len())), nil
}

func (s *Server) getNeedContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NeedFormatContract), nil
}

func (s *Server) readFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      FormatURI,
			MIMEType: "text/markdown",
			Text:     NeedFormatContract,
		},
	}, nil
}
