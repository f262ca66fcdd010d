// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes tag detail tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/tagledger/internal/tagservice"
)

// DetailFormatURI is the resource URI of the detail format contract.
const DetailFormatURI = "tagledger://detail-format"

// Server wraps the MCP server with tagledger tools.
type Server struct {
	mcp *server.MCPServer
	svc *tagservice.Service
}

// New creates a new MCP server with all tagledger tools registered.
func New(svc *tagservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"tagledger",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_tag_details",
		mcp.WithDescription("List every inline #tag of a Markdown file in document order, "+
			"with its position, its detail record (or null) and its shadow text."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the file (e.g. folder/note.md)")),
	), s.getTagDetails)

	s.mcp.AddTool(mcp.NewTool("find_tag",
		mcp.WithDescription("Find every occurrence of a tag across the vault, with details."),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag to find, with or without the leading #")),
	), s.findTag)

	s.mcp.AddTool(mcp.NewTool("search_tag_details",
		mcp.WithDescription("Search tag text and detail attribute and item values."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Substring to search for")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchTagDetails)

	s.mcp.AddTool(mcp.NewTool("set_tag_attribute",
		mcp.WithDescription("Set one attribute on the detail of a tag occurrence, creating the detail "+
			"if the tag has none. Read the contract first via get_detail_contract or the "+
			DetailFormatURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the file")),
		mcp.WithNumber("index", mcp.Required(), mcp.Description("Zero-based position of the tag in the file, as returned by get_tag_details")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Attribute name")),
		mcp.WithString("value", mcp.Description("Attribute value; omit to store null")),
	), s.setTagAttribute)

	s.mcp.AddTool(mcp.NewTool("get_detail_contract",
		mcp.WithDescription("Returns the tag detail format contract. "+
			"Call this before editing details to understand how they are stored."),
	), s.getDetailContract)

	s.mcp.AddResource(
		mcp.NewResource(DetailFormatURI, "Tag Detail Format Contract",
			mcp.WithResourceDescription("How tag details are attached to inline tags and stored."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readDetailFormatResource,
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

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getTagDetails(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	details, err := s.svc.Details(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", path, err)), nil
	}
	return jsonResult(details)
}

func (s *Server) findTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tag, err := req.RequireString("tag")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rows, err := s.svc.ListByTag(ctx, tag)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rows)
}

func (s *Server) searchTagDetails(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rows, err := s.svc.Search(ctx, query, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rows)
}

func (s *Server) setTagAttribute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	idx, err := req.RequireInt("index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var value *string
	if v, ok := req.GetArguments()["value"].(string); ok {
		value = &v
	}

	rec, err := s.svc.SetAttribute(ctx, path, idx, name, value)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"path": path, "index": idx, "detail": rec})
}

func (s *Server) getDetailContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DetailFormatContract), nil
}

func (s *Server) readDetailFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      DetailFormatURI,
			MIMEType: "text/markdown",
			Text:     DetailFormatContract,
		},
	}, nil
}
