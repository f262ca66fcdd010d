package mcpserver

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/tagledger/internal/settings"
	"github.com/starford/tagledger/internal/storage"
	"github.com/starford/tagledger/internal/tagservice"
	"github.com/starford/tagledger/internal/testutil"
)

func testServer(t *testing.T) (*Server, *tagservice.Service, storage.Provider) {
	t.Helper()
	_, store := testutil.TestVault(t)
	db := testutil.TestDB(t)
	st := settings.New(settings.Options{UseTagDetail: true, StoreIn: settings.StoreInYAML})
	svc, err := tagservice.New(store, db, st, nil, testutil.Logger(), tagservice.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return New(svc, "test"), svc, store
}

func seedNote(t *testing.T, svc *tagservice.Service, store storage.Provider, path, content string) {
	t.Helper()
	data := testutil.WriteNote(t, store, path, content)
	if _, err := svc.HandleChange(context.Background(), path, data); err != nil {
		t.Fatal(err)
	}
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so handlers are invoked directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "get_tag_details":
		result, err = srv.getTagDetails(ctx, req)
	case "find_tag":
		result, err = srv.findTag(ctx, req)
	case "search_tag_details":
		result, err = srv.searchTagDetails(ctx, req)
	case "set_tag_attribute":
		result, err = srv.setTagAttribute(ctx, req)
	case "get_detail_contract":
		result, err = srv.getDetailContract(ctx, req)
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

func TestGetTagDetails(t *testing.T) {
	srv, svc, store := testServer(t)
	seedNote(t, svc, store, "log.md", "ran #tests then #deploy\n")

	r := callTool(t, srv, "get_tag_details", map[string]interface{}{"path": "log.md"})
	if r.IsError {
		t.Fatalf("error: %s", resultText(r))
	}
	text := resultText(r)
	if !strings.Contains(text, `"tag": "#tests"`) || !strings.Contains(text, `"tag": "#deploy"`) {
		t.Errorf("details = %s", text)
	}
}

func TestGetTagDetails_Missing(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "get_tag_details", map[string]interface{}{"path": "nope.md"})
	if !r.IsError {
		t.Error("expected error for unknown file")
	}
}

func TestSetTagAttributeAndFind(t *testing.T) {
	srv, svc, store := testServer(t)
	seedNote(t, svc, store, "log.md", "ran #tests then #deploy\n")

	r := callTool(t, srv, "set_tag_attribute", map[string]interface{}{
		"path":  "log.md",
		"index": float64(1),
		"name":  "env",
		"value": "staging",
	})
	if r.IsError {
		t.Fatalf("set error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), `"env": "staging"`) {
		t.Errorf("set result = %s", resultText(r))
	}

	r = callTool(t, srv, "find_tag", map[string]interface{}{"tag": "deploy"})
	if r.IsError || !strings.Contains(resultText(r), "staging") {
		t.Errorf("find_tag = %s", resultText(r))
	}

	r = callTool(t, srv, "search_tag_details", map[string]interface{}{"query": "staging"})
	if r.IsError || !strings.Contains(resultText(r), `"path": "log.md"`) {
		t.Errorf("search = %s", resultText(r))
	}

	data, _ := store.Read("log.md")
	if !strings.Contains(string(data), "env: staging") {
		t.Errorf("header not written:\n%s", data)
	}
}

func TestSetTagAttribute_NullValue(t *testing.T) {
	srv, svc, store := testServer(t)
	seedNote(t, svc, store, "a.md", "#x\n")

	r := callTool(t, srv, "set_tag_attribute", map[string]interface{}{"path": "a.md", "index": float64(0), "name": "pending"})
	if r.IsError {
		t.Fatalf("set error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), `"pending": null`) {
		t.Errorf("result = %s", resultText(r))
	}
}

func TestSetTagAttribute_OutOfRange(t *testing.T) {
	srv, svc, store := testServer(t)
	seedNote(t, svc, store, "a.md", "#x\n")
	r := callTool(t, srv, "set_tag_attribute", map[string]interface{}{"path": "a.md", "index": float64(3), "name": "k"})
	if !r.IsError {
		t.Error("expected out of range error")
	}
}

func TestDetailContract(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "get_detail_contract", nil)
	if !strings.Contains(resultText(r), "tag-details") {
		t.Error("contract does not mention the header key")
	}
}
