package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joemooney/req/internal/reqservice"
	"github.com/joemooney/req/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	svc := reqservice.New(testutil.DocumentBackend(t, testutil.Fixture(t)), slog.Default())
	if err := svc.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	return New(svc, "test")
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no in-process call helper, so dispatch to the handlers directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "resolve_requirement":
		result, err = srv.resolveRequirement(ctx, req)
	case "list_requirements":
		result, err = srv.listRequirements(ctx, req)
	case "get_relationships":
		result, err = srv.getRelationships(ctx, req)
	case "list_relationship_definitions":
		result, err = srv.listRelationshipDefinitions(ctx, req)
	case "get_id_config":
		result, err = srv.getIdConfig(ctx, req)
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

func TestResolveRequirement(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "resolve_requirement", map[string]interface{}{"ref": "fr-002"})
	if r.IsError {
		t.Fatalf("error result: %s", resultText(r))
	}
	var rec reqservice.RequirementDetail
	if err := json.Unmarshal([]byte(resultText(r)), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Key != "FR-002" || rec.Title != "logout" {
		t.Errorf("record = %+v", rec)
	}

	byID := callTool(t, srv, "resolve_requirement", map[string]interface{}{"ref": rec.ID})
	if !strings.Contains(resultText(byID), `"key": "FR-002"`) {
		t.Errorf("by id = %s", resultText(byID))
	}
}

func TestResolveRequirementMissing(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "resolve_requirement", map[string]interface{}{"ref": "FR-999"})
	if !r.IsError {
		t.Error("expected error for unknown key")
	}
	r = callTool(t, srv, "resolve_requirement", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error for missing ref")
	}
}

func TestListRequirements(t *testing.T) {
	srv := testServer(t)

	var out struct {
		Requirements []reqservice.RequirementItem `json:"requirements"`
		Total        int                          `json:"total"`
	}
	r := callTool(t, srv, "list_requirements", map[string]interface{}{"type": "bug"})
	if err := json.Unmarshal([]byte(resultText(r)), &out); err != nil {
		t.Fatal(err)
	}
	if out.Total != 1 || out.Requirements[0].Key != "BUG-003" {
		t.Errorf("bugs = %+v", out)
	}

	r = callTool(t, srv, "list_requirements", map[string]interface{}{
		"include_archived": true,
		"limit":            float64(2),
		"offset":           float64(2),
	})
	if err := json.Unmarshal([]byte(resultText(r)), &out); err != nil {
		t.Fatal(err)
	}
	if out.Total != 4 || len(out.Requirements) != 2 || out.Requirements[1].Key != "FR-004" {
		t.Errorf("page = %+v", out)
	}
}

func TestGetRelationships(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "get_relationships", map[string]interface{}{"ref": "BUG-003"})
	var rels []reqservice.RelationshipItem
	if err := json.Unmarshal([]byte(resultText(r)), &rels); err != nil {
		t.Fatal(err)
	}
	if len(rels) != 1 || rels[0].TargetKey != "FR-001" {
		t.Errorf("relationships = %+v", rels)
	}
}

func TestConfigurationTools(t *testing.T) {
	srv := testServer(t)

	defs := resultText(callTool(t, srv, "list_relationship_definitions", map[string]interface{}{}))
	if !strings.Contains(defs, `"parent"`) || !strings.Contains(defs, `"references"`) {
		t.Errorf("definitions = %s", defs)
	}

	cfg := resultText(callTool(t, srv, "get_id_config", map[string]interface{}{}))
	if !strings.Contains(cfg, "PREFIX-NNN") {
		t.Errorf("id config = %s", cfg)
	}
}

func TestKeyFormatResource(t *testing.T) {
	srv := testServer(t)

	contents, err := srv.readKeyFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("content type = %T", contents[0])
	}
	if tc.URI != KeyFormatURI || !strings.Contains(tc.Text, "`PREFIX-NNN`") {
		t.Errorf("resource = %+v", tc)
	}
}
