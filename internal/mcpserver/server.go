// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes read-only requirement tools via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/reqservice"
)

// KeyFormatURI names the key format resource.
const KeyFormatURI = "req://key-format"

// Server wraps the MCP server with the requirement tools.
type Server struct {
	mcp *server.MCPServer
	svc *reqservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *reqservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"req",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("resolve_requirement",
		mcp.WithDescription("Resolve an alternate key (e.g. FR-001) or internal UUID to the full record, "+
			"including its relationships and change history."),
		mcp.WithString("ref", mcp.Required(), mcp.Description("Alternate key or internal id")),
	), s.resolveRequirement)

	s.mcp.AddTool(mcp.NewTool("list_requirements",
		mcp.WithDescription("List records, optionally filtered by status, feature or type."),
		mcp.WithString("status", mcp.Description("Status to match, e.g. Draft or Approved")),
		mcp.WithString("feature", mcp.Description("Feature label or name, e.g. 1-Auth or Auth")),
		mcp.WithString("type", mcp.Description("Record type, e.g. Functional or Bug")),
		mcp.WithBoolean("include_archived", mcp.Description("Include archived records")),
		mcp.WithNumber("limit", mcp.Description("Page size (default 100)")),
		mcp.WithNumber("offset", mcp.Description("Page offset")),
	), s.listRequirements)

	s.mcp.AddTool(mcp.NewTool("get_relationships",
		mcp.WithDescription("List the outgoing typed relationships of a record with their targets resolved."),
		mcp.WithString("ref", mcp.Required(), mcp.Description("Alternate key or internal id")),
	), s.getRelationships)

	s.mcp.AddTool(mcp.NewTool("list_relationship_definitions",
		mcp.WithDescription("List relationship kinds with their inverse, symmetry, cardinality and type constraints."),
	), s.listRelationshipDefinitions)

	s.mcp.AddTool(mcp.NewTool("get_id_config",
		mcp.WithDescription("Return the identifier policy: key format, numbering strategy, digits and counters."),
	), s.getIdConfig)

	s.mcp.AddResource(
		mcp.NewResource(KeyFormatURI, "Requirement Key Format",
			mcp.WithResourceDescription("How alternate keys are built and resolved in this project."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readKeyFormatResource,
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

// result marshals v as indented JSON, or turns err into a tool error.
func result(v any, err error) (*mcp.CallToolResult, error) {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %v", err)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) resolveRequirement(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireString("ref")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return result(s.svc.Get(ctx, ref))
}

func (s *Server) listRequirements(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, total, err := s.svc.List(ctx, reqservice.ListFilter{
		Status:          req.GetString("status", ""),
		Feature:         req.GetString("feature", ""),
		Type:            req.GetString("type", ""),
		IncludeArchived: req.GetBool("include_archived", false),
		Limit:           int(req.GetFloat("limit", 0)),
		Offset:          int(req.GetFloat("offset", 0)),
	})
	return result(map[string]any{"requirements": items, "total": total}, err)
}

func (s *Server) getRelationships(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireString("ref")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return result(s.svc.Relationships(ctx, ref))
}

func (s *Server) listRelationshipDefinitions(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(s.svc.RelationshipDefinitions(ctx))
}

func (s *Server) getIdConfig(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(s.svc.IdConfig(ctx))
}

func (s *Server) readKeyFormatResource(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	v, err := s.svc.IdConfig(ctx)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      KeyFormatURI,
			MIMEType: "text/markdown",
			Text:     KeyFormatContract(v),
		},
	}, nil
}
