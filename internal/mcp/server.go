// Package mcp registers the random service tools on an MCP server.
// The server is mounted on the HTTP mux at /mcp via the streamable HTTP transport.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/horosrand/internal/callctx"
	"github.com/hazyhaar/horosrand/internal/rng"
	"github.com/hazyhaar/horosrand/pkg/audit"
	"github.com/hazyhaar/pkg/kit"
)

// NewServer creates an MCPServer with all random service tools registered.
func NewServer(svc *rng.Service, auditLog audit.Logger, version string) *server.MCPServer {
	srv := server.NewMCPServer(
		"horosrand",
		version,
		server.WithToolCapabilities(true),
	)

	registerGenerate(srv, svc, auditLog)
	registerHistory(srv, svc, auditLog)
	registerVerifyIntegrity(srv, svc, auditLog)
	registerHistoryCount(srv, svc, auditLog)
	registerStats(srv, svc)

	return srv
}

// --- generate_random_number ---

func registerGenerate(srv *server.MCPServer, svc *rng.Service, auditLog audit.Logger) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		value, err := svc.Generate(ctx)
		if err != nil {
			return nil, err
		}
		return generateResp{Value: value}, nil
	}
	endpoint = wrap(auditLog, "generate_random_number", endpoint)

	tool := mcp.NewToolWithRawSchema("generate_random_number",
		"Generate a 64-bit random number and record it in the audit history", emptySchema())

	kit.RegisterMCPTool(srv, tool, endpoint, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: &emptyReq{}}, nil
	})
}

type generateResp struct {
	Value uint64 `json:"value,string"`
}

// --- get_random_history ---

func registerHistory(srv *server.MCPServer, svc *rng.Service, auditLog audit.Logger) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		r := request.(*historyReq)
		entries := svc.History()
		if r.Limit > 0 && r.Limit < len(entries) {
			entries = entries[:r.Limit]
		}
		return map[string]any{"entries": entries, "count": len(entries)}, nil
	}
	endpoint = wrap(auditLog, "get_random_history", endpoint)

	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]string{"type": "integer", "description": "Keep only the N most recent entries (0 = all)"},
		},
	})
	tool := mcp.NewToolWithRawSchema("get_random_history",
		"List audited random numbers, newest first", schema)

	kit.RegisterMCPTool(srv, tool, endpoint, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		return &kit.MCPDecodeResult{Request: &historyReq{Limit: intArg(args, "limit", 0)}}, nil
	})
}

type historyReq struct {
	Limit int `json:"limit"`
}

// --- verify_sequence_integrity ---

func registerVerifyIntegrity(srv *server.MCPServer, svc *rng.Service, auditLog audit.Logger) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		return svc.VerifyIntegrity(), nil
	}
	endpoint = wrap(auditLog, "verify_sequence_integrity", endpoint)

	tool := mcp.NewToolWithRawSchema("verify_sequence_integrity",
		"Check the retained history for missing sequence ids", emptySchema())

	kit.RegisterMCPTool(srv, tool, endpoint, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: &emptyReq{}}, nil
	})
}

// --- get_history_count ---

func registerHistoryCount(srv *server.MCPServer, svc *rng.Service, auditLog audit.Logger) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		return map[string]int{"count": svc.HistoryCount()}, nil
	}
	endpoint = wrap(auditLog, "get_history_count", endpoint)

	tool := mcp.NewToolWithRawSchema("get_history_count",
		"Number of entries currently retained in the audit history", emptySchema())

	kit.RegisterMCPTool(srv, tool, endpoint, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: &emptyReq{}}, nil
	})
}

// --- get_random_stats ---

func registerStats(srv *server.MCPServer, svc *rng.Service) {
	tool := mcp.NewToolWithRawSchema("get_random_stats",
		"Summary statistics and frequency, runs and uniformity tests over the retained history", emptySchema())

	kit.RegisterMCPTool(srv, tool, func(ctx context.Context, request any) (any, error) {
		return svc.Stats(), nil
	}, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: &emptyReq{}}, nil
	})
}

// --- helpers ---

type emptyReq struct{}

func emptySchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

// wrap marks calls as arriving over MCP, then records them in the trail.
func wrap(auditLog audit.Logger, action string, endpoint kit.Endpoint) kit.Endpoint {
	audited := audit.Middleware(auditLog, action)(endpoint)
	return func(ctx context.Context, request any) (any, error) {
		return audited(callctx.WithTransport(ctx, callctx.TransportMCP), request)
	}
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return def
	}
}
