// Package tools hosts the protocol engine behind the gateway's transport.
// It registers the built-in tool set on an MCP server and hands raw
// JSON-RPC messages to it, leaving authentication, Origin checks, and body
// ingestion to the transport layer.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// StatsSource reports live gateway state for the gateway_stats tool.
type StatsSource interface {
	// Counts returns the number of pending authorization codes, active
	// sessions, and stored stream events.
	Counts() (codes, sessions, events int)
}

// Provider wraps an MCP server preloaded with the gateway's tool set.
type Provider struct {
	name      string
	version   string
	mcpServer *server.MCPServer
	stats     StatsSource
}

// NewProvider creates the protocol engine and registers all tools.
// stats may be nil, in which case gateway_stats reports zeros.
func NewProvider(name, version string, stats StatsSource) *Provider {
	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(false),
	)

	p := &Provider{
		name:      name,
		version:   version,
		mcpServer: mcpServer,
		stats:     stats,
	}
	p.registerTools()

	return p
}

// HandleMessage passes one raw JSON-RPC message to the MCP server and
// returns its response. Notifications yield a nil response.
func (p *Provider) HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	return p.mcpServer.HandleMessage(ctx, message)
}

// registerTools registers the built-in tool set.
func (p *Provider) registerTools() {
	echoTool := mcp.NewTool("echo",
		mcp.WithDescription("Echo the provided text back to the caller"),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Text to echo back"),
		),
	)
	p.mcpServer.AddTool(echoTool, p.handleEcho)

	serverTimeTool := mcp.NewTool("server_time",
		mcp.WithDescription("Return the gateway's current time in RFC 3339 format"),
	)
	p.mcpServer.AddTool(serverTimeTool, p.handleServerTime)

	statsTool := mcp.NewTool("gateway_stats",
		mcp.WithDescription("Report live gateway counters: pending authorization codes, active sessions, stored stream events"),
	)
	p.mcpServer.AddTool(statsTool, p.handleGatewayStats)
}

// handleEcho handles the echo MCP tool.
func (p *Provider) handleEcho(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("text argument is required"), nil
	}

	return mcp.NewToolResultText(text), nil
}

// handleServerTime handles the server_time MCP tool.
func (p *Provider) handleServerTime(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(time.Now().UTC().Format(time.RFC3339)), nil
}

// handleGatewayStats handles the gateway_stats MCP tool. It reports
// in-memory store occupancy as a JSON object.
func (p *Provider) handleGatewayStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var codes, sessions, events int
	if p.stats != nil {
		codes, sessions, events = p.stats.Counts()
	}

	payload := struct {
		Server   string `json:"server"`
		Version  string `json:"version"`
		Codes    int    `json:"pending_codes"`
		Sessions int    `json:"active_sessions"`
		Events   int    `json:"stored_events"`
	}{
		Server:   p.name,
		Version:  p.version,
		Codes:    codes,
		Sessions: sessions,
		Events:   events,
	}

	jsonData, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format stats: %v", err)), nil
	}

	return mcp.NewToolResultText(string(jsonData)), nil
}
