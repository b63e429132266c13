// Package client implements the MCP session used by tool consumers: the
// initialize handshake, tool discovery and tool invocation over any closable
// transport.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/viant/jsonrpc"
	"github.com/viant/mcp-protocol/schema"
	"github.com/viant/mcp-tools/transport"
)

// ErrNotInitialized is returned when an operation runs before Initialize.
var ErrNotInitialized = errors.New("client is not initialized")

// Client is an MCP session bound to a single server transport.
type Client struct {
	capabilities    schema.ClientCapabilities
	info            schema.Implementation
	protocolVersion string
	transport       transport.Transport
	logger          *slog.Logger
	initialized     bool
}

// New creates a session over the given transport. The session does not touch
// the wire until Initialize.
func New(name, version string, aTransport transport.Transport, options ...Option) *Client {
	ret := &Client{
		info:      *schema.NewImplementation(name, version),
		transport: aTransport,
	}
	for _, opt := range options {
		opt(ret)
	}
	if ret.protocolVersion == "" {
		ret.protocolVersion = schema.LatestProtocolVersion
	}
	if ret.logger == nil {
		ret.logger = slog.Default()
	}
	return ret
}

// Initialize performs the MCP handshake: the initialize request followed by
// the initialized notification.
func (c *Client) Initialize(ctx context.Context) (*schema.InitializeResult, error) {
	params := &schema.InitializeRequestParams{
		Capabilities:    c.capabilities,
		ClientInfo:      c.info,
		ProtocolVersion: c.protocolVersion,
	}
	req, err := jsonrpc.NewRequest(schema.MethodInitialize, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create initialize request: %w", err)
	}
	response, err := c.transport.Send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("initialize failed: %w", err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("initialize rejected: %w", response.Error)
	}
	var result schema.InitializeResult
	if err := json.Unmarshal(response.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal initialize result: %w", err)
	}
	if err := c.transport.Notify(ctx, &jsonrpc.Notification{Method: schema.MethodNotificationInitialized}); err != nil {
		return nil, fmt.Errorf("failed to notify initialized: %w", err)
	}
	c.initialized = true
	c.logger.Debug("session initialized",
		"server", result.ServerInfo.Name,
		"version", result.ServerInfo.Version,
		"protocol", result.ProtocolVersion)
	return &result, nil
}

// ListTools returns a single page of tool definitions.
func (c *Client) ListTools(ctx context.Context, cursor *string) (*schema.ListToolsResult, error) {
	params := &schema.ListToolsRequestParams{Cursor: cursor}
	return send[schema.ListToolsRequestParams, schema.ListToolsResult](ctx, c, schema.MethodToolsList, params)
}

// ListAllTools pages through tools/list until the cursor is exhausted.
func (c *Client) ListAllTools(ctx context.Context) ([]schema.Tool, error) {
	var tools []schema.Tool
	var cursor *string
	for {
		page, err := c.ListTools(ctx, cursor)
		if err != nil {
			return nil, err
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == nil || *page.NextCursor == "" {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool invokes a tool by name.
func (c *Client) CallTool(ctx context.Context, params *schema.CallToolRequestParams) (*schema.CallToolResult, error) {
	return send[schema.CallToolRequestParams, schema.CallToolResult](ctx, c, schema.MethodToolsCall, params)
}

// Ping checks server liveness.
func (c *Client) Ping(ctx context.Context, params *schema.PingRequestParams) (*schema.PingResult, error) {
	return send[schema.PingRequestParams, schema.PingResult](ctx, c, schema.MethodPing, params)
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

func send[P any, R any](ctx context.Context, client *Client, method string, parameters *P) (*R, error) {
	if !client.initialized {
		return nil, ErrNotInitialized
	}
	req, err := jsonrpc.NewRequest(method, parameters)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	response, err := client.transport.Send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", method, err)
	}
	if response.Error != nil {
		return nil, response.Error
	}
	var result R
	if err := json.Unmarshal(response.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return &result, nil
}
