package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zhe.chen/explaind/pkg/types"
)

// ErrToolFailed is returned when a tool reports isError=true.
var ErrToolFailed = errors.New("tool execution failed")

// MCPClient is the session surface narration needs from a tool server
type MCPClient interface {
	Connect(ctx context.Context) error
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]types.Tool, error)
	CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*types.ToolCallResult, error)
	Close() error
}

// Transport carries JSON-RPC messages to one server. Implementations:
// StdioTransport for a child process, Mark3LabsTransport for Streamable HTTP.
type Transport interface {
	Start(ctx context.Context) error
	SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	SendNotification(ctx context.Context, method string, params interface{}) error
	Close() error
}

// JSONRPCRequest is a JSON-RPC 2.0 request line
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response line. Notifications from the
// server decode with ID 0 and are dropped.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError is the error member of a response
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// InitializeRequest is sent once per session
type InitializeRequest struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ClientInfo      ClientInfo             `json:"clientInfo"`
}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResponse keeps only what the client logs. Server capabilities
// are not consulted; required tools are checked against tools/list instead.
type InitializeResponse struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      ServerInfo `json:"serverInfo"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsListResponse is the result of tools/list. A TTS server offers a
// handful of tools, so pagination is not followed.
type ToolsListResponse struct {
	Tools []types.Tool `json:"tools"`
}

// CallToolRequest is the params of tools/call
type CallToolRequest struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// Client is one MCP session over a Transport
type Client struct {
	transport  Transport
	serverName string
	serverVer  string
}

// NewClient creates a new MCP client with the given transport
func NewClient(transport Transport) *Client {
	return &Client{transport: transport}
}

// Connect establishes connection to the MCP server
func (c *Client) Connect(ctx context.Context) error {
	return c.transport.Start(ctx)
}

const (
	protocolVersion = "2025-03-26"
	clientName      = "explaind"
	clientVersion   = "0.1.0"
)

// request sends method and decodes its result into T
func request[T any](ctx context.Context, t Transport, method string, params interface{}) (T, error) {
	var out T
	raw, err := t.SendRequest(ctx, method, params)
	if err != nil {
		return out, fmt.Errorf("%s request failed: %w", method, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to parse %s response: %w", method, err)
	}
	return out, nil
}

// Initialize performs the initialize request and sends notifications/initialized.
// The client advertises no capabilities of its own.
func (c *Client) Initialize(ctx context.Context) error {
	resp, err := request[InitializeResponse](ctx, c.transport, "initialize", InitializeRequest{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]interface{}{},
		ClientInfo:      ClientInfo{Name: clientName, Version: clientVersion},
	})
	if err != nil {
		return err
	}
	c.serverName, c.serverVer = resp.ServerInfo.Name, resp.ServerInfo.Version

	if err := c.transport.SendNotification(ctx, "notifications/initialized", nil); err != nil {
		return fmt.Errorf("initialized notification failed: %w", err)
	}
	return nil
}

// ListTools returns the tools the server offers
func (c *Client) ListTools(ctx context.Context) ([]types.Tool, error) {
	resp, err := request[ToolsListResponse](ctx, c.transport, "tools/list", map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	return resp.Tools, nil
}

// CallTool invokes a tool. A result flagged isError is returned together
// with an ErrToolFailed error carrying the tool's first text block.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*types.ToolCallResult, error) {
	result, err := request[types.ToolCallResult](ctx, c.transport, "tools/call", CallToolRequest{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}
	if !result.IsError {
		return &result, nil
	}

	msg := "no details"
	if block, ok := FirstContent(&result, "text"); ok {
		msg = block.Text
	}
	return &result, fmt.Errorf("%w: %s: %s", ErrToolFailed, name, msg)
}

// FirstContent returns the first content block of the given type.
func FirstContent(result *types.ToolCallResult, blockType string) (types.ContentBlock, bool) {
	if result == nil {
		return types.ContentBlock{}, false
	}
	for _, block := range result.Content {
		if block.Type == blockType {
			return block, true
		}
	}
	return types.ContentBlock{}, false
}

// Close terminates the connection
func (c *Client) Close() error {
	return c.transport.Close()
}

// GetServerInfo returns server name and version
func (c *Client) GetServerInfo() (name, version string) {
	return c.serverName, c.serverVer
}
