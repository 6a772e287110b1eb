package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/zhe.chen/explaind/pkg/types"
)

// Mark3LabsTransport adapts the mark3labs/mcp-go Streamable HTTP client to Transport
type Mark3LabsTransport struct {
	url         string
	timeout     time.Duration
	headers     map[string]string
	mcpClient   *client.Client
	initialized bool
}

// NewMark3LabsTransport creates a transport using mark3labs/mcp-go library
func NewMark3LabsTransport(url string, timeout time.Duration, headers map[string]string) *Mark3LabsTransport {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Mark3LabsTransport{
		url:     url,
		timeout: timeout,
		headers: headers,
	}
}

// Start initializes the transport
func (t *Mark3LabsTransport) Start(ctx context.Context) error {
	httpTransport, err := transport.NewStreamableHTTP(
		t.url,
		transport.WithHTTPHeaders(t.headers),
	)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	t.mcpClient = client.NewClient(httpTransport)
	if err := t.mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start client: %w", err)
	}

	return nil
}

// SendRequest maps the three methods Client uses onto mcp-go calls and
// re-encodes the results in the wire shapes Client decodes.
func (t *Mark3LabsTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if t.mcpClient == nil {
		return nil, fmt.Errorf("transport not started")
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	switch method {
	case "initialize":
		initParams, ok := params.(InitializeRequest)
		if !ok {
			return nil, fmt.Errorf("invalid initialize params type %T", params)
		}
		return t.initialize(ctx, initParams)

	case "tools/list":
		if !t.initialized {
			return nil, fmt.Errorf("client not initialized")
		}
		return t.listTools(ctx)

	case "tools/call":
		if !t.initialized {
			return nil, fmt.Errorf("client not initialized")
		}
		callParams, ok := params.(CallToolRequest)
		if !ok {
			return nil, fmt.Errorf("invalid tools/call params type %T", params)
		}

		result, err := t.mcpClient.CallTool(ctx, mcp.CallToolRequest{
			Params: mcp.CallToolParams{
				Name:      callParams.Name,
				Arguments: callParams.Arguments,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("call tool failed: %w", err)
		}
		return json.Marshal(result)

	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}
}

func (t *Mark3LabsTransport) initialize(ctx context.Context, params InitializeRequest) (json.RawMessage, error) {
	initResult, err := t.mcpClient.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: params.ProtocolVersion,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    params.ClientInfo.Name,
				Version: params.ClientInfo.Version,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize failed: %w", err)
	}
	t.initialized = true

	return json.Marshal(InitializeResponse{
		ProtocolVersion: initResult.ProtocolVersion,
		ServerInfo: ServerInfo{
			Name:    initResult.ServerInfo.Name,
			Version: initResult.ServerInfo.Version,
		},
	})
}

func (t *Mark3LabsTransport) listTools(ctx context.Context) (json.RawMessage, error) {
	toolsResult, err := t.mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools failed: %w", err)
	}

	tools := make([]types.Tool, 0, len(toolsResult.Tools))
	for _, tool := range toolsResult.Tools {
		var schema map[string]interface{}
		if schemaBytes, err := json.Marshal(tool.InputSchema); err == nil {
			_ = json.Unmarshal(schemaBytes, &schema)
		}
		tools = append(tools, types.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}

	return json.Marshal(ToolsListResponse{Tools: tools})
}

// SendNotification is a no-op; mcp-go sends notifications/initialized itself
func (t *Mark3LabsTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	return nil
}

// Close shuts down the transport
func (t *Mark3LabsTransport) Close() error {
	if t.mcpClient != nil {
		return t.mcpClient.Close()
	}
	return nil
}
