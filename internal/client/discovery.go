package client

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zhe.chen/explaind/pkg/types"
)

// ValidateTools checks if required tools are available on the server
func ValidateTools(available []types.Tool, required []string) error {
	toolMap := make(map[string]bool)
	for _, tool := range available {
		toolMap[tool.Name] = true
	}

	var missing []string
	for _, req := range required {
		if !toolMap[req] {
			missing = append(missing, req)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required tools: %v", missing)
	}

	return nil
}

// CreateClient creates an MCP client from server configuration
func CreateClient(config types.ServerConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var transport Transport

	switch config.Transport {
	case "stdio":
		if len(config.Command) == 0 {
			return nil, fmt.Errorf("command required for stdio transport")
		}
		transport = NewStdioTransport(config.Command, config.Timeout, logger.Named(config.Name))

	case "http":
		if config.URL == "" {
			return nil, fmt.Errorf("url required for http transport")
		}
		transport = NewMark3LabsTransport(config.URL, config.Timeout, config.Headers)

	default:
		return nil, fmt.Errorf("unsupported transport type: %s", config.Transport)
	}

	return NewClient(transport), nil
}

// Dial connects to a configured server, completes the handshake and checks
// that every tool listed under capabilities.tools is offered. The returned
// client must be closed by the caller.
func Dial(ctx context.Context, config types.ServerConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c, err := CreateClient(config, logger)
	if err != nil {
		return nil, err
	}
	if err := Handshake(ctx, c, config.Capabilities.Tools); err != nil {
		c.Close()
		return nil, err
	}

	name, version := c.GetServerInfo()
	logger.Info("Connected to MCP server",
		zap.String("server", name),
		zap.String("version", version),
		zap.String("transport", config.Transport))
	return c, nil
}

// Handshake connects and initializes c, then validates required tools.
func Handshake(ctx context.Context, c MCPClient, required []string) error {
	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	if err := c.Initialize(ctx); err != nil {
		return err
	}
	if len(required) == 0 {
		return nil
	}

	tools, err := c.ListTools(ctx)
	if err != nil {
		return err
	}
	return ValidateTools(tools, required)
}
