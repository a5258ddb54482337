package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	log "rias-agent-golang/logger"
)

const (
	// DefaultConnectTimeout bounds transport setup plus initialize.
	DefaultConnectTimeout = 60 * time.Second
	// DefaultCallTimeout bounds a single tool invocation.
	DefaultCallTimeout = 60 * time.Second
)

// ToolSourceConfig describes one remote tool server.
type ToolSourceConfig struct {
	URL            string
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
}

func (c *ToolSourceConfig) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
}

// ToolSource is a session-scoped connection to a remote tool server.
// Each session opens its own source and closes it on shutdown, tools
// are never shared across sessions.
type ToolSource struct {
	config ToolSourceConfig
	client *client.Client

	mu     sync.RWMutex
	tools  map[string]tool.InvokableTool
	closed bool
}

// Connect dials the server over streamable HTTP, initializes the MCP
// session and fetches the tool list.
func Connect(ctx context.Context, config ToolSourceConfig) (*ToolSource, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("tool source url is empty")
	}
	config.applyDefaults()

	httpTransport, err := transport.NewStreamableHTTP(config.URL,
		transport.WithHTTPTimeout(config.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("create streamable http transport failed: %w", err)
	}

	mcpClient := client.NewClient(httpTransport)

	connectCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	if err := mcpClient.Start(connectCtx); err != nil {
		return nil, fmt.Errorf("start mcp client failed: %w", err)
	}

	initRequest := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "rias-agent",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{
				Experimental: make(map[string]any),
			},
		},
	}

	if _, err := mcpClient.Initialize(connectCtx, initRequest); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("initialize mcp session failed: %w", err)
	}

	source := &ToolSource{
		config: config,
		client: mcpClient,
	}

	if err := source.refreshTools(connectCtx); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("list tools failed: %w", err)
	}

	log.Infof("tool source connected, %d tools available", len(source.tools))
	return source, nil
}

func (s *ToolSource) refreshTools(ctx context.Context) error {
	listRequest := mcp.ListToolsRequest{}
	toolsResult, err := s.client.ListTools(ctx, listRequest)
	if err != nil {
		return err
	}

	tools := make(map[string]tool.InvokableTool, len(toolsResult.Tools))
	for _, t := range toolsResult.Tools {
		var inputSchema map[string]interface{}
		if schemaBytes, err := json.Marshal(t.InputSchema); err == nil {
			json.Unmarshal(schemaBytes, &inputSchema)
		}
		tools[t.Name] = &remoteTool{
			name:        t.Name,
			description: t.Description,
			inputSchema: inputSchema,
			source:      s,
		}
	}

	s.mu.Lock()
	s.tools = tools
	s.mu.Unlock()
	return nil
}

// Tools returns the invokable tools keyed by name.
func (s *ToolSource) Tools() map[string]tool.InvokableTool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make(map[string]tool.InvokableTool, len(s.tools))
	for name, t := range s.tools {
		ret[name] = t
	}
	return ret
}

// ToolInfos returns the tool metadata in the form the chat model binds.
func (s *ToolSource) ToolInfos(ctx context.Context) ([]*schema.ToolInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	infos := make([]*schema.ToolInfo, 0, len(s.tools))
	for _, t := range s.tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Close tears down the MCP session. Safe to call more than once.
func (s *ToolSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Errorf("close mcp client failed: %v", err)
			return err
		}
	}
	return nil
}

// remoteTool adapts a server-side MCP tool to the chat model's tool
// interface.
type remoteTool struct {
	name        string
	description string
	inputSchema map[string]interface{}
	source      *ToolSource
}

func (t *remoteTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	var paramsOneOf *schema.ParamsOneOf
	if t.inputSchema != nil {
		paramsOneOf = &schema.ParamsOneOf{}
	}
	return &schema.ToolInfo{
		Name:        t.name,
		Desc:        t.description,
		ParamsOneOf: paramsOneOf,
	}, nil
}

func (t *remoteTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	t.source.mu.RLock()
	closed := t.source.closed
	mcpClient := t.source.client
	t.source.mu.RUnlock()
	if closed || mcpClient == nil {
		return "", fmt.Errorf("tool %s unavailable: source closed", t.name)
	}

	var arguments map[string]interface{}
	if argumentsInJSON != "" {
		if err := json.Unmarshal([]byte(argumentsInJSON), &arguments); err != nil {
			return "", fmt.Errorf("parse tool arguments failed: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, t.source.config.CallTimeout)
	defer cancel()

	callRequest := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      t.name,
			Arguments: arguments,
		},
	}

	result, err := mcpClient.CallTool(callCtx, callRequest)
	if err != nil {
		return "", fmt.Errorf("call tool %s failed: %w", t.name, err)
	}

	if len(result.Content) > 0 {
		if textContent, ok := result.Content[0].(mcp.TextContent); ok {
			return textContent.Text, nil
		}
		contentBytes, err := json.Marshal(result.Content[0])
		if err != nil {
			return "", fmt.Errorf("marshal tool result failed: %w", err)
		}
		return string(contentBytes), nil
	}

	return "", fmt.Errorf("tool %s returned no content", t.name)
}
