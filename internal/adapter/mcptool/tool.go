// Package mcptool delivers alerts through an MCP server exposing a
// send_alert tool (SMS gateways, voice dialers and push providers are
// bridged behind MCP in the field deployments).
package mcptool

import (
	"context"
	"fmt"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpprotocol "github.com/mark3labs/mcp-go/mcp"

	"github.com/openrelief/responder/internal/domain"
	"github.com/openrelief/responder/internal/port/dispatch"
)

const (
	providerName    = "mcp"
	defaultToolName = "send_alert"
)

func init() {
	dispatch.Register(providerName, func(config map[string]string) (dispatch.Tool, error) {
		return New(Config{
			Transport: config["transport"],
			URL:       config["url"],
			Command:   config["command"],
			Args:      splitArgs(config["args"]),
			ToolName:  config["tool"],
		})
	})
}

// Config selects the MCP transport and target tool.
type Config struct {
	Transport string // "stdio", "sse" or "http" (streamable HTTP)
	URL       string
	Command   string
	Args      []string
	ToolName  string
}

// Tool invokes a remote MCP tool for each alert. The client connects and
// performs the initialize handshake lazily on the first send, so a down
// MCP server delays nothing at startup.
type Tool struct {
	cfg Config

	mu     sync.Mutex
	client mcpclient.MCPClient
}

// New creates an MCP-backed delivery tool.
func New(cfg Config) (*Tool, error) {
	if cfg.ToolName == "" {
		cfg.ToolName = defaultToolName
	}
	switch cfg.Transport {
	case "stdio":
		if cfg.Command == "" {
			return nil, fmt.Errorf("mcptool: stdio transport requires a command")
		}
	case "sse", "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcptool: %s transport requires a url", cfg.Transport)
		}
	default:
		return nil, fmt.Errorf("mcptool: unsupported transport %q", cfg.Transport)
	}
	return &Tool{cfg: cfg}, nil
}

func (t *Tool) Name() string { return providerName }

func (t *Tool) Capabilities() dispatch.Capabilities {
	return dispatch.Capabilities{RichBody: true, DeliveryReceipts: true}
}

// Send calls the configured MCP tool with the alert payload.
func (t *Tool) Send(ctx context.Context, p dispatch.Payload) (dispatch.Delivery, error) {
	client, err := t.connected(ctx)
	if err != nil {
		return dispatch.Delivery{}, domain.ToolUnavailableErr("mcp connect", err)
	}

	req := mcpprotocol.CallToolRequest{}
	req.Params.Name = t.cfg.ToolName
	req.Params.Arguments = map[string]any{
		"alert_id":    p.AlertID,
		"disaster_id": p.DisasterID,
		"level":       string(p.Level),
		"headline":    p.Headline,
		"body":        p.Body,
		"recipients":  p.Recipients,
	}

	result, err := client.CallTool(ctx, req)
	if err != nil {
		t.reset()
		return dispatch.Delivery{}, domain.TransientErr("mcp call", err)
	}
	if result.IsError {
		return dispatch.Delivery{}, domain.ToolUnavailableErr("mcp call",
			fmt.Errorf("tool %s reported an error: %s", t.cfg.ToolName, firstText(result)))
	}

	return dispatch.Delivery{ProviderRef: firstText(result)}, nil
}

// Close shuts down the MCP client.
func (t *Tool) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

// connected returns a handshaken client, dialing on first use.
func (t *Tool) connected(ctx context.Context) (mcpclient.MCPClient, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}

	client, err := t.dial()
	if err != nil {
		return nil, err
	}

	initReq := mcpprotocol.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpprotocol.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpprotocol.Implementation{
		Name:    "responder",
		Version: "1.0.0",
	}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}

	t.client = client
	return client, nil
}

func (t *Tool) dial() (mcpclient.MCPClient, error) {
	switch t.cfg.Transport {
	case "stdio":
		return mcpclient.NewStdioMCPClient(t.cfg.Command, nil, t.cfg.Args...)
	case "sse":
		return mcpclient.NewSSEMCPClient(t.cfg.URL)
	case "http":
		return mcpclient.NewStreamableHttpClient(t.cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported transport %q", t.cfg.Transport)
	}
}

// reset drops the cached client so the next send redials.
func (t *Tool) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		_ = t.client.Close()
		t.client = nil
	}
}

func firstText(result *mcpprotocol.CallToolResult) string {
	for _, content := range result.Content {
		if text, ok := content.(mcpprotocol.TextContent); ok {
			return text.Text
		}
	}
	return ""
}

func splitArgs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
