package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/comigor/seijitalk-go/internal/config"
	"github.com/comigor/seijitalk-go/internal/logger"
)

// DefaultMCPTool is the tool name called when the server config leaves it empty.
const DefaultMCPTool = "search"

// MCPClient is the subset of the mcp-go client used for search.
type MCPClient interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCP searches through a tool exposed by an MCP server. The tool receives
// {"query", "max_results"} and must answer with a JSON array of results in its
// first text content.
type MCP struct {
	name   string
	tool   string
	client MCPClient
}

// NewMCP wraps an already initialized client.
func NewMCP(name, tool string, c MCPClient) *MCP {
	if tool == "" {
		tool = DefaultMCPTool
	}
	return &MCP{name: name, tool: tool, client: c}
}

// DialMCP creates, starts and initializes a client for the configured server.
func DialMCP(ctx context.Context, cfg config.MCPServerConfig) (*MCP, error) {
	var mcpC *client.Client
	var err error

	switch cfg.Type {
	case config.ClientTypeSSE:
		var sseOpts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			sseOpts = append(sseOpts, transport.WithHeaders(cfg.Headers))
		}
		mcpC, err = client.NewSSEMCPClient(cfg.URL, sseOpts...)
	case config.ClientTypeStreamableHTTP:
		var httpOpts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			httpOpts = append(httpOpts, transport.WithHTTPHeaders(cfg.Headers))
		}
		mcpC, err = client.NewStreamableHttpClient(cfg.URL, httpOpts...)
	case config.ClientTypeStdio:
		var env []string
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", strings.ToUpper(k), v))
		}
		mcpC, err = client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	default:
		return nil, fmt.Errorf("unsupported MCP server type %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("create MCP client %s: %w", cfg.Name, err)
	}

	// stdio clients start their transport on creation
	if cfg.Type != config.ClientTypeStdio {
		if err := mcpC.Start(ctx); err != nil {
			if cerr := mcpC.Close(); cerr != nil {
				logger.L.Warn("MCP client close error after start failure", "error", cerr)
			}
			return nil, fmt.Errorf("start MCP client %s: %w", cfg.Name, err)
		}
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "seijitalk", Version: "0.1.0"},
			Capabilities:    mcp.ClientCapabilities{},
		},
	}
	if _, err := mcpC.Initialize(ctx, initReq); err != nil {
		if cerr := mcpC.Close(); cerr != nil {
			logger.L.Warn("MCP client close error after init failure", "error", cerr)
		}
		return nil, fmt.Errorf("initialize MCP client %s: %w", cfg.Name, err)
	}
	logger.L.Info("MCP search server initialized", "name", cfg.Name, "tool", cfg.Tool)

	return NewMCP(cfg.Name, cfg.Tool, mcpC), nil
}

// Name implements Named.
func (m *MCP) Name() string {
	if m.name == "" {
		return "mcp"
	}
	return "mcp:" + m.name
}

// Close releases the underlying client.
func (m *MCP) Close() error {
	return m.client.Close()
}

// Search implements Searcher.
func (m *MCP) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is required")
	}
	limit = normalizeLimit(limit)

	res, err := m.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name: m.tool,
			Arguments: map[string]any{
				"query":       query,
				"max_results": limit,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("call tool %s: %w", m.tool, err)
	}
	if res == nil {
		return nil, fmt.Errorf("call tool %s: empty result", m.tool)
	}

	text := firstText(res)
	if res.IsError {
		if text == "" {
			text = "tool execution resulted in an error without specific text"
		}
		return nil, fmt.Errorf("tool %s: %s", m.tool, text)
	}
	if text == "" {
		return nil, fmt.Errorf("tool %s returned no text content", m.tool)
	}

	results, err := parseToolResults(text)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", m.tool, err)
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func firstText(res *mcp.CallToolResult) string {
	for _, contentItem := range res.Content {
		if textContent, ok := contentItem.(mcp.TextContent); ok {
			return textContent.Text
		}
	}
	return ""
}

// toolResult accepts the field names used by common search tools
// (DuckDuckGo uses href/body).
type toolResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Href    string `json:"href"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Body    string `json:"body"`
}

func parseToolResults(text string) ([]Result, error) {
	var raw []toolResult
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		var wrapped struct {
			Results []toolResult `json:"results"`
		}
		if werr := json.Unmarshal([]byte(text), &wrapped); werr != nil {
			return nil, fmt.Errorf("parse search results: %w", err)
		}
		raw = wrapped.Results
	}

	out := make([]Result, 0, len(raw))
	for _, r := range raw {
		u := firstNonEmpty(r.URL, r.Href, r.Link)
		if u == "" {
			continue
		}
		out = append(out, Result{
			Title:   r.Title,
			URL:     u,
			Snippet: firstNonEmpty(r.Snippet, r.Body),
		})
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
