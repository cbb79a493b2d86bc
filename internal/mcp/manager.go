// Package mcp connects to Model Context Protocol servers over stdio, HTTP,
// or SSE transports and exposes their tools through the tool registry.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/oauth2"

	"github.com/grip-agent/grip/internal/auth"
	"github.com/grip-agent/grip/internal/config"
	"github.com/grip-agent/grip/internal/tools"
)

// errAuthRequired marks a connection rejected for missing credentials.
var errAuthRequired = errors.New("OAuth login required")

// Status of one configured MCP server.
type Status string

const (
	StatusConnected    Status = "Connected"
	StatusDisconnected Status = "Disconnected"
	StatusAuthRequired Status = "AuthRequired"
	StatusDisabled     Status = "Disabled"
)

// ServerState is the externally visible state of a server.
type ServerState struct {
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Tools     int    `json:"tools"`
	LastError string `json:"last_error,omitempty"`
}

// session abstracts the two client implementations (stdio via mcp-go, HTTP
// and SSE via httpTransport).
type session interface {
	listTools(ctx context.Context) ([]toolInfo, error)
	callTool(ctx context.Context, name string, args map[string]any) (string, error)
	close() error
}

type toolInfo struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

type serverConn struct {
	cfg       config.MCPServerConfig
	session   session
	status    Status
	lastError string
	toolNames []string
}

// Manager owns the MCP server connections and their registry entries.
type Manager struct {
	registry *tools.Registry
	tokens   *auth.TokenStore
	logger   *slog.Logger

	mu      sync.Mutex
	servers map[string]*serverConn
}

// NewManager builds a manager wiring wrapped tools into registry.
func NewManager(registry *tools.Registry, tokens *auth.TokenStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: registry,
		tokens:   tokens,
		logger:   logger.With("component", "mcp"),
		servers:  make(map[string]*serverConn),
	}
}

// ConnectAll connects every enabled server, recording per-server status
// rather than failing the batch.
func (m *Manager) ConnectAll(ctx context.Context, servers []config.MCPServerConfig) {
	for _, server := range servers {
		if err := m.Connect(ctx, server); err != nil {
			m.logger.Warn("mcp server connection failed", "server", server.Name, "error", err)
		}
	}
}

// Connect opens a session to one server and registers its tools as
// mcp_<server>_<tool>.
func (m *Manager) Connect(ctx context.Context, cfg config.MCPServerConfig) error {
	conn := &serverConn{cfg: cfg, status: StatusDisconnected}
	m.mu.Lock()
	m.servers[cfg.Name] = conn
	m.mu.Unlock()

	if !cfg.Enabled {
		m.setStatus(cfg.Name, StatusDisabled, "")
		return nil
	}
	if cfg.OAuth != nil && cfg.Command == "" {
		if _, ok := m.tokens.Get(cfg.Name); !ok {
			m.setStatus(cfg.Name, StatusAuthRequired, errAuthRequired.Error())
			return errAuthRequired
		}
	}

	sess, err := m.open(ctx, cfg)
	if err != nil {
		status := StatusDisconnected
		if errors.Is(err, errAuthRequired) {
			status = StatusAuthRequired
		}
		m.setStatus(cfg.Name, status, err.Error())
		return fmt.Errorf("connect %s: %w", cfg.Name, err)
	}

	infos, err := sess.listTools(ctx)
	if err != nil {
		sess.close()
		m.setStatus(cfg.Name, StatusDisconnected, err.Error())
		return fmt.Errorf("list tools on %s: %w", cfg.Name, err)
	}

	var registered []string
	for _, info := range infos {
		wrapped := &serverTool{
			manager:     m,
			server:      cfg.Name,
			remoteName:  info.Name,
			description: info.Description,
			schema:      info.Schema,
		}
		m.registry.Register(wrapped)
		registered = append(registered, wrapped.Name())
	}
	sort.Strings(registered)

	m.mu.Lock()
	conn = m.servers[cfg.Name]
	conn.session = sess
	conn.status = StatusConnected
	conn.lastError = ""
	conn.toolNames = registered
	m.mu.Unlock()
	m.logger.Info("mcp server connected", "server", cfg.Name, "tools", len(registered))
	return nil
}

func (m *Manager) open(ctx context.Context, cfg config.MCPServerConfig) (session, error) {
	if cfg.Command != "" {
		return openStdio(ctx, cfg)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("server %s has neither command nor url", cfg.Name)
	}
	var source oauth2.TokenSource
	if cfg.OAuth != nil {
		if _, ok := m.tokens.Get(cfg.Name); ok {
			source = auth.TokenSource(ctx, *cfg.OAuth, m.tokens, cfg.Name)
		}
	}
	transport := newHTTPTransport(cfg.URL, cfg.Headers, source)

	initParams := map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]string{"name": "grip", "version": "1.0.0"},
		"capabilities":    map[string]any{},
	}
	if _, err := transport.call(ctx, "initialize", initParams); err != nil {
		return nil, err
	}
	_ = transport.notify(ctx, "notifications/initialized", map[string]any{})
	return &httpSession{transport: transport}, nil
}

// Disconnect closes a server's session and removes its registry entries.
func (m *Manager) Disconnect(name string) {
	m.mu.Lock()
	conn, ok := m.servers[name]
	var sess session
	var toolNames []string
	if ok {
		sess = conn.session
		toolNames = conn.toolNames
		conn.session = nil
		conn.toolNames = nil
		conn.status = StatusDisconnected
	}
	m.mu.Unlock()
	if sess != nil {
		sess.close()
	}
	for _, toolName := range toolNames {
		m.registry.Unregister(toolName)
	}
}

// SetDisabled marks a disconnected server as administratively disabled.
func (m *Manager) SetDisabled(name string) {
	m.setStatus(name, StatusDisabled, "")
}

// Reconnect reopens a server after configuration or credential changes,
// replacing its registry entries.
func (m *Manager) Reconnect(ctx context.Context, cfg config.MCPServerConfig) error {
	m.Disconnect(cfg.Name)
	return m.Connect(ctx, cfg)
}

// States reports all known servers sorted by name.
func (m *Manager) States() []ServerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make([]ServerState, 0, len(m.servers))
	for name, conn := range m.servers {
		states = append(states, ServerState{
			Name:      name,
			Status:    conn.status,
			Tools:     len(conn.toolNames),
			LastError: conn.lastError,
		})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}

// State reports one server.
func (m *Manager) State(name string) (ServerState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.servers[name]
	if !ok {
		return ServerState{}, false
	}
	return ServerState{
		Name:      name,
		Status:    conn.status,
		Tools:     len(conn.toolNames),
		LastError: conn.lastError,
	}, true
}

// Close disconnects everything.
func (m *Manager) Close() {
	m.mu.Lock()
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	m.mu.Unlock()
	for _, name := range names {
		m.Disconnect(name)
	}
}

func (m *Manager) setStatus(name string, status Status, lastError string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.servers[name]; ok {
		conn.status = status
		conn.lastError = lastError
	}
}

func (m *Manager) callServer(ctx context.Context, server, remoteName string, args map[string]any) (string, error) {
	m.mu.Lock()
	conn, ok := m.servers[server]
	var sess session
	if ok {
		sess = conn.session
	}
	m.mu.Unlock()
	if sess == nil {
		return "", fmt.Errorf("mcp server %s is not connected", server)
	}
	return sess.callTool(ctx, remoteName, args)
}

// serverTool adapts one remote MCP tool to the registry contract.
type serverTool struct {
	manager     *Manager
	server      string
	remoteName  string
	description string
	schema      json.RawMessage
}

func (t *serverTool) Name() string        { return "mcp_" + t.server + "_" + t.remoteName }
func (t *serverTool) Category() string    { return "mcp" }
func (t *serverTool) Description() string { return t.description }
func (t *serverTool) Schema() json.RawMessage {
	if len(t.schema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return t.schema
}

func (t *serverTool) Execute(ctx context.Context, raw json.RawMessage, _ *tools.ToolContext) (any, error) {
	args := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
	}
	return t.manager.callServer(ctx, t.server, t.remoteName, args)
}

// stdioSession wraps an mcp-go client over a spawned subprocess.
type stdioSession struct {
	client *mcpclient.Client
}

func openStdio(ctx context.Context, cfg config.MCPServerConfig) (session, error) {
	env := make([]string, 0, len(cfg.Env))
	for key, value := range cfg.Env {
		env = append(env, key+"="+value)
	}
	sort.Strings(env)

	c, err := mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, err
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = protocolVersion
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "grip", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, err
	}
	return &stdioSession{client: c}, nil
}

func (s *stdioSession) listTools(ctx context.Context) ([]toolInfo, error) {
	resp, err := s.client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	infos := make([]toolInfo, 0, len(resp.Tools))
	for _, tool := range resp.Tools {
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			schema = nil
		}
		infos = append(infos, toolInfo{Name: tool.Name, Description: tool.Description, Schema: schema})
	}
	return infos, nil
}

func (s *stdioSession) callTool(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	resp, err := s.client.CallTool(ctx, req)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, content := range resp.Content {
		if text, ok := content.(mcpgo.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	joined := strings.Join(parts, "\n")
	if resp.IsError {
		return "", fmt.Errorf("%s", joined)
	}
	return joined, nil
}

func (s *stdioSession) close() error { return s.client.Close() }

// httpSession wraps the hand-rolled JSON-RPC transport.
type httpSession struct {
	transport *httpTransport
}

func (s *httpSession) listTools(ctx context.Context) ([]toolInfo, error) {
	result, err := s.transport.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, err
	}
	infos := make([]toolInfo, 0, len(parsed.Tools))
	for _, tool := range parsed.Tools {
		infos = append(infos, toolInfo{Name: tool.Name, Description: tool.Description, Schema: tool.InputSchema})
	}
	return infos, nil
}

func (s *httpSession) callTool(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := s.transport.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return "", err
	}
	var parsed struct {
		IsError bool `json:"isError"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", err
	}
	var parts []string
	for _, content := range parsed.Content {
		if content.Type == "text" {
			parts = append(parts, content.Text)
		}
	}
	joined := strings.Join(parts, "\n")
	if parsed.IsError {
		return "", fmt.Errorf("%s", joined)
	}
	return joined, nil
}

func (s *httpSession) close() error { return nil }
