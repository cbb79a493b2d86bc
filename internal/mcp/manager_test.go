package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grip-agent/grip/internal/auth"
	"github.com/grip-agent/grip/internal/config"
	"github.com/grip-agent/grip/internal/tools"
)

func newTestManager(t *testing.T) (*Manager, *tools.Registry, *auth.TokenStore) {
	t.Helper()
	registry := tools.NewRegistry(nil)
	tokens, err := auth.NewTokenStore(filepath.Join(t.TempDir(), "mcp_tokens.json"))
	if err != nil {
		t.Fatal(err)
	}
	return NewManager(registry, tokens, nil), registry, tokens
}

// fakeMCPServer speaks just enough streamable-HTTP JSON-RPC for the manager.
func fakeMCPServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			// Notifications decode fine too; anything else is a test bug.
			t.Errorf("bad request body: %v", err)
			return
		}
		w.Header().Set("Mcp-Session-Id", "sess-1")
		switch req.Method {
		case "initialize":
			writeRPC(w, req.ID, map[string]any{"protocolVersion": protocolVersion})
		case "tools/list":
			writeRPC(w, req.ID, map[string]any{
				"tools": []map[string]any{
					{
						"name":        "echo",
						"description": "Echo back the input",
						"inputSchema": map[string]any{"type": "object"},
					},
				},
			})
		case "tools/call":
			params := req.Params.(map[string]any)
			args := params["arguments"].(map[string]any)
			writeRPC(w, req.ID, map[string]any{
				"content": []map[string]any{{"type": "text", "text": "echo: " + args["text"].(string)}},
			})
		default:
			writeRPC(w, req.ID, map[string]any{})
		}
	}))
}

func writeRPC(w http.ResponseWriter, id int64, result any) {
	json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func TestConnectHTTPAndCall(t *testing.T) {
	server := fakeMCPServer(t)
	defer server.Close()

	m, registry, _ := newTestManager(t)
	cfg := config.MCPServerConfig{Name: "fake", Enabled: true, URL: server.URL, Type: "http"}
	if err := m.Connect(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}

	state, ok := m.State("fake")
	if !ok || state.Status != StatusConnected || state.Tools != 1 {
		t.Fatalf("state = %+v", state)
	}

	out := registry.Execute(context.Background(), "mcp_fake_echo",
		json.RawMessage(`{"text":"hi"}`), &tools.ToolContext{})
	if out != "echo: hi" {
		t.Errorf("out = %q", out)
	}
}

func TestDisconnectRemovesTools(t *testing.T) {
	server := fakeMCPServer(t)
	defer server.Close()

	m, registry, _ := newTestManager(t)
	cfg := config.MCPServerConfig{Name: "fake", Enabled: true, URL: server.URL}
	if err := m.Connect(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	m.Disconnect("fake")

	if _, ok := registry.Get("mcp_fake_echo"); ok {
		t.Error("tool should be unregistered after disconnect")
	}
	state, _ := m.State("fake")
	if state.Status != StatusDisconnected {
		t.Errorf("status = %s", state.Status)
	}
}

func TestDisabledServer(t *testing.T) {
	m, _, _ := newTestManager(t)
	cfg := config.MCPServerConfig{Name: "off", Enabled: false, URL: "http://unused"}
	if err := m.Connect(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	state, _ := m.State("off")
	if state.Status != StatusDisabled {
		t.Errorf("status = %s", state.Status)
	}
}

func TestOAuthServerWithoutTokenIsAuthRequired(t *testing.T) {
	m, _, _ := newTestManager(t)
	cfg := config.MCPServerConfig{
		Name:    "gated",
		Enabled: true,
		URL:     "http://unused",
		OAuth:   &config.MCPOAuthConfig{AuthURL: "http://a", TokenURL: "http://t", ClientID: "c"},
	}
	err := m.Connect(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "OAuth login required") {
		t.Errorf("err = %v", err)
	}
	state, _ := m.State("gated")
	if state.Status != StatusAuthRequired {
		t.Errorf("status = %s", state.Status)
	}
}

func TestSSEResponseParsing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "text/event-stream")
		resp, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{"ok": true}})
		w.Write([]byte("event: message\ndata: " + string(resp) + "\n\n"))
	}))
	defer server.Close()

	transport := newHTTPTransport(server.URL, nil, nil)
	result, err := transport.call(context.Background(), "initialize", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(result), "true") {
		t.Errorf("result = %s", result)
	}
}

func TestStatesSorted(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.Connect(context.Background(), config.MCPServerConfig{Name: "zeta", Enabled: false})
	m.Connect(context.Background(), config.MCPServerConfig{Name: "alpha", Enabled: false})
	states := m.States()
	if len(states) != 2 || states[0].Name != "alpha" {
		t.Errorf("states = %+v", states)
	}
}
