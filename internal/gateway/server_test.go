package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grip-agent/grip/internal/auth"
	"github.com/grip-agent/grip/internal/config"
	"github.com/grip-agent/grip/internal/mcp"
	"github.com/grip-agent/grip/internal/tools"
	"github.com/grip-agent/grip/pkg/models"
)

type stubEngine struct {
	lastMessage string
	lastSession string
	lastModel   string
}

func (e *stubEngine) Run(ctx context.Context, userMessage, sessionKey, model string) (*models.AgentResult, error) {
	e.lastMessage = userMessage
	e.lastSession = sessionKey
	e.lastModel = model
	return &models.AgentResult{Response: "stub says hi", Iterations: 1, PromptTokens: 3, CompletionTokens: 2}, nil
}

func (e *stubEngine) ConsolidateSession(ctx context.Context, sessionKey string) error { return nil }
func (e *stubEngine) ResetSession(ctx context.Context, sessionKey string) error      { return nil }

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *stubEngine) {
	t.Helper()
	if cfg == nil {
		cfg = config.LoadOrDefault(filepath.Join(t.TempDir(), "config.json"))
	}
	cfg.Gateway.API.AuthToken = "secret-token"

	dir := t.TempDir()
	tokens, err := auth.NewTokenStore(filepath.Join(dir, "mcp_tokens.json"))
	if err != nil {
		t.Fatal(err)
	}
	clients, err := auth.NewClientStore(filepath.Join(dir, "mcp_clients.json"))
	if err != nil {
		t.Fatal(err)
	}
	engine := &stubEngine{}
	server := New(Options{
		Config:  cfg,
		Engine:  engine,
		MCP:     mcp.NewManager(tools.NewRegistry(nil), tokens, nil),
		Tokens:  tokens,
		Clients: clients,
	})
	return server, engine
}

func authedRequest(method, path, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer secret-token")
	return req
}

func TestAuthMiddleware(t *testing.T) {
	server, _ := newTestServer(t, nil)
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/mcp/servers", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/mcp/servers", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("GET", "/api/v1/mcp/servers", ""))
	if rec.Code != http.StatusOK {
		t.Errorf("good token: status = %d", rec.Code)
	}
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	server, _ := newTestServer(t, nil)
	handler := server.Handler()

	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}

func TestChatEndpoint(t *testing.T) {
	server, engine := newTestServer(t, nil)
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("POST", "/api/v1/chat",
		`{"message":"hello","session_key":"web:1","model":"big"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var result models.AgentResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Response != "stub says hi" {
		t.Errorf("response = %q", result.Response)
	}
	if engine.lastSession != "web:1" || engine.lastModel != "big" {
		t.Errorf("engine saw session=%q model=%q", engine.lastSession, engine.lastModel)
	}
}

func TestChatRequiresMessage(t *testing.T) {
	server, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, authedRequest("POST", "/api/v1/chat", `{}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMCPStatusUnknownServer(t *testing.T) {
	server, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, authedRequest("GET", "/api/v1/mcp/ghost/status", ""))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMCPLoginAndCallback(t *testing.T) {
	// Token endpoint that accepts the exchange.
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("grant_type") != "authorization_code" || r.Form.Get("code") != "the-code" {
			http.Error(w, "bad exchange", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	cfg := config.LoadOrDefault(filepath.Join(t.TempDir(), "config.json"))
	cfg.Tools.MCPServers = []config.MCPServerConfig{{
		Name:    "linear",
		Enabled: true,
		URL:     "http://unused",
		OAuth: &config.MCPOAuthConfig{
			AuthURL:  "http://auth.example/authorize",
			TokenURL: tokenServer.URL,
			ClientID: "client-1",
		},
	}}
	server, _ := newTestServer(t, cfg)
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("POST", "/api/v1/mcp/linear/login", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body)
	}
	var login struct {
		AuthURL    string `json:"auth_url"`
		ServerName string `json:"server_name"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatal(err)
	}
	if login.ServerName != "linear" || !strings.HasPrefix(login.AuthURL, "http://auth.example/authorize?") {
		t.Fatalf("login = %+v", login)
	}
	parsed, err := url.Parse(login.AuthURL)
	if err != nil {
		t.Fatal(err)
	}
	state := parsed.Query().Get("state")
	if state == "" || parsed.Query().Get("code_challenge_method") != "S256" {
		t.Fatalf("auth url query = %v", parsed.Query())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET",
		"/api/v1/mcp/callback?state="+url.QueryEscape(state)+"&code=the-code", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("callback status = %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "Connected to linear") {
		t.Errorf("callback body = %s", rec.Body)
	}
	if token, ok := server.tokens.Get("linear"); !ok || token.AccessToken != "at-1" {
		t.Errorf("token = %+v, %v", token, ok)
	}
}

func TestMCPCallbackBadState(t *testing.T) {
	server, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/mcp/callback?state=nope&code=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMCPToggle(t *testing.T) {
	cfg := config.LoadOrDefault(filepath.Join(t.TempDir(), "config.json"))
	cfg.Tools.MCPServers = []config.MCPServerConfig{{Name: "calc", Enabled: true, Command: "true"}}
	server, _ := newTestServer(t, cfg)
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("POST", "/api/v1/mcp/calc/disable", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d: %s", rec.Code, rec.Body)
	}
	if cfg.Tools.MCPServers[0].Enabled {
		t.Error("enabled flag not cleared")
	}

	reloaded, err := config.Load(cfg.Path())
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Tools.MCPServers[0].Enabled {
		t.Error("disabled flag not persisted")
	}
}
