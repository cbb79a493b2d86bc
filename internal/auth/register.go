package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/grip-agent/grip/internal/config"
)

// ClientCredentials is a dynamically registered OAuth client, persisted in
// mcp_clients.json.
type ClientCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	AuthURL      string `json:"auth_url"`
	TokenURL     string `json:"token_url"`
}

// ClientStore persists registered clients per MCP server, 0600.
type ClientStore struct {
	path string

	mu      sync.Mutex
	clients map[string]*ClientCredentials
}

// NewClientStore loads (or initializes) the client store at path.
func NewClientStore(path string) (*ClientStore, error) {
	s := &ClientStore{path: path, clients: make(map[string]*ClientCredentials)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read client store: %w", err)
	}
	if err := json.Unmarshal(data, &s.clients); err != nil {
		return nil, fmt.Errorf("parse client store: %w", err)
	}
	return s, nil
}

// Discover walks the RFC 8414 / RFC 9728 metadata chain starting from a
// server base URL: protected-resource metadata names the authorization
// server, whose metadata names the endpoints.
func Discover(ctx context.Context, serverURL string) (authURL, tokenURL, registrationURL string, err error) {
	base, err := url.Parse(serverURL)
	if err != nil {
		return "", "", "", &FlowError{Stage: "discovery", Err: err}
	}
	origin := base.Scheme + "://" + base.Host

	var resourceMeta struct {
		AuthorizationServers []string `json:"authorization_servers"`
	}
	if err := getJSON(ctx, origin+"/.well-known/oauth-protected-resource", &resourceMeta); err != nil {
		return "", "", "", err
	}
	authServer := origin
	if len(resourceMeta.AuthorizationServers) > 0 {
		authServer = strings.TrimRight(resourceMeta.AuthorizationServers[0], "/")
	}

	var serverMeta struct {
		AuthorizationEndpoint string `json:"authorization_endpoint"`
		TokenEndpoint         string `json:"token_endpoint"`
		RegistrationEndpoint  string `json:"registration_endpoint"`
	}
	if err := getJSON(ctx, authServer+"/.well-known/oauth-authorization-server", &serverMeta); err != nil {
		return "", "", "", err
	}
	if serverMeta.AuthorizationEndpoint == "" || serverMeta.TokenEndpoint == "" {
		return "", "", "", &FlowError{Stage: "discovery", Err: fmt.Errorf("incomplete authorization server metadata from %s", authServer)}
	}
	return serverMeta.AuthorizationEndpoint, serverMeta.TokenEndpoint, serverMeta.RegistrationEndpoint, nil
}

// Register performs RFC 7591 dynamic client registration.
func Register(ctx context.Context, registrationURL, redirectURI string) (*ClientCredentials, error) {
	payload := map[string]any{
		"client_name":                "grip",
		"redirect_uris":              []string{redirectURI},
		"grant_types":                []string{"authorization_code", "refresh_token"},
		"response_types":             []string{"code"},
		"token_endpoint_auth_method": "none",
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationURL, bytes.NewReader(body))
	if err != nil {
		return nil, &FlowError{Stage: "registration", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, &FlowError{Stage: "registration", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, &FlowError{Stage: "registration", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var parsed struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &FlowError{Stage: "registration", Err: err}
	}
	if parsed.ClientID == "" {
		return nil, &FlowError{Stage: "registration", Err: fmt.Errorf("response missing client_id")}
	}
	return &ClientCredentials{ClientID: parsed.ClientID, ClientSecret: parsed.ClientSecret}, nil
}

// Get returns the stored client for an MCP server.
func (s *ClientStore) Get(name string) (*ClientCredentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[name]
	return c, ok
}

// Put stores a registered client.
func (s *ClientStore) Put(name string, c *ClientCredentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[name] = c
	data, err := json.MarshalIndent(s.clients, "", "  ")
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(s.path, data, 0o600)
}

func getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &FlowError{Stage: "discovery", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &FlowError{Stage: "discovery", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &FlowError{Stage: "discovery", Err: fmt.Errorf("%s: status %d", url, resp.StatusCode)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
