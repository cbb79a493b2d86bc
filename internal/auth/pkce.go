package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/grip-agent/grip/internal/config"
)

// FlowError is a login-level OAuth failure. It is never retried
// automatically; the user reinitiates the login.
type FlowError struct {
	Stage string
	Err   error
}

func (e *FlowError) Error() string { return fmt.Sprintf("oauth %s: %v", e.Stage, e.Err) }
func (e *FlowError) Unwrap() error { return e.Err }

// Flow runs the authorization-code flow with PKCE (S256) against one
// provider configuration.
type Flow struct {
	Config  config.MCPOAuthConfig
	Logger  *slog.Logger
	Browser func(url string) error
}

// randomToken returns a URL-safe random string of n bytes of entropy.
func randomToken(n int) string {
	buf := make([]byte, n)
	rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// challengeS256 derives the S256 code challenge from a verifier.
func challengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// NewPKCE mints a fresh state, code verifier, and S256 challenge.
func NewPKCE() (state, verifier, challenge string) {
	state = randomToken(16)
	verifier = randomToken(32)
	return state, verifier, challengeS256(verifier)
}

// AuthURL builds the browser URL for a prepared flow.
func AuthURL(cfg config.MCPOAuthConfig, state, challenge, redirectURI string) string {
	q := url.Values{}
	q.Set("client_id", cfg.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	if len(cfg.Scopes) > 0 {
		q.Set("scope", strings.Join(cfg.Scopes, " "))
	}
	sep := "?"
	if strings.Contains(cfg.AuthURL, "?") {
		sep = "&"
	}
	return cfg.AuthURL + sep + q.Encode()
}

// Execute runs the interactive flow: local callback listener, browser
// launch, single callback with state validation, then the code exchange.
func (f *Flow) Execute(ctx context.Context) (*StoredToken, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	port := f.Config.RedirectPort
	if port == 0 {
		port = 8585
	}
	redirectURI := fmt.Sprintf("http://localhost:%d/callback", port)
	state := randomToken(16)
	verifier := randomToken(32)

	type callbackResult struct {
		code string
		err  error
	}
	results := make(chan callbackResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			select {
			case results <- callbackResult{err: &FlowError{Stage: "callback", Err: fmt.Errorf("state mismatch")}}:
			default:
			}
			return
		}
		if errParam := q.Get("error"); errParam != "" {
			http.Error(w, "authorization failed: "+errParam, http.StatusBadRequest)
			select {
			case results <- callbackResult{err: &FlowError{Stage: "callback", Err: fmt.Errorf("%s", errParam)}}:
			default:
			}
			return
		}
		fmt.Fprint(w, "<html><body><h2>Login complete</h2><p>You can close this window.</p></body></html>")
		select {
		case results <- callbackResult{code: q.Get("code")}:
		default:
		}
	})

	server := &http.Server{Addr: fmt.Sprintf("localhost:%d", port), Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case results <- callbackResult{err: &FlowError{Stage: "listener", Err: err}}:
			default:
			}
		}
	}()
	defer server.Shutdown(context.Background())

	authURL := AuthURL(f.Config, state, challengeS256(verifier), redirectURI)
	logger.Info("opening browser for oauth login", "url", authURL)
	if err := f.openBrowser(authURL); err != nil {
		logger.Warn("could not open browser, visit the URL manually", "error", err)
	}

	var code string
	select {
	case result := <-results:
		if result.err != nil {
			return nil, result.err
		}
		code = result.code
	case <-ctx.Done():
		return nil, &FlowError{Stage: "callback", Err: ctx.Err()}
	}

	token, err := Exchange(ctx, f.Config, code, verifier, redirectURI)
	if err != nil {
		return nil, err
	}
	return token, nil
}

func (f *Flow) openBrowser(url string) error {
	if f.Browser != nil {
		return f.Browser(url)
	}
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}

// tokenResponse is the wire shape of a token endpoint reply.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

func postTokenForm(ctx context.Context, tokenURL string, form url.Values) (*StoredToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &FlowError{Stage: "exchange", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, &FlowError{Stage: "exchange", Err: err}
	}
	defer resp.Body.Close()

	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &FlowError{Stage: "exchange", Err: err}
	}
	if resp.StatusCode != http.StatusOK || parsed.Error != "" {
		return nil, &FlowError{Stage: "exchange", Err: fmt.Errorf("status %d: %s %s", resp.StatusCode, parsed.Error, parsed.ErrorDesc)}
	}

	token := &StoredToken{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		TokenType:    parsed.TokenType,
	}
	if parsed.ExpiresIn > 0 {
		token.ExpiresAt = time.Now().Unix() + parsed.ExpiresIn
	}
	if parsed.Scope != "" {
		token.Scopes = strings.Fields(parsed.Scope)
	}
	return token, nil
}

// Exchange swaps an authorization code for a token.
func Exchange(ctx context.Context, cfg config.MCPOAuthConfig, code, verifier, redirectURI string) (*StoredToken, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", cfg.ClientID)
	form.Set("code_verifier", verifier)
	if cfg.ClientSecret.IsSet() {
		form.Set("client_secret", cfg.ClientSecret.Value())
	}
	return postTokenForm(ctx, cfg.TokenURL, form)
}

// Refresh exchanges a refresh token for a fresh access token.
func Refresh(ctx context.Context, cfg config.MCPOAuthConfig, refreshToken string) (*StoredToken, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", cfg.ClientID)
	return postTokenForm(ctx, cfg.TokenURL, form)
}

// TokenSource adapts a stored token (refreshing as needed) into an
// oauth2.TokenSource for HTTP clients.
func TokenSource(ctx context.Context, cfg config.MCPOAuthConfig, store *TokenStore, name string) oauth2.TokenSource {
	return &storeTokenSource{ctx: ctx, cfg: cfg, store: store, name: name}
}

type storeTokenSource struct {
	ctx   context.Context
	cfg   config.MCPOAuthConfig
	store *TokenStore
	name  string
}

func (s *storeTokenSource) Token() (*oauth2.Token, error) {
	stored, ok := s.store.Get(s.name)
	if !ok {
		return nil, &FlowError{Stage: "token", Err: fmt.Errorf("no stored token for %s", s.name)}
	}
	if stored.Expired() && stored.RefreshToken != "" {
		refreshed, err := Refresh(s.ctx, s.cfg, stored.RefreshToken)
		if err != nil {
			return nil, err
		}
		if refreshed.RefreshToken == "" {
			refreshed.RefreshToken = stored.RefreshToken
		}
		if err := s.store.Put(s.name, refreshed); err != nil {
			return nil, err
		}
		stored = refreshed
	}
	tokenType := stored.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	token := &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    tokenType,
	}
	if stored.ExpiresAt > 0 {
		token.Expiry = time.Unix(stored.ExpiresAt, 0)
	}
	return token, nil
}
