// Package gateway exposes the agent and MCP management over HTTP.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grip-agent/grip/internal/agent"
	"github.com/grip-agent/grip/internal/auth"
	"github.com/grip-agent/grip/internal/config"
	"github.com/grip-agent/grip/internal/mcp"
)

// Options wires the gateway.
type Options struct {
	Config  *config.Config
	Engine  agent.Engine
	MCP     *mcp.Manager
	Tokens  *auth.TokenStore
	Clients *auth.ClientStore
	Logger  *slog.Logger
}

// Server is the HTTP gateway: agent chat, MCP management, and metrics.
type Server struct {
	cfg     *config.Config
	engine  agent.Engine
	mcp     *mcp.Manager
	tokens  *auth.TokenStore
	clients *auth.ClientStore
	pending *auth.StateMap
	metrics *metrics
	logger  *slog.Logger
}

// New builds the gateway server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     opts.Config,
		engine:  opts.Engine,
		mcp:     opts.MCP,
		tokens:  opts.Tokens,
		clients: opts.Clients,
		pending: auth.NewStateMap(),
		metrics: newMetrics(),
		logger:  logger.With("component", "gateway"),
	}
}

// Handler builds the chi router. The OAuth callback and health probe are
// public; everything else requires the bearer token.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	r.Get("/api/v1/mcp/callback", s.handleMCPCallback)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/api/v1/chat", s.handleChat)
		r.Get("/api/v1/mcp/servers", s.handleMCPServers)
		r.Get("/api/v1/mcp/{name}/status", s.handleMCPStatus)
		r.Post("/api/v1/mcp/{name}/login", s.handleMCPLogin)
		r.Post("/api/v1/mcp/{name}/enable", s.handleMCPToggle(true))
		r.Post("/api/v1/mcp/{name}/disable", s.handleMCPToggle(false))
	})
	return r
}

// ListenAndServe runs the gateway until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("gateway listening", "addr", addr)
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.Gateway.API.AuthToken.Value()
		if token == "" {
			s.writeError(w, http.StatusUnauthorized, "gateway auth token not configured")
			return
		}
		header := r.Header.Get("Authorization")
		want := "Bearer " + token
		if subtle.ConstantTimeCompare([]byte(header), []byte(want)) != 1 {
			s.metrics.requests.WithLabelValues(r.URL.Path, "401").Inc()
			s.writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type chatRequest struct {
	Message    string `json:"message"`
	SessionKey string `json:"session_key,omitempty"`
	Model      string `json:"model,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.SessionKey == "" {
		req.SessionKey = "gateway:default"
	}

	start := time.Now()
	result, err := s.engine.Run(r.Context(), req.Message, req.SessionKey, req.Model)
	s.metrics.runDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.agentRuns.WithLabelValues("error").Inc()
		s.logger.Error("chat run failed", "session", req.SessionKey, "error", err)
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.metrics.agentRuns.WithLabelValues("ok").Inc()
	s.metrics.runTokens.Add(float64(result.PromptTokens + result.CompletionTokens))
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMCPServers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"servers": s.mcp.States()})
}

func (s *Server) handleMCPStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	state, ok := s.mcp.State(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown mcp server "+strconv.Quote(name))
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

// handleMCPLogin starts a gateway-mediated OAuth flow and returns the
// browser URL. The exchange completes on the public callback route.
func (s *Server) handleMCPLogin(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	serverCfg, err := s.cfg.FindMCPServer(name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	redirectURI := fmt.Sprintf("http://%s:%d/api/v1/mcp/callback", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	oauthCfg, err := mcp.ResolveOAuth(r.Context(), serverCfg, s.clients, redirectURI)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	state, verifier, challenge := auth.NewPKCE()
	s.pending.Put(state, &auth.PendingLogin{
		ServerName:  name,
		Verifier:    verifier,
		RedirectURI: redirectURI,
		OAuth:       oauthCfg,
	})

	status := "pending"
	if current, ok := s.mcp.State(name); ok {
		status = string(current.Status)
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"auth_url":    auth.AuthURL(oauthCfg, state, challenge, redirectURI),
		"server_name": name,
		"status":      status,
	})
}

func (s *Server) handleMCPCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if errMsg := query.Get("error"); errMsg != "" {
		s.renderCallbackPage(w, http.StatusBadRequest, "Login failed: "+errMsg)
		return
	}
	state := query.Get("state")
	code := query.Get("code")
	login, ok := s.pending.Take(state)
	if !ok || code == "" {
		s.renderCallbackPage(w, http.StatusBadRequest, "Login session expired or invalid. Start the login again.")
		return
	}

	token, err := auth.Exchange(r.Context(), login.OAuth, code, login.Verifier, login.RedirectURI)
	if err != nil {
		s.logger.Warn("oauth exchange failed", "server", login.ServerName, "error", err)
		s.renderCallbackPage(w, http.StatusBadGateway, "Token exchange failed. Start the login again.")
		return
	}
	if err := s.tokens.Put(login.ServerName, token); err != nil {
		s.renderCallbackPage(w, http.StatusInternalServerError, "Could not store the token.")
		return
	}

	if serverCfg, err := s.cfg.FindMCPServer(login.ServerName); err == nil {
		cfgCopy := *serverCfg
		oauthCopy := login.OAuth
		cfgCopy.OAuth = &oauthCopy
		if err := s.mcp.Reconnect(r.Context(), cfgCopy); err != nil {
			s.logger.Warn("reconnect after login failed", "server", login.ServerName, "error", err)
		}
	}
	s.renderCallbackPage(w, http.StatusOK,
		fmt.Sprintf("Connected to %s. You can close this window.", login.ServerName))
}

// handleMCPToggle persists the enabled flag and connects or disconnects the
// server accordingly.
func (s *Server) handleMCPToggle(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		serverCfg, err := s.cfg.FindMCPServer(name)
		if err != nil {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		serverCfg.Enabled = enable
		if err := s.cfg.Save(); err != nil {
			s.writeError(w, http.StatusInternalServerError, "persisting config failed: "+err.Error())
			return
		}
		if enable {
			if err := s.mcp.Reconnect(r.Context(), *serverCfg); err != nil {
				s.logger.Warn("enable reconnect failed", "server", name, "error", err)
			}
		} else {
			s.mcp.Disconnect(name)
			s.mcp.SetDisabled(name)
		}
		state, _ := s.mcp.State(name)
		s.writeJSON(w, http.StatusOK, state)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) renderCallbackPage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><title>grip</title></head>
<body style="font-family: sans-serif; margin: 4em auto; max-width: 32em; text-align: center">
<h2>grip</h2><p>%s</p>
</body></html>`, message)
}
