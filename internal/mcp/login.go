package mcp

import (
	"context"
	"fmt"

	"github.com/grip-agent/grip/internal/auth"
	"github.com/grip-agent/grip/internal/config"
)

// ResolveOAuth fills in missing OAuth endpoints for a server via metadata
// discovery, registering a dynamic client when none is configured. The
// registered client is cached in clients so later logins reuse it.
func ResolveOAuth(ctx context.Context, cfg *config.MCPServerConfig, clients *auth.ClientStore, redirectURI string) (config.MCPOAuthConfig, error) {
	oauthCfg := config.MCPOAuthConfig{}
	if cfg.OAuth != nil {
		oauthCfg = *cfg.OAuth
	}
	if oauthCfg.AuthURL != "" && oauthCfg.TokenURL != "" && oauthCfg.ClientID != "" {
		return oauthCfg, nil
	}

	if cached, ok := clients.Get(cfg.Name); ok {
		oauthCfg.AuthURL = cached.AuthURL
		oauthCfg.TokenURL = cached.TokenURL
		oauthCfg.ClientID = cached.ClientID
		oauthCfg.ClientSecret = config.Secret(cached.ClientSecret)
		return oauthCfg, nil
	}

	authURL, tokenURL, registrationURL, err := auth.Discover(ctx, cfg.URL)
	if err != nil {
		return oauthCfg, err
	}
	oauthCfg.AuthURL = authURL
	oauthCfg.TokenURL = tokenURL

	if oauthCfg.ClientID == "" {
		if registrationURL == "" {
			return oauthCfg, fmt.Errorf("server %s requires a client_id and offers no registration endpoint", cfg.Name)
		}
		creds, err := auth.Register(ctx, registrationURL, redirectURI)
		if err != nil {
			return oauthCfg, err
		}
		creds.AuthURL = authURL
		creds.TokenURL = tokenURL
		if err := clients.Put(cfg.Name, creds); err != nil {
			return oauthCfg, err
		}
		oauthCfg.ClientID = creds.ClientID
		oauthCfg.ClientSecret = config.Secret(creds.ClientSecret)
	}
	return oauthCfg, nil
}

// Login runs the interactive OAuth flow for a server and stores the
// resulting token, then reconnects so the registry picks up the tools.
func (m *Manager) Login(ctx context.Context, cfg config.MCPServerConfig, clients *auth.ClientStore) error {
	port := 8585
	if cfg.OAuth != nil && cfg.OAuth.RedirectPort != 0 {
		port = cfg.OAuth.RedirectPort
	}
	redirectURI := fmt.Sprintf("http://localhost:%d/callback", port)

	oauthCfg, err := ResolveOAuth(ctx, &cfg, clients, redirectURI)
	if err != nil {
		return err
	}
	oauthCfg.RedirectPort = port

	flow := &auth.Flow{Config: oauthCfg, Logger: m.logger}
	token, err := flow.Execute(ctx)
	if err != nil {
		return err
	}
	if err := m.tokens.Put(cfg.Name, token); err != nil {
		return err
	}
	m.logger.Info("mcp login complete", "server", cfg.Name)
	cfg.OAuth = &oauthCfg
	return m.Reconnect(ctx, cfg)
}
