package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
)

// protocolVersion is the MCP protocol revision spoken by the HTTP
// transports.
const protocolVersion = "2024-11-05"

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// httpTransport speaks JSON-RPC over streamable HTTP or SSE. Responses come
// back either as plain JSON or as an event stream whose data lines carry the
// JSON-RPC payload. The session id issued at initialize time rides along on
// every subsequent request.
type httpTransport struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
	tokens   oauth2.TokenSource

	nextID atomic.Int64

	mu        sync.Mutex
	sessionID string
}

func newHTTPTransport(endpoint string, headers map[string]string, tokens oauth2.TokenSource) *httpTransport {
	return &httpTransport{
		endpoint: endpoint,
		headers:  headers,
		client:   &http.Client{Timeout: 60 * time.Second},
		tokens:   tokens,
	}
}

// call performs one JSON-RPC round trip.
func (t *httpTransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := t.nextID.Add(1)
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for key, value := range t.headers {
		req.Header.Set(key, value)
	}
	t.mu.Lock()
	if t.sessionID != "" {
		req.Header.Set("Mcp-Session-Id", t.sessionID)
	}
	t.mu.Unlock()
	if t.tokens != nil {
		token, err := t.tokens.Token()
		if err != nil {
			return nil, err
		}
		token.SetAuthHeader(req)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if sessionID := resp.Header.Get("Mcp-Session-Id"); sessionID != "" {
		t.mu.Lock()
		t.sessionID = sessionID
		t.mu.Unlock()
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, errAuthRequired
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var raw []byte
	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		raw, err = readSSEData(resp.Body, id)
	} else {
		raw, err = io.ReadAll(resp.Body)
	}
	if err != nil {
		return nil, err
	}

	var parsed rpcResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%s: malformed response: %w", method, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%s: rpc error %d: %s", method, parsed.Error.Code, parsed.Error.Message)
	}
	return parsed.Result, nil
}

// notify sends a JSON-RPC notification (no id, no reply expected).
func (t *httpTransport) notify(ctx context.Context, method string, params any) error {
	payload, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for key, value := range t.headers {
		req.Header.Set(key, value)
	}
	t.mu.Lock()
	if t.sessionID != "" {
		req.Header.Set("Mcp-Session-Id", t.sessionID)
	}
	t.mu.Unlock()
	if t.tokens != nil {
		token, err := t.tokens.Token()
		if err != nil {
			return err
		}
		token.SetAuthHeader(req)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// readSSEData scans an event stream for the data payload answering the given
// request id. Streams may interleave unrelated events; the first data line
// whose id matches (or that carries no id) wins.
func readSSEData(body io.Reader, wantID int64) ([]byte, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		var probe struct {
			ID *int64 `json:"id"`
		}
		if err := json.Unmarshal([]byte(data), &probe); err != nil {
			continue
		}
		if probe.ID == nil || *probe.ID == wantID {
			return []byte(data), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("event stream ended without a response")
}
