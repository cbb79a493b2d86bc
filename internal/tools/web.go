package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var webClient = &http.Client{Timeout: 30 * time.Second}

// maxFetchBytes caps web_fetch output handed to the model.
const maxFetchBytes = 128 * 1024

var (
	tagRe    = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>`)
	markupRe = regexp.MustCompile(`<[^>]+>`)
	spaceRe  = regexp.MustCompile(`\n{3,}|[ \t]{2,}`)
)

type webFetchArgs struct {
	URL string `json:"url" jsonschema:"description=HTTP or HTTPS URL to fetch"`
}

// WebFetchTool fetches a URL and returns its text content with markup
// stripped.
type WebFetchTool struct{}

func (WebFetchTool) Name() string        { return "web_fetch" }
func (WebFetchTool) Category() string    { return "web" }
func (WebFetchTool) Description() string { return "Fetch a URL and return its textual content." }
func (WebFetchTool) Schema() json.RawMessage {
	return SchemaFor(&webFetchArgs{})
}

func (WebFetchTool) Execute(ctx context.Context, raw json.RawMessage, _ *ToolContext) (any, error) {
	var args webFetchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	parsed, err := url.Parse(args.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", args.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "grip/1.0")
	resp, err := webClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", args.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, err
	}
	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		text = StripHTML(text)
	}
	return strings.TrimSpace(text), nil
}

// StripHTML removes scripts, styles, and tags, collapsing leftover
// whitespace.
func StripHTML(html string) string {
	text := tagRe.ReplaceAllString(html, " ")
	text = markupRe.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	return spaceRe.ReplaceAllString(text, " ")
}

type webSearchArgs struct {
	Query string `json:"query" jsonschema:"description=Search query"`
	Count int    `json:"count,omitempty" jsonschema:"description=Number of results, default 5"`
}

type searchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Desc  string `json:"description,omitempty"`
}

// WebSearchTool queries the configured search provider. With a Brave API key
// it uses the Brave Search API; otherwise it falls back to the DuckDuckGo
// instant-answer endpoint.
type WebSearchTool struct{}

func (WebSearchTool) Name() string        { return "web_search" }
func (WebSearchTool) Category() string    { return "web" }
func (WebSearchTool) Description() string { return "Search the web and return the top results." }
func (WebSearchTool) Schema() json.RawMessage {
	return SchemaFor(&webSearchArgs{})
}

func (WebSearchTool) Execute(ctx context.Context, raw json.RawMessage, tc *ToolContext) (any, error) {
	var args webSearchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if args.Count <= 0 {
		args.Count = 5
	}
	if tc.WebSearchEngine == "brave" && tc.WebSearchAPIKey != "" {
		return braveSearch(ctx, args.Query, args.Count, tc.WebSearchAPIKey)
	}
	return duckduckgoSearch(ctx, args.Query, args.Count)
}

func braveSearch(ctx context.Context, query string, count int, apiKey string) (any, error) {
	endpoint := "https://api.search.brave.com/res/v1/web/search?q=" + url.QueryEscape(query) +
		"&count=" + fmt.Sprint(count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", apiKey)
	resp, err := webClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave search: status %d", resp.StatusCode)
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	results := make([]searchResult, 0, count)
	for _, r := range parsed.Web.Results {
		results = append(results, searchResult{Title: r.Title, URL: r.URL, Desc: r.Description})
		if len(results) == count {
			break
		}
	}
	return results, nil
}

func duckduckgoSearch(ctx context.Context, query string, count int) (any, error) {
	endpoint := "https://api.duckduckgo.com/?format=json&no_html=1&q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := webClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo search: status %d", resp.StatusCode)
	}

	var parsed struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	var results []searchResult
	if parsed.AbstractText != "" {
		results = append(results, searchResult{Title: parsed.Heading, URL: parsed.AbstractURL, Desc: parsed.AbstractText})
	}
	for _, topic := range parsed.RelatedTopics {
		if topic.FirstURL == "" {
			continue
		}
		results = append(results, searchResult{Title: topic.Text, URL: topic.FirstURL})
		if len(results) >= count {
			break
		}
	}
	if len(results) == 0 {
		return "no results found", nil
	}
	return results, nil
}
