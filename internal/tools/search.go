// ABOUTME: Web search client for JSON search APIs and the web_search tool.
// ABOUTME: Each hit becomes a citation source on the tool result.

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/llm"
	"github.com/2389/parley/internal/protocol"
)

// SearchHit is one web search result.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Searcher queries the web.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchHit, error)
}

// SearchClient calls a Tavily-style search endpoint.
type SearchClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

var _ Searcher = (*SearchClient)(nil)

// NewSearchClient creates a search client.
func NewSearchClient(endpoint, apiKey string, logger *slog.Logger) *SearchClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger.With("component", "search"),
	}
}

func (c *SearchClient) Search(ctx context.Context, query string, maxResults int) ([]SearchHit, error) {
	buf, err := json.Marshal(map[string]any{
		"api_key":     c.apiKey,
		"query":       query,
		"max_results": maxResults,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling search: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("search API error: %s", resp.Status)
	}

	var parsed struct {
		Results []SearchHit `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	c.logger.Debug("search complete", "query", query, "results", len(parsed.Results))
	return parsed.Results, nil
}

const maxSnippetChars = 800

// NewWebSearchTool creates the web_search tool.
func NewWebSearchTool(s Searcher, maxResults int) *Tool {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Tool{
		Definition: llm.ToolDefinition{
			Name:        WebSearch,
			Description: "Search the web for current information. Returns titles, URLs and snippets.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Search query"}},"required":["query"]}`),
		},
		Handler: func(ctx context.Context, env Env, input json.RawMessage) (*Output, error) {
			var args struct {
				Query string `json:"query"`
			}
			if err := decodeInput(input, &args); err != nil {
				return nil, err
			}
			if strings.TrimSpace(args.Query) == "" {
				return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
			}

			hits, err := s.Search(ctx, args.Query, maxResults)
			if err != nil {
				return nil, err
			}

			type result struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"snippet"`
			}
			out := &Output{}
			results := make([]result, 0, len(hits))
			for _, h := range hits {
				results = append(results, result{Title: h.Title, URL: h.URL, Snippet: clip(h.Content, maxSnippetChars)})
				if h.URL != "" {
					out.Sources = append(out.Sources, protocol.Source{ID: uuid.NewString(), URL: h.URL, Title: h.Title})
				}
			}
			out.Payload = map[string]any{"results": results}
			return out, nil
		},
	}
}

// clip shortens s to at most n runes.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
