// ABOUTME: OCR backend contract and an HTTP client for Mistral-style /v1/ocr endpoints.
// ABOUTME: Documents are sent inline as data URLs, optionally restricted to a page range.

package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var ErrEmptyResponse = errors.New("ocr returned no pages")

// Document is the binary handed to the backend.
type Document struct {
	Name      string
	MediaType string
	Data      []byte
}

// PageRange selects pages [Start, End), zero-based.
type PageRange struct {
	Start int
	End   int
}

// Len returns the number of pages in the range.
func (r PageRange) Len() int {
	return r.End - r.Start
}

// Indexes lists the page numbers in the range.
func (r PageRange) Indexes() []int {
	out := make([]int, 0, r.Len())
	for i := r.Start; i < r.End; i++ {
		out = append(out, i)
	}
	return out
}

// Backend recognizes text in a document. A nil page range means the whole
// document. The result holds one markdown string per page, in page order.
type Backend interface {
	Recognize(ctx context.Context, doc Document, pages *PageRange) ([]string, error)
}

// Client calls an OCR HTTP API.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	logger   *slog.Logger
}

var _ Backend = (*Client)(nil)

// NewClient creates a client for endpoint, e.g. https://api.mistral.ai/v1/ocr.
func NewClient(endpoint, apiKey, model string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: 2 * time.Minute},
		logger:   logger.With("component", "ocr"),
	}
}

type ocrDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

type ocrRequest struct {
	Model    string      `json:"model"`
	Document ocrDocument `json:"document"`
	Pages    []int       `json:"pages,omitempty"`
}

type ocrResponse struct {
	Pages []struct {
		Index    int    `json:"index"`
		Markdown string `json:"markdown"`
	} `json:"pages"`
}

func (c *Client) Recognize(ctx context.Context, doc Document, pages *PageRange) ([]string, error) {
	dataURL := "data:" + doc.MediaType + ";base64," + base64.StdEncoding.EncodeToString(doc.Data)
	payload := ocrRequest{Model: c.model}
	if strings.HasPrefix(doc.MediaType, "image/") {
		payload.Document = ocrDocument{Type: "image_url", ImageURL: dataURL}
	} else {
		payload.Document = ocrDocument{Type: "document_url", DocumentURL: dataURL}
	}
	if pages != nil {
		payload.Pages = pages.Indexes()
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding ocr request: %w", err)
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
		return nil, fmt.Errorf("calling ocr: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading ocr response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("ocr API error: %s (%s)", resp.Status, truncate(string(body), 200))
	}

	var parsed ocrResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding ocr response: %w", err)
	}
	if len(parsed.Pages) == 0 {
		return nil, ErrEmptyResponse
	}

	// Pages come back keyed by absolute index; lay them out relative to the range.
	offset, n := 0, len(parsed.Pages)
	if pages != nil {
		offset, n = pages.Start, pages.Len()
	}
	out := make([]string, n)
	for i, p := range parsed.Pages {
		pos := p.Index - offset
		if pages == nil && (pos < 0 || pos >= n) {
			pos = i
		}
		if pos >= 0 && pos < n {
			out[pos] = p.Markdown
		}
	}
	c.logger.Debug("ocr complete", "name", doc.Name, "pages", n)
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
