// ABOUTME: Client subcommands that talk to a running server over HTTP
// ABOUTME: chat streams one turn in the data protocol, stop arms the stop flag, health checks readiness

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/parley/internal/agent"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/gateway"
	"github.com/2389/parley/internal/protocol"
	"github.com/2389/parley/internal/transcript"
)

// ClientOptions locate the server and authenticate against it.
type ClientOptions struct {
	URL   string `short:"u" long:"url" env:"PARLEY_URL" description:"server base URL (defaults to server.http_addr from the config)"`
	Token string `short:"t" long:"token" env:"PARLEY_TOKEN" description:"bearer token"`
}

// baseURL prefers the explicit URL and falls back to the configured listen address.
func (o ClientOptions) baseURL(configPath string) (string, error) {
	if o.URL != "" {
		return strings.TrimSuffix(o.URL, "/"), nil
	}
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	return "http://" + cfg.Server.HTTPAddr, nil
}

func (o ClientOptions) do(ctx context.Context, method, target, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if o.Token != "" {
		req.Header.Set("Authorization", "Bearer "+o.Token)
	}
	return http.DefaultClient.Do(req)
}

// responseError turns a non-success response into an error carrying the server's message.
func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// ChatCmd sends one user turn and renders the streamed reply.
type ChatCmd struct {
	ClientOptions

	Conversation string   `short:"c" long:"conversation" description:"conversation id to continue (a new one is created when empty)"`
	Model        string   `short:"m" long:"model" description:"model name"`
	Tool         string   `long:"tool" description:"force a tool on the first step" choice:"web_search" choice:"document_search" choice:"summarize" choice:"translate"`
	Attach       []string `short:"a" long:"attach" description:"upload a file and attach it to the message (repeatable)"`
	Reasoning    bool     `short:"r" long:"reasoning" description:"show model reasoning"`

	Args struct {
		Prompt []string `positional-arg-name:"prompt" required:"1"`
	} `positional-args:"yes"`
}

func (c *ChatCmd) run(ctx context.Context, configPath string, out io.Writer) error {
	base, err := c.baseURL(configPath)
	if err != nil {
		return err
	}

	convID := c.Conversation
	if convID == "" {
		convID = uuid.NewString()
	}

	prompt := strings.Join(c.Args.Prompt, " ")
	parts := transcript.UIParts{transcript.TextUIPart{Text: prompt}}
	for _, path := range c.Attach {
		att, err := c.upload(ctx, base, convID, path)
		if err != nil {
			return fmt.Errorf("attaching %s: %w", path, err)
		}
		parts = append(parts, transcript.FileUIPart{MimeType: att.ContentType, Name: att.Name, URL: att.URL})
	}

	now := time.Now().UTC()
	body, err := json.Marshal(agent.ChatRequest{
		ConversationID: convID,
		Messages: []transcript.UIMessage{{
			ID:        uuid.NewString(),
			Role:      transcript.RoleUser,
			Content:   prompt,
			Parts:     parts,
			CreatedAt: &now,
		}},
		Protocol:  string(protocol.ModeDataStream),
		Model:     c.Model,
		ForceTool: c.Tool,
	})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, base+"/api/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	r := &renderer{out: out, reasoning: c.Reasoning}
	if err := r.consume(resp.Body); err != nil {
		return err
	}
	color.New(color.FgHiBlack).Fprintf(out, "conversation: %s\n", convID)
	return r.err()
}

func (c *ChatCmd) upload(ctx context.Context, base, convID, path string) (*gateway.AttachmentResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	target := base + "/api/conversations/" + url.PathEscape(convID) + "/attachments"
	resp, err := c.do(ctx, http.MethodPost, target, mw.FormDataContentType(), &buf)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, responseError(resp)
	}

	var att gateway.AttachmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&att); err != nil {
		return nil, fmt.Errorf("decoding upload response: %w", err)
	}
	return &att, nil
}

// StopCmd arms the stop flag of a conversation's running turn.
type StopCmd struct {
	ClientOptions

	Args struct {
		Conversation string `positional-arg-name:"conversation-id" required:"yes"`
	} `positional-args:"yes"`
}

func (c *StopCmd) run(ctx context.Context, configPath string) error {
	base, err := c.baseURL(configPath)
	if err != nil {
		return err
	}

	target := base + "/api/chat/" + url.PathEscape(c.Args.Conversation) + "/stop"
	resp, err := c.do(ctx, http.MethodPost, target, "", nil)
	if err != nil {
		return fmt.Errorf("stop request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return responseError(resp)
	}

	fmt.Println("stop requested")
	return nil
}

// HealthCmd checks the liveness endpoint, or readiness with --ready.
type HealthCmd struct {
	ClientOptions

	Ready bool `long:"ready" description:"check readiness (models and store) instead of liveness"`
}

func (c *HealthCmd) run(ctx context.Context, configPath string) error {
	base, err := c.baseURL(configPath)
	if err != nil {
		return err
	}

	path := "/health"
	if c.Ready {
		path = "/health/ready"
	}
	resp, err := c.do(ctx, http.MethodGet, base+path, "", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// streamScanner reads framed lines, allowing large tool results.
func streamScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	return sc
}
