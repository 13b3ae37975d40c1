// ABOUTME: Tests for the gateway HTTP API
// ABOUTME: Drives chat streaming in every protocol plus stop, transcript, upload, score and usage routes

package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/blob"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/llm"
	"github.com/2389/parley/internal/ocr"
	"github.com/2389/parley/internal/protocol"
	"github.com/2389/parley/internal/transcript"
)

type noOCR struct{}

func (noOCR) Recognize(ctx context.Context, doc ocr.Document, r *ocr.PageRange) ([]string, error) {
	return []string{"recognized"}, nil
}

type testGateway struct {
	gw     *Gateway
	server *httptest.Server
	model  *llm.MockModel
}

func newTestGateway(t *testing.T, model *llm.MockModel, mutate ...func(*config.Config)) *testGateway {
	t.Helper()
	cfg := config.Default()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = filepath.Join(t.TempDir(), "gateway.db")
	cfg.Streaming.FakeChunkDelay = 0
	cfg.Streaming.CancelPollInterval = 0
	for _, m := range mutate {
		m(cfg)
	}

	models := llm.NewRegistry("")
	models.Register(model)

	gw, err := NewWithComponents(cfg, Components{
		Blobs:  blob.NewAFS("mem://localhost/gateway-"+t.Name(), nil),
		Models: models,
		OCR:    noOCR{},
	}, nil)
	require.NoError(t, err)

	server := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		server.Close()
		_ = gw.Shutdown(context.Background())
	})
	return &testGateway{gw: gw, server: server, model: model}
}

func replying(texts ...string) *llm.MockModel {
	m := &llm.MockModel{}
	for _, text := range texts {
		m.Responses = append(m.Responses, &transcript.ModelResponse{
			Parts:        []transcript.ResponsePart{transcript.TextPart{Content: text}},
			Usage:        transcript.Usage{InputTokens: 12, OutputTokens: 4},
			FinishReason: "stop",
		})
	}
	return m
}

func chatBody(id, protocolName, text string) string {
	req := map[string]any{
		"id":       id,
		"protocol": protocolName,
		"messages": []map[string]any{{
			"id":    "u1",
			"role":  "user",
			"parts": []map[string]any{{"type": "text", "text": text}},
		}},
	}
	b, _ := json.Marshal(req)
	return string(b)
}

func (tg *testGateway) post(t *testing.T, path, contentType, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(tg.server.URL+path, contentType, strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (tg *testGateway) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(tg.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readFrames(t *testing.T, r io.Reader) []protocol.Event {
	t.Helper()
	var events []protocol.Event
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if sc.Text() == "" {
			continue
		}
		ev, err := protocol.ParseFrame(sc.Text())
		require.NoError(t, err, "line %q", sc.Text())
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	return events
}

func TestChat_DataStream(t *testing.T) {
	tg := newTestGateway(t, replying("Hello! How can I help?"))

	resp := tg.post(t, "/api/chat", "application/json", chatBody("conv-1", "", "Hello"))

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "v1", resp.Header.Get("X-Vercel-AI-Data-Stream"))
	events := readFrames(t, resp.Body)
	require.NotEmpty(t, events)

	var text strings.Builder
	for _, ev := range events {
		if p, ok := ev.(protocol.TextPart); ok {
			text.WriteString(p.Text)
		}
	}
	assert.Equal(t, "Hello! How can I help?", text.String())
	fin, ok := events[len(events)-1].(protocol.FinishMessagePart)
	require.True(t, ok, "last event is %T", events[len(events)-1])
	assert.Equal(t, protocol.FinishStop, fin.FinishReason)
	assert.Equal(t, 12, fin.Usage.PromptTokens)
}

func TestChat_SSEStream(t *testing.T) {
	tg := newTestGateway(t, replying("Hi"))

	resp := tg.post(t, "/api/chat", "application/json", chatBody("conv-1", "sse", "Hello"))

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(body), protocol.DoneMarker), "body %q", body)
	assert.Contains(t, string(body), `"type":"finish"`)
	assert.Contains(t, string(body), `"delta":"Hi"`)
}

func TestChat_TextStream(t *testing.T) {
	tg := newTestGateway(t, replying("Plain answer."))

	resp := tg.post(t, "/api/chat", "application/json", chatBody("conv-1", "text", "Hello"))

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Plain answer.", string(body))
}

func TestChat_HeartbeatsWhileModelIsSilent(t *testing.T) {
	model := replying("late")
	model.OnRequest = func(int, llm.Request) { time.Sleep(120 * time.Millisecond) }
	tg := newTestGateway(t, model, func(c *config.Config) { c.Streaming.KeepAliveInterval = 20 * time.Millisecond })

	resp := tg.post(t, "/api/chat", "application/json", chatBody("conv-1", "data", "Hello"))

	events := readFrames(t, resp.Body)
	beats := 0
	for _, ev := range events {
		if _, ok := ev.(protocol.DataPart); ok {
			beats++
		}
	}
	assert.Positive(t, beats)
	_, ok := events[len(events)-1].(protocol.FinishMessagePart)
	assert.True(t, ok, "heartbeats must not follow the finish event")
}

func TestChat_InvalidTurn(t *testing.T) {
	tg := newTestGateway(t, replying())

	tests := []struct {
		name string
		body string
	}{
		{"bad json", "{"},
		{"missing id", chatBody("", "", "Hello")},
		{"unknown protocol", chatBody("conv-1", "carrier-pigeon", "Hello")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tg.post(t, "/api/chat", "application/json", tt.body)

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.Empty(t, tg.model.Requests())
}

func TestStop_IsIdempotent(t *testing.T) {
	tg := newTestGateway(t, replying())

	for range 2 {
		resp := tg.post(t, "/api/chat/conv-1/stop", "application/json", "")
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
	assert.True(t, tg.gw.stopFlags.Armed("conv-1"))
}

func TestConversation_TranscriptRenameAndScore(t *testing.T) {
	tg := newTestGateway(t, replying("Hello there"))
	resp := tg.post(t, "/api/chat", "application/json", chatBody("conv-1", "", "Hi"))
	_, _ = io.Copy(io.Discard, resp.Body)

	var conv ConversationResponse
	resp = tg.get(t, "/api/conversations/conv-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conv))
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "Hello there", conv.Messages[1].Content)
	messageID := conv.Messages[1].ID

	resp = tg.post(t, "/api/conversations/conv-1/title", "application/json", `{"title":"Greetings"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = tg.get(t, "/api/conversations/conv-1")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conv))
	assert.Equal(t, "Greetings", conv.Title)
	assert.True(t, conv.TitleLocked)

	resp = tg.post(t, "/api/messages/"+messageID+"/score", "application/json", `{"rating":"positive"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = tg.post(t, "/api/messages/"+messageID+"/score", "application/json", `{"rating":"meh"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = tg.post(t, "/api/messages/unknown/score", "application/json", `{"rating":"negative"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var usage []UsageRecordResponse
	resp = tg.get(t, "/api/conversations/conv-1/usage")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&usage))
	require.Len(t, usage, 1)
	assert.Equal(t, messageID, usage[0].MessageID)
	assert.Equal(t, 12, usage[0].InputTokens)

	var stats map[string]int64
	resp = tg.get(t, "/api/stats/usage?conversation_id=conv-1")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, int64(12), stats["total_input"])
	assert.Equal(t, int64(1), stats["turn_count"])

	resp = tg.get(t, "/api/stats/usage?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConversation_NotFound(t *testing.T) {
	tg := newTestGateway(t, replying())

	assert.Equal(t, http.StatusNotFound, tg.get(t, "/api/conversations/nope").StatusCode)
	resp := tg.post(t, "/api/conversations/nope/title", "application/json", `{"title":"x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpload_StoresAndServesBlob(t *testing.T) {
	tg := newTestGateway(t, replying())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("meeting notes"))
	require.NoError(t, mw.Close())

	resp := tg.post(t, "/api/conversations/conv-1/attachments", mw.FormDataContentType(), buf.String())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var att AttachmentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&att))
	assert.True(t, strings.HasPrefix(att.Key, "conv-1/"))
	assert.Equal(t, "/files/"+att.Key, att.URL)
	assert.Equal(t, "ready", att.Status)
	assert.Contains(t, att.ContentType, "text/plain")

	resp = tg.get(t, att.URL)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "meeting notes", string(body))

	assert.Equal(t, http.StatusNotFound, tg.get(t, "/files/conv-1/missing.txt").StatusCode)
}

func TestHealth(t *testing.T) {
	tg := newTestGateway(t, replying())

	assert.Equal(t, http.StatusOK, tg.get(t, "/health").StatusCode)
	resp := tg.get(t, "/health/ready")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ready (1 models)", string(body))
}

func TestAuth_RequiredWhenSecretSet(t *testing.T) {
	tg := newTestGateway(t, replying("authorized"), func(c *config.Config) { c.Auth.JWTSecret = "s3cret" })

	resp := tg.post(t, "/api/chat", "application/json", chatBody("conv-1", "text", "Hello"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, http.StatusOK, tg.get(t, "/health").StatusCode)

	token, err := auth.NewJWTVerifier([]byte("s3cret")).Generate("user-1", time.Hour)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, tg.server.URL+"/api/chat", strings.NewReader(chatBody("conv-1", "text", "Hello")))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "authorized", string(body))
}
