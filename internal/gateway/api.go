// ABOUTME: HTTP API handlers for chat turns, stop requests, transcripts, uploads and usage.
// ABOUTME: POST /api/chat streams the orchestrator's events in the requested wire protocol.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/agent"
	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/blob"
	"github.com/2389/parley/internal/protocol"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/stream"
	"github.com/2389/parley/internal/transcript"
)

const (
	maxChatBody   = 32 << 20
	maxUploadBody = 64 << 20
	// pipeBuffer bounds how far the orchestrator may run ahead of the client.
	pipeBuffer = 16
)

// ConversationResponse is the JSON response for GET /api/conversations/{id}.
type ConversationResponse struct {
	ID               string                 `json:"id"`
	Title            string                 `json:"title"`
	TitleLocked      bool                   `json:"title_locked"`
	Messages         []transcript.UIMessage `json:"messages"`
	PromptTokens     int                    `json:"prompt_tokens"`
	CompletionTokens int                    `json:"completion_tokens"`
	CreatedAt        string                 `json:"created_at"`
	UpdatedAt        string                 `json:"updated_at"`
}

// RenameRequest is the JSON request body for POST /api/conversations/{id}/title.
type RenameRequest struct {
	Title string `json:"title"`
}

// ScoreRequest is the JSON request body for POST /api/messages/{id}/score.
type ScoreRequest struct {
	Rating string `json:"rating"`
}

// AttachmentResponse is the JSON response for an upload.
type AttachmentResponse struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	URL         string `json:"url"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Status      string `json:"status"`
}

// UsageRecordResponse is one entry of GET /api/conversations/{id}/usage.
type UsageRecordResponse struct {
	MessageID    string `json:"message_id"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Requests     int    `json:"requests"`
	CreatedAt    string `json:"created_at"`
}

// handleChat handles POST /api/chat.
//
// Responsibilities:
//  1. Decode and validate the turn; invalid turns get a 400 before streaming
//  2. Start the orchestrator as a pipe producer behind a keep-alive wrapper
//  3. Encode each event for the requested protocol and flush it
//  4. Write the protocol terminator once the run has finished
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	var req agent.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	turn, err := g.agent.Prepare(req)
	if err != nil {
		if errors.Is(err, agent.ErrInvalidTurn) {
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		g.logger.Error("failed to prepare turn", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	logger := g.logger.With("conversation_id", turn.ConversationID, "protocol", turn.Mode)
	if caller := auth.FromContext(r.Context()); caller != nil {
		logger = logger.With("caller", caller.Subject)
	}

	ctx := r.Context()
	enc := protocol.NewEncoder(turn.Mode)
	heartbeats := protocol.NewBuilder(turn.Mode.Version())

	run := stream.Start[protocol.Event](ctx, pipeBuffer, func(ctx context.Context, emit func(protocol.Event) error) error {
		return g.agent.Run(ctx, turn, emit)
	})
	events := stream.KeepAlive[protocol.Event](ctx, run, g.config.Streaming.KeepAliveInterval, heartbeats.Heartbeat)
	defer events.Close()

	enc.SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev, err := range events.All(ctx) {
		if err != nil {
			logger.Warn("chat stream ended early", "error", err)
			return
		}
		chunk, err := enc.Encode(ev)
		if err != nil {
			logger.Error("encoding event", "error", err)
			continue
		}
		if chunk == "" {
			continue
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			logger.Info("client went away", "error", err)
			return
		}
		flusher.Flush()
	}

	if term := enc.Terminator(); term != "" {
		_, _ = io.WriteString(w, term)
		flusher.Flush()
	}
}

// handleStop handles POST /api/chat/{id}/stop. Stopping is idempotent and
// succeeds whether or not a turn is running.
func (g *Gateway) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		g.sendJSONError(w, http.StatusBadRequest, "conversation id is required")
		return
	}
	g.stopFlags.Arm(id)
	g.logger.Info("stop requested", "conversation_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := g.store.GetConversation(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to load conversation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	messages := conv.UIMessages
	if messages == nil {
		messages = []transcript.UIMessage{}
	}
	g.sendJSON(w, http.StatusOK, ConversationResponse{
		ID:               conv.ID,
		Title:            conv.Title,
		TitleLocked:      conv.TitleLocked,
		Messages:         messages,
		PromptTokens:     conv.PromptTokens,
		CompletionTokens: conv.CompletionTokens,
		CreatedAt:        conv.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        conv.UpdatedAt.Format(time.RFC3339),
	})
}

// handleRename handles POST /api/conversations/{id}/title.
func (g *Gateway) handleRename(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		g.sendJSONError(w, http.StatusBadRequest, "title is required")
		return
	}

	err := g.store.RenameConversation(r.Context(), r.PathValue("id"), title)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to rename conversation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpload handles POST /api/conversations/{id}/attachments. The file is
// stored under the conversation's key prefix and recorded as ready.
func (g *Gateway) handleUpload(w http.ResponseWriter, r *http.Request) {
	convID := r.PathValue("id")
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	file, header, err := r.FormFile("file")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "reading upload failed")
		return
	}

	name := filepath.Base(header.Filename)
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(path.Ext(name)); byExt != "" {
			contentType = byExt
		} else {
			contentType = http.DetectContentType(data)
		}
	}

	id := uuid.NewString()
	key := convID + "/" + id + path.Ext(name)
	if err := g.blobs.Write(r.Context(), key, data); err != nil {
		if errors.Is(err, blob.ErrInvalidKey) {
			g.sendJSONError(w, http.StatusBadRequest, "invalid conversation id")
			return
		}
		g.logger.Error("failed to store upload", "key", key, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	a := &store.Attachment{
		ID:             id,
		ConversationID: convID,
		StorageKey:     key,
		Name:           name,
		ContentType:    contentType,
		Size:           int64(len(data)),
		Status:         store.AttachmentReady,
	}
	if err := g.store.CreateAttachment(r.Context(), a); err != nil {
		g.logger.Error("failed to record upload", "key", key, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("stored attachment", "conversation_id", convID, "key", key, "size", a.Size)
	g.sendJSON(w, http.StatusCreated, AttachmentResponse{
		ID:          a.ID,
		Key:         key,
		URL:         g.config.Storage.PublicPrefix + key,
		Name:        name,
		ContentType: contentType,
		Size:        a.Size,
		Status:      string(a.Status),
	})
}

// handleBlob serves stored blobs under the public prefix.
func (g *Gateway) handleBlob(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")
	data, err := g.blobs.Read(r.Context(), key)
	switch {
	case errors.Is(err, blob.ErrNotFound):
		http.NotFound(w, r)
		return
	case errors.Is(err, blob.ErrInvalidKey):
		http.Error(w, "invalid key", http.StatusBadRequest)
		return
	case err != nil:
		g.logger.Error("failed to read blob", "key", key, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(data)
}

// handleConversationUsage handles GET /api/conversations/{id}/usage.
func (g *Gateway) handleConversationUsage(w http.ResponseWriter, r *http.Request) {
	records, err := g.store.GetConversationUsage(r.Context(), r.PathValue("id"))
	if err != nil {
		g.logger.Error("failed to load usage", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]UsageRecordResponse, 0, len(records))
	for _, u := range records {
		resp = append(resp, UsageRecordResponse{
			MessageID:    u.MessageID,
			Model:        u.Model,
			InputTokens:  u.InputTokens,
			OutputTokens: u.OutputTokens,
			Requests:     u.Requests,
			CreatedAt:    u.CreatedAt.Format(time.RFC3339),
		})
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleScore handles POST /api/messages/{id}/score.
func (g *Gateway) handleScore(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	score := &store.Score{MessageID: r.PathValue("id"), Rating: store.Rating(req.Rating)}
	err := g.store.SaveScore(r.Context(), score)
	switch {
	case errors.Is(err, store.ErrInvalidRating):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "message not found")
		return
	case err != nil:
		g.logger.Error("failed to save score", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUsageStats handles GET /api/stats/usage. Optional query parameters:
// conversation_id, model, since and until (RFC 3339).
func (g *Gateway) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.UsageFilter
	if v := q.Get("conversation_id"); v != "" {
		filter.ConversationID = &v
	}
	if v := q.Get("model"); v != "" {
		filter.Model = &v
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &filter.Since}, {"until", &filter.Until}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid "+p.name+" time, want RFC 3339")
			return
		}
		*p.dst = &t
	}

	stats, err := g.store.GetUsageStats(r.Context(), filter)
	if err != nil {
		g.logger.Error("failed to get usage stats", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, stats)
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response failed", "error", err)
	}
}

// sendJSONError sends a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
