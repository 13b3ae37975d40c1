// ABOUTME: Gateway that builds every server component from config and serves HTTP
// ABOUTME: Manages store, orchestrator, health endpoints and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/parley/internal/agent"
	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/blob"
	"github.com/2389/parley/internal/cancel"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/ingest"
	"github.com/2389/parley/internal/llm"
	"github.com/2389/parley/internal/ocr"
	"github.com/2389/parley/internal/prompts"
	"github.com/2389/parley/internal/retrieval"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/tools"
)

// Stop flags older than this are ignored and eventually evicted.
const (
	stopFlagTTL     = 10 * time.Minute
	stopFlagMaxSize = 10_000
)

// Gateway serves the parley HTTP API.
type Gateway struct {
	config     *config.Config
	store      store.Store
	blobs      blob.Store
	index      retrieval.Index
	models     *llm.Registry
	agent      *agent.Orchestrator
	stopFlags  *cancel.Registry
	httpServer *http.Server
	logger     *slog.Logger
}

// Components lets tests and embedders supply collaborators. Nil fields are
// built from config.
type Components struct {
	Store    store.Store
	Blobs    blob.Store
	Index    retrieval.Index
	Models   *llm.Registry
	OCR      ocr.Backend
	Searcher tools.Searcher
}

// initStore opens the SQLite store, honoring PARLEY_DB_PATH.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PARLEY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway from cfg.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	return NewWithComponents(cfg, Components{}, logger)
}

// NewWithComponents creates a Gateway, building only the missing components.
func NewWithComponents(cfg *config.Config, c Components, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if c.Store == nil || c.Index == nil {
		s, err := initStore(cfg)
		if err != nil {
			return nil, err
		}
		if c.Store == nil {
			c.Store = s
		}
		if c.Index == nil {
			idx, err := retrieval.NewSQLiteIndex(s.DB(), 0, logger)
			if err != nil {
				_ = s.Close()
				return nil, fmt.Errorf("initializing retrieval index: %w", err)
			}
			c.Index = idx
		}
	}
	if c.Blobs == nil {
		c.Blobs = blob.NewAFS(cfg.Storage.BaseURL, logger)
	}
	if c.Models == nil {
		c.Models = llm.NewRegistryFromConfig(cfg.Models, logger)
	}
	if c.OCR == nil {
		c.OCR = ocr.NewClient(cfg.OCR.Endpoint, cfg.OCR.APIKey, cfg.OCR.Model, logger)
	}
	if c.Searcher == nil && cfg.Search.Endpoint != "" {
		c.Searcher = tools.NewSearchClient(cfg.Search.Endpoint, cfg.Search.APIKey, logger)
	}

	templates, err := prompts.Load(cfg.Prompts.Path)
	if err != nil {
		return nil, err
	}

	toolRegistry, err := buildTools(cfg, c, logger)
	if err != nil {
		return nil, err
	}

	parser := ingest.NewParser(c.OCR, cfg.Ingestion, logger)
	pipeline := ingest.NewPipeline(c.Store, c.Store, c.Blobs, c.Index, parser, logger)
	stopFlags := cancel.NewRegistry(stopFlagTTL, stopFlagMaxSize)

	orch := agent.New(agent.Options{
		Store:    c.Store,
		Models:   c.Models,
		Tools:    toolRegistry,
		Ingester: pipeline,
		Blobs:    c.Blobs,
		Prompts:  templates,
		Features: cfg.Tools,
		Cancel:   stopFlags,
		Config:   agent.ConfigFrom(cfg),
		Logger:   logger,
	})

	gw := &Gateway{
		config:    cfg,
		store:     c.Store,
		blobs:     c.Blobs,
		index:     c.Index,
		models:    c.Models,
		agent:     orch,
		stopFlags: stopFlags,
		logger:    logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)
	gw.registerAPIRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

// buildTools registers the tools whose backends are available.
func buildTools(cfg *config.Config, c Components, logger *slog.Logger) (*tools.Registry, error) {
	reg := tools.NewRegistry(logger)
	var all []*tools.Tool
	if c.Searcher != nil {
		all = append(all, tools.NewWebSearchTool(c.Searcher, cfg.Search.MaxResults))
	}
	docs := tools.Documents{Index: c.Index, Blobs: c.Blobs}
	all = append(all,
		tools.NewDocumentSearchTool(c.Index, 0),
		tools.NewSummarizeTool(docs),
		tools.NewTranslateTool(docs),
	)
	if err := reg.Register(all...); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}
	return reg, nil
}

// registerAPIRoutes registers API routes with or without auth middleware.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/chat", g.handleChat)
	api.HandleFunc("POST /api/chat/{id}/stop", g.handleStop)
	api.HandleFunc("GET /api/conversations/{id}", g.handleGetConversation)
	api.HandleFunc("POST /api/conversations/{id}/title", g.handleRename)
	api.HandleFunc("POST /api/conversations/{id}/attachments", g.handleUpload)
	api.HandleFunc("GET /api/conversations/{id}/usage", g.handleConversationUsage)
	api.HandleFunc("POST /api/messages/{id}/score", g.handleScore)
	api.HandleFunc("GET /api/stats/usage", g.handleUsageStats)

	if secret := g.config.Auth.JWTSecret; secret != "" {
		verifier := auth.NewJWTVerifier([]byte(secret))
		mux.Handle("/api/", auth.Middleware(verifier, g.logger)(api))
		g.logger.Info("HTTP auth middleware enabled")
	} else {
		mux.Handle("/api/", api)
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}

	if prefix := g.config.Storage.PublicPrefix; prefix != "" {
		mux.Handle("GET "+prefix, http.StripPrefix(prefix, http.HandlerFunc(g.handleBlob)))
	}
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run serves HTTP until ctx is canceled or the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	// ctx is already done here, so shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown stops the HTTP server and releases every component.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	g.agent.Wait()
	g.stopFlags.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once a default model is registered and the
// store answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.models.Get(""); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no model configured"))
		return
	}
	if _, err := g.store.GetUsageStats(r.Context(), store.UsageFilter{}); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d models)", len(g.models.Names()))
}
