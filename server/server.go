// Package server exposes the studio HTTP surface: the chat completions
// endpoint (streaming and non-streaming), provider metadata endpoints, and
// a websocket event feed for the browser shell.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/graphstudio/graphstudio/config"
	"github.com/graphstudio/graphstudio/logger"
	"github.com/graphstudio/graphstudio/orchestrator"
	"github.com/graphstudio/graphstudio/panel"
	"github.com/graphstudio/graphstudio/provider"
	"github.com/graphstudio/graphstudio/stream"
)

// ProviderFactory builds a provider for one request. Tests substitute a
// fake; the default delegates to the provider registry.
type ProviderFactory func(name, apiKey, apiBase, model string, maxTokens int, temperature float64) (provider.Provider, error)

// Server is the studio HTTP server.
type Server struct {
	cfg         *config.Config
	store       *panel.Store
	hub         *hub
	newProvider ProviderFactory
	controller  *orchestrator.Controller
	mux         *http.ServeMux
}

// New builds a server over the given config and panel store.
func New(cfg *config.Config, store *panel.Store) *Server {
	s := &Server{
		cfg:         cfg,
		store:       store,
		hub:         newHub(),
		newProvider: provider.New,
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

// SetProviderFactory overrides provider construction.
func (s *Server) SetProviderFactory(f ProviderFactory) {
	s.newProvider = f
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /ai/chat/completions", s.handleChat)
	s.mux.HandleFunc("POST /ai/conversation/messages", s.handleConversationSend)
	s.mux.HandleFunc("GET /ai/conversation/messages", s.handleConversationMessages)
	s.mux.HandleFunc("POST /ai/conversation/stop", s.handleConversationStop)
	s.mux.HandleFunc("POST /ai/conversation/regenerate", s.handleConversationRegenerate)
	s.mux.HandleFunc("GET /ai/config", s.handleConfig)
	s.mux.HandleFunc("GET /ai/models/{provider}", s.handleModels)
	s.mux.HandleFunc("GET /ai/health", s.handleHealth)
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("studio server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.closeAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

type chatRequest struct {
	Messages []provider.Message `json:"messages"`
	Tools    []provider.ToolDef `json:"tools,omitempty"`
	Model    string             `json:"model,omitempty"`
	Provider string             `json:"provider,omitempty"`
	// Pointers so an explicit zero is distinguishable from an absent field;
	// absent falls back to the configured value.
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stream      bool     `json:"stream"`
}

type chatResponse struct {
	Content      string              `json:"content"`
	ToolCalls    []provider.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string              `json:"finish_reason,omitempty"`
	Usage        provider.Usage      `json:"usage"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		httpError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	name := req.Provider
	if name == "" {
		name = s.cfg.AI.Provider
	}
	model := req.Model
	if model == "" {
		model = s.cfg.AI.Model
	}
	if model == "" {
		model = provider.DefaultModelFor(name)
	}
	temperature := s.cfg.AI.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := s.cfg.AI.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	apiKey, apiBase, err := s.cfg.Credentials(name)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.newProvider(name, apiKey, apiBase, model, maxTokens, temperature)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	provReq := &provider.Request{Messages: req.Messages, Tools: req.Tools}
	if req.Stream {
		s.streamChat(w, r, p, provReq)
		return
	}

	resp, err := p.Chat(r.Context(), provReq)
	if err != nil {
		httpError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Content:      resp.Content,
		ToolCalls:    resp.ToolCalls,
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
	})
}

// streamChat relays provider chunks as SSE frames. Errors after the stream
// has opened are delivered as an error frame; the stream always terminates
// with the [DONE] sentinel.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, p provider.Provider, req *provider.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeFrame := func(c stream.Chunk) {
		data, err := json.Marshal(c)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	err := p.ChatStream(r.Context(), req, func(c stream.Chunk) error {
		if c.Type == "" {
			c.Type = "chunk"
		}
		writeFrame(c)
		return nil
	})
	if err != nil && r.Context().Err() == nil {
		logger.Error("chat stream relay failed", "err", err)
		writeFrame(stream.ErrorChunk(err.Error()))
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

type providerStatus struct {
	Name         string `json:"name"`
	Configured   bool   `json:"configured"`
	Active       bool   `json:"active"`
	DefaultModel string `json:"default_model"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	providers := make([]providerStatus, 0)
	for _, name := range provider.SupportedProviders() {
		providers = append(providers, providerStatus{
			Name:         name,
			Configured:   s.cfg.Configured(name),
			Active:       name == s.cfg.AI.Provider,
			DefaultModel: provider.DefaultModelFor(name),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":  s.cfg.AI.Provider,
		"model":     s.cfg.AI.Model,
		"providers": providers,
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("provider")
	models := provider.ModelsFor(name)
	if models == nil {
		httpError(w, http.StatusNotFound, "unknown provider: "+name)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider": name,
		"models":   models,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"panels": len(s.store.List()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
