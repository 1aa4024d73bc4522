package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/graphstudio/graphstudio/orchestrator"
)

// SetController attaches the conversation controller backing the
// /ai/conversation endpoints. The controller's OnUpdate hook should publish
// through Publish so websocket clients see every snapshot. Attach before
// serving; requests arriving with no controller get 503.
func (s *Server) SetController(c *orchestrator.Controller) {
	s.controller = c
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// handleConversationSend runs one full conversation turn. The request blocks
// until the turn settles; streamed progress reaches clients over /ws.
func (s *Server) handleConversationSend(w http.ResponseWriter, r *http.Request) {
	c, ok := s.requireController(w)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		httpError(w, http.StatusBadRequest, "content must not be empty")
		return
	}

	err := c.SendMessage(r.Context(), req.Content)
	s.publishWorkspace()
	s.writeConversation(w, c, err)
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	c, ok := s.requireController(w)
	if !ok {
		return
	}
	s.writeConversation(w, c, nil)
}

func (s *Server) handleConversationStop(w http.ResponseWriter, r *http.Request) {
	c, ok := s.requireController(w)
	if !ok {
		return
	}
	c.Stop()
	s.writeConversation(w, c, nil)
}

func (s *Server) handleConversationRegenerate(w http.ResponseWriter, r *http.Request) {
	c, ok := s.requireController(w)
	if !ok {
		return
	}
	err := c.RegenerateLastResponse(r.Context())
	s.publishWorkspace()
	s.writeConversation(w, c, err)
}

func (s *Server) requireController(w http.ResponseWriter) (*orchestrator.Controller, bool) {
	if s.controller == nil {
		httpError(w, http.StatusServiceUnavailable, "no provider configured")
		return nil, false
	}
	return s.controller, true
}

// writeConversation responds with the current message snapshot. A turn that
// failed still ran; its errored message is part of the snapshot, so the
// error rides along instead of replacing the body.
func (s *Server) writeConversation(w http.ResponseWriter, c *orchestrator.Controller, err error) {
	resp := map[string]any{"messages": c.Messages()}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// publishWorkspace tells websocket clients the panel store may have moved,
// e.g. after tool calls mutated panel state.
func (s *Server) publishWorkspace() {
	s.Publish("workspace", map[string]any{"revision": s.store.Revision()})
}
