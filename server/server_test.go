package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/graphstudio/graphstudio/config"
	"github.com/graphstudio/graphstudio/orchestrator"
	"github.com/graphstudio/graphstudio/panel"
	"github.com/graphstudio/graphstudio/provider"
	"github.com/graphstudio/graphstudio/stream"
)

type stubProvider struct {
	chunks []stream.Chunk
	err    error
}

func (p *stubProvider) Chat(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if p.err != nil {
		return nil, p.err
	}
	d := stream.NewDecoder()
	for _, c := range p.chunks {
		d.Process(c)
	}
	res := d.Result()
	var calls []provider.ToolCall
	for _, tc := range res.ToolCalls {
		calls = append(calls, provider.ToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: provider.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
		})
	}
	return &provider.Response{Content: res.Content, ToolCalls: calls, FinishReason: res.FinishReason}, nil
}

func (p *stubProvider) ChatStream(ctx context.Context, req *provider.Request, fn func(stream.Chunk) error) error {
	if p.err != nil {
		return p.err
	}
	for _, c := range p.chunks {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		AI: config.AIConfig{Provider: "openai", Model: "gpt-4o-mini", MaxTokens: 4096, Temperature: 0.7},
		Providers: config.ProvidersConfig{
			OpenAI: &config.ProviderConfig{APIKey: "sk-test"},
		},
	}
}

func testServer(t *testing.T, stub *stubProvider) *httptest.Server {
	t.Helper()
	s := New(testConfig(), panel.NewStore(panel.Builtin()))
	s.SetProviderFactory(func(name, apiKey, apiBase, model string, maxTokens int, temperature float64) (provider.Provider, error) {
		if apiKey != "sk-test" {
			t.Errorf("credentials not passed through: %q", apiKey)
		}
		return stub, nil
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postChat(t *testing.T, srv *httptest.Server, body map[string]any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(srv.URL+"/ai/chat/completions", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	return resp
}

func TestChatStreamingEndpoint(t *testing.T) {
	t.Parallel()

	stub := &stubProvider{chunks: []stream.Chunk{
		{Type: "chunk", Content: "Hel"},
		{Type: "chunk", Content: "lo"},
		{Type: "chunk", FinishReason: "stop"},
	}}
	srv := testServer(t, stub)

	resp := postChat(t, srv, map[string]any{
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
		"stream":   true,
	})
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type: %q", ct)
	}

	var frames []string
	sawDone := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			sawDone = true
			break
		}
		frames = append(frames, data)
	}
	if !sawDone {
		t.Fatalf("stream missing [DONE] sentinel")
	}

	d := stream.NewDecoder()
	for _, f := range frames {
		var c stream.Chunk
		if err := json.Unmarshal([]byte(f), &c); err != nil {
			t.Fatalf("frame not valid chunk JSON: %q", f)
		}
		d.Process(c)
	}
	res := d.Result()
	if res.Content != "Hello" || res.FinishReason != "stop" {
		t.Fatalf("unexpected reassembled result: %+v", res)
	}
}

func TestChatStreamingErrorFrame(t *testing.T) {
	t.Parallel()

	stub := &stubProvider{err: errors.New("upstream exploded")}
	srv := testServer(t, stub)

	resp := postChat(t, srv, map[string]any{
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
		"stream":   true,
	})
	defer resp.Body.Close()

	sawError, sawDone := false, false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			sawDone = true
			break
		}
		var c stream.Chunk
		if json.Unmarshal([]byte(data), &c) == nil && c.Type == "error" && c.Error != "" {
			sawError = true
		}
	}
	if !sawError || !sawDone {
		t.Fatalf("expected error frame followed by [DONE], sawError=%v sawDone=%v", sawError, sawDone)
	}
}

func TestChatNonStreamingEndpoint(t *testing.T) {
	t.Parallel()

	stub := &stubProvider{chunks: []stream.Chunk{
		{Type: "chunk", Content: "42"},
		{Type: "chunk", FinishReason: "stop"},
	}}
	srv := testServer(t, stub)

	resp := postChat(t, srv, map[string]any{
		"messages": []map[string]any{{"role": "user", "content": "answer?"}},
		"stream":   false,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if parsed.Content != "42" || parsed.FinishReason != "stop" {
		t.Fatalf("unexpected response: %+v", parsed)
	}
}

func TestChatRejectsEmptyMessages(t *testing.T) {
	t.Parallel()

	srv := testServer(t, &stubProvider{})
	resp := postChat(t, srv, map[string]any{"messages": []any{}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestChatUnconfiguredProvider(t *testing.T) {
	t.Parallel()

	srv := testServer(t, &stubProvider{})
	resp := postChat(t, srv, map[string]any{
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
		"provider": "deepseek",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unconfigured provider, got %d", resp.StatusCode)
	}
}

func TestConfigEndpoint(t *testing.T) {
	t.Parallel()

	srv := testServer(t, &stubProvider{})
	resp, err := http.Get(srv.URL + "/ai/config")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Provider  string           `json:"provider"`
		Model     string           `json:"model"`
		Providers []providerStatus `json:"providers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if parsed.Provider != "openai" || parsed.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected active config: %+v", parsed)
	}
	found := false
	for _, p := range parsed.Providers {
		if p.Name == "openai" {
			found = true
			if !p.Configured || !p.Active {
				t.Fatalf("openai status wrong: %+v", p)
			}
		}
	}
	if !found {
		t.Fatalf("openai missing from providers list")
	}
}

func TestModelsEndpoint(t *testing.T) {
	t.Parallel()

	srv := testServer(t, &stubProvider{})

	resp, err := http.Get(srv.URL + "/ai/models/anthropic")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var parsed struct {
		Provider string               `json:"provider"`
		Models   []provider.ModelInfo `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(parsed.Models) == 0 {
		t.Fatalf("no models returned for anthropic")
	}

	missing, err := http.Get(srv.URL + "/ai/models/nonexistent")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown provider, got %d", missing.StatusCode)
	}
}

func TestChatExplicitZeroSettingsHonored(t *testing.T) {
	t.Parallel()

	gotTemp, gotMax := -1.0, -1
	s := New(testConfig(), panel.NewStore(panel.Builtin()))
	s.SetProviderFactory(func(name, apiKey, apiBase, model string, maxTokens int, temperature float64) (provider.Provider, error) {
		gotTemp, gotMax = temperature, maxTokens
		return &stubProvider{chunks: []stream.Chunk{
			{Type: "chunk", Content: "ok"},
			{Type: "chunk", FinishReason: "stop"},
		}}, nil
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	resp := postChat(t, srv, map[string]any{
		"messages":    []map[string]any{{"role": "user", "content": "hi"}},
		"temperature": 0,
		"max_tokens":  0,
	})
	resp.Body.Close()
	if gotTemp != 0 || gotMax != 0 {
		t.Fatalf("explicit zeros not honored: temperature=%v maxTokens=%v", gotTemp, gotMax)
	}

	resp = postChat(t, srv, map[string]any{
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})
	resp.Body.Close()
	if gotTemp != 0.7 || gotMax != 4096 {
		t.Fatalf("absent fields did not fall back to config: temperature=%v maxTokens=%v", gotTemp, gotMax)
	}
}

// conversationServer builds a server with an attached controller whose
// updates broadcast to websocket clients, the way serve wires it.
func conversationServer(t *testing.T, stub *stubProvider) *httptest.Server {
	t.Helper()
	store := panel.NewStore(panel.Builtin())
	s := New(testConfig(), store)
	controller := orchestrator.NewController(stub, store, orchestrator.Options{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		OnUpdate: func(messages []orchestrator.Message) {
			s.Publish("conversation", messages)
		},
	})
	s.SetController(controller)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestConversationSendBroadcastsOverWebsocket(t *testing.T) {
	t.Parallel()

	stub := &stubProvider{chunks: []stream.Chunk{
		{Type: "chunk", Content: "Hel"},
		{Type: "chunk", Content: "lo"},
		{Type: "chunk", FinishReason: "stop"},
	}}
	srv := conversationServer(t, stub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	body, _ := json.Marshal(map[string]any{"content": "hi"})
	resp, err := http.Post(srv.URL+"/ai/conversation/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var parsed struct {
		Messages []orchestrator.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(parsed.Messages) != 2 || parsed.Messages[1].Content != "Hello" {
		t.Fatalf("unexpected snapshot: %+v", parsed.Messages)
	}

	// The turn's broadcasts are queued on the connection; read until the
	// finalized assistant snapshot shows up.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("websocket read: %v", err)
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("event not JSON: %q", data)
		}
		if ev.Type != "conversation" {
			continue
		}
		payload, _ := json.Marshal(ev.Payload)
		var msgs []orchestrator.Message
		if err := json.Unmarshal(payload, &msgs); err != nil {
			t.Fatalf("conversation payload not messages: %v", err)
		}
		done := false
		for _, m := range msgs {
			if m.Role == orchestrator.RoleAssistant && m.Content == "Hello" && !m.IsStreaming {
				done = true
			}
		}
		if done {
			break
		}
	}
}

func TestConversationEndpointsWithoutController(t *testing.T) {
	t.Parallel()

	srv := testServer(t, &stubProvider{})
	body, _ := json.Marshal(map[string]any{"content": "hi"})
	resp, err := http.Post(srv.URL+"/ai/conversation/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a controller, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	srv := testServer(t, &stubProvider{})
	resp, err := http.Get(srv.URL + "/ai/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var parsed map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if parsed["status"] != "ok" {
		t.Fatalf("unexpected health payload: %v", parsed)
	}
}
