package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/graphstudio/graphstudio/logger"
	"github.com/graphstudio/graphstudio/stream"
)

func init() {
	Register("remote", Registration{
		Models: []ModelInfo{
			{ID: "remote-default", Name: "Remote Default", Context: 128000},
		},
		DefaultModel: "remote-default",
		EnvKey:       "GRAPHSTUDIO_API_KEY",
		EnvBase:      "GRAPHSTUDIO_BASE_URL",
		Constructor: func(apiKey, apiBase, model string, maxTokens int, temperature float64) Provider {
			return NewRemoteProvider(apiKey, apiBase, model, maxTokens, temperature)
		},
	})
}

// RemoteProvider talks to another studio backend over its chat completions
// endpoint. It receives chunks already normalized to the common shape, so
// unlike the SDK providers it does no per-vendor translation.
type RemoteProvider struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// NewRemoteProvider builds a provider backed by a remote studio endpoint.
// apiBase may point at the server root or at the full chat completions URL.
func NewRemoteProvider(apiKey, apiBase, model string, maxTokens int, temperature float64) *RemoteProvider {
	baseURL := strings.TrimSpace(apiBase)
	baseURL = strings.TrimRight(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/ai/chat/completions")

	return &RemoteProvider{
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		httpClient:  &http.Client{Timeout: 5 * time.Minute},
	}
}

type remoteChatRequest struct {
	Messages    []Message `json:"messages"`
	Tools       []ToolDef `json:"tools,omitempty"`
	Model       string    `json:"model,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type remoteChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        Usage      `json:"usage,omitempty"`
}

func (p *RemoteProvider) buildRequestBody(req *Request, streaming bool) ([]byte, error) {
	return json.Marshal(remoteChatRequest{
		Messages:    req.Messages,
		Tools:       req.Tools,
		Model:       p.model,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
		Stream:      streaming,
	})
}

func (p *RemoteProvider) send(ctx context.Context, body []byte, streaming bool) (*http.Response, error) {
	url := p.baseURL + "/ai/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if streaming {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		logger.Error("remote request error", "provider", "remote", "err", err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		data, readErr := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		errBody := strings.TrimSpace(string(data))
		if readErr != nil {
			errBody = fmt.Sprintf("%s (error body unreadable: %v)", errBody, readErr)
		}
		logger.Error("remote request error", "provider", "remote", "status", httpResp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("request failed: %d %s", httpResp.StatusCode, errBody)
	}
	return httpResp, nil
}

// Chat sends a non-streaming request.
func (p *RemoteProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	logger.Info(
		"remote chat request",
		"provider", "remote",
		"model", p.model,
		"toolCount", len(req.Tools),
		"inputChars", inputChars(req.Messages),
	)

	body, err := p.buildRequestBody(req, false)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	httpResp, err := p.send(ctx, body, false)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var parsed remoteChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	logger.Info(
		"remote chat response",
		"provider", "remote",
		"model", p.model,
		"finishReason", parsed.FinishReason,
		"hasToolCalls", len(parsed.ToolCalls) > 0,
		"toolCallCount", len(parsed.ToolCalls),
		"outputChars", len(parsed.Content),
		"latencyMs", time.Since(start).Milliseconds(),
	)

	return &Response{
		Content:      parsed.Content,
		ToolCalls:    parsed.ToolCalls,
		FinishReason: parsed.FinishReason,
		Usage:        parsed.Usage,
	}, nil
}

// ChatStream sends a streaming request and forwards each SSE data frame as a
// chunk. Frames that do not parse are skipped; the stream terminates on the
// [DONE] sentinel or EOF.
func (p *RemoteProvider) ChatStream(ctx context.Context, req *Request, fn func(stream.Chunk) error) error {
	start := time.Now()
	logger.Info(
		"remote chat stream request",
		"provider", "remote",
		"model", p.model,
		"toolCount", len(req.Tools),
		"inputChars", inputChars(req.Messages),
	)

	body, err := p.buildRequestBody(req, true)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	httpResp, err := p.send(ctx, body, true)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	chunkCount := 0
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var c stream.Chunk
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			continue // skip unparseable frames
		}
		if c.Type == "done" {
			break
		}
		if c.Type == "error" {
			return fmt.Errorf("remote stream error: %s", c.Error)
		}

		chunkCount++
		if err := fn(c); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error("remote stream error", "provider", "remote", "err", err)
		return fmt.Errorf("reading SSE stream: %w", err)
	}

	logger.Info(
		"remote chat stream done",
		"provider", "remote",
		"model", p.model,
		"chunks", chunkCount,
		"latencyMs", time.Since(start).Milliseconds(),
	)
	return nil
}
