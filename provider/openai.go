// Package provider provides LLM provider implementations.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	oaioption "github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/graphstudio/graphstudio/logger"
	"github.com/graphstudio/graphstudio/stream"
)

const (
	openAIAPIBase      = "https://api.openai.com/v1"
	deepSeekAPIBase    = "https://api.deepseek.com/v1"
	siliconFlowAPIBase = "https://api.siliconflow.cn/v1"

	sdkMaxRetries = 2
)

func init() {
	Register("openai", Registration{
		Models: []ModelInfo{
			{ID: "gpt-4o", Name: "GPT-4o", Context: 128000},
			{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Context: 128000},
			{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", Context: 128000},
			{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", Context: 16385},
		},
		DefaultModel: "gpt-4o-mini",
		EnvKey:       "OPENAI_API_KEY",
		EnvBase:      "OPENAI_BASE_URL",
		Constructor: func(apiKey, apiBase, model string, maxTokens int, temperature float64) Provider {
			return newOpenAICompatProvider("openai", apiKey, apiBase, openAIAPIBase, model, maxTokens, temperature)
		},
	})

	Register("deepseek", Registration{
		Models: []ModelInfo{
			{ID: "deepseek-chat", Name: "DeepSeek Chat", Context: 64000},
			{ID: "deepseek-coder", Name: "DeepSeek Coder", Context: 64000},
		},
		DefaultModel: "deepseek-chat",
		EnvKey:       "DEEPSEEK_API_KEY",
		EnvBase:      "DEEPSEEK_BASE_URL",
		Constructor: func(apiKey, apiBase, model string, maxTokens int, temperature float64) Provider {
			return newOpenAICompatProvider("deepseek", apiKey, apiBase, deepSeekAPIBase, model, maxTokens, temperature)
		},
	})

	Register("siliconflow", Registration{
		Models: []ModelInfo{
			{ID: "MiniMaxAI/MiniMax-M2", Name: "MiniMax M2", Context: 128000},
			{ID: "Qwen/Qwen2.5-72B-Instruct", Name: "Qwen 2.5 72B", Context: 32000},
			{ID: "deepseek-ai/DeepSeek-V3", Name: "DeepSeek V3", Context: 64000},
		},
		DefaultModel: "MiniMaxAI/MiniMax-M2",
		EnvKey:       "SILICONFLOW_API_KEY",
		EnvBase:      "SILICONFLOW_BASE_URL",
		Constructor: func(apiKey, apiBase, model string, maxTokens int, temperature float64) Provider {
			return newOpenAICompatProvider("siliconflow", apiKey, apiBase, siliconFlowAPIBase, model, maxTokens, temperature)
		},
	})
}

// OpenAICompatProvider implements the Provider interface for any
// OpenAI-compatible chat completions API.
type OpenAICompatProvider struct {
	providerName string
	model        string
	maxTokens    int
	temperature  float64
	client       openai.Client
}

func newOpenAICompatProvider(providerName, apiKey, apiBase, defaultBase, model string, maxTokens int, temperature float64) *OpenAICompatProvider {
	baseURL := normalizeSDKBaseURL(apiBase, defaultBase)
	client := openai.NewClient(
		oaioption.WithAPIKey(apiKey),
		oaioption.WithBaseURL(baseURL),
		oaioption.WithMaxRetries(sdkMaxRetries),
	)

	return &OpenAICompatProvider{
		providerName: providerName,
		model:        model,
		maxTokens:    maxTokens,
		temperature:  temperature,
		client:       client,
	}
}

func (p *OpenAICompatProvider) buildParams(req *Request) (openai.ChatCompletionNewParams, error) {
	messages, err := toOpenAIChatMessages(req.Messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to convert messages: %w", err)
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
		Tools:    toOpenAIChatTools(req.Tools),
	}
	if p.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.maxTokens))
	}
	if p.temperature != 0 {
		params.Temperature = openai.Float(p.temperature)
	}
	return params, nil
}

// Chat sends a non-streaming chat completion request.
func (p *OpenAICompatProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	logger.Info(
		"chat request",
		"provider", p.providerName,
		"model", p.model,
		"toolCount", len(req.Tools),
		"inputChars", inputChars(req.Messages),
	)

	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	chatResp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		logger.Error("chat request send error", "provider", p.providerName, "err", err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		logger.Error("chat no choices", "provider", p.providerName)
		return nil, fmt.Errorf("no choices in response")
	}

	choice := chatResp.Choices[0]
	toolCalls := fromOpenAIChatToolCalls(choice.Message.ToolCalls)

	logger.Info(
		"chat response",
		"provider", p.providerName,
		"model", p.model,
		"finishReason", choice.FinishReason,
		"hasToolCalls", len(toolCalls) > 0,
		"toolCallCount", len(toolCalls),
		"promptTokens", chatResp.Usage.PromptTokens,
		"completionTokens", chatResp.Usage.CompletionTokens,
		"totalTokens", chatResp.Usage.TotalTokens,
		"outputChars", len(choice.Message.Content),
		"latencyMs", time.Since(start).Milliseconds(),
	)

	return &Response{
		Content:      choice.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     int(chatResp.Usage.PromptTokens),
			CompletionTokens: int(chatResp.Usage.CompletionTokens),
			TotalTokens:      int(chatResp.Usage.TotalTokens),
		},
	}, nil
}

// ChatStream sends a streaming chat completion request, normalizing SDK
// chunks to the common chunk shape with indexed tool-call deltas.
func (p *OpenAICompatProvider) ChatStream(ctx context.Context, req *Request, fn func(stream.Chunk) error) error {
	start := time.Now()
	logger.Info(
		"chat stream request",
		"provider", p.providerName,
		"model", p.model,
		"toolCount", len(req.Tools),
		"inputChars", inputChars(req.Messages),
	)

	params, err := p.buildParams(req)
	if err != nil {
		return err
	}

	s := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer s.Close()

	chunkCount := 0
	for s.Next() {
		sdkChunk := s.Current()
		if len(sdkChunk.Choices) == 0 {
			continue
		}
		choice := sdkChunk.Choices[0]

		out := stream.Chunk{Type: "chunk", Content: choice.Delta.Content}
		for _, tc := range choice.Delta.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, stream.ToolCallDelta{
				Index: int(tc.Index),
				ID:    tc.ID,
				Function: stream.FunctionDelta{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out.FinishReason = string(choice.FinishReason)

		if out.Content == "" && out.ToolCalls == nil && out.FinishReason == "" {
			continue
		}
		chunkCount++
		if err := fn(out); err != nil {
			return err
		}
	}
	if err := s.Err(); err != nil {
		logger.Error("chat stream error", "provider", p.providerName, "err", err)
		return fmt.Errorf("stream failed: %w", err)
	}

	logger.Info(
		"chat stream done",
		"provider", p.providerName,
		"model", p.model,
		"chunks", chunkCount,
		"latencyMs", time.Since(start).Milliseconds(),
	)
	return nil
}

// normalizeSDKBaseURL resolves the effective base URL, stripping a trailing
// /chat/completions if a full endpoint was configured.
func normalizeSDKBaseURL(apiBase, defaultBase string) string {
	base := strings.TrimSpace(apiBase)
	if base == "" {
		base = defaultBase
	}
	base = strings.TrimRight(base, "/")
	base = strings.TrimSuffix(base, "/chat/completions")
	return base
}

// toOpenAIChatMessages converts canonical messages to SDK params.
func toOpenAIChatMessages(messages []Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))

		case "user":
			out = append(out, openai.UserMessage(m.Content))

		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			msg := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				msg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(m.Content),
				}
			}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Function.Name,
							Arguments: tc.Function.Arguments,
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &msg})

		case "tool":
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))

		default:
			return nil, fmt.Errorf("unsupported message role: %s", m.Role)
		}
	}
	return out, nil
}

// toOpenAIChatTools converts tool definitions to SDK params.
func toOpenAIChatTools(tools []ToolDef) []openai.ChatCompletionToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		params := t.Function.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Function.Name,
			Description: openai.String(t.Function.Description),
			Parameters:  shared.FunctionParameters(params),
		}))
	}
	return out
}

// fromOpenAIChatToolCalls converts SDK tool calls back to canonical form.
func fromOpenAIChatToolCalls(calls []openai.ChatCompletionMessageToolCallUnion) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}
