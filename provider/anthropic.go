package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	antoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/graphstudio/graphstudio/logger"
	"github.com/graphstudio/graphstudio/stream"
)

func init() {
	Register("anthropic", Registration{
		Models: []ModelInfo{
			{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", Context: 200000},
			{ID: "claude-3-opus-20240229", Name: "Claude 3 Opus", Context: 200000},
			{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", Context: 200000},
		},
		DefaultModel: "claude-3-5-sonnet-20241022",
		EnvKey:       "ANTHROPIC_API_KEY",
		EnvBase:      "ANTHROPIC_BASE_URL",
		Constructor: func(apiKey, apiBase, model string, maxTokens int, temperature float64) Provider {
			return newAnthropicProvider(apiKey, apiBase, model, maxTokens, temperature)
		},
	})
}

// AnthropicProvider implements the Provider interface for the Anthropic
// Messages API. Its streaming encoding carries no tool-call indices, so
// chunks are normalized to the start/delta form.
type AnthropicProvider struct {
	model       string
	maxTokens   int
	temperature float64
	client      anthropic.Client
}

func newAnthropicProvider(apiKey, apiBase, model string, maxTokens int, temperature float64) *AnthropicProvider {
	opts := []antoption.RequestOption{antoption.WithAPIKey(apiKey)}
	if base := strings.TrimSpace(apiBase); base != "" {
		opts = append(opts, antoption.WithBaseURL(base))
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicProvider{
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		client:      anthropic.NewClient(opts...),
	}
}

func (p *AnthropicProvider) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	var system []anthropic.TextBlockParam
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: m.Content})

		case "user":
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))

		case "assistant":
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := tc.Function.Arguments
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, json.RawMessage(args), tc.Function.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))

		case "tool":
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))

		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("unsupported message role: %s", m.Role)
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if p.temperature != 0 {
		params.Temperature = anthropic.Float(p.temperature)
	}
	if tools := toAnthropicTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	return params, nil
}

// Chat sends a non-streaming request.
func (p *AnthropicProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	logger.Info(
		"chat request",
		"provider", "anthropic",
		"model", p.model,
		"toolCount", len(req.Tools),
		"inputChars", inputChars(req.Messages),
	)

	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		logger.Error("chat request send error", "provider", "anthropic", "err", err)
		return nil, fmt.Errorf("request failed: %w", err)
	}

	var content strings.Builder
	var toolCalls []ToolCall
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			toolCalls = append(toolCalls, ToolCall{
				ID:   b.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      b.Name,
					Arguments: string(b.Input),
				},
			})
		}
	}

	logger.Info(
		"chat response",
		"provider", "anthropic",
		"model", p.model,
		"stopReason", msg.StopReason,
		"hasToolCalls", len(toolCalls) > 0,
		"toolCallCount", len(toolCalls),
		"promptTokens", msg.Usage.InputTokens,
		"completionTokens", msg.Usage.OutputTokens,
		"latencyMs", time.Since(start).Milliseconds(),
	)

	return &Response{
		Content:      content.String(),
		ToolCalls:    toolCalls,
		FinishReason: mapAnthropicStopReason(string(msg.StopReason)),
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}

// ChatStream sends a streaming request, normalizing Anthropic events to the
// common chunk shape (tool_call_start / tool_input_delta encoding).
func (p *AnthropicProvider) ChatStream(ctx context.Context, req *Request, fn func(stream.Chunk) error) error {
	start := time.Now()
	logger.Info(
		"chat stream request",
		"provider", "anthropic",
		"model", p.model,
		"toolCount", len(req.Tools),
		"inputChars", inputChars(req.Messages),
	)

	params, err := p.buildParams(req)
	if err != nil {
		return err
	}

	s := p.client.Messages.NewStreaming(ctx, params)
	defer s.Close()

	finishReason := ""
	chunkCount := 0
	emit := func(out stream.Chunk) error {
		chunkCount++
		return fn(out)
	}

	for s.Next() {
		event := s.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				if err := emit(stream.Chunk{
					Type:          "chunk",
					ToolCallStart: &stream.ToolCallStart{ID: tu.ID, Name: tu.Name},
				}); err != nil {
					return err
				}
			}

		case anthropic.ContentBlockDeltaEvent:
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if d.Text == "" {
					continue
				}
				if err := emit(stream.Chunk{Type: "chunk", Content: d.Text}); err != nil {
					return err
				}
			case anthropic.InputJSONDelta:
				if d.PartialJSON == "" {
					continue
				}
				if err := emit(stream.Chunk{Type: "chunk", ToolInputDelta: d.PartialJSON}); err != nil {
					return err
				}
			}

		case anthropic.MessageDeltaEvent:
			if ev.Delta.StopReason != "" {
				finishReason = mapAnthropicStopReason(string(ev.Delta.StopReason))
			}

		case anthropic.MessageStopEvent:
			if finishReason == "" {
				finishReason = "stop"
			}
			if err := emit(stream.Chunk{Type: "chunk", FinishReason: finishReason}); err != nil {
				return err
			}
		}
	}
	if err := s.Err(); err != nil {
		logger.Error("chat stream error", "provider", "anthropic", "err", err)
		return fmt.Errorf("stream failed: %w", err)
	}

	logger.Info(
		"chat stream done",
		"provider", "anthropic",
		"model", p.model,
		"chunks", chunkCount,
		"latencyMs", time.Since(start).Milliseconds(),
	)
	return nil
}

// toAnthropicTools converts OpenAI-shaped tool definitions to the Anthropic
// input_schema form.
func toAnthropicTools(tools []ToolDef) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if params := t.Function.Parameters; params != nil {
			if props, ok := params["properties"]; ok {
				schema.Properties = props
			}
			if required, ok := params["required"].([]string); ok {
				schema.Required = required
			}
		}
		tool := anthropic.ToolParam{
			Name:        t.Function.Name,
			InputSchema: schema,
		}
		if t.Function.Description != "" {
			tool.Description = anthropic.String(t.Function.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

func mapAnthropicStopReason(reason string) string {
	switch reason {
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	case "end_turn", "stop_sequence":
		return "stop"
	default:
		return reason
	}
}
