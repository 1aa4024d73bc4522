package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tiktoken-go/tokenizer"

	"github.com/graphstudio/graphstudio/logger"
	"github.com/graphstudio/graphstudio/panel"
)

// maxPanelContextChars caps each observed panel's contribution to the system
// prompt. The cap is per panel so one large panel cannot starve the others.
const maxPanelContextChars = 2000

// ObservedPanel is one panel's contribution to a context snapshot.
type ObservedPanel struct {
	PanelID    string                  `json:"panelId"`
	PanelType  string                  `json:"panelType"`
	PanelTitle string                  `json:"panelTitle"`
	Context    panel.ContextDescriptor `json:"context"`
}

// Snapshot is the bounded view of all observed panels at one moment.
type Snapshot struct {
	ObservedPanels []ObservedPanel `json:"observedPanels"`
	Timestamp      time.Time       `json:"timestamp"`
}

// ContextBuilder assembles observed-panel snapshots and renders them, with
// the tool catalog, into the system prompt.
type ContextBuilder struct {
	store         *panel.Store
	contextWindow int
	warnRatio     float64
	codec         tokenizer.Codec
}

// NewContextBuilder returns a builder over the given store. contextWindow
// and warnRatio drive the prompt-size warning; zero values disable it.
func NewContextBuilder(store *panel.Store, contextWindow int, warnRatio float64) *ContextBuilder {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		logger.Warn("tokenizer unavailable, falling back to char estimate", "err", err)
		codec = nil
	}
	return &ContextBuilder{
		store:         store,
		contextWindow: contextWindow,
		warnRatio:     warnRatio,
		codec:         codec,
	}
}

// Snapshot collects context descriptors from all observing panels. A single
// panel's failure is logged and that panel omitted.
func (b *ContextBuilder) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{Timestamp: time.Now()}
	registry := b.store.Registry()

	for _, inst := range b.store.List() {
		if !inst.Observing {
			continue
		}
		def, ok := registry.Lookup(inst.TypeID)
		if !ok {
			logger.Warn("panel type missing during context build", "panelId", inst.ID, "typeId", inst.TypeID)
			continue
		}
		desc, err := def.Capabilities.LLMContext(ctx, inst.State)
		if err != nil {
			logger.Warn("panel context failed", "panelId", inst.ID, "typeId", inst.TypeID, "err", err)
			continue
		}
		snap.ObservedPanels = append(snap.ObservedPanels, ObservedPanel{
			PanelID:    inst.ID,
			PanelType:  inst.TypeID,
			PanelTitle: inst.Title,
			Context:    desc,
		})
	}
	return snap
}

// RenderSystemPrompt turns a snapshot and the aggregated tool list into the
// system prompt text.
func (b *ContextBuilder) RenderSystemPrompt(snap Snapshot, tools []AggregatedTool) string {
	var sb strings.Builder
	sb.WriteString("You are an assistant embedded in a panel-based workspace. ")
	sb.WriteString("You can see the content of observed panels and can operate on panels through tools.\n")

	if len(snap.ObservedPanels) > 0 {
		sb.WriteString("\n## Observed Panels\n")
		for _, op := range snap.ObservedPanels {
			fmt.Fprintf(&sb, "\n### %s (%s)\n", op.PanelTitle, op.PanelType)
			sb.WriteString(renderDescriptor(op.Context))
			sb.WriteString("\n")
		}
	}

	if len(tools) > 0 {
		sb.WriteString("\n## Available Tools\n")
		for _, t := range tools {
			fmt.Fprintf(&sb, "- %s: %s (panel: %s)\n", t.Name, t.Description, t.PanelTitle)
		}
	}

	sb.WriteString("\nUse tools when the user's request concerns panel content. ")
	sb.WriteString("Call a tool rather than guessing at panel state. ")
	sb.WriteString("Answer directly when no tool is relevant.")

	prompt := sb.String()
	b.checkBudget(prompt)
	return prompt
}

// renderDescriptor renders one panel's context data, truncated to the
// per-panel cap. String data is dumped as-is; structured data is
// pretty-printed JSON.
func renderDescriptor(desc panel.ContextDescriptor) string {
	if desc.Empty() {
		return "(empty)"
	}
	var text string
	if s, ok := desc.Data.(string); ok {
		text = s
	} else {
		data, err := json.MarshalIndent(desc.Data, "", "  ")
		if err != nil {
			return "(unrenderable)"
		}
		text = string(data)
	}
	if len(text) > maxPanelContextChars {
		text = text[:maxPanelContextChars] + "\n... (truncated)"
	}
	return text
}

// checkBudget logs the estimated prompt token count and warns when it
// crosses the configured share of the context window.
func (b *ContextBuilder) checkBudget(prompt string) {
	if b.contextWindow <= 0 {
		return
	}
	count := b.estimateTokens(prompt)
	logger.Debug("system prompt built", "chars", len(prompt), "estTokens", count, "contextWindow", b.contextWindow)
	if b.warnRatio > 0 && float64(count) > float64(b.contextWindow)*b.warnRatio {
		logger.Warn(
			"system prompt approaching context window",
			"estTokens", count,
			"contextWindow", b.contextWindow,
		)
	}
}

func (b *ContextBuilder) estimateTokens(text string) int {
	if b.codec != nil {
		if n, err := b.codec.Count(text); err == nil {
			return n
		}
	}
	// Rough byte heuristic when no tokenizer is available.
	return len(text) / 4
}
