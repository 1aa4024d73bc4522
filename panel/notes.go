package panel

import (
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// notesCapabilities is the markdown notes panel. State holds the full note
// text under the "content" key.
type notesCapabilities struct {
	BaseCapabilities
}

func notesDefinition() Definition {
	return Definition{
		ID:           "notes",
		Title:        "Notes",
		Capabilities: notesCapabilities{},
		InitialState: func() State {
			return State{"content": ""}
		},
	}
}

func (notesCapabilities) MCPTools(ctx context.Context, state State) ([]ToolDefinition, error) {
	return []ToolDefinition{
		{
			Name:        "get_notes",
			Description: "Get the full markdown content of the notes.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "set_notes",
			Description: "Replace the notes with new markdown content.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{
						"type":        "string",
						"description": "New markdown content",
					},
				},
				"required": []string{"content"},
			},
		},
		{
			Name:        "append_notes",
			Description: "Append markdown content to the end of the notes.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{
						"type":        "string",
						"description": "Markdown content to append",
					},
				},
				"required": []string{"content"},
			},
		},
	}, nil
}

func (notesCapabilities) ExecuteMCPTool(ctx context.Context, name string, args map[string]any, state State, update UpdateFunc) (any, error) {
	current := notesContent(state)

	switch name {
	case "get_notes":
		return map[string]any{"content": current, "length": len(current)}, nil

	case "set_notes":
		content, err := stringArg(args, "content")
		if err != nil {
			return nil, err
		}
		update(State{"content": content})
		return map[string]any{"length": len(content)}, nil

	case "append_notes":
		content, err := stringArg(args, "content")
		if err != nil {
			return nil, err
		}
		next := current
		if next != "" && !strings.HasSuffix(next, "\n") {
			next += "\n"
		}
		next += content
		update(State{"content": next})
		return map[string]any{"length": len(next)}, nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func (notesCapabilities) LLMContext(ctx context.Context, state State) (ContextDescriptor, error) {
	content := notesContent(state)
	if strings.TrimSpace(content) == "" {
		return ContextDescriptor{Type: "notes", Data: ""}, nil
	}
	return ContextDescriptor{
		Type: "notes",
		Data: map[string]any{
			"outline": markdownOutline(content),
			"content": content,
		},
	}, nil
}

func notesContent(state State) string {
	if s, ok := state["content"].(string); ok {
		return s
	}
	return ""
}

// markdownOutline extracts the heading structure of a markdown document,
// one entry per heading, indented by level.
func markdownOutline(src string) []string {
	source := []byte(src)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var outline []string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		var buf strings.Builder
		for c := h.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				buf.Write(t.Segment.Value(source))
			}
		}
		indent := strings.Repeat("  ", h.Level-1)
		outline = append(outline, indent+buf.String())
		return ast.WalkSkipChildren, nil
	})
	return outline
}
