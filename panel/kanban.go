package panel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// kanbanCapabilities is the kanban board panel. State holds an ordered list
// of columns, each with an ordered list of cards, under the "columns" key.
type kanbanCapabilities struct {
	BaseCapabilities
}

type kanbanColumn struct {
	ID    string       `json:"id"`
	Title string       `json:"title"`
	Cards []kanbanCard `json:"cards"`
}

type kanbanCard struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func kanbanDefinition() Definition {
	return Definition{
		ID:           "kanban",
		Title:        "Kanban",
		Capabilities: kanbanCapabilities{},
		InitialState: func() State {
			return State{"columns": []kanbanColumn{
				{ID: "todo", Title: "To Do", Cards: []kanbanCard{}},
				{ID: "doing", Title: "In Progress", Cards: []kanbanCard{}},
				{ID: "done", Title: "Done", Cards: []kanbanCard{}},
			}}
		},
	}
}

func (kanbanCapabilities) MCPTools(ctx context.Context, state State) ([]ToolDefinition, error) {
	return []ToolDefinition{
		{
			Name:        "list_board",
			Description: "List all columns and cards on the kanban board.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "add_card",
			Description: "Add a new card to a column.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"column": map[string]any{
						"type":        "string",
						"description": "Column id (for example: todo, doing, done)",
					},
					"title": map[string]any{
						"type":        "string",
						"description": "Card title",
					},
				},
				"required": []string{"column", "title"},
			},
		},
		{
			Name:        "move_card",
			Description: "Move a card to another column.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"card_id": map[string]any{
						"type":        "string",
						"description": "Id of the card to move",
					},
					"to_column": map[string]any{
						"type":        "string",
						"description": "Destination column id",
					},
				},
				"required": []string{"card_id", "to_column"},
			},
		},
	}, nil
}

func (kanbanCapabilities) ExecuteMCPTool(ctx context.Context, name string, args map[string]any, state State, update UpdateFunc) (any, error) {
	columns := kanbanColumns(state)

	switch name {
	case "list_board":
		return map[string]any{"columns": columns}, nil

	case "add_card":
		columnID, err := stringArg(args, "column")
		if err != nil {
			return nil, err
		}
		title, err := stringArg(args, "title")
		if err != nil {
			return nil, err
		}
		card := kanbanCard{ID: uuid.NewString(), Title: title}
		placed := false
		for i := range columns {
			if columns[i].ID == columnID {
				columns[i].Cards = append(columns[i].Cards, card)
				placed = true
				break
			}
		}
		if !placed {
			return nil, fmt.Errorf("column not found: %s", columnID)
		}
		update(State{"columns": columns})
		return map[string]any{"card_id": card.ID, "column": columnID}, nil

	case "move_card":
		cardID, err := stringArg(args, "card_id")
		if err != nil {
			return nil, err
		}
		toColumn, err := stringArg(args, "to_column")
		if err != nil {
			return nil, err
		}

		var moved *kanbanCard
		for i := range columns {
			for j, card := range columns[i].Cards {
				if card.ID == cardID {
					c := card
					moved = &c
					columns[i].Cards = append(columns[i].Cards[:j], columns[i].Cards[j+1:]...)
					break
				}
			}
			if moved != nil {
				break
			}
		}
		if moved == nil {
			return nil, fmt.Errorf("card not found: %s", cardID)
		}

		placed := false
		for i := range columns {
			if columns[i].ID == toColumn {
				columns[i].Cards = append(columns[i].Cards, *moved)
				placed = true
				break
			}
		}
		if !placed {
			return nil, fmt.Errorf("column not found: %s", toColumn)
		}
		update(State{"columns": columns})
		return map[string]any{"card_id": cardID, "column": toColumn}, nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func (kanbanCapabilities) LLMContext(ctx context.Context, state State) (ContextDescriptor, error) {
	columns := kanbanColumns(state)
	summary := make([]map[string]any, 0, len(columns))
	for _, col := range columns {
		titles := make([]string, 0, len(col.Cards))
		for _, card := range col.Cards {
			titles = append(titles, card.Title)
		}
		summary = append(summary, map[string]any{
			"column": col.Title,
			"cards":  titles,
		})
	}
	return ContextDescriptor{Type: "kanban", Data: summary}, nil
}

// kanbanColumns reads the board from state, tolerating the generic form
// produced by JSON loading.
func kanbanColumns(state State) []kanbanColumn {
	raw, ok := state["columns"]
	if !ok {
		return nil
	}
	if cols, ok := raw.([]kanbanColumn); ok {
		out := make([]kanbanColumn, len(cols))
		for i, c := range cols {
			out[i] = c
			out[i].Cards = append([]kanbanCard(nil), c.Cards...)
		}
		return out
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var cols []kanbanColumn
	if err := json.Unmarshal(data, &cols); err != nil {
		return nil
	}
	return cols
}
