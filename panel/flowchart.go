package panel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// flowchartCapabilities is the flowchart panel. State holds labeled nodes
// and directed edges under the "nodes" and "edges" keys.
type flowchartCapabilities struct {
	BaseCapabilities
}

type flowNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type flowEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func flowchartDefinition() Definition {
	return Definition{
		ID:           "flowchart",
		Title:        "Flowchart",
		Capabilities: flowchartCapabilities{},
		InitialState: func() State {
			return State{"nodes": []flowNode{}, "edges": []flowEdge{}}
		},
	}
}

func (flowchartCapabilities) MCPTools(ctx context.Context, state State) ([]ToolDefinition, error) {
	return []ToolDefinition{
		{
			Name:        "list_nodes",
			Description: "List all nodes and connections in the flowchart.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "add_node",
			Description: "Add a new node to the flowchart.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"label": map[string]any{
						"type":        "string",
						"description": "Node label",
					},
				},
				"required": []string{"label"},
			},
		},
		{
			Name:        "connect_nodes",
			Description: "Create a directed connection between two nodes.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"from": map[string]any{
						"type":        "string",
						"description": "Source node id",
					},
					"to": map[string]any{
						"type":        "string",
						"description": "Target node id",
					},
				},
				"required": []string{"from", "to"},
			},
		},
	}, nil
}

func (flowchartCapabilities) ExecuteMCPTool(ctx context.Context, name string, args map[string]any, state State, update UpdateFunc) (any, error) {
	nodes, edges := flowchartGraph(state)

	switch name {
	case "list_nodes":
		return map[string]any{"nodes": nodes, "edges": edges}, nil

	case "add_node":
		label, err := stringArg(args, "label")
		if err != nil {
			return nil, err
		}
		node := flowNode{ID: uuid.NewString(), Label: label}
		nodes = append(nodes, node)
		update(State{"nodes": nodes})
		return map[string]any{"node_id": node.ID, "label": label}, nil

	case "connect_nodes":
		from, err := stringArg(args, "from")
		if err != nil {
			return nil, err
		}
		to, err := stringArg(args, "to")
		if err != nil {
			return nil, err
		}
		if !hasNode(nodes, from) {
			return nil, fmt.Errorf("node not found: %s", from)
		}
		if !hasNode(nodes, to) {
			return nil, fmt.Errorf("node not found: %s", to)
		}
		edges = append(edges, flowEdge{From: from, To: to})
		update(State{"edges": edges})
		return map[string]any{"from": from, "to": to}, nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func (flowchartCapabilities) LLMContext(ctx context.Context, state State) (ContextDescriptor, error) {
	nodes, edges := flowchartGraph(state)
	return ContextDescriptor{
		Type: "flowchart",
		Data: map[string]any{
			"nodes": nodes,
			"edges": edges,
		},
	}, nil
}

func hasNode(nodes []flowNode, id string) bool {
	for _, n := range nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}

func flowchartGraph(state State) ([]flowNode, []flowEdge) {
	var nodes []flowNode
	var edges []flowEdge
	decodeStateSlice(state["nodes"], &nodes)
	decodeStateSlice(state["edges"], &edges)
	return nodes, edges
}

// decodeStateSlice converts a state value into a typed slice, tolerating the
// generic form produced by JSON loading.
func decodeStateSlice(raw, out any) {
	if raw == nil {
		return
	}
	switch v := raw.(type) {
	case []flowNode:
		if p, ok := out.(*[]flowNode); ok {
			*p = append([]flowNode(nil), v...)
			return
		}
	case []flowEdge:
		if p, ok := out.(*[]flowEdge); ok {
			*p = append([]flowEdge(nil), v...)
			return
		}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return
	}
	json.Unmarshal(data, out)
}
