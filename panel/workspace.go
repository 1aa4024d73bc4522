package panel

import (
	"context"
	"fmt"
	"sort"
)

// workspaceCapabilities is the file-manager panel: a flat set of named files
// held in panel state under the "files" key.
type workspaceCapabilities struct {
	BaseCapabilities
}

func workspaceDefinition() Definition {
	return Definition{
		ID:           "workspace",
		Title:        "Workspace",
		Capabilities: workspaceCapabilities{},
		InitialState: func() State {
			return State{"files": map[string]any{}}
		},
	}
}

func (workspaceCapabilities) MCPTools(ctx context.Context, state State) ([]ToolDefinition, error) {
	return []ToolDefinition{
		{
			Name:        "list_files",
			Description: "List all files in the workspace with their names.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "read_file",
			Description: "Read the content of a file in the workspace.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Name of the file to read",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "write_file",
			Description: "Create a file or overwrite an existing file with new content.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Name of the file to write",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "Full file content",
					},
				},
				"required": []string{"path", "content"},
			},
		},
		{
			Name:        "delete_file",
			Description: "Delete a file from the workspace.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Name of the file to delete",
					},
				},
				"required": []string{"path"},
			},
		},
	}, nil
}

func (workspaceCapabilities) ExecuteMCPTool(ctx context.Context, name string, args map[string]any, state State, update UpdateFunc) (any, error) {
	files := workspaceFiles(state)

	switch name {
	case "list_files":
		names := make([]string, 0, len(files))
		for n := range files {
			names = append(names, n)
		}
		sort.Strings(names)
		return map[string]any{"files": names, "count": len(names)}, nil

	case "read_file":
		path, err := stringArg(args, "path")
		if err != nil {
			return nil, err
		}
		content, ok := files[path]
		if !ok {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return map[string]any{"path": path, "content": content}, nil

	case "write_file":
		path, err := stringArg(args, "path")
		if err != nil {
			return nil, err
		}
		content, err := stringArg(args, "content")
		if err != nil {
			return nil, err
		}
		next := cloneFiles(files)
		next[path] = content
		update(State{"files": next})
		return map[string]any{"path": path, "bytes": len(content)}, nil

	case "delete_file":
		path, err := stringArg(args, "path")
		if err != nil {
			return nil, err
		}
		if _, ok := files[path]; !ok {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		next := cloneFiles(files)
		delete(next, path)
		update(State{"files": next})
		return map[string]any{"path": path, "deleted": true}, nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func (workspaceCapabilities) LLMContext(ctx context.Context, state State) (ContextDescriptor, error) {
	files := workspaceFiles(state)
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	return ContextDescriptor{
		Type: "workspace",
		Data: map[string]any{"files": names, "count": len(names)},
	}, nil
}

// workspaceFiles reads the files map from state, tolerating both the typed
// form and the map[string]any form produced by JSON loading.
func workspaceFiles(state State) map[string]string {
	out := map[string]string{}
	raw, ok := state["files"]
	if !ok {
		return out
	}
	switch m := raw.(type) {
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
	case map[string]any:
		for k, v := range m {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

func cloneFiles(files map[string]string) map[string]string {
	out := make(map[string]string, len(files))
	for k, v := range files {
		out[k] = v
	}
	return out
}

// stringArg extracts a required string argument.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %s must be a string", key)
	}
	return s, nil
}
