package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExportedMessage is the trimmed message shape in a conversation export.
type ExportedMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Export is a downloadable conversation document.
type Export struct {
	Messages   []ExportedMessage `json:"messages"`
	ExportedAt time.Time         `json:"exportedAt"`
	Model      string            `json:"model"`
	Provider   string            `json:"provider"`
}

// Export returns the current conversation as an export document.
func (c *Controller) Export() Export {
	msgs := c.Messages()
	out := Export{
		Messages:   make([]ExportedMessage, 0, len(msgs)),
		ExportedAt: time.Now(),
		Model:      c.opts.Model,
		Provider:   c.opts.Provider,
	}
	for _, m := range msgs {
		out.Messages = append(out.Messages, ExportedMessage{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return out
}

// ExportJSON renders the export document as indented JSON.
func (c *Controller) ExportJSON() ([]byte, error) {
	data, err := json.MarshalIndent(c.Export(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize export: %w", err)
	}
	return data, nil
}
