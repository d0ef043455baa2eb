package responses

import (
	"github.com/netresearch/llmrelay/internal/domain/model"
)

// ModelList follows the OpenAI model list shape, with catalog metadata the
// relay knows about added per entry.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ModelInfo is one catalog entry of a model list response.
type ModelInfo struct {
	ID            string   `json:"id"`
	Object        string   `json:"object"`
	OwnedBy       string   `json:"owned_by,omitempty"`
	DisplayName   string   `json:"display_name,omitempty"`
	Capabilities  []string `json:"capabilities,omitempty"`
	ContextLength int      `json:"context_length,omitempty"`
}

// NewModelList wraps catalog entries in the OpenAI list shape.
func NewModelList(models []*model.Model) *ModelList {
	data := make([]ModelInfo, 0, len(models))
	for _, m := range models {
		info := ModelInfo{
			ID:            m.Identifier,
			Object:        "model",
			DisplayName:   m.DisplayName,
			Capabilities:  m.Capabilities,
			ContextLength: m.TokenLimits.ContextLength,
		}
		if m.Provider != nil {
			info.OwnedBy = m.Provider.Identifier
		}
		data = append(data, info)
	}
	return &ModelList{Object: "list", Data: data}
}
