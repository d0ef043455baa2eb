package responses

import (
	openai "github.com/sashabaranov/go-openai"

	"github.com/netresearch/llmrelay/internal/domain/llm"
)

// EmbeddingsResponse follows the OpenAI embeddings list shape. Vectors keep
// their float64 precision.
type EmbeddingsResponse struct {
	Object   string          `json:"object"`
	Data     []EmbeddingData `json:"data"`
	Model    string          `json:"model"`
	Provider string          `json:"provider,omitempty"`
	Usage    openai.Usage    `json:"usage"`
}

// EmbeddingData is one vector of an embeddings response.
type EmbeddingData struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// NewEmbeddings wraps a domain embedding result in the OpenAI list shape.
func NewEmbeddings(resp *llm.EmbeddingResponse) *EmbeddingsResponse {
	data := make([]EmbeddingData, 0, len(resp.Embeddings))
	for i, vector := range resp.Embeddings {
		data = append(data, EmbeddingData{
			Object:    "embedding",
			Index:     i,
			Embedding: vector,
		})
	}

	return &EmbeddingsResponse{
		Object:   "list",
		Data:     data,
		Model:    resp.Model,
		Provider: resp.Provider,
		Usage: openai.Usage{
			PromptTokens: resp.Usage.PromptTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
}
