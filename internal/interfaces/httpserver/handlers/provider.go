// Package handlers wires the HTTP endpoints onto the dispatch layer.
package handlers

import (
	"github.com/rs/zerolog"

	"github.com/netresearch/llmrelay/internal/domain/dispatch"
	"github.com/netresearch/llmrelay/internal/domain/model"
	"github.com/netresearch/llmrelay/internal/infrastructure/configstore"
)

// Provider wires HTTP handlers.
type Provider struct {
	Chat       *ChatHandler
	Embeddings *EmbeddingsHandler
	Models     *ModelsHandler
}

func NewProvider(manager *dispatch.Manager, resolver *dispatch.Resolver, configs *configstore.MemoryStore, models model.Store, log zerolog.Logger) *Provider {
	return &Provider{
		Chat:       NewChatHandler(manager, resolver, configs, log),
		Embeddings: NewEmbeddingsHandler(manager, resolver, configs, log),
		Models:     NewModelsHandler(models, log),
	}
}
