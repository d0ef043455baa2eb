package v1

import (
	"github.com/gin-gonic/gin"

	"github.com/netresearch/llmrelay/internal/interfaces/httpserver/handlers"
)

// Routes encapsulates versioned route registration.
type Routes struct {
	handlers *handlers.Provider
}

func NewRoutes(provider *handlers.Provider) *Routes {
	return &Routes{handlers: provider}
}

// Register attaches all v1 routes under the /v1 prefix.
func (r *Routes) Register(router gin.IRouter) {
	group := router.Group("/v1")
	group.POST("/chat/completions", r.handlers.Chat.PostCompletion)
	group.POST("/embeddings", r.handlers.Embeddings.PostEmbeddings)
	group.GET("/models", r.handlers.Models.ListModels)
}
