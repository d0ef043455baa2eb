package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/netresearch/llmrelay/internal/domain/model"
	"github.com/netresearch/llmrelay/internal/interfaces/httpserver/responses"
)

// ModelsHandler lists the active model catalog.
type ModelsHandler struct {
	models model.Store
	log    zerolog.Logger
}

func NewModelsHandler(models model.Store, log zerolog.Logger) *ModelsHandler {
	return &ModelsHandler{
		models: models,
		log:    log.With().Str("component", "models-handler").Logger(),
	}
}

// ListModels handles GET /v1/models.
func (h *ModelsHandler) ListModels(reqCtx *gin.Context) {
	models, err := h.models.ActiveModels(reqCtx.Request.Context())
	if err != nil {
		responses.HandleError(reqCtx, err, "failed to list models")
		return
	}
	reqCtx.JSON(http.StatusOK, responses.NewModelList(models))
}
