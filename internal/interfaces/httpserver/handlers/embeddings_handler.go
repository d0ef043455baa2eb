package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/netresearch/llmrelay/internal/domain/dispatch"
	"github.com/netresearch/llmrelay/internal/domain/llm"
	"github.com/netresearch/llmrelay/internal/infrastructure/configstore"
	"github.com/netresearch/llmrelay/internal/interfaces/httpserver/requests"
	"github.com/netresearch/llmrelay/internal/interfaces/httpserver/responses"
	"github.com/netresearch/llmrelay/internal/utils/platformerrors"
)

// EmbeddingsHandler serves embedding requests with the same routing choices
// as chat: direct provider or named configuration.
type EmbeddingsHandler struct {
	manager  *dispatch.Manager
	resolver *dispatch.Resolver
	configs  *configstore.MemoryStore
	log      zerolog.Logger
}

func NewEmbeddingsHandler(manager *dispatch.Manager, resolver *dispatch.Resolver, configs *configstore.MemoryStore, log zerolog.Logger) *EmbeddingsHandler {
	return &EmbeddingsHandler{
		manager:  manager,
		resolver: resolver,
		configs:  configs,
		log:      log.With().Str("component", "embeddings-handler").Logger(),
	}
}

// PostEmbeddings handles POST /v1/embeddings.
func (h *EmbeddingsHandler) PostEmbeddings(reqCtx *gin.Context) {
	var request requests.EmbeddingsRequest
	if err := reqCtx.ShouldBindJSON(&request); err != nil {
		responses.HandleNewError(reqCtx, platformerrors.ErrorTypeValidation,
			"invalid request body: "+err.Error(), "4ddc86bf-9d41-489c-b866-68b8698d1b85")
		return
	}
	if len(request.Input.Texts) == 0 {
		responses.HandleNewError(reqCtx, platformerrors.ErrorTypeValidation,
			"input must not be empty", "3c974765-801e-4b57-a4e2-f240393255f6")
		return
	}
	if request.Provider != "" && request.Configuration != "" {
		responses.HandleNewError(reqCtx, platformerrors.ErrorTypeValidation,
			"provider and configuration are mutually exclusive", "0e1b80bf-7435-469a-902a-8976216f623c")
		return
	}

	h.log.Info().
		Str("route", "/v1/embeddings").
		Str("model", request.Model).
		Str("provider", request.Provider).
		Str("configuration", request.Configuration).
		Int("inputs", len(request.Input.Texts)).
		Msg("embeddings request received")

	ctx := reqCtx.Request.Context()
	opts := llm.Options{}
	if request.Model != "" {
		opts[llm.OptionModel] = request.Model
	}
	if request.User != "" {
		opts[llm.OptionUser] = request.User
	}

	var (
		result *llm.EmbeddingResponse
		err    error
	)
	if request.Configuration != "" {
		cfg, cfgErr := h.configs.Materialize(ctx, request.Configuration)
		if cfgErr != nil {
			responses.HandleError(reqCtx, cfgErr, "configuration lookup failed")
			return
		}
		result, err = h.resolver.Embed(ctx, cfg, request.Input.Texts, opts)
	} else {
		result, err = h.manager.Embed(ctx, request.Provider, request.Input.Texts, opts)
	}
	if err != nil {
		responses.HandleError(reqCtx, err, "embeddings request failed")
		return
	}

	reqCtx.JSON(http.StatusOK, responses.NewEmbeddings(result))
}
