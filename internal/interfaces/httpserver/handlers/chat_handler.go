package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/netresearch/llmrelay/internal/domain/dispatch"
	"github.com/netresearch/llmrelay/internal/domain/llm"
	"github.com/netresearch/llmrelay/internal/domain/model"
	"github.com/netresearch/llmrelay/internal/infrastructure/configstore"
	"github.com/netresearch/llmrelay/internal/interfaces/httpserver/middlewares"
	"github.com/netresearch/llmrelay/internal/interfaces/httpserver/requests"
	"github.com/netresearch/llmrelay/internal/interfaces/httpserver/responses"
	"github.com/netresearch/llmrelay/internal/utils/platformerrors"
)

const doneMarker = "[DONE]"

// ChatHandler serves chat completions, streamed and plain, routed either at a
// registered provider or through a named configuration.
type ChatHandler struct {
	manager  *dispatch.Manager
	resolver *dispatch.Resolver
	configs  *configstore.MemoryStore
	log      zerolog.Logger
}

func NewChatHandler(manager *dispatch.Manager, resolver *dispatch.Resolver, configs *configstore.MemoryStore, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		manager:  manager,
		resolver: resolver,
		configs:  configs,
		log:      log.With().Str("component", "chat-handler").Logger(),
	}
}

// PostCompletion handles POST /v1/chat/completions. With stream=true the
// response is relayed as SSE data events terminated by [DONE]; otherwise a
// single OpenAI-shaped JSON document is returned.
func (h *ChatHandler) PostCompletion(reqCtx *gin.Context) {
	var request requests.ChatCompletionRequest
	if err := reqCtx.ShouldBindJSON(&request); err != nil {
		responses.HandleNewError(reqCtx, platformerrors.ErrorTypeValidation,
			"invalid request body: "+err.Error(), "aaab8eff-96a1-428d-a329-c00023b6fd26")
		return
	}
	if len(request.Messages) == 0 {
		responses.HandleNewError(reqCtx, platformerrors.ErrorTypeValidation,
			"messages must not be empty", "85c46512-ed2e-45a9-928e-21dadf7d6e16")
		return
	}
	if request.Provider != "" && request.Configuration != "" {
		responses.HandleNewError(reqCtx, platformerrors.ErrorTypeValidation,
			"provider and configuration are mutually exclusive", "b076910f-000e-46ea-889f-d133a1041201")
		return
	}
	if request.Stream && len(request.Tools) > 0 {
		responses.HandleNewError(reqCtx, platformerrors.ErrorTypeValidation,
			"tool calls do not support streaming", "2ed6327c-e9d1-4f10-ab54-7823d759ff17")
		return
	}

	h.log.Info().
		Str("route", "/v1/chat/completions").
		Str("model", request.Model).
		Str("provider", request.Provider).
		Str("configuration", request.Configuration).
		Int("messages", len(request.Messages)).
		Bool("stream", request.Stream).
		Msg("chat completion request received")

	ctx := reqCtx.Request.Context()

	var cfg *model.Configuration
	if request.Configuration != "" {
		var err error
		cfg, err = h.configs.Materialize(ctx, request.Configuration)
		if err != nil {
			responses.HandleError(reqCtx, err, "configuration lookup failed")
			return
		}
	}

	messages := request.DomainMessages()
	opts := request.CallOptions()

	if request.Stream {
		h.streamCompletion(reqCtx, cfg, &request, messages, opts)
		return
	}

	var (
		result *llm.CompletionResponse
		err    error
	)
	switch {
	case len(request.Tools) > 0 && cfg != nil:
		result, err = h.resolver.ChatWithTools(ctx, cfg, messages, request.DomainTools(), opts)
	case len(request.Tools) > 0:
		result, err = h.manager.ChatWithTools(ctx, request.Provider, messages, request.DomainTools(), opts)
	case cfg != nil:
		result, err = h.resolver.Chat(ctx, cfg, messages, opts)
	default:
		result, err = h.manager.Chat(ctx, request.Provider, messages, opts)
	}
	if err != nil {
		responses.HandleError(reqCtx, err, "chat completion failed")
		return
	}

	reqCtx.JSON(http.StatusOK, responses.NewChatCompletion(result))
}

// streamCompletion acquires the stream first, so capability and routing
// failures still surface as plain JSON errors before any SSE bytes are sent.
func (h *ChatHandler) streamCompletion(reqCtx *gin.Context, cfg *model.Configuration, request *requests.ChatCompletionRequest, messages []llm.Message, opts llm.Options) {
	ctx := reqCtx.Request.Context()

	var (
		stream llm.Stream
		err    error
	)
	if cfg != nil {
		stream, err = h.resolver.StreamChat(ctx, cfg, messages, opts)
	} else {
		stream, err = h.manager.StreamChat(ctx, request.Provider, messages, opts)
	}
	if err != nil {
		responses.HandleError(reqCtx, err, "stream setup failed")
		return
	}
	defer stream.Close()

	if _, ok := middlewares.PrepareSSE(reqCtx); !ok {
		responses.HandleNewError(reqCtx, platformerrors.ErrorTypeInternal,
			"response writer does not support streaming", "4b05a211-1f27-4219-ac37-0a6ebb2d36aa")
		return
	}

	id := responses.NewCompletionID()
	created := time.Now().Unix()
	first := true

	for {
		chunk, recvErr := stream.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			h.log.Warn().Err(recvErr).Str("completion_id", id).Msg("stream aborted mid-flight")
			h.writeChunk(reqCtx, responses.NewChatCompletionChunk(id, created, request.Model,
				llm.StreamChunk{FinishReason: llm.FinishReasonError}))
			break
		}

		out := responses.NewChatCompletionChunk(id, created, request.Model, chunk)
		if first {
			out.Choices[0].Delta.Role = openai.ChatMessageRoleAssistant
			first = false
		}
		if !h.writeChunk(reqCtx, out) {
			return
		}
	}

	if err := h.writeSSEData(reqCtx, doneMarker); err != nil {
		h.log.Warn().Err(err).Str("completion_id", id).Msg("failed to write stream terminator")
	}
}

func (h *ChatHandler) writeChunk(reqCtx *gin.Context, chunk openai.ChatCompletionStreamResponse) bool {
	payload, err := json.Marshal(chunk)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode stream chunk")
		return false
	}
	if err := h.writeSSEData(reqCtx, string(payload)); err != nil {
		h.log.Warn().Err(err).Msg("client closed stream connection")
		return false
	}
	return true
}

// writeSSEData writes one SSE data event and flushes it to the client.
func (h *ChatHandler) writeSSEData(reqCtx *gin.Context, data string) error {
	if _, err := reqCtx.Writer.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := reqCtx.Writer.Write([]byte(data)); err != nil {
		return err
	}
	if _, err := reqCtx.Writer.Write([]byte("\n\n")); err != nil {
		return err
	}
	reqCtx.Writer.Flush()
	return nil
}
