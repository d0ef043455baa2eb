package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/netresearch/llmrelay/internal/domain/llm"
	"github.com/netresearch/llmrelay/internal/domain/model"
	"github.com/netresearch/llmrelay/internal/infrastructure/logger"
	"github.com/netresearch/llmrelay/internal/utils/platformerrors"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"resty.dev/v3"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIAdapter speaks the OpenAI wire protocol. It serves the openai kind
// itself, Azure deployments (same payloads, api-key header and api-version
// query) and custom OpenAI-compatible gateways.
type OpenAIAdapter struct {
	cfg    Config
	caps   llm.CapabilitySet
	client *resty.Client
	log    zerolog.Logger
}

var (
	_ llm.Provider          = (*OpenAIAdapter)(nil)
	_ llm.VisionProvider    = (*OpenAIAdapter)(nil)
	_ llm.StreamingProvider = (*OpenAIAdapter)(nil)
	_ llm.ToolProvider      = (*OpenAIAdapter)(nil)
	_ ModelLister           = (*OpenAIAdapter)(nil)
)

func NewOpenAIAdapter(cfg Config) *OpenAIAdapter {
	if cfg.BaseURL == "" && cfg.Kind == model.AdapterKindOpenAI {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	cfg.BaseURL = normalizeBaseURL(cfg.BaseURL)
	adapter := &OpenAIAdapter{
		cfg:    cfg,
		caps:   cfg.capabilitySet(),
		client: newHTTPClient(fmt.Sprintf("%sClient", cfg.ID)),
		log:    logger.Component("providers.openai"),
	}
	adapter.applyAuth()
	return adapter
}

func (a *OpenAIAdapter) applyAuth() {
	applyAuthHeaders(a.client, a.cfg.Kind, a.cfg.APIKey)
	if a.cfg.Organization != "" {
		a.client.SetHeader("OpenAI-Organization", a.cfg.Organization)
	}
}

func (a *OpenAIAdapter) ID() string   { return a.cfg.ID }
func (a *OpenAIAdapter) Kind() string { return string(a.cfg.Kind) }

func (a *OpenAIAdapter) Capabilities() llm.CapabilitySet { return a.caps }

func (a *OpenAIAdapter) Supports(c llm.Capability) bool { return a.caps.Has(c) }

// Available reports configuration state only. Custom gateways may run
// without credentials; the hosted kinds require a key.
func (a *OpenAIAdapter) Available() bool {
	if a.cfg.BaseURL == "" {
		return false
	}
	if a.cfg.Kind == model.AdapterKindCustom {
		return true
	}
	return hasUsableKey(a.cfg.APIKey)
}

func (a *OpenAIAdapter) Configure(settings map[string]any) error {
	cfg, err := applySettings(a.cfg, settings)
	if err != nil {
		return err
	}
	if cfg.BaseURL == "" && cfg.Kind == model.AdapterKindOpenAI {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	a.cfg = cfg
	a.caps = cfg.capabilitySet()
	a.applyAuth()
	return nil
}

func (a *OpenAIAdapter) prepareRequest(ctx context.Context) *resty.Request {
	req := a.client.R().SetContext(ctx)
	req.SetHeader("Content-Type", "application/json")
	if a.cfg.APIVersion != "" {
		req.SetQueryParam("api-version", a.cfg.APIVersion)
	}
	return req
}

func (a *OpenAIAdapter) Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.CompletionResponse, error) {
	request, err := a.chatRequest(ctx, messages, opts)
	if err != nil {
		return nil, err
	}

	var respBody openai.ChatCompletionResponse
	resp, err := a.prepareRequest(ctx).
		SetBody(request).
		SetResult(&respBody).
		Post(endpointURL(a.cfg.BaseURL, "/chat/completions"))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, errorFromResponse(ctx, resp, "chat completion request failed")
	}
	return a.completionResponse(&respBody, request.Model), nil
}

func (a *OpenAIAdapter) Complete(ctx context.Context, prompt string, opts llm.Options) (*llm.CompletionResponse, error) {
	modelName, err := requireModel(ctx, a.cfg.ID, a.cfg.DefaultModel, opts)
	if err != nil {
		return nil, err
	}

	request := openai.CompletionRequest{
		Model:  modelName,
		Prompt: prompt,
	}
	if v, ok := opts.Float(llm.OptionTemperature); ok {
		request.Temperature = float32(v)
	}
	if v, ok := opts.Int(llm.OptionMaxTokens); ok {
		request.MaxTokens = v
	}
	if v, ok := opts.Float(llm.OptionTopP); ok {
		request.TopP = float32(v)
	}
	if stop := opts.StringSlice(llm.OptionStop); len(stop) > 0 {
		request.Stop = stop
	}

	var respBody openai.CompletionResponse
	resp, err := a.prepareRequest(ctx).
		SetBody(request).
		SetResult(&respBody).
		Post(endpointURL(a.cfg.BaseURL, "/completions"))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, errorFromResponse(ctx, resp, "completion request failed")
	}

	out := &llm.CompletionResponse{
		Model:    respBody.Model,
		Provider: a.cfg.ID,
		Usage: llm.Usage{
			PromptTokens:     respBody.Usage.PromptTokens,
			CompletionTokens: respBody.Usage.CompletionTokens,
			TotalTokens:      respBody.Usage.TotalTokens,
		},
		FinishReason: llm.FinishReasonStop,
	}
	if out.Model == "" {
		out.Model = modelName
	}
	if len(respBody.Choices) > 0 {
		out.Content = respBody.Choices[0].Text
		if respBody.Choices[0].FinishReason == "length" {
			out.FinishReason = llm.FinishReasonLength
		}
	}
	return out, nil
}

func (a *OpenAIAdapter) Embed(ctx context.Context, inputs []string, opts llm.Options) (*llm.EmbeddingResponse, error) {
	modelName, err := requireModel(ctx, a.cfg.ID, a.cfg.DefaultModel, opts)
	if err != nil {
		return nil, err
	}

	request := openai.EmbeddingRequest{
		Input: inputs,
		Model: openai.EmbeddingModel(modelName),
	}
	if user, ok := opts.String(llm.OptionUser); ok && user != "" {
		request.User = user
	}

	var respBody openai.EmbeddingResponse
	resp, err := a.prepareRequest(ctx).
		SetBody(request).
		SetResult(&respBody).
		Post(endpointURL(a.cfg.BaseURL, "/embeddings"))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, errorFromResponse(ctx, resp, "embeddings request failed")
	}

	// Vendors return one item per input; Index pins the slot when they
	// arrive out of order.
	embeddings := make([][]float64, len(respBody.Data))
	for i, item := range respBody.Data {
		slot := item.Index
		if slot < 0 || slot >= len(embeddings) {
			slot = i
		}
		vector := make([]float64, len(item.Embedding))
		for j, v := range item.Embedding {
			vector[j] = float64(v)
		}
		embeddings[slot] = vector
	}

	responseModel := string(respBody.Model)
	if responseModel == "" {
		responseModel = modelName
	}
	return &llm.EmbeddingResponse{
		Embeddings: embeddings,
		Model:      responseModel,
		Provider:   a.cfg.ID,
		Usage: llm.Usage{
			PromptTokens: respBody.Usage.PromptTokens,
			TotalTokens:  respBody.Usage.TotalTokens,
		},
	}, nil
}

func (a *OpenAIAdapter) AnalyzeImage(ctx context.Context, message llm.Message, opts llm.Options) (*llm.VisionResponse, error) {
	if !message.IsMultimodal() {
		return nil, platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeValidation, "image analysis requires a multimodal message", nil,
			"ad9f285b-a7ae-46e3-a06d-38b4944ff994", map[string]any{"provider_id": a.cfg.ID})
	}
	completion, err := a.Chat(ctx, []llm.Message{message}, opts)
	if err != nil {
		return nil, err
	}
	return &llm.VisionResponse{
		Description: completion.Content,
		Model:       completion.Model,
		Provider:    completion.Provider,
		Usage:       completion.Usage,
	}, nil
}

func (a *OpenAIAdapter) StreamChat(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Stream, error) {
	request, err := a.chatRequest(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	request.Stream = true
	request.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	// The timeout covers the whole stream; cancel is handed to the stream
	// so the connection is released on Close.
	streamCtx, cancel := context.WithTimeout(ctx, requestTimeout)

	req := a.prepareRequest(streamCtx).
		SetBody(request).
		SetDoNotParseResponse(true)
	if req.Header.Get("Accept-Encoding") == "" {
		req.SetHeader("Accept-Encoding", "identity")
	}

	resp, err := req.Post(endpointURL(a.cfg.BaseURL, "/chat/completions"))
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.IsError() {
		err := errorFromResponse(ctx, resp, "streaming request failed")
		cancel()
		return nil, err
	}
	if resp.RawResponse == nil || resp.RawResponse.Body == nil {
		cancel()
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal,
			"streaming request failed: empty response body", nil, "429f45c6-3832-4c10-a5b9-199770ac7d9c")
	}

	return newLineStream(resp.RawResponse.Body, cancel, openAIStreamParser(a.log)), nil
}

func (a *OpenAIAdapter) ChatWithTools(ctx context.Context, messages []llm.Message, tools []llm.Tool, opts llm.Options) (*llm.CompletionResponse, error) {
	request, err := a.chatRequest(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	for _, tool := range tools {
		request.Tools = append(request.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	var respBody openai.ChatCompletionResponse
	resp, err := a.prepareRequest(ctx).
		SetBody(request).
		SetResult(&respBody).
		Post(endpointURL(a.cfg.BaseURL, "/chat/completions"))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, errorFromResponse(ctx, resp, "tool call request failed")
	}
	return a.completionResponse(&respBody, request.Model), nil
}

// ListModels fetches the upstream model catalog for periodic registry sync.
func (a *OpenAIAdapter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var respBody openai.ModelsList
	resp, err := a.prepareRequest(ctx).
		SetResult(&respBody).
		Get(endpointURL(a.cfg.BaseURL, "/models"))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, errorFromResponse(ctx, resp, "model list request failed")
	}
	infos := make([]ModelInfo, 0, len(respBody.Models))
	for _, m := range respBody.Models {
		infos = append(infos, ModelInfo{
			ID:      m.ID,
			OwnedBy: m.OwnedBy,
			Created: m.CreatedAt,
		})
	}
	return infos, nil
}

func (a *OpenAIAdapter) chatRequest(ctx context.Context, messages []llm.Message, opts llm.Options) (openai.ChatCompletionRequest, error) {
	modelName, err := requireModel(ctx, a.cfg.ID, a.cfg.DefaultModel, opts)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}
	request := openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: toOpenAIMessages(messages),
	}
	applyGenerationOptions(&request, opts)
	return request, nil
}

func applyGenerationOptions(request *openai.ChatCompletionRequest, opts llm.Options) {
	if v, ok := opts.Float(llm.OptionTemperature); ok {
		request.Temperature = float32(v)
	}
	if v, ok := opts.Int(llm.OptionMaxTokens); ok {
		request.MaxTokens = v
	}
	if v, ok := opts.Float(llm.OptionTopP); ok {
		request.TopP = float32(v)
	}
	if v, ok := opts.Float(llm.OptionFrequencyPenalty); ok {
		request.FrequencyPenalty = float32(v)
	}
	if v, ok := opts.Float(llm.OptionPresencePenalty); ok {
		request.PresencePenalty = float32(v)
	}
	if stop := opts.StringSlice(llm.OptionStop); len(stop) > 0 {
		request.Stop = stop
	}
	if user, ok := opts.String(llm.OptionUser); ok && user != "" {
		request.User = user
	}
}

func toOpenAIMessages(messages []llm.Message) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		out := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		if msg.IsMultimodal() {
			out.Content = ""
			out.MultiContent = toOpenAIParts(msg.Parts)
		}
		for _, call := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		converted = append(converted, out)
	}
	return converted
}

func toOpenAIParts(parts []llm.ContentPart) []openai.ChatMessagePart {
	converted := make([]openai.ChatMessagePart, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case llm.ContentPartImageURL:
			converted = append(converted, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: part.ImageURL},
			})
		default:
			converted = append(converted, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: part.Text,
			})
		}
	}
	return converted
}

func (a *OpenAIAdapter) completionResponse(respBody *openai.ChatCompletionResponse, requestedModel string) *llm.CompletionResponse {
	out := &llm.CompletionResponse{
		Model:    respBody.Model,
		Provider: a.cfg.ID,
		Usage: llm.Usage{
			PromptTokens:     respBody.Usage.PromptTokens,
			CompletionTokens: respBody.Usage.CompletionTokens,
			TotalTokens:      respBody.Usage.TotalTokens,
		},
		FinishReason: llm.FinishReasonStop,
	}
	if out.Model == "" {
		out.Model = requestedModel
	}
	if len(respBody.Choices) == 0 {
		return out
	}

	choice := respBody.Choices[0]
	out.Content = choice.Message.Content
	out.FinishReason = chatFinishReason(choice.FinishReason)
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	if out.HasToolCalls() && out.FinishReason == llm.FinishReasonStop {
		out.FinishReason = llm.FinishReasonToolCalls
	}
	return out
}

func chatFinishReason(reason openai.FinishReason) llm.FinishReason {
	switch reason {
	case openai.FinishReasonLength:
		return llm.FinishReasonLength
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return llm.FinishReasonToolCalls
	case openai.FinishReasonContentFilter:
		return llm.FinishReasonContentFilter
	default:
		return llm.FinishReasonStop
	}
}

func openAIStreamParser(log zerolog.Logger) func(string) (llm.StreamChunk, bool, error) {
	return func(line string) (llm.StreamChunk, bool, error) {
		if !strings.HasPrefix(line, dataPrefix) {
			return llm.StreamChunk{}, false, nil
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if data == doneMarker {
			return llm.StreamChunk{}, false, io.EOF
		}

		var chunk openai.ChatCompletionStreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Error().Err(err).Str("data", data).Msg("failed to parse stream chunk JSON")
			return llm.StreamChunk{}, false, nil
		}

		out := llm.StreamChunk{}
		for _, choice := range chunk.Choices {
			out.Content += choice.Delta.Content
			if choice.FinishReason != "" && choice.FinishReason != openai.FinishReasonNull {
				out.FinishReason = chatFinishReason(choice.FinishReason)
			}
		}
		if out.Content == "" && out.FinishReason == "" {
			return llm.StreamChunk{}, false, nil
		}
		return out, true, nil
	}
}
