package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/netresearch/llmrelay/internal/domain/llm"
	"github.com/netresearch/llmrelay/internal/domain/model"
	"github.com/netresearch/llmrelay/internal/infrastructure/logger"
	"github.com/netresearch/llmrelay/internal/utils/platformerrors"
	"github.com/netresearch/llmrelay/internal/utils/ptr"

	"github.com/rs/zerolog"
	"resty.dev/v3"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	// The messages API rejects requests without max_tokens.
	defaultAnthropicMaxTokens = 1024
)

// AnthropicAdapter speaks the native Anthropic messages API. System prompts
// travel in a dedicated field, multimodal and tool traffic as typed content
// blocks.
type AnthropicAdapter struct {
	cfg    Config
	caps   llm.CapabilitySet
	client *resty.Client
	log    zerolog.Logger
}

var (
	_ llm.Provider          = (*AnthropicAdapter)(nil)
	_ llm.VisionProvider    = (*AnthropicAdapter)(nil)
	_ llm.StreamingProvider = (*AnthropicAdapter)(nil)
	_ llm.ToolProvider      = (*AnthropicAdapter)(nil)
	_ ModelLister           = (*AnthropicAdapter)(nil)
)

func NewAnthropicAdapter(cfg Config) *AnthropicAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	cfg.BaseURL = normalizeBaseURL(cfg.BaseURL)
	adapter := &AnthropicAdapter{
		cfg:    cfg,
		caps:   cfg.capabilitySet(),
		client: newHTTPClient(fmt.Sprintf("%sClient", cfg.ID)),
		log:    logger.Component("providers.anthropic"),
	}
	adapter.applyAuth()
	return adapter
}

func (a *AnthropicAdapter) applyAuth() {
	applyAuthHeaders(a.client, model.AdapterKindAnthropic, a.cfg.APIKey)
}

func (a *AnthropicAdapter) ID() string   { return a.cfg.ID }
func (a *AnthropicAdapter) Kind() string { return string(model.AdapterKindAnthropic) }

func (a *AnthropicAdapter) Capabilities() llm.CapabilitySet { return a.caps }

func (a *AnthropicAdapter) Supports(c llm.Capability) bool { return a.caps.Has(c) }

func (a *AnthropicAdapter) Available() bool {
	return a.cfg.BaseURL != "" && hasUsableKey(a.cfg.APIKey)
}

func (a *AnthropicAdapter) Configure(settings map[string]any) error {
	cfg, err := applySettings(a.cfg, settings)
	if err != nil {
		return err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	a.cfg = cfg
	a.caps = cfg.capabilitySet()
	a.applyAuth()
	return nil
}

// wire types

type anthropicRequest struct {
	Model         string             `json:"model"`
	System        string             `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	Tools         []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string                `json:"type"`
	Text      string                `json:"text,omitempty"`
	Source    *anthropicImageSource `json:"source,omitempty"`
	ID        string                `json:"id,omitempty"`
	Name      string                `json:"name,omitempty"`
	Input     json.RawMessage       `json:"input,omitempty"`
	ToolUseID string                `json:"tool_use_id,omitempty"`
	Content   string                `json:"content,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicContentDelta struct {
	Index int `json:"index"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

type anthropicMessageDelta struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicModelList struct {
	Data []struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
		CreatedAt   string `json:"created_at"`
	} `json:"data"`
}

func (a *AnthropicAdapter) prepareRequest(ctx context.Context) *resty.Request {
	req := a.client.R().SetContext(ctx)
	req.SetHeader("Content-Type", "application/json")
	return req
}

func (a *AnthropicAdapter) Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.CompletionResponse, error) {
	request, err := a.messageRequest(ctx, messages, opts, false)
	if err != nil {
		return nil, err
	}

	var respBody anthropicResponse
	resp, err := a.prepareRequest(ctx).
		SetBody(request).
		SetResult(&respBody).
		Post(endpointURL(a.cfg.BaseURL, "/messages"))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, errorFromResponse(ctx, resp, "message request failed")
	}
	return a.completionResponse(&respBody, request.Model), nil
}

func (a *AnthropicAdapter) Complete(ctx context.Context, prompt string, opts llm.Options) (*llm.CompletionResponse, error) {
	return a.Chat(ctx, []llm.Message{llm.UserMessage(prompt)}, opts)
}

// Embed exists to satisfy the uniform contract; the capability set never
// includes embeddings so the dispatch gate rejects the call before it gets
// here.
func (a *AnthropicAdapter) Embed(ctx context.Context, inputs []string, opts llm.Options) (*llm.EmbeddingResponse, error) {
	return nil, platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure,
		platformerrors.ErrorTypeUnsupported, "anthropic does not provide an embeddings API", nil,
		"4d5bfe4f-c4d6-4dee-9790-80f4f4694edd", map[string]any{"provider_id": a.cfg.ID})
}

func (a *AnthropicAdapter) AnalyzeImage(ctx context.Context, message llm.Message, opts llm.Options) (*llm.VisionResponse, error) {
	if !message.IsMultimodal() {
		return nil, platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeValidation, "image analysis requires a multimodal message", nil,
			"1a88af70-2eff-4f6a-9a72-b3c6f7d473d3", map[string]any{"provider_id": a.cfg.ID})
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

func (a *AnthropicAdapter) StreamChat(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Stream, error) {
	request, err := a.messageRequest(ctx, messages, opts, true)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithTimeout(ctx, requestTimeout)

	req := a.prepareRequest(streamCtx).
		SetBody(request).
		SetDoNotParseResponse(true)
	if req.Header.Get("Accept-Encoding") == "" {
		req.SetHeader("Accept-Encoding", "identity")
	}

	resp, err := req.Post(endpointURL(a.cfg.BaseURL, "/messages"))
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
			"streaming request failed: empty response body", nil, "99ecea6c-acea-4691-bb2e-b09161e8af26")
	}

	return newLineStream(resp.RawResponse.Body, cancel, anthropicStreamParser(a.log)), nil
}

func (a *AnthropicAdapter) ChatWithTools(ctx context.Context, messages []llm.Message, tools []llm.Tool, opts llm.Options) (*llm.CompletionResponse, error) {
	request, err := a.messageRequest(ctx, messages, opts, false)
	if err != nil {
		return nil, err
	}
	for _, tool := range tools {
		schema := tool.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		request.Tools = append(request.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}

	var respBody anthropicResponse
	resp, err := a.prepareRequest(ctx).
		SetBody(request).
		SetResult(&respBody).
		Post(endpointURL(a.cfg.BaseURL, "/messages"))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, errorFromResponse(ctx, resp, "tool call request failed")
	}
	return a.completionResponse(&respBody, request.Model), nil
}

func (a *AnthropicAdapter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var respBody anthropicModelList
	resp, err := a.prepareRequest(ctx).
		SetResult(&respBody).
		Get(endpointURL(a.cfg.BaseURL, "/models"))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, errorFromResponse(ctx, resp, "model list request failed")
	}
	infos := make([]ModelInfo, 0, len(respBody.Data))
	for _, m := range respBody.Data {
		created := int64(0)
		if parsed, parseErr := time.Parse(time.RFC3339, m.CreatedAt); parseErr == nil {
			created = parsed.Unix()
		}
		infos = append(infos, ModelInfo{
			ID:      m.ID,
			OwnedBy: "anthropic",
			Created: created,
		})
	}
	return infos, nil
}

func (a *AnthropicAdapter) messageRequest(ctx context.Context, messages []llm.Message, opts llm.Options, stream bool) (*anthropicRequest, error) {
	modelName, err := requireModel(ctx, a.cfg.ID, a.cfg.DefaultModel, opts)
	if err != nil {
		return nil, err
	}

	system, rest := splitSystemPrompt(messages)
	converted := toAnthropicMessages(rest)
	if len(converted) == 0 {
		return nil, platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeValidation, "at least one user or assistant message is required", nil,
			"9a1cc8c9-910e-4fca-b294-214265669ea3", map[string]any{"provider_id": a.cfg.ID})
	}

	request := &anthropicRequest{
		Model:     modelName,
		System:    system,
		Messages:  converted,
		MaxTokens: defaultAnthropicMaxTokens,
		Stream:    stream,
	}
	if v, ok := opts.Int(llm.OptionMaxTokens); ok && v > 0 {
		request.MaxTokens = v
	}
	if v, ok := opts.Float(llm.OptionTemperature); ok {
		request.Temperature = ptr.To(v)
	}
	if v, ok := opts.Float(llm.OptionTopP); ok {
		request.TopP = ptr.To(v)
	}
	if stop := opts.StringSlice(llm.OptionStop); len(stop) > 0 {
		request.StopSequences = stop
	}
	return request, nil
}

// splitSystemPrompt lifts system messages into the dedicated request field
// the messages API expects.
func splitSystemPrompt(messages []llm.Message) (string, []llm.Message) {
	var systemParts []string
	rest := make([]llm.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(systemParts, "\n"), rest
}

func toAnthropicMessages(messages []llm.Message) []anthropicMessage {
	converted := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleTool:
			// Tool results travel as user messages with a tool_result block.
			converted = append(converted, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})
		case llm.RoleUser, llm.RoleAssistant:
			converted = append(converted, anthropicMessage{
				Role:    string(msg.Role),
				Content: toAnthropicContent(msg),
			})
		}
	}
	return converted
}

func toAnthropicContent(msg llm.Message) []anthropicContent {
	var content []anthropicContent
	if msg.IsMultimodal() {
		for _, part := range msg.Parts {
			switch part.Type {
			case llm.ContentPartImageURL:
				content = append(content, anthropicContent{
					Type:   "image",
					Source: imageSourceFromURL(part.ImageURL),
				})
			default:
				content = append(content, anthropicContent{Type: "text", Text: part.Text})
			}
		}
	} else if msg.Content != "" {
		content = append(content, anthropicContent{Type: "text", Text: msg.Content})
	}
	for _, call := range msg.ToolCalls {
		input := json.RawMessage(call.Arguments)
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		content = append(content, anthropicContent{
			Type:  "tool_use",
			ID:    call.ID,
			Name:  call.Name,
			Input: input,
		})
	}
	return content
}

// imageSourceFromURL maps a data: URI onto an inline base64 source and
// everything else onto a URL source.
func imageSourceFromURL(url string) *anthropicImageSource {
	if strings.HasPrefix(url, "data:") {
		rest := strings.TrimPrefix(url, "data:")
		if mediaType, data, ok := strings.Cut(rest, ";base64,"); ok {
			return &anthropicImageSource{Type: "base64", MediaType: mediaType, Data: data}
		}
	}
	return &anthropicImageSource{Type: "url", URL: url}
}

func (a *AnthropicAdapter) completionResponse(respBody *anthropicResponse, requestedModel string) *llm.CompletionResponse {
	out := &llm.CompletionResponse{
		Model:    respBody.Model,
		Provider: a.cfg.ID,
		Usage: llm.Usage{
			PromptTokens:     respBody.Usage.InputTokens,
			CompletionTokens: respBody.Usage.OutputTokens,
			TotalTokens:      respBody.Usage.InputTokens + respBody.Usage.OutputTokens,
		},
		FinishReason: anthropicFinishReason(respBody.StopReason),
	}
	if out.Model == "" {
		out.Model = requestedModel
	}

	var text strings.Builder
	for _, block := range respBody.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	out.Content = text.String()
	if out.HasToolCalls() && out.FinishReason == llm.FinishReasonStop {
		out.FinishReason = llm.FinishReasonToolCalls
	}
	return out
}

func anthropicFinishReason(stopReason string) llm.FinishReason {
	switch stopReason {
	case "max_tokens":
		return llm.FinishReasonLength
	case "tool_use":
		return llm.FinishReasonToolCalls
	case "refusal":
		return llm.FinishReasonContentFilter
	default:
		return llm.FinishReasonStop
	}
}

// anthropicStreamParser follows the event typed SSE grammar: text arrives in
// content_block_delta events, the stop reason in message_delta, message_stop
// closes the exchange.
func anthropicStreamParser(log zerolog.Logger) func(string) (llm.StreamChunk, bool, error) {
	currentEvent := ""
	finishReason := llm.FinishReason("")
	return func(line string) (llm.StreamChunk, bool, error) {
		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			return llm.StreamChunk{}, false, nil
		}
		if !strings.HasPrefix(line, "data:") {
			return llm.StreamChunk{}, false, nil
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		switch currentEvent {
		case "content_block_delta":
			var delta anthropicContentDelta
			if err := json.Unmarshal([]byte(data), &delta); err != nil {
				log.Error().Err(err).Str("data", data).Msg("failed to parse stream chunk JSON")
				return llm.StreamChunk{}, false, nil
			}
			if delta.Delta.Type == "text_delta" && delta.Delta.Text != "" {
				return llm.StreamChunk{Content: delta.Delta.Text}, true, nil
			}
		case "message_delta":
			var delta anthropicMessageDelta
			if err := json.Unmarshal([]byte(data), &delta); err != nil {
				log.Error().Err(err).Str("data", data).Msg("failed to parse stream chunk JSON")
				return llm.StreamChunk{}, false, nil
			}
			if delta.Delta.StopReason != "" {
				finishReason = anthropicFinishReason(delta.Delta.StopReason)
			}
		case "message_stop":
			reason := finishReason
			if reason == "" {
				reason = llm.FinishReasonStop
			}
			return llm.StreamChunk{FinishReason: reason}, true, nil
		case "error":
			return llm.StreamChunk{}, false, fmt.Errorf("stream error event: %s", data)
		}
		return llm.StreamChunk{}, false, nil
	}
}
