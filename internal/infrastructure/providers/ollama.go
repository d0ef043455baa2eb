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

	"github.com/rs/zerolog"
	"resty.dev/v3"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaAdapter talks to a local Ollama daemon. Chat goes through /api/chat,
// bare prompts through /api/generate, embeddings through /api/embeddings one
// input at a time since the daemon has no batch call.
type OllamaAdapter struct {
	cfg    Config
	caps   llm.CapabilitySet
	client *resty.Client
	log    zerolog.Logger
}

var (
	_ llm.Provider          = (*OllamaAdapter)(nil)
	_ llm.StreamingProvider = (*OllamaAdapter)(nil)
	_ ModelLister           = (*OllamaAdapter)(nil)
)

func NewOllamaAdapter(cfg Config) *OllamaAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaBaseURL
	}
	cfg.BaseURL = normalizeBaseURL(cfg.BaseURL)
	return &OllamaAdapter{
		cfg:    cfg,
		caps:   cfg.capabilitySet(),
		client: newHTTPClient(fmt.Sprintf("%sClient", cfg.ID)),
		log:    logger.Component("providers.ollama"),
	}
}

func (a *OllamaAdapter) ID() string   { return a.cfg.ID }
func (a *OllamaAdapter) Kind() string { return string(model.AdapterKindOllama) }

func (a *OllamaAdapter) Capabilities() llm.CapabilitySet { return a.caps }

func (a *OllamaAdapter) Supports(c llm.Capability) bool { return a.caps.Has(c) }

// Available needs only an endpoint; the daemon is unauthenticated.
func (a *OllamaAdapter) Available() bool {
	return a.cfg.BaseURL != ""
}

func (a *OllamaAdapter) Configure(settings map[string]any) error {
	cfg, err := applySettings(a.cfg, settings)
	if err != nil {
		return err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaBaseURL
	}
	a.cfg = cfg
	a.caps = cfg.capabilitySet()
	return nil
}

// wire types

type ollamaChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string            `json:"model"`
	Message         ollamaChatMessage `json:"message"`
	Done            bool              `json:"done"`
	DoneReason      string            `json:"done_reason"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name       string `json:"name"`
		ModifiedAt string `json:"modified_at"`
	} `json:"models"`
}

func (a *OllamaAdapter) prepareRequest(ctx context.Context) *resty.Request {
	req := a.client.R().SetContext(ctx)
	req.SetHeader("Content-Type", "application/json")
	return req
}

func (a *OllamaAdapter) Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.CompletionResponse, error) {
	modelName, err := requireModel(ctx, a.cfg.ID, a.cfg.DefaultModel, opts)
	if err != nil {
		return nil, err
	}

	request := ollamaChatRequest{
		Model:    modelName,
		Messages: toOllamaMessages(messages),
		Stream:   false,
		Options:  buildOllamaOptions(opts),
	}

	var respBody ollamaChatResponse
	resp, err := a.prepareRequest(ctx).
		SetBody(request).
		SetResult(&respBody).
		Post(endpointURL(a.cfg.BaseURL, "/api/chat"))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, errorFromResponse(ctx, resp, "chat request failed")
	}

	return a.chatCompletionResponse(modelName, respBody.Model, respBody.Message.Content,
		respBody.DoneReason, respBody.PromptEvalCount, respBody.EvalCount), nil
}

func (a *OllamaAdapter) Complete(ctx context.Context, prompt string, opts llm.Options) (*llm.CompletionResponse, error) {
	modelName, err := requireModel(ctx, a.cfg.ID, a.cfg.DefaultModel, opts)
	if err != nil {
		return nil, err
	}

	request := ollamaGenerateRequest{
		Model:   modelName,
		Prompt:  prompt,
		Stream:  false,
		Options: buildOllamaOptions(opts),
	}

	var respBody ollamaGenerateResponse
	resp, err := a.prepareRequest(ctx).
		SetBody(request).
		SetResult(&respBody).
		Post(endpointURL(a.cfg.BaseURL, "/api/generate"))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, errorFromResponse(ctx, resp, "generate request failed")
	}

	return a.chatCompletionResponse(modelName, respBody.Model, respBody.Response,
		respBody.DoneReason, respBody.PromptEvalCount, respBody.EvalCount), nil
}

// Embed runs one /api/embeddings call per input; the daemon has no batch
// endpoint.
func (a *OllamaAdapter) Embed(ctx context.Context, inputs []string, opts llm.Options) (*llm.EmbeddingResponse, error) {
	modelName, err := requireModel(ctx, a.cfg.ID, a.cfg.DefaultModel, opts)
	if err != nil {
		return nil, err
	}

	embeddings := make([][]float64, 0, len(inputs))
	for _, input := range inputs {
		var respBody ollamaEmbedResponse
		resp, err := a.prepareRequest(ctx).
			SetBody(ollamaEmbedRequest{Model: modelName, Prompt: input}).
			SetResult(&respBody).
			Post(endpointURL(a.cfg.BaseURL, "/api/embeddings"))
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, errorFromResponse(ctx, resp, "embeddings request failed")
		}
		embeddings = append(embeddings, respBody.Embedding)
	}

	return &llm.EmbeddingResponse{
		Embeddings: embeddings,
		Model:      modelName,
		Provider:   a.cfg.ID,
	}, nil
}

func (a *OllamaAdapter) StreamChat(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Stream, error) {
	modelName, err := requireModel(ctx, a.cfg.ID, a.cfg.DefaultModel, opts)
	if err != nil {
		return nil, err
	}

	request := ollamaChatRequest{
		Model:    modelName,
		Messages: toOllamaMessages(messages),
		Stream:   true,
		Options:  buildOllamaOptions(opts),
	}

	streamCtx, cancel := context.WithTimeout(ctx, requestTimeout)

	resp, err := a.prepareRequest(streamCtx).
		SetBody(request).
		SetDoNotParseResponse(true).
		Post(endpointURL(a.cfg.BaseURL, "/api/chat"))
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
			"streaming request failed: empty response body", nil, "56db08c3-69e3-4c65-88e4-5e8f8c971f92")
	}

	return newLineStream(resp.RawResponse.Body, cancel, ollamaStreamParser(a.log)), nil
}

func (a *OllamaAdapter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var respBody ollamaTagsResponse
	resp, err := a.prepareRequest(ctx).
		SetResult(&respBody).
		Get(endpointURL(a.cfg.BaseURL, "/api/tags"))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, errorFromResponse(ctx, resp, "model list request failed")
	}
	infos := make([]ModelInfo, 0, len(respBody.Models))
	for _, m := range respBody.Models {
		created := int64(0)
		if parsed, parseErr := time.Parse(time.RFC3339, m.ModifiedAt); parseErr == nil {
			created = parsed.Unix()
		}
		infos = append(infos, ModelInfo{
			ID:      m.Name,
			OwnedBy: "ollama",
			Created: created,
		})
	}
	return infos, nil
}

func (a *OllamaAdapter) chatCompletionResponse(requestedModel, responseModel, content, doneReason string, promptTokens, completionTokens int) *llm.CompletionResponse {
	// Responses served from a warm model sometimes omit eval counts.
	if completionTokens == 0 {
		completionTokens = estimateTokens(content)
	}
	if responseModel == "" {
		responseModel = requestedModel
	}
	return &llm.CompletionResponse{
		Content:  content,
		Model:    responseModel,
		Provider: a.cfg.ID,
		Usage: llm.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
		FinishReason: ollamaFinishReason(doneReason),
	}
}

func toOllamaMessages(messages []llm.Message) []ollamaChatMessage {
	converted := make([]ollamaChatMessage, 0, len(messages))
	for _, msg := range messages {
		out := ollamaChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.IsMultimodal() {
			var text strings.Builder
			for _, part := range msg.Parts {
				switch part.Type {
				case llm.ContentPartImageURL:
					// The daemon takes inline base64 only; remote URLs
					// cannot be forwarded.
					if payload, ok := inlineImagePayload(part.ImageURL); ok {
						out.Images = append(out.Images, payload)
					}
				default:
					text.WriteString(part.Text)
				}
			}
			out.Content = text.String()
		}
		converted = append(converted, out)
	}
	return converted
}

func inlineImagePayload(url string) (string, bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", false
	}
	if _, data, ok := strings.Cut(url, ";base64,"); ok {
		return data, true
	}
	return "", false
}

func buildOllamaOptions(opts llm.Options) map[string]any {
	options := map[string]any{}
	if v, ok := opts.Float(llm.OptionTemperature); ok {
		options["temperature"] = v
	}
	if v, ok := opts.Int(llm.OptionMaxTokens); ok {
		options["num_predict"] = v
	}
	if v, ok := opts.Float(llm.OptionTopP); ok {
		options["top_p"] = v
	}
	if stop := opts.StringSlice(llm.OptionStop); len(stop) > 0 {
		options["stop"] = stop
	}
	if len(options) == 0 {
		return nil
	}
	return options
}

func ollamaFinishReason(doneReason string) llm.FinishReason {
	switch doneReason {
	case "length":
		return llm.FinishReasonLength
	default:
		return llm.FinishReasonStop
	}
}

// estimateTokens is a whitespace word count, good enough for accounting when
// the daemon omits eval counts.
func estimateTokens(text string) int {
	return len(strings.Fields(text))
}

// ollamaStreamParser decodes the ndjson stream /api/chat produces with
// stream enabled: one JSON object per line, the final one flagged done.
func ollamaStreamParser(log zerolog.Logger) func(string) (llm.StreamChunk, bool, error) {
	return func(line string) (llm.StreamChunk, bool, error) {
		if strings.TrimSpace(line) == "" {
			return llm.StreamChunk{}, false, nil
		}

		var chunk ollamaChatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			log.Error().Err(err).Str("data", line).Msg("failed to parse stream chunk JSON")
			return llm.StreamChunk{}, false, nil
		}

		out := llm.StreamChunk{Content: chunk.Message.Content}
		if chunk.Done {
			out.FinishReason = ollamaFinishReason(chunk.DoneReason)
			return out, true, nil
		}
		if out.Content == "" {
			return llm.StreamChunk{}, false, nil
		}
		return out, true, nil
	}
}
