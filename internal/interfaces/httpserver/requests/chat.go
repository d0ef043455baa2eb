// Package requests defines the inbound HTTP payloads and their conversion
// into domain types. Chat payloads follow the OpenAI wire format, extended
// with the relay's routing selectors.
package requests

import (
	openai "github.com/sashabaranov/go-openai"

	"github.com/netresearch/llmrelay/internal/domain/llm"
)

// ChatCompletionRequest extends OpenAI's ChatCompletionRequest with routing
// selectors. Provider targets a registered provider directly; Configuration
// resolves the call through a named configuration. At most one may be set.
type ChatCompletionRequest struct {
	openai.ChatCompletionRequest

	Provider      string `json:"provider,omitempty"`
	Configuration string `json:"configuration,omitempty"`
}

// DomainMessages converts the OpenAI message list into domain messages.
func (r *ChatCompletionRequest) DomainMessages() []llm.Message {
	return toDomainMessages(r.Messages)
}

// DomainTools converts the OpenAI tool declarations into domain tools.
// Entries without a function definition are dropped.
func (r *ChatCompletionRequest) DomainTools() []llm.Tool {
	if len(r.Tools) == 0 {
		return nil
	}
	converted := make([]llm.Tool, 0, len(r.Tools))
	for _, tool := range r.Tools {
		if tool.Function == nil {
			continue
		}
		params, _ := tool.Function.Parameters.(map[string]any)
		converted = append(converted, llm.Tool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  params,
		})
	}
	return converted
}

// CallOptions maps the generation parameters onto the flat option map the
// dispatch layer consumes. Zero values mean "not sent" on the OpenAI wire
// format and are skipped, so defaulted requests hash to the same cache key.
func (r *ChatCompletionRequest) CallOptions() llm.Options {
	opts := llm.Options{}
	if r.Model != "" {
		opts[llm.OptionModel] = r.Model
	}
	if r.Temperature != 0 {
		opts[llm.OptionTemperature] = float64(r.Temperature)
	}
	if r.MaxTokens != 0 {
		opts[llm.OptionMaxTokens] = r.MaxTokens
	}
	if r.TopP != 0 {
		opts[llm.OptionTopP] = float64(r.TopP)
	}
	if r.FrequencyPenalty != 0 {
		opts[llm.OptionFrequencyPenalty] = float64(r.FrequencyPenalty)
	}
	if r.PresencePenalty != 0 {
		opts[llm.OptionPresencePenalty] = float64(r.PresencePenalty)
	}
	if len(r.Stop) > 0 {
		opts[llm.OptionStop] = r.Stop
	}
	if r.User != "" {
		opts[llm.OptionUser] = r.User
	}
	return opts
}

func toDomainMessages(messages []openai.ChatCompletionMessage) []llm.Message {
	converted := make([]llm.Message, 0, len(messages))
	for _, msg := range messages {
		out := llm.Message{
			Role:       llm.Role(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}
		if len(msg.MultiContent) > 0 {
			out.Parts = toDomainParts(msg.MultiContent)
		}
		for _, call := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})
		}
		converted = append(converted, out)
	}
	return converted
}

func toDomainParts(parts []openai.ChatMessagePart) []llm.ContentPart {
	converted := make([]llm.ContentPart, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case openai.ChatMessagePartTypeImageURL:
			if part.ImageURL == nil {
				continue
			}
			converted = append(converted, llm.ContentPart{
				Type:     llm.ContentPartImageURL,
				ImageURL: part.ImageURL.URL,
			})
		default:
			converted = append(converted, llm.ContentPart{
				Type: llm.ContentPartText,
				Text: part.Text,
			})
		}
	}
	return converted
}
