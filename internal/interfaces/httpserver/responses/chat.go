package responses

import (
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/netresearch/llmrelay/internal/domain/llm"
	"github.com/netresearch/llmrelay/internal/utils/idgen"
)

const (
	objectChatCompletion      = "chat.completion"
	objectChatCompletionChunk = "chat.completion.chunk"

	completionIDLength = 24
)

// ChatCompletionResponse extends OpenAI's ChatCompletionResponse with the
// provider that served the call.
type ChatCompletionResponse struct {
	openai.ChatCompletionResponse
	Provider string `json:"provider,omitempty"`
}

// NewCompletionID returns a fresh chat completion id.
func NewCompletionID() string {
	id, err := idgen.GenerateSecureID("chatcmpl", completionIDLength)
	if err != nil {
		return fmt.Sprintf("chatcmpl_%d", time.Now().UnixNano())
	}
	return id
}

// NewChatCompletion wraps a domain completion in the OpenAI response shape.
func NewChatCompletion(resp *llm.CompletionResponse) *ChatCompletionResponse {
	message := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: resp.Content,
	}
	for _, call := range resp.ToolCalls {
		message.ToolCalls = append(message.ToolCalls, openai.ToolCall{
			ID:   call.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}

	return &ChatCompletionResponse{
		ChatCompletionResponse: openai.ChatCompletionResponse{
			ID:      NewCompletionID(),
			Object:  objectChatCompletion,
			Created: time.Now().Unix(),
			Model:   resp.Model,
			Choices: []openai.ChatCompletionChoice{{
				Index:        0,
				Message:      message,
				FinishReason: openai.FinishReason(resp.FinishReason),
			}},
			Usage: openai.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		},
		Provider: resp.Provider,
	}
}

// NewChatCompletionChunk wraps one stream fragment in the OpenAI chunk shape.
// All chunks of one stream share id and creation time.
func NewChatCompletionChunk(id string, created int64, model string, chunk llm.StreamChunk) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		ID:      id,
		Object:  objectChatCompletionChunk,
		Created: created,
		Model:   model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index: 0,
			Delta: openai.ChatCompletionStreamChoiceDelta{
				Content: chunk.Content,
			},
			FinishReason: openai.FinishReason(chunk.FinishReason),
		}},
	}
}
