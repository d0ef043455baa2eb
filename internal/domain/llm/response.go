package llm

// FinishReason explains why generation stopped.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonError         FinishReason = "error"
)

// Usage contains token accounting metadata.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add merges another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// CompletionResponse is the uniform result of chat, completion and
// tool-calling operations, regardless of vendor.
type CompletionResponse struct {
	Content      string       `json:"content"`
	Model        string       `json:"model"`
	Provider     string       `json:"provider"`
	Usage        Usage        `json:"usage"`
	FinishReason FinishReason `json:"finish_reason"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
}

// HasToolCalls reports whether the model requested tool invocations instead
// of (or alongside) text content.
func (r *CompletionResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// EmbeddingResponse is the uniform result of an embeddings operation. One
// vector per input, in input order.
type EmbeddingResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Model      string      `json:"model"`
	Provider   string      `json:"provider"`
	Usage      Usage       `json:"usage"`
}

// VisionResponse is the uniform result of an image analysis operation.
type VisionResponse struct {
	Description string `json:"description"`
	Model       string `json:"model"`
	Provider    string `json:"provider"`
	Usage       Usage  `json:"usage"`
}
