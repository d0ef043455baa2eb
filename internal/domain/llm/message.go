package llm

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPartType discriminates multimodal content parts.
type ContentPartType string

const (
	ContentPartText     ContentPartType = "text"
	ContentPartImageURL ContentPartType = "image_url"
)

// ContentPart is one element of a multimodal message. Text parts carry Text;
// image parts carry ImageURL (https:// or data: URI).
type ContentPart struct {
	Type     ContentPartType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL string          `json:"image_url,omitempty"`
}

// Message represents a single message in the conversation history. Content
// holds plain text; Parts is set instead for multimodal input. ToolCallID and
// Name are only meaningful for RoleTool messages answering a tool call.
type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

// IsMultimodal reports whether the message carries content parts rather than
// plain text.
func (m Message) IsMultimodal() bool {
	return len(m.Parts) > 0
}

// SystemMessage builds a system role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolResultMessage builds a tool role message answering the given call.
func ToolResultMessage(toolCallID, name, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID, Name: name}
}

// UserImageMessage builds a multimodal user message with an instruction text
// part followed by one image part per URL.
func UserImageMessage(text string, imageURLs ...string) Message {
	parts := make([]ContentPart, 0, len(imageURLs)+1)
	if text != "" {
		parts = append(parts, ContentPart{Type: ContentPartText, Text: text})
	}
	for _, url := range imageURLs {
		parts = append(parts, ContentPart{Type: ContentPartImageURL, ImageURL: url})
	}
	return Message{Role: RoleUser, Parts: parts}
}
