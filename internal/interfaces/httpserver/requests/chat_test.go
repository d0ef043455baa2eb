package requests

import (
	"encoding/json"
	"testing"

	"github.com/netresearch/llmrelay/internal/domain/llm"
)

func TestChatCompletionRequestSelectors(t *testing.T) {
	payload := `{
		"model": "gpt-4o-mini",
		"messages": [{"role": "user", "content": "hi"}],
		"provider": "azure-prod",
		"configuration": "support-chat"
	}`

	var req ChatCompletionRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if req.Provider != "azure-prod" {
		t.Errorf("unexpected provider %q", req.Provider)
	}
	if req.Configuration != "support-chat" {
		t.Errorf("unexpected configuration %q", req.Configuration)
	}
	if req.Model != "gpt-4o-mini" {
		t.Errorf("unexpected model %q", req.Model)
	}
}

func TestCallOptionsSkipsZeroValues(t *testing.T) {
	payload := `{
		"model": "gpt-4o-mini",
		"messages": [{"role": "user", "content": "hi"}],
		"temperature": 0.7,
		"max_tokens": 256
	}`

	var req ChatCompletionRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	opts := req.CallOptions()
	if len(opts) != 3 {
		t.Errorf("expected only the sent parameters, got %v", opts)
	}
	if temp, ok := opts.Float(llm.OptionTemperature); !ok || temp < 0.69 || temp > 0.71 {
		t.Errorf("unexpected temperature %v (%v)", temp, ok)
	}
	if tokens, ok := opts.Int(llm.OptionMaxTokens); !ok || tokens != 256 {
		t.Errorf("unexpected max_tokens %v", tokens)
	}
	if _, ok := opts[llm.OptionTopP]; ok {
		t.Error("expected unsent top_p to stay out of the option map")
	}
}

func TestDomainMessagesMultiContent(t *testing.T) {
	payload := `{
		"messages": [
			{"role": "user", "content": [
				{"type": "text", "text": "what is shown?"},
				{"type": "image_url", "image_url": {"url": "https://example.com/cat.png"}}
			]},
			{"role": "assistant", "tool_calls": [
				{"id": "call_1", "type": "function",
					"function": {"name": "lookup", "arguments": "{\"q\":\"cats\"}"}}
			]}
		]
	}`

	var req ChatCompletionRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	messages := req.DomainMessages()
	if len(messages) != 2 {
		t.Fatalf("expected two messages, got %d", len(messages))
	}

	parts := messages[0].Parts
	if len(parts) != 2 {
		t.Fatalf("expected two content parts, got %d", len(parts))
	}
	if parts[0].Type != llm.ContentPartText || parts[0].Text != "what is shown?" {
		t.Errorf("unexpected text part %+v", parts[0])
	}
	if parts[1].Type != llm.ContentPartImageURL || parts[1].ImageURL != "https://example.com/cat.png" {
		t.Errorf("unexpected image part %+v", parts[1])
	}

	calls := messages[1].ToolCalls
	if len(calls) != 1 || calls[0].Name != "lookup" || calls[0].ID != "call_1" {
		t.Errorf("unexpected tool calls %+v", calls)
	}
}

func TestEmbeddingInputForms(t *testing.T) {
	var single EmbeddingsRequest
	if err := json.Unmarshal([]byte(`{"input": "just one"}`), &single); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(single.Input.Texts) != 1 || single.Input.Texts[0] != "just one" {
		t.Errorf("unexpected texts %v", single.Input.Texts)
	}

	var many EmbeddingsRequest
	if err := json.Unmarshal([]byte(`{"input": ["a", "b"]}`), &many); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(many.Input.Texts) != 2 {
		t.Errorf("unexpected texts %v", many.Input.Texts)
	}

	var bad EmbeddingsRequest
	if err := json.Unmarshal([]byte(`{"input": 42}`), &bad); err == nil {
		t.Error("expected an error for a numeric input")
	}

	// Marshalling always uses the canonical array form.
	out, err := json.Marshal(single.Input)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(out) != `["just one"]` {
		t.Errorf("unexpected canonical form %s", out)
	}
}
