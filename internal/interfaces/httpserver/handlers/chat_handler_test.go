package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/netresearch/llmrelay/internal/domain/dispatch"
	"github.com/netresearch/llmrelay/internal/domain/llm"
	"github.com/netresearch/llmrelay/internal/domain/model"
	"github.com/netresearch/llmrelay/internal/infrastructure/configstore"
	"github.com/netresearch/llmrelay/internal/infrastructure/modelstore"
	"github.com/netresearch/llmrelay/internal/interfaces/httpserver/handlers"
	v1 "github.com/netresearch/llmrelay/internal/interfaces/httpserver/routes/v1"
)

// stubProvider answers every call with canned payloads and records the
// options it received.
type stubProvider struct {
	id   string
	caps llm.CapabilitySet

	mu        sync.Mutex
	lastOpts  llm.Options
	toolCalls []llm.ToolCall
}

func newStubProvider(id string) *stubProvider {
	return &stubProvider{
		id: id,
		caps: llm.NewCapabilitySet(
			llm.CapabilityChat,
			llm.CapabilityCompletion,
			llm.CapabilityEmbeddings,
			llm.CapabilityStreaming,
			llm.CapabilityTools,
		),
	}
}

var _ llm.StreamingProvider = (*stubProvider)(nil)
var _ llm.ToolProvider = (*stubProvider)(nil)

func (s *stubProvider) ID() string                      { return s.id }
func (s *stubProvider) Kind() string                    { return "stub" }
func (s *stubProvider) Capabilities() llm.CapabilitySet { return s.caps }
func (s *stubProvider) Supports(c llm.Capability) bool  { return s.caps.Has(c) }
func (s *stubProvider) Available() bool                 { return true }
func (s *stubProvider) Configure(map[string]any) error  { return nil }

func (s *stubProvider) Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.CompletionResponse, error) {
	s.record(opts)
	return &llm.CompletionResponse{
		Content:      "stub reply",
		Model:        "stub-model",
		Provider:     s.id,
		FinishReason: llm.FinishReasonStop,
		Usage:        llm.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}, nil
}

func (s *stubProvider) Complete(ctx context.Context, prompt string, opts llm.Options) (*llm.CompletionResponse, error) {
	return s.Chat(ctx, nil, opts)
}

func (s *stubProvider) Embed(ctx context.Context, inputs []string, opts llm.Options) (*llm.EmbeddingResponse, error) {
	s.record(opts)
	vectors := make([][]float64, len(inputs))
	for i := range inputs {
		vectors[i] = []float64{0.1, 0.2, 0.3}
	}
	return &llm.EmbeddingResponse{
		Embeddings: vectors,
		Model:      "stub-embed",
		Provider:   s.id,
		Usage:      llm.Usage{PromptTokens: 4, TotalTokens: 4},
	}, nil
}

func (s *stubProvider) StreamChat(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Stream, error) {
	s.record(opts)
	return llm.NewSliceStream(
		llm.StreamChunk{Content: "stub "},
		llm.StreamChunk{Content: "stream", FinishReason: llm.FinishReasonStop},
	), nil
}

func (s *stubProvider) ChatWithTools(ctx context.Context, messages []llm.Message, tools []llm.Tool, opts llm.Options) (*llm.CompletionResponse, error) {
	s.record(opts)
	return &llm.CompletionResponse{
		Model:        "stub-model",
		Provider:     s.id,
		FinishReason: llm.FinishReasonToolCalls,
		ToolCalls:    s.toolCalls,
	}, nil
}

func (s *stubProvider) record(opts llm.Options) {
	s.mu.Lock()
	s.lastOpts = opts
	s.mu.Unlock()
}

func (s *stubProvider) lastOptions() llm.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOpts
}

// stubFactory hands out the same adapter for every model.
type stubFactory struct {
	provider *stubProvider
}

func (f *stubFactory) ForModel(ctx context.Context, m *model.Model) (llm.Provider, error) {
	return f.provider, nil
}

type testEnv struct {
	router   *gin.Engine
	provider *stubProvider
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	models := modelstore.NewMemoryStore(zerolog.Nop())
	if err := models.Upsert(ctx, &model.Model{
		Identifier:   "stub-model",
		DisplayName:  "Stub Model",
		Provider:     &model.ProviderRef{Identifier: "stub", AdapterKind: model.AdapterKindOpenAI, Active: true},
		Capabilities: []string{"chat", "embeddings"},
		TokenLimits:  model.TokenLimits{ContextLength: 8192},
		Active:       true,
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	stub := newStubProvider("stub")
	manager := dispatch.NewManager(nil, nil)
	if err := manager.Register(ctx, stub); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := manager.SetDefaultProvider(ctx, "stub"); err != nil {
		t.Fatalf("SetDefaultProvider failed: %v", err)
	}

	resolver := dispatch.NewResolver(models, &stubFactory{provider: stub}, nil)

	configs := configstore.NewMemoryStore(models, zerolog.Nop())
	if err := configs.Put(configstore.Record{
		PublicID: "support-chat",
		Mode:     model.SelectionModeFixed,
		ModelID:  "stub-model",
		Options:  map[string]any{"temperature": 0.2},
		Active:   true,
	}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	router := gin.New()
	provider := handlers.NewProvider(manager, resolver, configs, models, zerolog.Nop())
	v1.NewRoutes(provider).Register(router.Group("/"))

	return &testEnv{router: router, provider: stub}
}

func postJSON(t *testing.T, router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestChatCompletion(t *testing.T) {
	env := setupRouter(t)

	w := postJSON(t, env.router, "/v1/chat/completions",
		`{"model": "stub-model", "messages": [{"role": "user", "content": "hi"}]}`)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response["object"] != "chat.completion" {
		t.Errorf("Expected object chat.completion, got %v", response["object"])
	}
	if response["provider"] != "stub" {
		t.Errorf("Expected provider stub, got %v", response["provider"])
	}

	choices, ok := response["choices"].([]interface{})
	if !ok || len(choices) != 1 {
		t.Fatalf("Expected one choice, got %v", response["choices"])
	}
	message := choices[0].(map[string]interface{})["message"].(map[string]interface{})
	if message["content"] != "stub reply" {
		t.Errorf("Expected content 'stub reply', got %v", message["content"])
	}
	if message["role"] != "assistant" {
		t.Errorf("Expected role assistant, got %v", message["role"])
	}

	if got, _ := env.provider.lastOptions().Model(); got != "stub-model" {
		t.Errorf("Expected model option forwarded, got %q", got)
	}
}

func TestChatCompletionValidation(t *testing.T) {
	env := setupRouter(t)

	cases := map[string]string{
		"malformed json": `{"messages": `,
		"empty messages": `{"messages": []}`,
		"both selectors": `{"messages": [{"role": "user", "content": "hi"}],
			"provider": "stub", "configuration": "support-chat"}`,
		"stream with tools": `{"messages": [{"role": "user", "content": "hi"}], "stream": true,
			"tools": [{"type": "function", "function": {"name": "lookup"}}]}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := postJSON(t, env.router, "/v1/chat/completions", body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestChatCompletionUnknownProvider(t *testing.T) {
	env := setupRouter(t)

	w := postJSON(t, env.router, "/v1/chat/completions",
		`{"messages": [{"role": "user", "content": "hi"}], "provider": "ghost"}`)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestChatCompletionConfiguration(t *testing.T) {
	env := setupRouter(t)

	w := postJSON(t, env.router, "/v1/chat/completions",
		`{"configuration": "support-chat", "messages": [{"role": "user", "content": "hi"}]}`)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	opts := env.provider.lastOptions()
	if got, _ := opts.Model(); got != "stub-model" {
		t.Errorf("Expected the resolved model pinned, got %q", got)
	}
	if temp, ok := opts.Float(llm.OptionTemperature); !ok || temp != 0.2 {
		t.Errorf("Expected configuration temperature applied, got %v (%v)", temp, ok)
	}
}

func TestChatCompletionUnknownConfiguration(t *testing.T) {
	env := setupRouter(t)

	w := postJSON(t, env.router, "/v1/chat/completions",
		`{"configuration": "ghost", "messages": [{"role": "user", "content": "hi"}]}`)

	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d: %s", w.Code, w.Body.String())
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if msg, _ := response["message"].(string); !strings.Contains(msg, "not found") {
		t.Errorf("Expected message naming the missing configuration, got %v", response["message"])
	}
}

func TestChatCompletionStream(t *testing.T) {
	env := setupRouter(t)

	w := postJSON(t, env.router, "/v1/chat/completions",
		`{"messages": [{"role": "user", "content": "hi"}], "stream": true}`)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Expected event stream content type, got %q", ct)
	}

	events := parseSSE(t, w.Body.String())
	if len(events) < 3 {
		t.Fatalf("Expected at least two chunks and a terminator, got %d events", len(events))
	}
	if events[len(events)-1] != "[DONE]" {
		t.Errorf("Expected [DONE] terminator, got %q", events[len(events)-1])
	}

	var content strings.Builder
	for i, event := range events[:len(events)-1] {
		var chunk map[string]interface{}
		if err := json.Unmarshal([]byte(event), &chunk); err != nil {
			t.Fatalf("Failed to parse chunk %d: %v", i, err)
		}
		if chunk["object"] != "chat.completion.chunk" {
			t.Errorf("Expected chunk object, got %v", chunk["object"])
		}
		choices := chunk["choices"].([]interface{})
		delta := choices[0].(map[string]interface{})["delta"].(map[string]interface{})
		if text, ok := delta["content"].(string); ok {
			content.WriteString(text)
		}
		if i == 0 && delta["role"] != "assistant" {
			t.Errorf("Expected first delta to carry the assistant role, got %v", delta["role"])
		}
	}
	if content.String() != "stub stream" {
		t.Errorf("Expected concatenated content 'stub stream', got %q", content.String())
	}
}

func TestChatCompletionToolCalls(t *testing.T) {
	env := setupRouter(t)
	env.provider.toolCalls = []llm.ToolCall{
		{ID: "call_1", Name: "lookup_weather", Arguments: `{"city": "Berlin"}`},
	}

	w := postJSON(t, env.router, "/v1/chat/completions",
		`{"messages": [{"role": "user", "content": "weather in berlin?"}],
			"tools": [{"type": "function", "function": {"name": "lookup_weather",
				"parameters": {"type": "object", "properties": {"city": {"type": "string"}}}}}]}`)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	choice := response["choices"].([]interface{})[0].(map[string]interface{})
	if choice["finish_reason"] != "tool_calls" {
		t.Errorf("Expected finish_reason tool_calls, got %v", choice["finish_reason"])
	}
	toolCalls := choice["message"].(map[string]interface{})["tool_calls"].([]interface{})
	if len(toolCalls) != 1 {
		t.Fatalf("Expected one tool call, got %d", len(toolCalls))
	}
	function := toolCalls[0].(map[string]interface{})["function"].(map[string]interface{})
	if function["name"] != "lookup_weather" {
		t.Errorf("Expected function lookup_weather, got %v", function["name"])
	}
	if !strings.Contains(function["arguments"].(string), "Berlin") {
		t.Errorf("Expected arguments forwarded, got %v", function["arguments"])
	}
}

// parseSSE splits an event stream body into its data payloads.
func parseSSE(t *testing.T, body string) []string {
	t.Helper()
	var events []string
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		if !strings.HasPrefix(block, "data: ") {
			t.Fatalf("Unexpected event block %q", block)
		}
		events = append(events, strings.TrimPrefix(block, "data: "))
	}
	return events
}
