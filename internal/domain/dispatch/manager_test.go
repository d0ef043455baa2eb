package dispatch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/netresearch/llmrelay/internal/domain/llm"
	"github.com/netresearch/llmrelay/internal/infrastructure/llmcache"
	"github.com/netresearch/llmrelay/internal/utils/platformerrors"
)

// fakeProvider implements every adapter contract with countable calls.
type fakeProvider struct {
	id           string
	caps         llm.CapabilitySet
	available    bool
	configureErr error

	mu         sync.Mutex
	configured map[string]any
	chatCalls  int
	embedCalls int
	streams    int
	lastOpts   llm.Options
	block      chan struct{}
}

func newFakeProvider(id string, caps ...llm.Capability) *fakeProvider {
	return &fakeProvider{
		id:        id,
		caps:      llm.NewCapabilitySet(caps...),
		available: true,
	}
}

func (f *fakeProvider) ID() string                      { return f.id }
func (f *fakeProvider) Kind() string                    { return "fake" }
func (f *fakeProvider) Capabilities() llm.CapabilitySet { return f.caps }
func (f *fakeProvider) Supports(c llm.Capability) bool  { return f.caps.Has(c) }
func (f *fakeProvider) Available() bool                 { return f.available }

var _ llm.VisionProvider = (*fakeProvider)(nil)
var _ llm.StreamingProvider = (*fakeProvider)(nil)
var _ llm.ToolProvider = (*fakeProvider)(nil)

func (f *fakeProvider) Configure(settings map[string]any) error {
	if f.configureErr != nil {
		return f.configureErr
	}
	f.mu.Lock()
	f.configured = settings
	f.mu.Unlock()
	return nil
}

func (f *fakeProvider) Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.chatCalls++
	f.lastOpts = opts
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return &llm.CompletionResponse{
		Content:      "fake reply",
		Model:        "fake-model",
		Provider:     f.id,
		FinishReason: llm.FinishReasonStop,
		Usage:        llm.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7},
	}, nil
}

func (f *fakeProvider) Complete(ctx context.Context, prompt string, opts llm.Options) (*llm.CompletionResponse, error) {
	return f.Chat(ctx, nil, opts)
}

func (f *fakeProvider) Embed(ctx context.Context, inputs []string, opts llm.Options) (*llm.EmbeddingResponse, error) {
	f.mu.Lock()
	f.embedCalls++
	f.lastOpts = opts
	f.mu.Unlock()
	return &llm.EmbeddingResponse{
		Embeddings: [][]float64{{0.1, 0.2}},
		Model:      "fake-embed",
		Provider:   f.id,
	}, nil
}

func (f *fakeProvider) AnalyzeImage(ctx context.Context, message llm.Message, opts llm.Options) (*llm.VisionResponse, error) {
	f.mu.Lock()
	f.chatCalls++
	f.mu.Unlock()
	return &llm.VisionResponse{Description: "a fake image", Model: "fake-model", Provider: f.id}, nil
}

func (f *fakeProvider) StreamChat(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Stream, error) {
	f.mu.Lock()
	f.streams++
	f.lastOpts = opts
	f.mu.Unlock()
	return llm.NewSliceStream(
		llm.StreamChunk{Content: "fake "},
		llm.StreamChunk{Content: "stream", FinishReason: llm.FinishReasonStop},
	), nil
}

func (f *fakeProvider) ChatWithTools(ctx context.Context, messages []llm.Message, tools []llm.Tool, opts llm.Options) (*llm.CompletionResponse, error) {
	return f.Chat(ctx, messages, opts)
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatCalls
}

func cachedManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	store, err := llmcache.NewMemoryStore(128)
	if err != nil {
		t.Fatalf("NewMemoryStore failed: %v", err)
	}
	return NewManager(llmcache.NewManager(store), nil, opts...)
}

func TestRegisterAndGetProvider(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()

	alpha := newFakeProvider("alpha", llm.CapabilityChat)
	if err := m.Register(ctx, alpha); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := m.GetProvider(ctx, "alpha")
	if err != nil {
		t.Fatalf("GetProvider failed: %v", err)
	}
	if got != llm.Provider(alpha) {
		t.Error("expected the registered adapter back")
	}

	_, err = m.GetProvider(ctx, "ghost")
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if !platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound) {
		t.Errorf("expected not found error, got %v", err)
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Errorf("expected error to carry the id, got %q", err.Error())
	}
}

func TestRegisterOverwrites(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()

	first := newFakeProvider("alpha", llm.CapabilityChat)
	second := newFakeProvider("alpha", llm.CapabilityChat, llm.CapabilityVision)
	if err := m.Register(ctx, first); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := m.Register(ctx, second); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, _ := m.GetProvider(ctx, "alpha")
	if !got.Supports(llm.CapabilityVision) {
		t.Error("expected re-registration to replace the adapter")
	}
}

func TestGetProviderDefault(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()

	_, err := m.GetProvider(ctx, "")
	if err == nil {
		t.Fatal("expected error without default")
	}
	if !strings.Contains(err.Error(), "no provider specified and no default configured") {
		t.Errorf("unexpected message %q", err.Error())
	}

	if err := m.SetDefaultProvider(ctx, "alpha"); err == nil {
		t.Fatal("expected SetDefaultProvider to fail for unregistered id")
	}

	alpha := newFakeProvider("alpha", llm.CapabilityChat)
	if err := m.Register(ctx, alpha); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := m.SetDefaultProvider(ctx, "alpha"); err != nil {
		t.Fatalf("SetDefaultProvider failed: %v", err)
	}

	got, err := m.GetProvider(ctx, "")
	if err != nil {
		t.Fatalf("GetProvider failed: %v", err)
	}
	if got.ID() != "alpha" {
		t.Errorf("expected default provider, got %s", got.ID())
	}
	if m.DefaultProviderID() != "alpha" {
		t.Errorf("unexpected default id %q", m.DefaultProviderID())
	}
}

func TestRegisterAppliesSettings(t *testing.T) {
	settings := map[string]map[string]any{
		"alpha": {llm.SettingDefaultModel: "fake-model"},
	}
	m := NewManager(nil, settings)
	ctx := context.Background()

	alpha := newFakeProvider("alpha", llm.CapabilityChat)
	if err := m.Register(ctx, alpha); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if alpha.configured == nil {
		t.Fatal("expected settings applied at registration")
	}
	if alpha.configured[llm.SettingDefaultModel] != "fake-model" {
		t.Errorf("unexpected settings %v", alpha.configured)
	}

	// No held settings for beta: Configure must not run.
	beta := newFakeProvider("beta", llm.CapabilityChat)
	if err := m.Register(ctx, beta); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if beta.configured != nil {
		t.Error("expected Configure to be skipped without held settings")
	}
}

func TestRegisterConfigureFailureAbortsRegistration(t *testing.T) {
	settings := map[string]map[string]any{
		"alpha": {llm.SettingAPIKey: 42},
	}
	m := NewManager(nil, settings)
	ctx := context.Background()

	alpha := newFakeProvider("alpha", llm.CapabilityChat)
	alpha.configureErr = platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
		platformerrors.ErrorTypeValidation, "bad setting", nil, "0e9de1ad-2f8c-4cde-9c29-2f53dbefae44")

	if err := m.Register(ctx, alpha); err == nil {
		t.Fatal("expected registration to fail")
	}
	if _, err := m.GetProvider(ctx, "alpha"); err == nil {
		t.Error("expected provider to stay unregistered after Configure failure")
	}
}

func TestAvailableProviders(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()

	up := newFakeProvider("up", llm.CapabilityChat)
	down := newFakeProvider("down", llm.CapabilityChat)
	down.available = false
	for _, p := range []*fakeProvider{up, down} {
		if err := m.Register(ctx, p); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	available := m.AvailableProviders()
	if len(available) != 1 || available[0].ID() != "up" {
		t.Errorf("expected only the available provider, got %v", available)
	}
	if !m.HasAvailableProvider() {
		t.Error("expected HasAvailableProvider true")
	}

	down2 := NewManager(nil, nil)
	_ = down2.Register(ctx, down)
	if down2.HasAvailableProvider() {
		t.Error("expected HasAvailableProvider false")
	}
}

func TestChatCapabilityGate(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()

	embedOnly := newFakeProvider("embed-only", llm.CapabilityEmbeddings)
	if err := m.Register(ctx, embedOnly); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := m.Chat(ctx, "embed-only", []llm.Message{llm.UserMessage("hi")}, nil)
	if err == nil {
		t.Fatal("expected capability error")
	}
	if !platformerrors.IsErrorType(err, platformerrors.ErrorTypeUnsupported) {
		t.Errorf("expected unsupported error, got %v", err)
	}
	if !strings.Contains(err.Error(), "embed-only") || !strings.Contains(err.Error(), "chat") {
		t.Errorf("expected error naming provider and capability, got %q", err.Error())
	}
	if embedOnly.calls() != 0 {
		t.Error("expected no adapter invocation after failed gate")
	}
}

func TestVisionNeverFallsBack(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()

	alpha := newFakeProvider("alpha", llm.CapabilityChat)
	beta := newFakeProvider("beta", llm.CapabilityChat, llm.CapabilityVision)
	for _, p := range []*fakeProvider{alpha, beta} {
		if err := m.Register(ctx, p); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	if err := m.SetDefaultProvider(ctx, "alpha"); err != nil {
		t.Fatalf("SetDefaultProvider failed: %v", err)
	}

	// The default lacks vision; beta could serve it but must not be used.
	_, err := m.Vision(ctx, "", llm.UserImageMessage("what?", "https://example.com/x.png"), nil)
	if err == nil {
		t.Fatal("expected capability error")
	}
	if !platformerrors.IsErrorType(err, platformerrors.ErrorTypeUnsupported) {
		t.Errorf("expected unsupported error, got %v", err)
	}
	if !strings.Contains(err.Error(), "alpha") {
		t.Errorf("expected error naming the default provider, got %q", err.Error())
	}
	if beta.calls() != 0 {
		t.Error("expected no fallback to the vision capable provider")
	}
}

func TestChatCaching(t *testing.T) {
	m := cachedManager(t)
	ctx := context.Background()

	alpha := newFakeProvider("alpha", llm.CapabilityChat)
	if err := m.Register(ctx, alpha); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	messages := []llm.Message{llm.UserMessage("say hello")}
	first, err := m.Chat(ctx, "alpha", messages, llm.Options{llm.OptionModel: "fake-model"})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	second, err := m.Chat(ctx, "alpha", messages, llm.Options{llm.OptionModel: "fake-model"})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if alpha.calls() != 1 {
		t.Errorf("expected one upstream call, got %d", alpha.calls())
	}
	if first.Content != second.Content {
		t.Errorf("expected identical cached payload, got %q vs %q", first.Content, second.Content)
	}

	// Different content misses.
	_, err = m.Chat(ctx, "alpha", []llm.Message{llm.UserMessage("say goodbye")}, llm.Options{llm.OptionModel: "fake-model"})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if alpha.calls() != 2 {
		t.Errorf("expected cache miss for changed message, got %d calls", alpha.calls())
	}
}

func TestVolatileOptionsShareCacheKey(t *testing.T) {
	m := cachedManager(t)
	ctx := context.Background()

	alpha := newFakeProvider("alpha", llm.CapabilityChat)
	if err := m.Register(ctx, alpha); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	messages := []llm.Message{llm.UserMessage("hello")}
	if _, err := m.Chat(ctx, "alpha", messages, llm.Options{llm.OptionUser: "u1"}); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	// user differs but is excluded from the key: second call hits.
	if _, err := m.Chat(ctx, "alpha", messages, llm.Options{llm.OptionUser: "u2"}); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if alpha.calls() != 1 {
		t.Errorf("expected user option not to split the cache key, got %d calls", alpha.calls())
	}
}

func TestStreamingNeverCached(t *testing.T) {
	m := cachedManager(t)
	ctx := context.Background()

	alpha := newFakeProvider("alpha", llm.CapabilityChat, llm.CapabilityStreaming)
	if err := m.Register(ctx, alpha); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		stream, err := m.StreamChat(ctx, "alpha", []llm.Message{llm.UserMessage("hi")}, nil)
		if err != nil {
			t.Fatalf("StreamChat failed: %v", err)
		}
		resp, err := llm.CollectStream(stream)
		if err != nil {
			t.Fatalf("CollectStream failed: %v", err)
		}
		if resp.Content != "fake stream" {
			t.Errorf("unexpected stream content %q", resp.Content)
		}
	}

	alpha.mu.Lock()
	streams := alpha.streams
	alpha.mu.Unlock()
	if streams != 2 {
		t.Errorf("expected every stream to reach the adapter, got %d", streams)
	}
}

func TestEmbedCaching(t *testing.T) {
	m := cachedManager(t)
	ctx := context.Background()

	alpha := newFakeProvider("alpha", llm.CapabilityEmbeddings)
	if err := m.Register(ctx, alpha); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	inputs := []string{"first", "second"}
	if _, err := m.Embed(ctx, "alpha", inputs, nil); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	resp, err := m.Embed(ctx, "alpha", inputs, nil)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	alpha.mu.Lock()
	embeds := alpha.embedCalls
	alpha.mu.Unlock()
	if embeds != 1 {
		t.Errorf("expected one upstream call, got %d", embeds)
	}
	if len(resp.Embeddings) != 1 || resp.Embeddings[0][0] != 0.1 {
		t.Errorf("unexpected cached embeddings %v", resp.Embeddings)
	}
}

func TestManagerWithoutCache(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()

	alpha := newFakeProvider("alpha", llm.CapabilityChat)
	if err := m.Register(ctx, alpha); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := m.Chat(ctx, "alpha", []llm.Message{llm.UserMessage("hi")}, nil); err != nil {
			t.Fatalf("Chat failed: %v", err)
		}
	}
	if alpha.calls() != 2 {
		t.Errorf("expected every call upstream without a cache, got %d", alpha.calls())
	}
}

func TestSingleFlightCoalesces(t *testing.T) {
	m := cachedManager(t, WithSingleFlight())
	ctx := context.Background()

	alpha := newFakeProvider("alpha", llm.CapabilityChat)
	alpha.block = make(chan struct{})
	if err := m.Register(ctx, alpha); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	messages := []llm.Message{llm.UserMessage("hello")}
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Chat(ctx, "alpha", messages, nil); err != nil {
				t.Errorf("Chat failed: %v", err)
			}
		}()
	}

	// Let the callers pile onto the in-flight key, then release it.
	time.Sleep(50 * time.Millisecond)
	close(alpha.block)
	wg.Wait()

	if alpha.calls() != 1 {
		t.Errorf("expected one coalesced upstream call, got %d", alpha.calls())
	}
}
