package llm

import (
	"io"
	"reflect"
	"testing"
)

func TestCapabilitySet(t *testing.T) {
	set := NewCapabilitySet(CapabilityChat, CapabilityVision, CapabilityChat)

	if len(set) != 2 {
		t.Errorf("NewCapabilitySet() deduped length = %d, want 2", len(set))
	}
	if !set.Has(CapabilityChat) {
		t.Error("Has(chat) = false, want true")
	}
	if set.Has(CapabilityEmbeddings) {
		t.Error("Has(embeddings) = true, want false")
	}
	if !set.HasAll(CapabilityChat, CapabilityVision) {
		t.Error("HasAll(chat, vision) = false, want true")
	}
	if set.HasAll(CapabilityChat, CapabilityTools) {
		t.Error("HasAll(chat, tools) = true, want false")
	}
}

func TestCapabilityMatchingIsCaseSensitive(t *testing.T) {
	set := NewCapabilitySet(CapabilityChat)
	if set.Has(Capability("Chat")) {
		t.Error("capability comparison must be exact, got match for different case")
	}
}

func TestOptionsFloat(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		want   float64
		wantOK bool
	}{
		{"float64", 0.7, 0.7, true},
		{"int", 2, 2, true},
		{"numeric string", "0.25", 0.25, true},
		{"empty string", "", 0, false},
		{"garbage string", "warm", 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{OptionTemperature: tt.value}
			got, ok := opts.Float(OptionTemperature)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Float() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestOptionsMergeAndMeta(t *testing.T) {
	base := Options{OptionModel: "gpt-4o", OptionTemperature: 0.2}
	merged := base.Merge(Options{OptionTemperature: 0.9, OptionProvider: "openai"})

	if temp, _ := merged.Float(OptionTemperature); temp != 0.9 {
		t.Errorf("merged temperature = %v, want 0.9", temp)
	}
	if model, _ := merged.Model(); model != "gpt-4o" {
		t.Errorf("merged model = %q, want gpt-4o", model)
	}
	if base[OptionTemperature] != 0.2 {
		t.Error("Merge() mutated the receiver")
	}

	clean := merged.WithoutMeta()
	if _, ok := clean[OptionProvider]; ok {
		t.Error("WithoutMeta() kept the provider meta key")
	}
	if _, ok := merged[OptionProvider]; !ok {
		t.Error("WithoutMeta() mutated the receiver")
	}
}

func TestOptionsStringSlice(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  []string
	}{
		{"string slice", []string{"END", "STOP"}, []string{"END", "STOP"}},
		{"any slice", []any{"END", 5, "STOP"}, []string{"END", "STOP"}},
		{"scalar", "END", []string{"END"}},
		{"nil", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{OptionStop: tt.value}
			if got := opts.StringSlice(OptionStop); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("StringSlice() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSliceStreamSinglePass(t *testing.T) {
	stream := NewSliceStream(
		StreamChunk{Content: "Hel"},
		StreamChunk{Content: "lo"},
		StreamChunk{FinishReason: FinishReasonStop},
	)

	var got string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		got += chunk.Content
	}
	if got != "Hello" {
		t.Errorf("streamed content = %q, want %q", got, "Hello")
	}

	// The sequence is exhausted; further reads stay at EOF.
	if _, err := stream.Recv(); err != io.EOF {
		t.Errorf("Recv() after exhaustion = %v, want io.EOF", err)
	}
	if _, err := stream.Recv(); err != io.EOF {
		t.Errorf("second Recv() after exhaustion = %v, want io.EOF", err)
	}
}

func TestSliceStreamClose(t *testing.T) {
	stream := NewSliceStream(StreamChunk{Content: "x"})
	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if _, err := stream.Recv(); err != ErrStreamClosed {
		t.Errorf("Recv() after Close = %v, want ErrStreamClosed", err)
	}
}

func TestCollectStream(t *testing.T) {
	stream := NewSliceStream(
		StreamChunk{Content: "The answer"},
		StreamChunk{Content: " is 42."},
		StreamChunk{FinishReason: FinishReasonLength},
	)

	resp, err := CollectStream(stream)
	if err != nil {
		t.Fatalf("CollectStream() error = %v", err)
	}
	if resp.Content != "The answer is 42." {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.FinishReason != FinishReasonLength {
		t.Errorf("FinishReason = %v, want %v", resp.FinishReason, FinishReasonLength)
	}
}

func TestUserImageMessage(t *testing.T) {
	msg := UserImageMessage("describe this", "https://example.com/cat.png")

	if !msg.IsMultimodal() {
		t.Fatal("IsMultimodal() = false, want true")
	}
	if len(msg.Parts) != 2 {
		t.Fatalf("len(Parts) = %d, want 2", len(msg.Parts))
	}
	if msg.Parts[0].Type != ContentPartText || msg.Parts[0].Text != "describe this" {
		t.Errorf("first part = %+v, want text part", msg.Parts[0])
	}
	if msg.Parts[1].Type != ContentPartImageURL || msg.Parts[1].ImageURL != "https://example.com/cat.png" {
		t.Errorf("second part = %+v, want image part", msg.Parts[1])
	}
}

func TestToolFromStruct(t *testing.T) {
	type weatherArgs struct {
		Location string `json:"location" jsonschema:"description=City name"`
		Unit     string `json:"unit,omitempty"`
	}

	tool, err := ToolFromStruct[weatherArgs]("get_weather", "Look up current weather")
	if err != nil {
		t.Fatalf("ToolFromStruct() error = %v", err)
	}
	if tool.Name != "get_weather" {
		t.Errorf("Name = %q", tool.Name)
	}
	if tool.Parameters["type"] != "object" {
		t.Errorf("Parameters type = %v, want object", tool.Parameters["type"])
	}
	props, ok := tool.Parameters["properties"].(map[string]any)
	if !ok {
		t.Fatalf("Parameters missing properties object: %v", tool.Parameters)
	}
	if _, ok := props["location"]; !ok {
		t.Error("schema missing location property")
	}
}

func TestToolCallUnmarshalArguments(t *testing.T) {
	call := ToolCall{ID: "call_1", Name: "get_weather", Arguments: `{"location":"Berlin"}`}

	var args struct {
		Location string `json:"location"`
	}
	if err := call.UnmarshalArguments(&args); err != nil {
		t.Fatalf("UnmarshalArguments() error = %v", err)
	}
	if args.Location != "Berlin" {
		t.Errorf("Location = %q, want Berlin", args.Location)
	}
}
