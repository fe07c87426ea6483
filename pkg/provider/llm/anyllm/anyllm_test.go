package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/joffreyzhang/kurangame/pkg/provider/llm"
	"github.com/joffreyzhang/kurangame/pkg/types"
)

func TestBuildParamsSystemPromptFirst(t *testing.T) {
	p := &Provider{model: "gpt-4o"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are the narrator.",
		Messages:     []types.Message{{Role: types.RoleUser, Content: "look around"}},
	})

	if len(params.Messages) != 2 {
		t.Fatalf("messages: %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role: %q", params.Messages[0].Role)
	}
	if params.Messages[0].ContentString() != "You are the narrator." {
		t.Errorf("system content: %q", params.Messages[0].ContentString())
	}
	if params.Messages[1].Role != "user" {
		t.Errorf("second role: %q", params.Messages[1].Role)
	}
}

func TestBuildParamsSpeakerName(t *testing.T) {
	p := &Provider{model: "gpt-4o"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "Hi", Name: "alice"}},
	})
	if params.Messages[0].Name != "alice" {
		t.Errorf("name: %q", params.Messages[0].Name)
	}
}

func TestBuildParamsSampling(t *testing.T) {
	p := &Provider{model: "gpt-4o"}

	params := p.buildParams(llm.CompletionRequest{
		Messages:    []types.Message{{Role: types.RoleUser, Content: "hi"}},
		Temperature: 0.9,
		MaxTokens:   256,
	})
	if params.Temperature == nil || *params.Temperature != 0.9 {
		t.Errorf("temperature: %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("max tokens: %v", params.MaxTokens)
	}

	// Unset sampling values must stay nil so the backend applies its own
	// defaults.
	params = p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Errorf("zero request produced temperature=%v maxTokens=%v", params.Temperature, params.MaxTokens)
	}
}

func TestModelCapabilitiesTable(t *testing.T) {
	cases := []struct {
		model  string
		window int
		maxOut int
		vision bool
	}{
		{"gpt-4o-mini", 128_000, 16_384, true},
		{"gpt-4", 8_192, 4_096, false},
		{"gpt-3.5-turbo", 16_385, 4_096, false},
		{"o1", 200_000, 100_000, true},
		{"claude-3-5-sonnet-latest", 200_000, 8_192, true},
		{"gemini-1.5-pro", 2_097_152, 8_192, true},
		{"gemini-2.0-flash", 1_048_576, 8_192, true},
		{"my-custom-model", 128_000, 4_096, false},
	}
	for _, tc := range cases {
		caps := modelCapabilities(tc.model)
		if caps.ContextWindow != tc.window {
			t.Errorf("%s: context window %d, want %d", tc.model, caps.ContextWindow, tc.window)
		}
		if caps.MaxOutputTokens != tc.maxOut {
			t.Errorf("%s: max output %d, want %d", tc.model, caps.MaxOutputTokens, tc.maxOut)
		}
		if caps.SupportsVision != tc.vision {
			t.Errorf("%s: vision %v, want %v", tc.model, caps.SupportsVision, tc.vision)
		}
		if !caps.SupportsStreaming {
			t.Errorf("%s: streaming disabled", tc.model)
		}
	}
}

func TestModelCapabilitiesCaseInsensitive(t *testing.T) {
	if modelCapabilities("gpt-4o").ContextWindow != modelCapabilities("GPT-4O").ContextWindow {
		t.Error("model name casing changed the result")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("empty provider name accepted")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("empty model accepted")
	}
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("unknown provider accepted")
	}
}

func TestNewOpenAIBackend(t *testing.T) {
	p, err := New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "gpt-4o" {
		t.Errorf("model: %q", p.model)
	}
}

func TestNewOllamaNoKey(t *testing.T) {
	if _, err := NewOllama("llama3"); err != nil {
		t.Fatalf("NewOllama: %v", err)
	}
}

func TestCountTokens(t *testing.T) {
	p := &Provider{model: "gpt-4o"}

	count, err := p.CountTokens([]types.Message{{Role: types.RoleUser, Content: "Hello world"}})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if count <= 0 {
		t.Errorf("count: %d", count)
	}

	count, err = p.CountTokens(nil)
	if err != nil || count != 0 {
		t.Errorf("empty messages: %d, %v", count, err)
	}
}

func TestCapabilitiesUsesModel(t *testing.T) {
	p := &Provider{model: "gpt-4o"}
	if got, want := p.Capabilities(), modelCapabilities("gpt-4o"); got != want {
		t.Errorf("Capabilities() = %+v, want %+v", got, want)
	}
}
