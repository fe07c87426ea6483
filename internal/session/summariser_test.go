package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/joffreyzhang/kurangame/internal/prompt"
	"github.com/joffreyzhang/kurangame/pkg/provider/llm"
	"github.com/joffreyzhang/kurangame/pkg/provider/llm/mock"
	"github.com/joffreyzhang/kurangame/pkg/types"
)

func TestLLMSummariserFormatsLog(t *testing.T) {
	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "  You explored the village and met Bob. \n"},
	}
	s := NewLLMSummariser(provider)

	now := time.Now().UTC()
	summary, err := s.Summarise(context.Background(), []types.HistoryEntry{
		{Type: types.HistoryNarration, Text: "You enter the village.", Timestamp: now},
		{Type: types.HistoryDialogue, Speaker: "Bob", Text: "Need a blade?", Timestamp: now},
		{Type: types.HistoryHint, Text: "", Timestamp: now}, // empty lines skipped
	})
	if err != nil {
		t.Fatalf("Summarise: %v", err)
	}
	if summary != "You explored the village and met Bob." {
		t.Errorf("summary: %q", summary)
	}

	if len(provider.CompleteCalls) != 1 {
		t.Fatalf("complete calls: %d", len(provider.CompleteCalls))
	}
	req := provider.CompleteCalls[0].Req
	if req.Temperature != 0.3 {
		t.Errorf("temperature: %v", req.Temperature)
	}
	if !strings.Contains(req.SystemPrompt, "returning player") {
		t.Errorf("system prompt: %q", req.SystemPrompt)
	}
	log := req.Messages[len(req.Messages)-1].Content
	if !strings.Contains(log, "[narration]: You enter the village.") {
		t.Errorf("log line missing: %q", log)
	}
	if !strings.Contains(log, "[dialogue/Bob]: Need a blade?") {
		t.Errorf("speaker line missing: %q", log)
	}
}

func TestLLMSummariserEmptyLog(t *testing.T) {
	provider := &mock.Provider{}
	s := NewLLMSummariser(provider)

	summary, err := s.Summarise(context.Background(), nil)
	if err != nil || summary != "" {
		t.Errorf("empty log: %q, %v", summary, err)
	}
	if len(provider.CompleteCalls) != 0 {
		t.Error("empty log must not reach the model")
	}
}

func TestRuntimeRecap(t *testing.T) {
	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "You arrived in the village."},
	}
	rt, _, _ := newTestRuntime(t, provider)
	rt.summariser = NewLLMSummariser(provider)

	if _, err := rt.Create("s1", "f1", "", prompt.DefaultStyle); err != nil {
		t.Fatalf("Create: %v", err)
	}
	seedHistory(t, rt, "s1",
		types.HistoryEntry{Type: types.HistoryNarration, Text: "You arrive.", Timestamp: time.Now().UTC()},
	)

	summary, err := rt.Recap(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Recap: %v", err)
	}
	if summary != "You arrived in the village." {
		t.Errorf("summary: %q", summary)
	}
}

func TestRuntimeRecapNoSummariser(t *testing.T) {
	rt, _, _ := newTestRuntime(t, &mock.Provider{})
	if _, err := rt.Create("s1", "f1", "", prompt.DefaultStyle); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := rt.Recap(context.Background(), "s1"); !errors.Is(err, ErrNoSummariser) {
		t.Errorf("got %v, want ErrNoSummariser", err)
	}
}

func TestRuntimeRecapUnknownSession(t *testing.T) {
	rt, _, _ := newTestRuntime(t, &mock.Provider{})
	rt.summariser = NewLLMSummariser(&mock.Provider{})
	if _, err := rt.Recap(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("got %v, want ErrSessionNotFound", err)
	}
}
