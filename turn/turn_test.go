package turn

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dbrheo/dbrheo/llmservice"
	"github.com/dbrheo/dbrheo/types"
)

// fakeProvider streams a fixed sequence of events, ignoring the request.
type fakeProvider struct {
	events []llmservice.StreamEvent
}

func (f *fakeProvider) Name() string                              { return "fake" }
func (f *fakeProvider) Model() string                             { return "fake-model" }
func (f *fakeProvider) SupportsFunctionCalling() bool              { return true }
func (f *fakeProvider) CountTokens(ctx context.Context, h types.History) (int, bool, error) {
	return 0, false, nil
}
func (f *fakeProvider) Stream(ctx context.Context, req llmservice.Request) (<-chan llmservice.StreamEvent, error) {
	out := make(chan llmservice.StreamEvent, len(f.events))
	for _, e := range f.events {
		out <- e
	}
	close(out)
	return out, nil
}

func TestTurnRunAccumulatesTextAndCalls(t *testing.T) {
	provider := &fakeProvider{events: []llmservice.StreamEvent{
		llmservice.TextDeltaEvent{Text: "Hel"},
		llmservice.TextDeltaEvent{Text: "lo"},
		llmservice.FunctionCallEvent{Call: types.FunctionCall{ID: "1", Name: "run_query", Args: json.RawMessage(`{}`)}},
		llmservice.UsageUpdateEvent{InputTokens: 10, OutputTokens: 5},
		llmservice.FinishEvent{Reason: llmservice.FinishToolCalls},
	}}
	tn := New(provider)

	events := make(chan Event, 16)
	var relayed []Event
	done := make(chan struct{})
	go func() {
		for e := range events {
			relayed = append(relayed, e)
		}
		close(done)
	}()

	result, err := tn.Run(context.Background(), llmservice.Request{}, events)
	close(events)
	<-done
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(result.TextSegments) != 2 || result.TextSegments[0] != "Hel" || result.TextSegments[1] != "lo" {
		t.Errorf("unexpected text segments: %v", result.TextSegments)
	}
	if len(result.FunctionCalls) != 1 || result.FunctionCalls[0].Name != "run_query" {
		t.Errorf("unexpected function calls: %v", result.FunctionCalls)
	}
	if result.Usage == nil || result.Usage.InputTokens != 10 {
		t.Errorf("unexpected usage: %+v", result.Usage)
	}
	if result.FinishReason != llmservice.FinishToolCalls {
		t.Errorf("finish reason = %q, want %q", result.FinishReason, llmservice.FinishToolCalls)
	}
	if len(relayed) != len(provider.events) {
		t.Errorf("expected every event relayed, got %d of %d", len(relayed), len(provider.events))
	}
}

func TestTurnRunPropagatesFinishError(t *testing.T) {
	provider := &fakeProvider{events: []llmservice.StreamEvent{
		llmservice.TextDeltaEvent{Text: "partial"},
		llmservice.FinishEvent{Reason: llmservice.FinishError},
	}}
	tn := New(provider)

	_, err := tn.Run(context.Background(), llmservice.Request{}, nil)
	if err == nil {
		t.Fatal("expected error for a stream that finishes with FinishError")
	}
}
