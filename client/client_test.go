package client

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dbrheo/dbrheo/config"
	"github.com/dbrheo/dbrheo/llmservice"
	"github.com/dbrheo/dbrheo/tools"
	"github.com/dbrheo/dbrheo/types"
)

// fakeTool is a minimal Tool that always succeeds, mirroring scheduler_test.go.
type fakeTool struct{ name string }

func (f *fakeTool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{Name: f.name, Description: "fake"}
}
func (f *fakeTool) Capabilities() map[types.Capability]struct{} {
	return map[types.Capability]struct{}{types.CapQuery: {}}
}
func (f *fakeTool) Validate(args json.RawMessage) error { return nil }
func (f *fakeTool) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	return tools.SuccessResult("ok"), nil
}
func (f *fakeTool) DefaultTimeoutSecs() uint64 { return 30 }

// fakeProvider replays a scripted sequence of turns: each call to Stream
// returns the next turn's events, looping on the last one if exhausted.
type fakeProvider struct {
	turns [][]llmservice.StreamEvent
	calls int
}

func (f *fakeProvider) Name() string                 { return "fake" }
func (f *fakeProvider) Model() string                 { return "fake-model" }
func (f *fakeProvider) SupportsFunctionCalling() bool { return true }
func (f *fakeProvider) CountTokens(ctx context.Context, h types.History) (int, bool, error) {
	return 0, false, nil
}
func (f *fakeProvider) Stream(ctx context.Context, req llmservice.Request) (<-chan llmservice.StreamEvent, error) {
	idx := f.calls
	if idx >= len(f.turns) {
		idx = len(f.turns) - 1
	}
	f.calls++
	events := f.turns[idx]
	out := make(chan llmservice.StreamEvent, len(events))
	for _, ev := range events {
		out <- ev
	}
	close(out)
	return out, nil
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(map[config.Scope]string{})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func newTestRegistry(t *testing.T, toolsList ...tools.Tool) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	for _, tool := range toolsList {
		if err := reg.Register(tool, nil, 0, nil); err != nil {
			t.Fatalf("register tool: %v", err)
		}
	}
	return reg
}

func drainEvents(events <-chan Event) []Event {
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestSendMessageStreamFinishesWithoutToolCalls(t *testing.T) {
	provider := &fakeProvider{turns: [][]llmservice.StreamEvent{
		{llmservice.TextDeltaEvent{Text: "hello"}, llmservice.FinishEvent{Reason: llmservice.FinishStop}},
	}}
	reg := newTestRegistry(t)
	cfg := newTestConfig(t)
	c := New(reg, nil, provider, cfg, 100000)

	events := make(chan Event, 16)
	var collected []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		collected = drainEvents(events)
	}()

	err := c.SendMessageStream(context.Background(), types.TextContent(types.RoleUser, "hi"), nil, events)
	close(events)
	<-done

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.History()) != 2 {
		t.Fatalf("expected history of 2 (user + model), got %d", len(c.History()))
	}
	if c.History()[0].Role != types.RoleUser {
		t.Errorf("expected first content to be user role, got %s", c.History()[0].Role)
	}

	var sawFinish bool
	for _, ev := range collected {
		if _, ok := ev.(FinishEvent); ok {
			sawFinish = true
		}
	}
	if !sawFinish {
		t.Error("expected a FinishEvent to be emitted")
	}
}

func TestSendMessageStreamDispatchesToolCallsAndAppendsHistory(t *testing.T) {
	provider := &fakeProvider{turns: [][]llmservice.StreamEvent{
		{
			llmservice.FunctionCallEvent{Call: types.FunctionCall{ID: "1", Name: "query_tool", Args: json.RawMessage(`{}`)}},
			llmservice.FinishEvent{Reason: llmservice.FinishToolCalls},
		},
		{llmservice.TextDeltaEvent{Text: "done"}, llmservice.FinishEvent{Reason: llmservice.FinishStop}},
	}}
	reg := newTestRegistry(t, &fakeTool{name: "query_tool"})
	cfg := newTestConfig(t)
	c := New(reg, nil, provider, cfg, 100000)

	events := make(chan Event, 32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		drainEvents(events)
	}()

	err := c.SendMessageStream(context.Background(), types.TextContent(types.RoleUser, "run the query"), nil, events)
	close(events)
	<-done

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	history := c.History()
	if len(history) != 3 {
		t.Fatalf("expected history of 3 (user, model-call, function-response), got %d", len(history))
	}
	if history[1].Role != types.RoleModel || len(history[1].FunctionCalls()) != 1 {
		t.Fatalf("expected second content to be the model's function call, got %+v", history[1])
	}
	if history[2].Role != types.RoleFunction || len(history[2].FunctionResponses()) != 1 {
		t.Fatalf("expected third content to be the function response, got %+v", history[2])
	}
	if len(history.UnresolvedCallIDs()) != 0 {
		t.Errorf("expected no unresolved call ids, got %v", history.UnresolvedCallIDs())
	}
}

func TestSendMessageStreamAbortBeforeFirstTurnShortCircuits(t *testing.T) {
	provider := &fakeProvider{turns: [][]llmservice.StreamEvent{
		{llmservice.TextDeltaEvent{Text: "should not run"}, llmservice.FinishEvent{Reason: llmservice.FinishStop}},
	}}
	reg := newTestRegistry(t)
	cfg := newTestConfig(t)
	c := New(reg, nil, provider, cfg, 100000)

	abort := types.NewAbortSignal(context.Background())
	abort.Trip()

	events := make(chan Event, 4)
	done := make(chan struct{})
	var collected []Event
	go func() {
		defer close(done)
		collected = drainEvents(events)
	}()

	err := c.SendMessageStream(context.Background(), types.TextContent(types.RoleUser, "hi"), abort, events)
	close(events)
	<-done

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.calls != 0 {
		t.Errorf("expected provider.Stream never called after abort, got %d calls", provider.calls)
	}
	if len(collected) != 1 {
		t.Fatalf("expected exactly one FinishEvent, got %d events", len(collected))
	}
	if fe, ok := collected[0].(FinishEvent); !ok || fe.Reason != "cancelled" {
		t.Errorf("expected FinishEvent{Reason: cancelled}, got %+v", collected[0])
	}
}

func TestSendMessageStreamStopsAtMaxTurns(t *testing.T) {
	callTurn := []llmservice.StreamEvent{
		llmservice.FunctionCallEvent{Call: types.FunctionCall{ID: "x", Name: "query_tool", Args: json.RawMessage(`{}`)}},
		llmservice.FinishEvent{Reason: llmservice.FinishStop},
	}
	provider := &fakeProvider{turns: [][]llmservice.StreamEvent{callTurn, callTurn, callTurn}}
	reg := newTestRegistry(t, &fakeTool{name: "query_tool"})
	t.Setenv("DBRHEO_MAX_TURNS", "2")
	cfg := newTestConfig(t)
	c := New(reg, nil, provider, cfg, 100000)

	events := make(chan Event, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		drainEvents(events)
	}()

	err := c.SendMessageStream(context.Background(), types.TextContent(types.RoleUser, "go"), nil, events)
	close(events)
	<-done

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.calls > 2 {
		t.Errorf("expected at most 2 turns under max_turns=2, got %d", provider.calls)
	}
}
