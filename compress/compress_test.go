package compress

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/dbrheo/dbrheo/llmservice"
	"github.com/dbrheo/dbrheo/types"
)

// fakeProvider reports a fixed CountTokens value and replies to every
// Stream call with a canned summary.
type fakeProvider struct {
	tokens  int
	hasCnt  bool
	summary string
}

func (f *fakeProvider) Name() string                 { return "fake" }
func (f *fakeProvider) Model() string                 { return "fake-model" }
func (f *fakeProvider) SupportsFunctionCalling() bool { return true }
func (f *fakeProvider) CountTokens(ctx context.Context, h types.History) (int, bool, error) {
	return f.tokens, f.hasCnt, nil
}
func (f *fakeProvider) Stream(ctx context.Context, req llmservice.Request) (<-chan llmservice.StreamEvent, error) {
	out := make(chan llmservice.StreamEvent, 2)
	out <- llmservice.TextDeltaEvent{Text: f.summary}
	out <- llmservice.FinishEvent{Reason: llmservice.FinishStop}
	close(out)
	return out, nil
}

func TestShouldCompressUsesProviderCount(t *testing.T) {
	provider := &fakeProvider{tokens: 9000, hasCnt: true}
	c := New(provider, 10000, 0.8)
	if !c.ShouldCompress(context.Background(), types.History{types.TextContent(types.RoleUser, "hi")}) {
		t.Error("expected compression to trigger at 9000/10000 with threshold 0.8")
	}

	low := &fakeProvider{tokens: 100, hasCnt: true}
	c2 := New(low, 10000, 0.8)
	if c2.ShouldCompress(context.Background(), types.History{types.TextContent(types.RoleUser, "hi")}) {
		t.Error("did not expect compression to trigger at 100/10000")
	}
}

func TestShouldCompressFallsBackToCharEstimate(t *testing.T) {
	provider := &fakeProvider{hasCnt: false}
	c := New(provider, 10, 0.5)
	history := types.History{types.TextContent(types.RoleUser, strings.Repeat("x", 100))}
	if !c.ShouldCompress(context.Background(), history) {
		t.Error("expected char-based estimate (100/4=25 tokens) to exceed 0.5*10=5")
	}
}

func TestCompressReplacesPrefixWithSummary(t *testing.T) {
	provider := &fakeProvider{summary: "summary of the earlier conversation"}
	c := New(provider, 1000, 0.8)

	history := types.History{
		types.TextContent(types.RoleUser, "first message"),
		types.TextContent(types.RoleModel, "first reply"),
		types.TextContent(types.RoleUser, "second message"),
		types.TextContent(types.RoleModel, "second reply"),
	}
	out, err := c.Compress(context.Background(), history)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if len(out) == 0 || out[0].Text() != provider.summary {
		t.Fatalf("expected first content to be the summary, got %+v", out[0])
	}
	if len(out) >= len(history) {
		t.Errorf("expected compression to shrink history, got %d >= %d", len(out), len(history))
	}
}

func TestCompressNeverSplitsUnresolvedCallPair(t *testing.T) {
	provider := &fakeProvider{summary: "summary"}
	c := New(provider, 1000, 0.8)

	callContent := types.Content{Role: types.RoleModel, Parts: []types.Part{
		types.FunctionCallPart{Call: types.FunctionCall{ID: "call-1", Name: "run_query", Args: json.RawMessage(`{}`)}},
	}}
	responseContent := types.Content{Role: types.RoleFunction, Parts: []types.Part{
		types.FunctionResponsePart{Response: types.FunctionResponse{ID: "call-1", Name: "run_query", Response: json.RawMessage(`{"ok":true}`)}},
	}}

	history := types.History{
		types.TextContent(types.RoleUser, "earlier unrelated message"),
		types.TextContent(types.RoleModel, "earlier unrelated reply"),
		callContent,
		responseContent,
	}

	out, err := c.Compress(context.Background(), history)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if out[len(out)-1].FunctionResponses() == nil {
		t.Fatal("expected the response content to survive compression intact")
	}
	unresolved := out.UnresolvedCallIDs()
	if len(unresolved) != 0 {
		t.Errorf("expected no unresolved calls after compression, got %v", unresolved)
	}
}

func TestCompressShortHistoryIsNoop(t *testing.T) {
	provider := &fakeProvider{summary: "summary"}
	c := New(provider, 1000, 0.8)
	history := types.History{types.TextContent(types.RoleUser, "hi")}
	out, err := c.Compress(context.Background(), history)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if len(out) != len(history) {
		t.Errorf("expected no-op for a short history, got len %d", len(out))
	}
}
