package types

import "testing"

func TestUnresolvedCallIDs(t *testing.T) {
	h := History{
		TextContent(RoleUser, "hi"),
		{Role: RoleModel, Parts: []Part{FunctionCallPart{Call: FunctionCall{ID: "c1", Name: "sql_tool"}}}},
		{Role: RoleFunction, Parts: []Part{FunctionResponsePart{Response: FunctionResponse{ID: "c1"}}}},
	}
	if got := h.UnresolvedCallIDs(); len(got) != 0 {
		t.Fatalf("expected no unresolved calls, got %v", got)
	}
}

func TestUnresolvedCallIDsOrphan(t *testing.T) {
	h := History{
		{Role: RoleModel, Parts: []Part{FunctionCallPart{Call: FunctionCall{ID: "c1"}}}},
	}
	got := h.UnresolvedCallIDs()
	if len(got) != 1 || got[0] != "c1" {
		t.Fatalf("expected [c1] unresolved, got %v", got)
	}
}

func TestContentTextConcatenation(t *testing.T) {
	c := Content{Role: RoleModel, Parts: []Part{TextPart{Text: "a"}, TextPart{Text: "b"}}}
	if c.Text() != "ab" {
		t.Fatalf("expected concatenated text, got %q", c.Text())
	}
}
