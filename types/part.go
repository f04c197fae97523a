// Package types holds the value types shared across the agent core:
// conversational Content/Part, tool call records, and the one-shot abort
// signal threaded through every suspending operation.
package types

import "encoding/json"

// Role identifies whose turn a Content belongs to.
type Role string

const (
	RoleUser     Role = "user"
	RoleModel    Role = "model"
	RoleFunction Role = "function"
)

// Part is a closed sum type: a segment of a Content. Concrete variants
// implement the unexported marker so no package outside types can add a
// new kind.
type Part interface {
	isPart()
}

// TextPart is plain text.
type TextPart struct {
	Text string
}

func (TextPart) isPart() {}

// FunctionCall is a model-issued request to invoke a named tool.
type FunctionCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// FunctionCallPart wraps a FunctionCall as a Content part.
type FunctionCallPart struct {
	Call FunctionCall
}

func (FunctionCallPart) isPart() {}

// FunctionResponse is the paired result of a FunctionCall.
type FunctionResponse struct {
	ID       string
	Name     string
	Response json.RawMessage // present on success
	Error    json.RawMessage // present on failure, shape {"error":{"kind":...,"message":...,"detail":...}}
}

// FunctionResponsePart wraps a FunctionResponse as a Content part.
type FunctionResponsePart struct {
	Response FunctionResponse
}

func (FunctionResponsePart) isPart() {}

// Content is one role's ordered list of parts within the History.
type Content struct {
	Role  Role
	Parts []Part
}

// TextContent builds a single-TextPart Content for the given role.
func TextContent(role Role, text string) Content {
	return Content{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates every TextPart in the Content, in order.
func (c Content) Text() string {
	var out string
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// FunctionCalls returns every FunctionCall carried by this Content, in order.
func (c Content) FunctionCalls() []FunctionCall {
	var out []FunctionCall
	for _, p := range c.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			out = append(out, fc.Call)
		}
	}
	return out
}

// FunctionResponses returns every FunctionResponse carried by this Content, in order.
func (c Content) FunctionResponses() []FunctionResponse {
	var out []FunctionResponse
	for _, p := range c.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			out = append(out, fr.Response)
		}
	}
	return out
}

// History is the full ordered conversation.
type History []Content

// UnresolvedCallIDs returns the ids of FunctionCalls in the history that do
// not yet have a matching FunctionResponse appearing at or after them.
func (h History) UnresolvedCallIDs() []string {
	pending := map[string]int{} // id -> order of first sight as a call
	order := 0
	var ids []string
	for _, c := range h {
		for _, p := range c.Parts {
			switch v := p.(type) {
			case FunctionCallPart:
				if _, seen := pending[v.Call.ID]; !seen {
					pending[v.Call.ID] = order
					ids = append(ids, v.Call.ID)
					order++
				}
			case FunctionResponsePart:
				delete(pending, v.Response.ID)
			}
		}
	}
	var unresolved []string
	for _, id := range ids {
		if _, stillPending := pending[id]; stillPending {
			unresolved = append(unresolved, id)
		}
	}
	return unresolved
}
