// Package llmservice normalizes Gemini, Anthropic, and OpenAI streaming
// chat completions into a single StreamEvent protocol, the way
// llm.Provider normalizes them into one ChatMessage/LLMResponse shape but
// generalized to a lazy event sequence instead of a single accumulated
// response.
package llmservice

import "github.com/dbrheo/dbrheo/types"

// StreamEvent is a closed sum type of the normalized events every provider
// emits while streaming one completion.
type StreamEvent interface {
	isStreamEvent()
}

// TextDeltaEvent carries one incremental chunk of assistant text.
type TextDeltaEvent struct {
	Text string
}

func (TextDeltaEvent) isStreamEvent() {}

// FunctionCallEvent signals a complete, parsed tool invocation request.
// Providers that stream tool-call arguments incrementally (OpenAI) buffer
// until the JSON parses cleanly before emitting this.
type FunctionCallEvent struct {
	Call types.FunctionCall
}

func (FunctionCallEvent) isStreamEvent() {}

// UsageUpdateEvent reports token accounting, typically once near the end
// of a stream; CachedTokens is nil for providers that don't report it.
type UsageUpdateEvent struct {
	InputTokens  uint32
	OutputTokens uint32
	CachedTokens *uint32
}

func (UsageUpdateEvent) isStreamEvent() {}

// FinishEvent is the terminal event of every stream; Reason is a
// provider-normalized string such as "stop", "tool_calls", "length", or
// "error".
type FinishEvent struct {
	Reason string
}

func (FinishEvent) isStreamEvent() {}

// Finish reasons, normalized across providers.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
	FinishError     = "error"
)
