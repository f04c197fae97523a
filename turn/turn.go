// Package turn drives a single LLM invocation: send history, relay text as
// it streams, collect the function calls the model asked for. It is the
// generalization of the teacher's Agent.think, which parsed one Decision
// out of an LLM response; Turn instead emits a stream of typed events and
// leaves history mutation to the caller.
package turn

import (
	"context"

	"github.com/dbrheo/dbrheo/errs"
	"github.com/dbrheo/dbrheo/llmservice"
	"github.com/dbrheo/dbrheo/types"
)

// Event is an alias of llmservice.StreamEvent; Run forwards each provider
// event unchanged.
type Event = llmservice.StreamEvent

// Result is what one Turn produces once its stream completes.
type Result struct {
	TextSegments  []string
	FunctionCalls []types.FunctionCall
	Usage         *llmservice.UsageUpdateEvent
	FinishReason  string
}

// Turn runs one request against a provider and relays its events live.
type Turn struct {
	provider llmservice.Provider
}

// New builds a Turn bound to a provider.
func New(provider llmservice.Provider) *Turn {
	return &Turn{provider: provider}
}

// Run sends req to the provider, forwarding every StreamEvent to events as
// it arrives (never closed by Run — the caller owns it), and returns the
// accumulated Result once the stream's FinishEvent is seen. Run never
// mutates req.History; the caller commits appended Contents after Run
// returns, per the "Turn never mutates history directly" invariant.
func (t *Turn) Run(ctx context.Context, req llmservice.Request, events chan<- Event) (Result, error) {
	stream, err := t.provider.Stream(ctx, req)
	if err != nil {
		return Result{}, errs.Wrap(errs.LLMTransportError, "turn: failed to start stream", err)
	}

	var result Result
	for ev := range stream {
		if events != nil {
			select {
			case events <- ev:
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
		switch v := ev.(type) {
		case llmservice.TextDeltaEvent:
			result.TextSegments = append(result.TextSegments, v.Text)
		case llmservice.FunctionCallEvent:
			result.FunctionCalls = append(result.FunctionCalls, v.Call)
		case llmservice.UsageUpdateEvent:
			usage := v
			result.Usage = &usage
		case llmservice.FinishEvent:
			result.FinishReason = v.Reason
		}
	}

	if result.FinishReason == llmservice.FinishError {
		return result, errs.New(errs.LLMProtocolError, "turn: provider stream finished with an error")
	}
	return result, nil
}
