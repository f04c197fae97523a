// Package nextspeaker decides, after a Turn finishes, whether the model
// should keep talking without fresh user input. It is grounded on
// orchestration.Coordinator.Validate's shape: a pure function over a
// structured record, no side effects, repurposed here to classify
// "continue vs. stop" instead of "contract satisfied vs. not".
package nextspeaker

import (
	"context"
	"strings"

	"github.com/dbrheo/dbrheo/llmservice"
	"github.com/dbrheo/dbrheo/types"
)

// Reason labels why a Decision came out the way it did, for logging.
type Reason string

const (
	ReasonTurnBudgetExhausted Reason = "turn_budget_exhausted"
	ReasonNoFunctionResponse  Reason = "no_function_response"
	ReasonFinishNotStop       Reason = "finish_not_stop"
	ReasonHeuristicContinue   Reason = "heuristic_continue"
	ReasonHeuristicStop       Reason = "heuristic_stop"
	ReasonClassifierContinue Reason = "classifier_continue"
	ReasonClassifierStop     Reason = "classifier_stop"
)

// Decision is the classifier's verdict.
type Decision struct {
	Continue bool
	Reason   Reason
}

// Input is the structured record Decide classifies over.
type Input struct {
	FinishReason           string
	AppendedFunctionResult bool
	LastModelText          string
	TurnsUsed              int
	MaxTurns               int
}

// classifierPrompt asks a small model whether the conversation is best
// continued by the assistant without new user input.
const classifierPrompt = `You are deciding whether an AI assistant should continue speaking immediately, without waiting for new user input, given the function results it just received. Reply with exactly one word: CONTINUE or STOP.`

// continuationCues are phrasings that heuristically signal the model
// intends to keep working (e.g. "let me check the next table").
var continuationCues = []string{
	"let me", "next, i", "i'll now", "i will now", "now let's", "one moment",
}

// Decide classifies whether the model should auto-continue. The hard cap
// (no more than MaxTurns auto-continuations per user message) always wins
// regardless of what the heuristic or classifier would otherwise say.
func Decide(in Input) Decision {
	if in.MaxTurns > 0 && in.TurnsUsed >= in.MaxTurns {
		return Decision{Continue: false, Reason: ReasonTurnBudgetExhausted}
	}
	if in.FinishReason != llmservice.FinishStop {
		return Decision{Continue: false, Reason: ReasonFinishNotStop}
	}
	if !in.AppendedFunctionResult {
		return Decision{Continue: false, Reason: ReasonNoFunctionResponse}
	}

	if continuationCue(in.LastModelText) {
		return Decision{Continue: true, Reason: ReasonHeuristicContinue}
	}
	return Decision{Continue: false, Reason: ReasonHeuristicStop}
}

func continuationCue(text string) bool {
	lower := strings.ToLower(text)
	for _, cue := range continuationCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}

// DecideWithClassifier refines Decide's heuristic verdict with a small LLM
// call when the heuristic alone is ambiguous (i.e. every gate passed but no
// continuation cue matched): rather than defaulting to stop, it asks the
// provider directly. The hard caps from Decide are evaluated first and
// short-circuit without touching the provider.
func DecideWithClassifier(ctx context.Context, provider llmservice.Provider, history types.History, in Input) (Decision, error) {
	base := Decide(in)
	if base.Reason != ReasonHeuristicStop {
		return base, nil
	}

	req := llmservice.Request{
		History:           history,
		SystemInstruction: classifierPrompt,
		GenConfig:         llmservice.GenConfig{Temperature: 0, MaxOutputTokens: 8},
	}
	stream, err := provider.Stream(ctx, req)
	if err != nil {
		return base, err
	}

	var verdict string
	for ev := range stream {
		if td, ok := ev.(llmservice.TextDeltaEvent); ok {
			verdict += td.Text
		}
	}

	if strings.Contains(strings.ToUpper(verdict), "CONTINUE") {
		return Decision{Continue: true, Reason: ReasonClassifierContinue}, nil
	}
	return Decision{Continue: false, Reason: ReasonClassifierStop}, nil
}
