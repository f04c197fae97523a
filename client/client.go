// Package client owns one conversation end to end: the History, the tool
// Registry, the Scheduler, and the LLM service, the way the teacher's
// agent.Agent owns its registry/executor/storage triad but generalized to
// drive the spec's Turn/NextSpeaker loop instead of a single decide-act
// cycle.
package client

import (
	"context"
	"strings"

	"github.com/dbrheo/dbrheo/compress"
	"github.com/dbrheo/dbrheo/config"
	"github.com/dbrheo/dbrheo/errs"
	"github.com/dbrheo/dbrheo/llmservice"
	"github.com/dbrheo/dbrheo/nextspeaker"
	"github.com/dbrheo/dbrheo/scheduler"
	"github.com/dbrheo/dbrheo/tools"
	"github.com/dbrheo/dbrheo/turn"
	"github.com/dbrheo/dbrheo/types"
)

// Event is the public, host-facing event stream (§6): a superset of the
// raw llmservice.StreamEvent with tool-lifecycle and turn-boundary
// notifications interleaved in the exact order the host should render them.
type Event interface {
	isClientEvent()
}

// TextEvent carries one incremental chunk of assistant text.
type TextEvent struct{ Delta string }

func (TextEvent) isClientEvent() {}

// ToolStartEvent announces a call entering validation.
type ToolStartEvent struct {
	ID, Name string
	Args     []byte
}

func (ToolStartEvent) isClientEvent() {}

// ToolAwaitingConfirmationEvent announces a risk-gated call blocked on the
// host's confirmation callback.
type ToolAwaitingConfirmationEvent struct {
	ID      string
	Risk    types.RiskLevel
	Summary string
}

func (ToolAwaitingConfirmationEvent) isClientEvent() {}

// ToolRunningEvent announces a call has begun executing.
type ToolRunningEvent struct{ ID string }

func (ToolRunningEvent) isClientEvent() {}

// ToolFinishedEvent announces a call reached a terminal state.
type ToolFinishedEvent struct {
	ID      string
	Ok      bool
	Summary string
}

func (ToolFinishedEvent) isClientEvent() {}

// UsageUpdateEvent reports token accounting for the turn in progress.
type UsageUpdateEvent struct {
	InputTokens, OutputTokens uint32
	CachedTokens              *uint32
}

func (UsageUpdateEvent) isClientEvent() {}

// ErrorEvent reports a non-fatal error surfaced mid-stream.
type ErrorEvent struct {
	Kind    errs.Kind
	Message string
}

func (ErrorEvent) isClientEvent() {}

// FinishEvent is the terminal event of one sendMessageStream call.
type FinishEvent struct{ Reason string }

func (FinishEvent) isClientEvent() {}

// Client owns one conversation's mutable state. History is mutated only
// between Turns, never concurrently (§5 "History is owned by the Client").
type Client struct {
	history    types.History
	registry   *tools.Registry
	scheduler  *scheduler.Scheduler
	provider   llmservice.Provider
	cfg        *config.Config
	compressor *compress.Compressor
	turnsUsed  int
}

// New builds a Client wired to a registry, a confirmation callback, a
// provider, and config. contextWindow is the provider's context size in
// tokens, used by the compressor.
func New(registry *tools.Registry, confirm scheduler.ConfirmFunc, provider llmservice.Provider, cfg *config.Config, contextWindow int) *Client {
	return &Client{
		registry:   registry,
		scheduler:  scheduler.New(registry, cfg, confirm),
		provider:   provider,
		cfg:        cfg,
		compressor: compress.New(provider, contextWindow, cfg.CompressionThreshold()),
	}
}

// History returns the current conversation, for host-side persistence.
func (c *Client) History() types.History { return c.history }

// SetHistory replaces the conversation wholesale, e.g. when resuming a
// saved session.
func (c *Client) SetHistory(h types.History) { c.history = h }

// SendMessageStream appends userContent to history and runs the
// Turn/Scheduler/NextSpeaker loop (§4.N) until the model yields control
// back to the user or abort trips, emitting every Event to events as it
// happens. events is never closed by SendMessageStream — the caller owns
// it.
func (c *Client) SendMessageStream(ctx context.Context, userContent types.Content, abort *types.AbortSignal, events chan<- Event) error {
	c.history = append(c.history, userContent)
	c.turnsUsed = 0
	maxTurns := c.cfg.MaxTurns()

	tn := turn.New(c.provider)

	for {
		if abort != nil && abort.Tripped() {
			c.emit(events, FinishEvent{Reason: "cancelled"})
			return nil
		}

		result, err := c.runOneTurn(ctx, tn, abort, events)
		if err != nil {
			c.emit(events, ErrorEvent{Kind: errs.LLMProtocolError, Message: err.Error()})
			c.emit(events, FinishEvent{Reason: llmservice.FinishError})
			return err
		}
		c.turnsUsed++

		appendedFunctionResult := false
		if len(result.FunctionCalls) > 0 {
			appendedFunctionResult = c.dispatchAndAppend(ctx, abort, result.FunctionCalls, events)
		} else if text := lastText(result.TextSegments); text != "" {
			c.history = append(c.history, types.TextContent(types.RoleModel, text))
		}

		if err := c.maybeCompress(ctx); err != nil {
			c.emit(events, ErrorEvent{Kind: errs.CompressionError, Message: err.Error()})
		}

		decision := nextspeaker.Decide(nextspeaker.Input{
			FinishReason:           result.FinishReason,
			AppendedFunctionResult: appendedFunctionResult,
			LastModelText:          lastText(result.TextSegments),
			TurnsUsed:              c.turnsUsed,
			MaxTurns:               maxTurns,
		})
		if !decision.Continue {
			c.emit(events, FinishEvent{Reason: result.FinishReason})
			return nil
		}
	}
}

// Interrupt trips abort, the caller-owned signal threaded through this
// call. Client itself holds no signal state; the host owns the AbortSignal
// and passes the same one into SendMessageStream and Interrupt.
func (c *Client) Interrupt(abort *types.AbortSignal) {
	if abort != nil {
		abort.Trip()
	}
}

func (c *Client) runOneTurn(ctx context.Context, tn *turn.Turn, abort *types.AbortSignal, events chan<- Event) (turn.Result, error) {
	req := llmservice.Request{
		History:   c.history,
		Tools:     c.registry.SnapshotForLLM(),
		GenConfig: llmservice.GenConfig{Temperature: 0.7, MaxOutputTokens: 8192},
		Abort:     abort,
	}

	raw := make(chan llmservice.StreamEvent, 16)
	done := make(chan struct{})
	var result turn.Result
	var runErr error
	go func() {
		defer close(done)
		result, runErr = tn.Run(ctx, req, raw)
	}()

	for ev := range raw {
		switch v := ev.(type) {
		case llmservice.TextDeltaEvent:
			c.emit(events, TextEvent{Delta: v.Text})
		case llmservice.UsageUpdateEvent:
			c.emit(events, UsageUpdateEvent{InputTokens: v.InputTokens, OutputTokens: v.OutputTokens, CachedTokens: v.CachedTokens})
		}
	}
	<-done
	return result, runErr
}

// dispatchAndAppend drives Turn-produced calls through the Scheduler,
// relays lifecycle events, and appends the model-role Content (the calls)
// and the function-role Content (the responses) atomically in call order.
// Returns whether at least one FunctionResponse was appended.
func (c *Client) dispatchAndAppend(ctx context.Context, abort *types.AbortSignal, calls []types.FunctionCall, events chan<- Event) bool {
	callParts := make([]types.Part, 0, len(calls))
	for _, fc := range calls {
		callParts = append(callParts, types.FunctionCallPart{Call: fc})
	}
	c.history = append(c.history, types.Content{Role: types.RoleModel, Parts: callParts})

	schedEvents := make(chan scheduler.Event, 16)
	done := make(chan struct{})
	var responses []types.FunctionResponse
	go func() {
		defer close(done)
		responses = c.scheduler.Dispatch(ctx, abort, calls, schedEvents)
	}()

	for ev := range schedEvents {
		c.emit(events, translateSchedulerEvent(ev))
	}
	<-done

	if len(responses) == 0 {
		return false
	}
	responseParts := make([]types.Part, 0, len(responses))
	for _, fr := range responses {
		responseParts = append(responseParts, types.FunctionResponsePart{Response: fr})
	}
	c.history = append(c.history, types.Content{Role: types.RoleFunction, Parts: responseParts})
	return true
}

func translateSchedulerEvent(ev scheduler.Event) Event {
	switch ev.State {
	case types.StateAwaitingConfirmation:
		risk := types.RiskSafe
		summary := ""
		if ev.Assessment != nil {
			risk = ev.Assessment.Level
			summary = strings.Join(ev.Assessment.Reasons, "; ")
		}
		return ToolAwaitingConfirmationEvent{ID: ev.CallID, Risk: risk, Summary: summary}
	case types.StateExecuting:
		return ToolRunningEvent{ID: ev.CallID}
	case types.StateSuccess:
		return ToolFinishedEvent{ID: ev.CallID, Ok: true}
	case types.StateError, types.StateCancelled:
		summary := ""
		if ev.Err != nil {
			summary = ev.Err.Error()
		}
		return ToolFinishedEvent{ID: ev.CallID, Ok: false, Summary: summary}
	default:
		return ToolStartEvent{ID: ev.CallID, Name: ev.Name}
	}
}

func (c *Client) maybeCompress(ctx context.Context) error {
	if !c.compressor.ShouldCompress(ctx, c.history) {
		return nil
	}
	compacted, err := c.compressor.Compress(ctx, c.history)
	if err != nil {
		return err
	}
	c.history = compacted
	return nil
}

func (c *Client) emit(events chan<- Event, ev Event) {
	if events == nil {
		return
	}
	events <- ev
}

func lastText(segments []string) string {
	out := ""
	for _, s := range segments {
		out += s
	}
	return out
}
