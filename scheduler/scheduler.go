// Package scheduler drives FunctionCalls emitted by a Turn through their
// per-call lifecycle, from validating through a terminal state, the way
// tools/executor.go drives one tool through its retry loop but generalized
// from per-call retry to per-turn fan-out across many calls at once.
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/dbrheo/dbrheo/config"
	"github.com/dbrheo/dbrheo/errs"
	"github.com/dbrheo/dbrheo/risk"
	"github.com/dbrheo/dbrheo/tools"
	"github.com/dbrheo/dbrheo/types"
)

// ConfirmFunc asks the host (CLI/Web) to approve or reject a risk-gated
// call. It may block; the caller's context carries cancellation.
type ConfirmFunc func(ctx context.Context, call *types.ToolCall, assessment types.RiskAssessment) (types.Confirmation, error)

// Event is one lifecycle notification streamed to the host as a call
// advances through its state machine.
type Event struct {
	CallID     string
	Name       string
	State      types.CallState
	Assessment *types.RiskAssessment
	Err        error
}

// Scheduler drives FunctionCalls through validating -> ... -> a terminal
// state. The zero value is not usable; construct with New.
type Scheduler struct {
	registry *tools.Registry
	cfg      *config.Config
	confirm  ConfirmFunc

	mu         sync.Mutex
	remembered map[string]bool // "tool\x00argsFingerprint" -> approved, session-scoped
}

// New builds a Scheduler bound to a tool registry, the active config (for
// risk thresholds and fanout), and a host confirmation callback.
func New(registry *tools.Registry, cfg *config.Config, confirm ConfirmFunc) *Scheduler {
	return &Scheduler{
		registry:   registry,
		cfg:        cfg,
		confirm:    confirm,
		remembered: make(map[string]bool),
	}
}

// fingerprint derives the session-scoped "remember" key for a (tool, args)
// pair: identical calls inside the same session skip re-confirmation.
func fingerprint(name string, args json.RawMessage) string {
	sum := sha256.Sum256(append([]byte(name+"\x00"), args...))
	return name + "\x00" + hex.EncodeToString(sum[:])
}

type timeoutOverride struct {
	TimeoutMs *int64 `json:"_timeoutMs"`
}

// callTimeout resolves the effective per-call timeout: the reserved
// _timeoutMs arg key overrides the tool's own default.
func callTimeout(defaultSecs uint64, args json.RawMessage) time.Duration {
	var o timeoutOverride
	_ = json.Unmarshal(args, &o)
	if o.TimeoutMs != nil && *o.TimeoutMs > 0 {
		return time.Duration(*o.TimeoutMs) * time.Millisecond
	}
	return time.Duration(defaultSecs) * time.Second
}

// Dispatch drives every call in calls through its state machine and
// returns one FunctionResponse per call, in the same order calls arrived
// (§4.I "Ordering"), regardless of completion order. Side-effect-free
// calls (per types.SideEffectFree) run concurrently, bounded by the
// configured tool fanout; every other call is serialized, one at a time,
// in arrival order. events receives every lifecycle transition as it
// happens and is never closed by Dispatch (the caller owns it, the way
// llm.StreamChat's chunks channel works in the teacher).
func (s *Scheduler) Dispatch(ctx context.Context, abort *types.AbortSignal, calls []types.FunctionCall, events chan<- Event) []types.FunctionResponse {
	responses := make([]types.FunctionResponse, len(calls))

	concurrent := make([]int, 0, len(calls))
	serial := make([]int, 0, len(calls))
	for i, fc := range calls {
		tool, ok := s.registry.Get(fc.Name)
		if ok && types.SideEffectFree(callCapabilities(tool, fc.Args)) {
			concurrent = append(concurrent, i)
		} else {
			serial = append(serial, i)
		}
	}

	fanout := 4
	if s.cfg != nil {
		fanout = s.cfg.ToolFanout()
	}
	sem := make(chan struct{}, fanout)
	var wg sync.WaitGroup
	for _, idx := range concurrent {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			responses[idx] = s.run(ctx, abort, calls[idx], events)
		}(idx)
	}

	for _, idx := range serial {
		responses[idx] = s.run(ctx, abort, calls[idx], events)
	}

	wg.Wait()
	return responses
}

// run drives one call through its full lifecycle and returns its paired
// response. It never panics: every failure path is captured as a
// structured FunctionResponse error so the LLM can reason over it.
func (s *Scheduler) run(ctx context.Context, abort *types.AbortSignal, fc types.FunctionCall, events chan<- Event) types.FunctionResponse {
	call := types.NewToolCall(fc.ID, fc.Name, fc.Args)
	s.emit(events, call, nil)

	tool, ok := s.registry.Get(fc.Name)
	if !ok {
		return s.fail(call, events, errs.Newf(errs.ToolExecutionError, "unknown tool %q", fc.Name))
	}
	if err := tools.ValidateAgainstSchema(tool.Metadata(), fc.Args); err != nil {
		wrapped := errs.Wrap(errs.ToolExecutionError, "schema validation failed", err)
		call.Err = wrapped
		_ = call.Transition(types.StateError)
		s.emit(events, call, nil)
		return errorResponse(call, wrapped)
	}
	if err := tool.Validate(fc.Args); err != nil {
		wrapped := errs.Wrap(errs.ToolExecutionError, "argument validation failed", err)
		call.Err = wrapped
		_ = call.Transition(types.StateError)
		s.emit(events, call, nil)
		return errorResponse(call, wrapped)
	}

	assessment := risk.Evaluate(fc.Name, fc.Args, s.cfg)

	if assessment.RequiresConfirmation && !s.rememberedApproval(fc.Name, fc.Args) {
		if err := call.Transition(types.StateAwaitingConfirmation); err != nil {
			return s.fail(call, events, errs.Wrap(errs.InternalError, "state machine", err))
		}
		s.emit(events, call, &assessment)

		if s.confirm == nil {
			rejected := errs.New(errs.RiskRejectedError, "no confirmation callback configured; rejecting by default")
			call.Err = rejected
			_ = call.Transition(types.StateCancelled)
			s.emit(events, call, nil)
			return errorResponse(call, rejected)
		}

		decision, err := s.confirm(ctx, call, assessment)
		if err != nil {
			return s.fail(call, events, errs.Wrap(errs.InternalError, "confirmation callback failed", err))
		}
		if !decision.Approved {
			rejected := errs.New(errs.RiskRejectedError, "rejected by confirmation")
			call.Err = rejected
			_ = call.Transition(types.StateCancelled)
			s.emit(events, call, nil)
			return errorResponse(call, rejected)
		}
		if decision.Remember {
			s.remember(fc.Name, fc.Args)
		}
		call.Confirmation = &decision
	}

	if err := call.Transition(types.StateQueued); err != nil {
		return s.fail(call, events, errs.Wrap(errs.InternalError, "state machine", err))
	}
	s.emit(events, call, nil)

	if abort != nil && abort.Tripped() {
		cancelled := errs.New(errs.CancelledError, "aborted before execution")
		call.Err = cancelled
		_ = call.Transition(types.StateCancelled)
		s.emit(events, call, nil)
		return errorResponse(call, cancelled)
	}

	if err := call.Transition(types.StateExecuting); err != nil {
		return s.fail(call, events, errs.Wrap(errs.InternalError, "state machine", err))
	}
	call.StartedAt = time.Now()
	s.emit(events, call, nil)

	runCtx := ctx
	if abort != nil {
		runCtx = abort.Context()
	}
	timeout := callTimeout(tool.DefaultTimeoutSecs(), fc.Args)
	runCtx, cancel := context.WithTimeout(runCtx, timeout)
	defer cancel()

	resultCh := make(chan struct {
		res tools.ToolResult
		err error
	}, 1)
	go func() {
		res, err := tool.Execute(runCtx, fc.Args)
		resultCh <- struct {
			res tools.ToolResult
			err error
		}{res, err}
	}()

	select {
	case out := <-resultCh:
		call.EndedAt = time.Now()
		if out.err != nil {
			wrapped := errs.Wrap(errs.ToolExecutionError, "tool execution failed", out.err)
			call.Err = wrapped
			_ = call.Transition(types.StateError)
			s.emit(events, call, nil)
			return errorResponse(call, wrapped)
		}
		if !out.res.Success() {
			wrapped := errs.Wrap(errs.ToolExecutionError, "tool reported failure", out.res.Error)
			call.Err = wrapped
			_ = call.Transition(types.StateError)
			s.emit(events, call, nil)
			return errorResponse(call, wrapped)
		}
		output, encErr := json.Marshal(out.res.Output)
		if encErr != nil {
			wrapped := errs.Wrap(errs.ToolExecutionError, "failed to encode tool output", encErr)
			call.Err = wrapped
			_ = call.Transition(types.StateError)
			s.emit(events, call, nil)
			return errorResponse(call, wrapped)
		}
		_ = call.Transition(types.StateSuccess)
		s.emit(events, call, nil)
		return types.FunctionResponse{ID: call.ID, Name: call.Name, Response: output}

	case <-runCtx.Done():
		call.EndedAt = time.Now()
		if runCtx.Err() == context.DeadlineExceeded {
			timeoutErr := errs.Newf(errs.TimeoutError, "tool %q exceeded its %s timeout", call.Name, timeout)
			call.Err = timeoutErr
			_ = call.Transition(types.StateError)
			s.emit(events, call, nil)
			return errorResponse(call, timeoutErr)
		}
		cancelled := errs.New(errs.CancelledError, "tool execution aborted")
		call.Err = cancelled
		_ = call.Transition(types.StateCancelled)
		s.emit(events, call, nil)
		return errorResponse(call, cancelled)
	}
}

// callCapabilities resolves the effect classes of one specific call,
// preferring a tool's arg-aware classification (sql_tool's statement kind)
// over its static Capabilities() so the concurrency gate in Dispatch sees
// the real per-call effect, not the tool's worst case.
func callCapabilities(tool tools.Tool, args json.RawMessage) map[types.Capability]struct{} {
	if aware, ok := tool.(tools.ArgAwareCapabilities); ok {
		return aware.CapabilitiesForArgs(args)
	}
	return tool.Capabilities()
}

func (s *Scheduler) fail(call *types.ToolCall, events chan<- Event, err *errs.Error) types.FunctionResponse {
	call.Err = err
	_ = call.Transition(types.StateError)
	s.emit(events, call, nil)
	return errorResponse(call, err)
}

func (s *Scheduler) emit(events chan<- Event, call *types.ToolCall, assessment *types.RiskAssessment) {
	if events == nil {
		return
	}
	events <- Event{CallID: call.ID, Name: call.Name, State: call.State, Assessment: assessment, Err: call.Err}
}

func (s *Scheduler) rememberedApproval(name string, args json.RawMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remembered[fingerprint(name, args)]
}

func (s *Scheduler) remember(name string, args json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remembered[fingerprint(name, args)] = true
}

// errorResponse renders an *errs.Error into the structured
// {error:{kind,message,detail}} shape the LLM sees, per §4.I "Result shape".
func errorResponse(call *types.ToolCall, err *errs.Error) types.FunctionResponse {
	body, marshalErr := json.Marshal(struct {
		Error struct {
			Kind    errs.Kind `json:"kind"`
			Message string    `json:"message"`
			Detail  string    `json:"detail,omitempty"`
		} `json:"error"`
	}{
		Error: struct {
			Kind    errs.Kind `json:"kind"`
			Message string    `json:"message"`
			Detail  string    `json:"detail,omitempty"`
		}{Kind: err.Kind, Message: err.Message, Detail: err.Detail},
	})
	if marshalErr != nil {
		body = []byte(`{"error":{"kind":"InternalError","message":"failed to encode error"}}`)
	}
	return types.FunctionResponse{ID: call.ID, Name: call.Name, Error: body}
}
