package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dbrheo/dbrheo/config"
	"github.com/dbrheo/dbrheo/connection"
	"github.com/dbrheo/dbrheo/dbadapter"
	"github.com/dbrheo/dbrheo/tools"
	"github.com/dbrheo/dbrheo/types"
)

// fakeTool is a minimal Tool implementation for exercising the scheduler
// without any real side effects.
type fakeTool struct {
	name    string
	caps    map[types.Capability]struct{}
	delay   time.Duration
	fail    bool
	timeout uint64
}

func (f *fakeTool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{Name: f.name, Description: "fake"}
}
func (f *fakeTool) Capabilities() map[types.Capability]struct{} { return f.caps }
func (f *fakeTool) Validate(args json.RawMessage) error {
	var v struct {
		Invalid bool `json:"invalid"`
	}
	_ = json.Unmarshal(args, &v)
	if v.Invalid {
		return errors.New("bad args")
	}
	return nil
}
func (f *fakeTool) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return tools.ToolResult{}, ctx.Err()
		}
	}
	if f.fail {
		return tools.FailureResultf("simulated failure"), nil
	}
	return tools.SuccessResult("ok:" + f.name), nil
}
func (f *fakeTool) DefaultTimeoutSecs() uint64 {
	if f.timeout == 0 {
		return 30
	}
	return f.timeout
}

func newTestRegistry(t *testing.T, toolsList ...*fakeTool) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	for _, ft := range toolsList {
		if err := reg.Register(ft, nil, 0, nil); err != nil {
			t.Fatalf("register %s: %v", ft.name, err)
		}
	}
	return reg
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(map[config.Scope]string{})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestDispatchSuccess(t *testing.T) {
	reg := newTestRegistry(t, &fakeTool{name: "query_tool", caps: map[types.Capability]struct{}{types.CapQuery: {}}})
	sched := New(reg, nil, nil)

	calls := []types.FunctionCall{{ID: "1", Name: "query_tool", Args: json.RawMessage(`{}`)}}
	events := make(chan Event, 16)
	go func() {
		for range events {
		}
	}()
	responses := sched.Dispatch(context.Background(), nil, calls, events)
	close(events)

	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}
	if responses[0].Error != nil {
		t.Fatalf("expected success, got error: %s", responses[0].Error)
	}
}

func TestDispatchValidationError(t *testing.T) {
	reg := newTestRegistry(t, &fakeTool{name: "query_tool", caps: map[types.Capability]struct{}{types.CapQuery: {}}})
	sched := New(reg, nil, nil)

	calls := []types.FunctionCall{{ID: "1", Name: "query_tool", Args: json.RawMessage(`{"invalid":true}`)}}
	responses := sched.Dispatch(context.Background(), nil, calls, nil)

	if responses[0].Error == nil {
		t.Fatal("expected validation error response")
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	reg := newTestRegistry(t)
	sched := New(reg, nil, nil)

	calls := []types.FunctionCall{{ID: "1", Name: "ghost_tool", Args: json.RawMessage(`{}`)}}
	responses := sched.Dispatch(context.Background(), nil, calls, nil)

	if responses[0].Error == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestDispatchConfirmationApprovedAndRemembered(t *testing.T) {
	reg := newTestRegistry(t, &fakeTool{name: "execute_code", caps: map[types.Capability]struct{}{types.CapWrite: {}}})
	cfg := newTestConfig(t)
	calledConfirm := 0
	confirm := func(ctx context.Context, call *types.ToolCall, assessment types.RiskAssessment) (types.Confirmation, error) {
		calledConfirm++
		return types.Confirmation{Approved: true, Remember: true}, nil
	}
	sched := New(reg, cfg, confirm)

	args := json.RawMessage(`{}`)
	calls := []types.FunctionCall{{ID: "1", Name: "execute_code", Args: args}}
	responses := sched.Dispatch(context.Background(), nil, calls, nil)
	if responses[0].Error != nil {
		t.Fatalf("expected approved call to succeed, got: %s", responses[0].Error)
	}
	if calledConfirm != 1 {
		t.Fatalf("expected confirm callback once, got %d", calledConfirm)
	}

	// Second identical call should skip confirmation via remember.
	calls2 := []types.FunctionCall{{ID: "2", Name: "execute_code", Args: args}}
	responses2 := sched.Dispatch(context.Background(), nil, calls2, nil)
	if responses2[0].Error != nil {
		t.Fatalf("expected remembered call to succeed, got: %s", responses2[0].Error)
	}
	if calledConfirm != 1 {
		t.Fatalf("expected confirm callback not called again, got %d calls", calledConfirm)
	}
}

func TestDispatchConfirmationRejected(t *testing.T) {
	reg := newTestRegistry(t, &fakeTool{name: "execute_code", caps: map[types.Capability]struct{}{types.CapWrite: {}}})
	cfg := newTestConfig(t)
	confirm := func(ctx context.Context, call *types.ToolCall, assessment types.RiskAssessment) (types.Confirmation, error) {
		return types.Confirmation{Approved: false}, nil
	}
	sched := New(reg, cfg, confirm)

	calls := []types.FunctionCall{{ID: "1", Name: "execute_code", Args: json.RawMessage(`{}`)}}
	responses := sched.Dispatch(context.Background(), nil, calls, nil)
	if responses[0].Error == nil {
		t.Fatal("expected rejected call to produce an error response")
	}
}

func TestDispatchTimeout(t *testing.T) {
	reg := newTestRegistry(t, &fakeTool{name: "slow_tool", caps: map[types.Capability]struct{}{types.CapQuery: {}}, delay: 200 * time.Millisecond, timeout: 1})
	sched := New(reg, nil, nil)

	calls := []types.FunctionCall{{ID: "1", Name: "slow_tool", Args: json.RawMessage(`{"_timeoutMs":10}`)}}
	responses := sched.Dispatch(context.Background(), nil, calls, nil)
	if responses[0].Error == nil {
		t.Fatal("expected timeout error response")
	}
}

func TestDispatchPreservesOrder(t *testing.T) {
	reg := newTestRegistry(t,
		&fakeTool{name: "a", caps: map[types.Capability]struct{}{types.CapQuery: {}}, delay: 30 * time.Millisecond},
		&fakeTool{name: "b", caps: map[types.Capability]struct{}{types.CapQuery: {}}},
		&fakeTool{name: "c", caps: map[types.Capability]struct{}{types.CapQuery: {}}},
	)
	sched := New(reg, nil, nil)

	calls := []types.FunctionCall{
		{ID: "1", Name: "a", Args: json.RawMessage(`{}`)},
		{ID: "2", Name: "b", Args: json.RawMessage(`{}`)},
		{ID: "3", Name: "c", Args: json.RawMessage(`{}`)},
	}
	responses := sched.Dispatch(context.Background(), nil, calls, nil)
	for i, want := range []string{"1", "2", "3"} {
		if responses[i].ID != want {
			t.Errorf("response[%d].ID = %s, want %s", i, responses[i].ID, want)
		}
	}
}

func TestDispatchAbortBeforeExecution(t *testing.T) {
	reg := newTestRegistry(t, &fakeTool{name: "query_tool", caps: map[types.Capability]struct{}{types.CapQuery: {}}})
	sched := New(reg, nil, nil)

	abort := types.NewAbortSignal(context.Background())
	abort.Trip()

	calls := []types.FunctionCall{{ID: "1", Name: "query_tool", Args: json.RawMessage(`{}`)}}
	responses := sched.Dispatch(context.Background(), abort, calls, nil)
	if responses[0].Error == nil {
		t.Fatal("expected cancelled error response")
	}
}

func TestDispatchTimeoutTransitionsToError(t *testing.T) {
	reg := newTestRegistry(t, &fakeTool{name: "slow_tool", caps: map[types.Capability]struct{}{types.CapQuery: {}}, delay: 200 * time.Millisecond, timeout: 1})
	sched := New(reg, nil, nil)

	events := make(chan Event, 16)
	var last Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range events {
			last = e
		}
	}()

	calls := []types.FunctionCall{{ID: "1", Name: "slow_tool", Args: json.RawMessage(`{"_timeoutMs":10}`)}}
	responses := sched.Dispatch(context.Background(), nil, calls, events)
	close(events)
	<-done

	if responses[0].Error == nil {
		t.Fatal("expected timeout error response")
	}
	if last.State != types.StateError {
		t.Fatalf("a tool timing out must transition to StateError, got %s", last.State)
	}
}

// TestSQLToolSelectIsSideEffectFree guards against sql_tool's Capabilities()
// always reporting the full effect set: the scheduler must classify a
// SELECT as side-effect-free (so two SELECTs in one turn can run
// concurrently, per the Scenario 3 concurrency model) while still
// serializing a statement that mutates data or schema.
func TestSQLToolSelectIsSideEffectFree(t *testing.T) {
	conns := connection.New()
	if _, err := conns.Open(context.Background(), "main", dbadapter.DatabaseConfig{URL: ":memory:", Dialect: dbadapter.DialectSQLite}, true); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conns.CloseAll()
	sqlTool := tools.NewSQLTool(conns, nil)

	selectCaps := callCapabilities(sqlTool, json.RawMessage(`{"sql":"SELECT 1"}`))
	if !types.SideEffectFree(selectCaps) {
		t.Fatalf("expected a SELECT to be side-effect free, got %v", selectCaps)
	}

	dropCaps := callCapabilities(sqlTool, json.RawMessage(`{"sql":"DROP TABLE users"}`))
	if types.SideEffectFree(dropCaps) {
		t.Fatalf("expected a DROP to require serialization, got %v", dropCaps)
	}
}

// TestDispatchRunsConcurrentSQLSelects exercises the real sql_tool through
// Dispatch (not fakeTool) with two concurrent SELECTs, the scenario the
// capability-classification regression would otherwise leave untested.
func TestDispatchRunsConcurrentSQLSelects(t *testing.T) {
	conns := connection.New()
	if _, err := conns.Open(context.Background(), "main", dbadapter.DatabaseConfig{URL: ":memory:", Dialect: dbadapter.DialectSQLite}, true); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conns.CloseAll()

	reg := tools.NewRegistry()
	if err := reg.Register(tools.NewSQLTool(conns, nil), nil, 0, nil); err != nil {
		t.Fatalf("register sql_tool: %v", err)
	}
	sched := New(reg, nil, nil)

	calls := []types.FunctionCall{
		{ID: "1", Name: "sql_tool", Args: json.RawMessage(`{"sql":"SELECT 1"}`)},
		{ID: "2", Name: "sql_tool", Args: json.RawMessage(`{"sql":"SELECT 2"}`)},
	}
	responses := sched.Dispatch(context.Background(), nil, calls, nil)
	for _, r := range responses {
		if r.Error != nil {
			t.Fatalf("expected both selects to succeed, got error: %s", r.Error)
		}
	}
}
