// SQL Tool - executes statements against the current database connection.
//
// Information Hiding:
// - Connection selection and dialect details hidden behind connection.Manager
// - Capability is args-dependent (query vs modify vs schema_change), unlike
//   every other tool in this package whose capability set is fixed.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/dbrheo/dbrheo/connection"
	"github.com/dbrheo/dbrheo/dbadapter"
	"github.com/dbrheo/dbrheo/risk"
	"github.com/dbrheo/dbrheo/types"
)

// SQLTool runs a single SQL statement against the connection manager's
// current active connection.
type SQLTool struct {
	BaseTool
	timeoutSecs uint64
	conns       *connection.Manager
}

// NewSQLTool creates a sql tool bound to a connection manager. conns may be
// nil at registration time in a host that wires connections later; Execute
// fails cleanly if so.
func NewSQLTool(conns *connection.Manager, _ interface{}) *SQLTool {
	return &SQLTool{timeoutSecs: 30, conns: conns}
}

// WithConnections rebinds the connection manager, for hosts that construct
// the registry before the manager exists.
func (t *SQLTool) WithConnections(conns *connection.Manager) *SQLTool {
	t.conns = conns
	return t
}

// Capabilities reports every capability a sql statement could possibly
// need, for callers that only have the tool (not a specific call) to go
// on — e.g. the registry's advertised declaration. The scheduler itself
// calls CapabilitiesForArgs, which narrows by actual statement kind.
func (t *SQLTool) Capabilities() map[types.Capability]struct{} {
	return caps(types.CapQuery, types.CapModify, types.CapSchemaChange, types.CapExplore)
}

// CapabilitiesForArgs narrows Capabilities() to the actual statement kind
// so the scheduler can run concurrent SELECTs side by side (§5) while still
// serializing anything that mutates data or schema.
func (t *SQLTool) CapabilitiesForArgs(args json.RawMessage) map[types.Capability]struct{} {
	var a sqlToolArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return t.Capabilities()
	}
	return risk.StatementCapabilities(a.SQL)
}

func (t *SQLTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "sql_tool",
		Description: "Execute a SQL statement against the current database connection",
		Parameters: []ToolParameter{
			{Name: "sql", ParamType: "string", Description: "The SQL statement to execute", Required: true},
			{Name: "params", ParamType: "array", Description: "Positional bind parameters", Required: false, Items: map[string]interface{}{"type": "string"}},
			{Name: "max_rows", ParamType: "integer", Description: "Cap on rows returned (default: adapter's own limit)", Required: false},
		},
	}
}

// DefaultTimeoutSecs returns the configured per-call timeout.
func (t *SQLTool) DefaultTimeoutSecs() uint64 { return t.timeoutSecs }

type sqlToolArgs struct {
	SQL     string        `json:"sql"`
	Params  []interface{} `json:"params"`
	MaxRows int           `json:"max_rows"`
}

var mutatingStatement = regexp.MustCompile(`(?i)^\s*(INSERT|UPDATE|DELETE|DROP|ALTER|TRUNCATE|CREATE|REPLACE|GRANT|REVOKE)\b`)

func (t *SQLTool) Validate(args json.RawMessage) error {
	var a sqlToolArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(a.SQL) == "" {
		return fmt.Errorf("sql cannot be empty")
	}
	return nil
}

// Execute runs the statement against the current connection. Read-only
// adapters reject a mutating statement with ReadOnlyError (surfaced here
// as a ToolResult error, per §4.E: "a read-only adapter rejects begin").
func (t *SQLTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a sqlToolArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}
	if strings.TrimSpace(a.SQL) == "" {
		return FailureResultf("sql cannot be empty"), nil
	}
	if t.conns == nil {
		return FailureResultf("no connection manager configured"), nil
	}

	ac, err := t.conns.Get(ctx)
	if err != nil {
		return FailureResult(err), nil
	}

	if ac.Adapter.ReadOnly() && mutatingStatement.MatchString(a.SQL) {
		return FailureResultf("connection %q is read-only; statement mutates", ac.Alias), nil
	}

	result, err := ac.Adapter.ExecuteQuery(ctx, a.SQL, a.Params, dbadapter.QueryOpts{MaxRows: a.MaxRows})
	if err != nil {
		return FailureResult(err), nil
	}

	out, err := json.Marshal(result)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to encode result: %w", err)), nil
	}
	return SuccessResult(string(out)), nil
}
