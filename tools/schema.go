// Schema Tool - introspects the current database connection.

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dbrheo/dbrheo/connection"
	"github.com/dbrheo/dbrheo/types"
)

// SchemaTool introspects the current active connection's schema.
type SchemaTool struct {
	BaseTool
	conns *connection.Manager
}

// NewSchemaTool creates a schema tool bound to a connection manager. conns
// may be nil at registration time; Execute fails cleanly if so.
func NewSchemaTool(conns *connection.Manager, _ interface{}) *SchemaTool {
	return &SchemaTool{conns: conns}
}

// WithConnections rebinds the connection manager.
func (t *SchemaTool) WithConnections(conns *connection.Manager) *SchemaTool {
	t.conns = conns
	return t
}

// Capabilities reports explore and analyze; introspection never mutates.
func (t *SchemaTool) Capabilities() map[types.Capability]struct{} {
	return caps(types.CapExplore, types.CapAnalyze)
}

func (t *SchemaTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "schema_tool",
		Description: "Introspect the current database connection's tables, columns, indexes, and foreign keys",
		Parameters: []ToolParameter{
			{Name: "table", ParamType: "string", Description: "Restrict introspection to one table (optional)", Required: false},
		},
	}
}

type schemaToolArgs struct {
	Table string `json:"table"`
}

func (t *SchemaTool) Validate(args json.RawMessage) error {
	if len(args) == 0 {
		return nil
	}
	var a schemaToolArgs
	return json.Unmarshal(args, &a)
}

// Execute introspects the current connection, optionally filtering to one
// table by name.
func (t *SchemaTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a schemaToolArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
		}
	}
	if t.conns == nil {
		return FailureResultf("no connection manager configured"), nil
	}

	ac, err := t.conns.Get(ctx)
	if err != nil {
		return FailureResult(err), nil
	}

	schema, err := ac.Adapter.Introspect(ctx)
	if err != nil {
		return FailureResult(err), nil
	}

	if a.Table != "" {
		for _, tbl := range schema.Tables {
			if tbl.Name == a.Table {
				out, err := json.Marshal(tbl)
				if err != nil {
					return FailureResult(fmt.Errorf("failed to encode table: %w", err)), nil
				}
				return SuccessResult(string(out)), nil
			}
		}
		return FailureResultf("table %q not found", a.Table), nil
	}

	out, err := json.Marshal(schema)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to encode schema: %w", err)), nil
	}
	return SuccessResult(string(out)), nil
}
