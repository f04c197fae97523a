// Package tools defines the Tool contract, capability-tagged metadata, and
// the registry tools are published through for both direct dispatch and
// LLM function-calling schemas.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dbrheo/dbrheo/types"
)

// ToolParameter describes one named argument a tool accepts.
type ToolParameter struct {
	Name        string
	ParamType   string
	Description string
	Required    bool
	Items       map[string]interface{}
	Enum        []string
}

// ToolMetadata describes what a tool does and how to call it.
type ToolMetadata struct {
	Name        string
	Description string
	Parameters  []ToolParameter
}

// String renders a short one-line summary, used in registry listings.
func (m ToolMetadata) String() string {
	return fmt.Sprintf("%s: %s", m.Name, m.Description)
}

// JSONSchema renders Parameters as a JSON Schema object suitable for direct
// embedding in an LLM function declaration.
func (m ToolMetadata) JSONSchema() json.RawMessage {
	properties := map[string]interface{}{}
	var required []string
	for _, p := range m.Parameters {
		prop := map[string]interface{}{
			"type":        p.ParamType,
			"description": p.Description,
		}
		if p.Items != nil {
			prop["items"] = p.Items
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	Output string
	Error  error
}

// MarshalJSON renders the result the way a function response body expects:
// a success flag alongside either output or an error message.
func (t ToolResult) MarshalJSON() ([]byte, error) {
	if t.Error != nil {
		return json.Marshal(struct {
			Success bool   `json:"success"`
			Output  string `json:"output"`
			Error   string `json:"error"`
		}{false, t.Output, t.Error.Error()})
	}
	return json.Marshal(struct {
		Success bool   `json:"success"`
		Output  string `json:"output"`
	}{true, t.Output})
}

// Success reports whether the tool ran without error.
func (t ToolResult) Success() bool { return t.Error == nil }

// SuccessResult builds a successful ToolResult.
func SuccessResult(output string) ToolResult { return ToolResult{Output: output} }

// FailureResult builds a failed ToolResult.
func FailureResult(err error) ToolResult { return ToolResult{Error: err} }

// FailureResultf builds a failed ToolResult from a formatted message.
func FailureResultf(format string, args ...interface{}) ToolResult {
	return ToolResult{Error: fmt.Errorf(format, args...)}
}

// Tool is the interface every tool implementation satisfies.
type Tool interface {
	// Metadata describes the tool for both humans and LLM function declarations.
	Metadata() ToolMetadata
	// Capabilities tags the effect classes this tool can have. The scheduler
	// and risk evaluator both read this to decide concurrency and gating.
	Capabilities() map[types.Capability]struct{}
	// Validate checks args before the call is queued, independent of execution.
	Validate(args json.RawMessage) error
	// Execute runs the tool. A non-nil returned error is a host/infra failure
	// (e.g. context cancelled); a tool-level failure is reported inside
	// ToolResult with Error set so the model sees it as a normal response.
	Execute(ctx context.Context, args json.RawMessage) (ToolResult, error)
	// DefaultTimeoutSecs is the timeout the scheduler applies absent a
	// per-call override.
	DefaultTimeoutSecs() uint64
}

// ArgAwareCapabilities is an optional extension for tools whose effect
// class depends on the call's arguments rather than being fixed at
// registration (sql_tool: a SELECT and a DROP carry very different
// capabilities). The scheduler prefers this over the tool's static
// Capabilities() when deciding whether a call may run concurrently.
type ArgAwareCapabilities interface {
	CapabilitiesForArgs(args json.RawMessage) map[types.Capability]struct{}
}

// BaseTool provides permissive defaults for the optional parts of Tool.
type BaseTool struct{}

// Validate is a no-op by default; tools override it to add checks.
func (BaseTool) Validate(args json.RawMessage) error { return nil }

// DefaultTimeoutSecs defaults to 30 seconds.
func (BaseTool) DefaultTimeoutSecs() uint64 { return 30 }

// ToolConfig holds tool execution configuration. The zero value is safe:
// timeout defaults to 30s, retries to 3.
type ToolConfig struct {
	TimeoutSecs uint64
	MaxRetries  uint32
}

// Timeout returns the configured timeout, defaulting to 30 seconds if zero.
func (c *ToolConfig) Timeout() uint64 {
	if c == nil || c.TimeoutSecs == 0 {
		return 30
	}
	return c.TimeoutSecs
}

// Retries returns the configured max retries, defaulting to 3 if zero.
func (c *ToolConfig) Retries() uint32 {
	if c == nil || c.MaxRetries == 0 {
		return 3
	}
	return c.MaxRetries
}

// DefaultToolConfig returns the default tool configuration.
func DefaultToolConfig() ToolConfig {
	return ToolConfig{TimeoutSecs: 30, MaxRetries: 3}
}

// caps is a small helper for building a Capabilities() return value inline.
func caps(cs ...types.Capability) map[types.Capability]struct{} {
	out := make(map[types.Capability]struct{}, len(cs))
	for _, c := range cs {
		out[c] = struct{}{}
	}
	return out
}

// pathAllowed checks if a path is within the allowed paths.
// If allowedPaths is empty, all paths are allowed.
func pathAllowed(path string, allowedPaths []string) bool {
	if len(allowedPaths) == 0 {
		return true
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, allowed := range allowedPaths {
		allowedAbs, err := filepath.Abs(allowed)
		if err != nil {
			continue
		}
		if strings.HasPrefix(absPath, allowedAbs) {
			return true
		}
	}
	return false
}

// pathAllowedForWrite checks if a path's parent directory is within allowed paths.
// Used for write operations where the file may not exist yet.
func pathAllowedForWrite(path string, allowedPaths []string) bool {
	if len(allowedPaths) == 0 {
		return true
	}
	parent := filepath.Dir(path)
	absParent, err := filepath.Abs(parent)
	if err != nil {
		return false
	}
	for _, allowed := range allowedPaths {
		allowedAbs, err := filepath.Abs(allowed)
		if err != nil {
			continue
		}
		if strings.HasPrefix(absParent, allowedAbs) {
			return true
		}
	}
	return false
}
