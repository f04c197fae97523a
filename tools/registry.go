// Package tools provides tool management and registration.
//
// Information Hiding:
// - Tool storage and lookup implementation hidden
// - Tool lifecycle management hidden
// - Registration and discovery mechanisms abstracted

package tools

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/dbrheo/dbrheo/types"
)

// namePattern is the closed naming rule §4.F requires of every tool.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ToolRegistration is one entry in the Registry: the tool itself plus the
// bookkeeping the registry and scheduler read to rank and filter it.
type ToolRegistration struct {
	Tool         Tool
	Capabilities map[types.Capability]struct{}
	Tags         map[string]struct{}
	Priority     int
	Enabled      bool
	Metadata     map[string]interface{}
}

// Registry manages available tools with dynamic registration. Reads take
// an RLock; register/unregister take an exclusive Lock (§5: "Registry
// supports concurrent reads; writes take an exclusive lock").
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*ToolRegistration
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*ToolRegistration),
	}
}

// Register adds or atomically replaces a tool registration. Capabilities
// are always taken from the tool's own Capabilities(), and each must be one
// of types.AllCapabilities; Register takes no capabilities argument, so a
// host cannot narrow or relabel a tool's effect class at registration.
func (r *Registry) Register(tool Tool, tags []string, priority int, metadata map[string]interface{}) error {
	name := tool.Metadata().Name
	if !namePattern.MatchString(name) {
		return fmt.Errorf("tool name %q does not match [a-z][a-z0-9_]{0,63}", name)
	}
	capSet := tool.Capabilities()
	for c := range capSet {
		if !types.AllCapabilities[c] {
			return fmt.Errorf("tool %q claims unknown capability %q", name, c)
		}
	}

	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = &ToolRegistration{
		Tool:         tool,
		Capabilities: capSet,
		Tags:         tagSet,
		Priority:     priority,
		Enabled:      true,
		Metadata:     metadata,
	}
	return nil
}

// Unregister removes a tool by name. Unregistering an unknown name is a
// no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, exists := r.tools[name]
	if !exists {
		return nil, false
	}
	return reg.Tool, true
}

// GetRegistration returns the full registration record by name.
func (r *Registry) GetRegistration(name string) (ToolRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, exists := r.tools[name]
	if !exists {
		return ToolRegistration{}, false
	}
	return *reg, true
}

// Has checks if a tool exists in the registry.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tools[name]
	return exists
}

// Names returns all registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns every registration ordered by priority desc, then name asc.
func (r *Registry) List() []ToolRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ToolRegistration, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, *reg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Tool.Metadata().Name < out[j].Tool.Metadata().Name
	})
	return out
}

// ByCapability returns every enabled tool that claims the exact capability.
func (r *Registry) ByCapability(cap types.Capability) []Tool {
	return r.ByCapabilities(map[types.Capability]struct{}{cap: {}}, false)
}

// ByCapabilities returns every enabled tool matching the given capability
// set. matchAll requires every capability in caps to be present;
// otherwise any intersection qualifies.
func (r *Registry) ByCapabilities(caps map[types.Capability]struct{}, matchAll bool) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Tool
	for _, reg := range r.tools {
		if !reg.Enabled {
			continue
		}
		if matchAll {
			if hasAll(reg.Capabilities, caps) {
				out = append(out, reg.Tool)
			}
		} else if intersects(reg.Capabilities, caps) {
			out = append(out, reg.Tool)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metadata().Name < out[j].Metadata().Name })
	return out
}

func hasAll(have, want map[types.Capability]struct{}) bool {
	for c := range want {
		if _, ok := have[c]; !ok {
			return false
		}
	}
	return true
}

func intersects(a, b map[types.Capability]struct{}) bool {
	for c := range b {
		if _, ok := a[c]; ok {
			return true
		}
	}
	return false
}

func intersectionSize(a, b map[types.Capability]struct{}) int {
	n := 0
	for c := range b {
		if _, ok := a[c]; ok {
			n++
		}
	}
	return n
}

// Search performs a substring match over name, description, and tags,
// optionally narrowed by capabilities. Results sort by (capability
// intersection size desc, priority desc, name asc).
func (r *Registry) Search(query string, capabilities map[types.Capability]struct{}) []Tool {
	q := strings.ToLower(query)

	r.mu.RLock()
	defer r.mu.RUnlock()

	type scored struct {
		reg   *ToolRegistration
		score int
	}
	var matches []scored
	for _, reg := range r.tools {
		if !reg.Enabled {
			continue
		}
		if len(capabilities) > 0 && !intersects(reg.Capabilities, capabilities) {
			continue
		}
		meta := reg.Tool.Metadata()
		hit := q == "" ||
			strings.Contains(strings.ToLower(meta.Name), q) ||
			strings.Contains(strings.ToLower(meta.Description), q) ||
			tagsContain(reg.Tags, q)
		if !hit {
			continue
		}
		matches = append(matches, scored{reg: reg, score: intersectionSize(reg.Capabilities, capabilities)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		if matches[i].reg.Priority != matches[j].reg.Priority {
			return matches[i].reg.Priority > matches[j].reg.Priority
		}
		return matches[i].reg.Tool.Metadata().Name < matches[j].reg.Tool.Metadata().Name
	})
	out := make([]Tool, len(matches))
	for i, m := range matches {
		out[i] = m.reg.Tool
	}
	return out
}

func tagsContain(tags map[string]struct{}, q string) bool {
	for t := range tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// LLMFunctionDeclaration is one entry of a registry snapshot exposed to an
// LLM's function-calling API.
type LLMFunctionDeclaration struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// SnapshotForLLM renders every enabled tool as a function declaration,
// ordered by priority desc then name asc (§6 "registry.snapshotForLLM").
func (r *Registry) SnapshotForLLM() []LLMFunctionDeclaration {
	regs := r.List()
	out := make([]LLMFunctionDeclaration, 0, len(regs))
	for _, reg := range regs {
		if !reg.Enabled {
			continue
		}
		meta := reg.Tool.Metadata()
		out = append(out, LLMFunctionDeclaration{
			Name:        meta.Name,
			Description: meta.Description,
			Parameters:  meta.JSONSchema(),
		})
	}
	return out
}

// Description returns a formatted description of all tools for LLM prompts.
func (r *Registry) Description() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var descriptions []string
	for _, reg := range r.tools {
		meta := reg.Tool.Metadata()
		var params []string
		for _, p := range meta.Parameters {
			required := "optional"
			if p.Required {
				required = "required"
			}
			params = append(params, fmt.Sprintf("  - %s (%s): %s [%s]",
				p.Name, p.ParamType, p.Description, required))
		}

		paramStr := strings.Join(params, "\n")
		descriptions = append(descriptions, fmt.Sprintf(
			"Tool: %s\nDescription: %s\nParameters:\n%s",
			meta.Name, meta.Description, paramStr))
	}

	return strings.Join(descriptions, "\n\n")
}

// Default timeout and file size constants for tools.
const (
	DefaultToolTimeout = 30           // seconds
	DefaultMaxFileSize = 1024 * 1024  // 1MB
)

// WithDefaults creates a registry with every host-independent default
// tool. sql_tool and schema_tool need a live connection.Manager and are
// registered by the CLI host once one exists, not here.
// Returns error if any tool registration fails.
func WithDefaults() (*Registry, error) {
	registry := NewRegistry()

	defaults := []Tool{
		NewBashTool(DefaultToolTimeout),
		NewShellTool(DefaultToolTimeout),
		NewReadFileTool(DefaultMaxFileSize),
		NewWriteFileTool(DefaultMaxFileSize),
		NewEditFileTool(DefaultMaxFileSize),
		NewAppendFileTool(DefaultMaxFileSize),
		NewHTTPTool(DefaultToolTimeout),
		NewRipgrepTool(DefaultToolTimeout),
		NewGlobTool(1000),
		NewCodeExecTool(DefaultToolTimeout),
	}

	for _, t := range defaults {
		if err := registry.Register(t, nil, 0, nil); err != nil {
			return nil, fmt.Errorf("failed to register default tools: %w", err)
		}
	}

	return registry, nil
}
