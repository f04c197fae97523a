// Package config resolves DbRheo configuration from layered sources:
// environment variables, a system file, a workspace file, a user file, and
// built-in defaults, highest precedence first. Reads are dotted-path
// (Get("llm.model", default)); writes only happen through an explicit Save
// from an interactive host command.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scope identifies one layer in the precedence chain.
type Scope int

const (
	ScopeDefaults Scope = iota
	ScopeUser
	ScopeWorkspace
	ScopeSystem
	ScopeEnv
)

func (s Scope) String() string {
	switch s {
	case ScopeDefaults:
		return "defaults"
	case ScopeUser:
		return "user"
	case ScopeWorkspace:
		return "workspace"
	case ScopeSystem:
		return "system"
	case ScopeEnv:
		return "env"
	default:
		return "unknown"
	}
}

// layer is one parsed file's worth of dotted keys, flattened.
type layer map[string]interface{}

// Config is the resolved, read-mostly configuration object.
type Config struct {
	paths  map[Scope]string
	layers map[Scope]layer // excludes ScopeEnv, which is read live
	envMap map[string]string
}

// defaultKeys are the built-in defaults backing the typed convenience getters.
var defaultKeys = layer{
	"model":                 "gemini-3-flash",
	"max_turns":             25,
	"debug":                 false,
	"allow_dangerous":       false,
	"auto_execute":          false,
	"compression_threshold": 0.8,
	"risk.threshold":        "medium",
	"tool.fanout":           4,
}

// envVarToKey maps recognized environment variables to dotted config keys.
var envVarToKey = map[string]string{
	"GOOGLE_API_KEY":        "credentials.gemini_api_key",
	"GEMINI_API_KEY":        "credentials.gemini_api_key",
	"ANTHROPIC_API_KEY":     "credentials.anthropic_api_key",
	"OPENAI_API_KEY":        "credentials.openai_api_key",
	"OPENAI_API_BASE":       "credentials.openai_api_base",
	"DBRHEO_MODEL":          "model",
	"DBRHEO_MAX_TURNS":      "max_turns",
	"DBRHEO_AUTO_EXECUTE":   "auto_execute",
	"DBRHEO_ALLOW_DANGEROUS": "allow_dangerous",
	"DBRHEO_DEBUG":          "debug",
	"DATABASE_URL":          "default_connection.url",
}

// New resolves configuration from the standard locations:
// system=/etc/dbrheo/config.yaml, user=~/.dbrheo/config.yaml,
// workspace=./.dbrheo/config.yaml.
func New() (*Config, error) {
	home, _ := os.UserHomeDir()
	return Load(map[Scope]string{
		ScopeSystem:    "/etc/dbrheo/config.yaml",
		ScopeUser:      filepath.Join(home, ".dbrheo", "config.yaml"),
		ScopeWorkspace: filepath.Join(".dbrheo", "config.yaml"),
	})
}

// Load resolves configuration from the given per-scope file paths. Missing
// files are treated as empty layers, not errors; malformed YAML fails
// loudly since it almost always means a typo the caller wants to see now.
func Load(paths map[Scope]string) (*Config, error) {
	c := &Config{
		paths:  paths,
		layers: map[Scope]layer{ScopeDefaults: defaultKeys},
		envMap: map[string]string{},
	}

	for scope, path := range paths {
		l, err := readLayer(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to load %s config at %s: %w", scope, path, err)
		}
		c.layers[scope] = l
	}

	for envVar, key := range envVarToKey {
		if v, ok := os.LookupEnv(envVar); ok {
			c.envMap[key] = v
		}
	}

	return c, nil
}

func readLayer(path string) (layer, error) {
	if path == "" {
		return layer{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return layer{}, nil
		}
		return nil, err
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return flatten("", raw), nil
}

// flatten turns a nested map into dotted keys, e.g. {"pool":{"size":5}}
// becomes {"pool.size": 5}.
func flatten(prefix string, raw map[string]interface{}) layer {
	out := layer{}
	for k, v := range raw {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

// Get resolves a dotted key through env -> system -> workspace -> user ->
// defaults, returning def if unset anywhere. Once a scope resolves a key,
// resolution stops there — lower scopes never silently patch through.
func (c *Config) Get(key string, def interface{}) interface{} {
	if v, ok := c.envMap[key]; ok {
		return v
	}
	for _, scope := range []Scope{ScopeSystem, ScopeWorkspace, ScopeUser} {
		if v, ok := c.layers[scope][key]; ok {
			return v
		}
	}
	if v, ok := c.layers[ScopeDefaults][key]; ok {
		return v
	}
	return def
}

// GetString is a typed convenience over Get.
func (c *Config) GetString(key, def string) string {
	v := c.Get(key, def)
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// GetInt is a typed convenience over Get, parsing strings if necessary.
func (c *Config) GetInt(key string, def int) int {
	v := c.Get(key, def)
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	case string:
		i, err := strconv.Atoi(t)
		if err != nil {
			return def
		}
		return i
	default:
		return def
	}
}

// GetFloat is a typed convenience over Get.
func (c *Config) GetFloat(key string, def float64) float64 {
	v := c.Get(key, def)
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return def
		}
		return f
	default:
		return def
	}
}

// GetBool is a typed convenience over Get.
func (c *Config) GetBool(key string, def bool) bool {
	v := c.Get(key, def)
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return def
		}
		return b
	default:
		return def
	}
}

// GetStrings is a typed convenience over Get for string-list values
// (e.g. a YAML sequence), accepting []string, []interface{} of strings,
// or a comma-separated string.
func (c *Config) GetStrings(key string, def []string) []string {
	v := c.Get(key, def)
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return def
		}
		return strings.Split(t, ",")
	default:
		return def
	}
}

// Model returns the configured LLM model name.
func (c *Config) Model() string { return c.GetString("model", "gemini-3-flash") }

// MaxTurns returns the hard cap on auto-continuations per user message.
func (c *Config) MaxTurns() int { return c.GetInt("max_turns", 25) }

// Debug reports whether debug-mode stack traces should be surfaced.
func (c *Config) Debug() bool { return c.GetBool("debug", false) }

// AllowsDangerous reports whether confirmation is globally bypassed.
func (c *Config) AllowsDangerous() bool { return c.GetBool("allow_dangerous", false) }

// AutoExecute reports whether risk-gated calls below critical auto-run.
func (c *Config) AutoExecute() bool { return c.GetBool("auto_execute", false) }

// CompressionThreshold returns the (0,1] fraction of the context window
// that triggers history compression.
func (c *Config) CompressionThreshold() float64 {
	t := c.GetFloat("compression_threshold", 0.8)
	if t <= 0 || t > 1 {
		return 0.8
	}
	return t
}

// RiskThreshold returns the minimum risk level requiring confirmation.
func (c *Config) RiskThreshold() string { return c.GetString("risk.threshold", "medium") }

// ToolFanout returns the max concurrent side-effect-free calls per turn.
func (c *Config) ToolFanout() int {
	n := c.GetInt("tool.fanout", 4)
	if n < 1 {
		return 1
	}
	return n
}

// RetryBaseDelayMs returns the base delay for LLM transport retry backoff.
func (c *Config) RetryBaseDelayMs() int { return c.GetInt("llm.retry.base_delay_ms", 500) }

// RetryFactor returns the exponential growth factor applied per attempt.
func (c *Config) RetryFactor() float64 { return c.GetFloat("llm.retry.factor", 2.0) }

// RetryMaxDelayMs returns the cap applied to computed backoff delays.
func (c *Config) RetryMaxDelayMs() int { return c.GetInt("llm.retry.max_delay_ms", 30000) }

// RetryMaxAttempts returns the max attempts (including the first) before
// giving up on a transport error or 5xx response.
func (c *Config) RetryMaxAttempts() int { return c.GetInt("llm.retry.max_attempts", 4) }

// Save writes the in-memory overrides accumulated for scope back to its
// file. Only the scope's own layer is written — never merged defaults —
// so unknown keys already on disk are preserved verbatim.
func (c *Config) Save(scope Scope, updates map[string]interface{}) error {
	path, ok := c.paths[scope]
	if !ok || path == "" {
		return fmt.Errorf("config: no file path configured for scope %s", scope)
	}

	l := c.layers[scope]
	if l == nil {
		l = layer{}
	}
	for k, v := range updates {
		l[k] = v
	}
	c.layers[scope] = l

	nested := unflatten(l)
	data, err := yaml.Marshal(nested)
	if err != nil {
		return fmt.Errorf("config: failed to marshal %s config: %w", scope, err)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: failed to create directory for %s config: %w", scope, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: failed to write %s config: %w", scope, err)
	}
	return nil
}

// unflatten reverses flatten, rebuilding nested maps from dotted keys.
func unflatten(l layer) map[string]interface{} {
	out := map[string]interface{}{}
	for key, val := range l {
		parts := strings.Split(key, ".")
		cur := out
		for i, p := range parts {
			if i == len(parts)-1 {
				cur[p] = val
				break
			}
			next, ok := cur[p].(map[string]interface{})
			if !ok {
				next = map[string]interface{}{}
				cur[p] = next
			}
			cur = next
		}
	}
	return out
}
