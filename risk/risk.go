// Package risk implements the pure classification function §4.H names:
// given a pending tool call, decide how dangerous it is before the
// scheduler lets it run. RiskEvaluator never executes anything.
package risk

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dbrheo/dbrheo/config"
	"github.com/dbrheo/dbrheo/types"
)

// systemCatalogPattern matches schema/catalog names most dialects reserve
// for their own bookkeeping; a DROP/TRUNCATE/ALTER against one of these is
// always critical regardless of config.
var systemCatalogPattern = regexp.MustCompile(`(?i)\b(pg_catalog|information_schema|sqlite_master|sqlite_sequence|mysql\.(?:user|db|proc))\b`)

// firstToken extracts the first significant (non-whitespace) word of a SQL
// statement, uppercased, the way tools/bash.go's extractSubcommand reads
// the first positional argv token rather than parsing full grammar.
func firstToken(sql string) string {
	trimmed := strings.TrimSpace(sql)
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(strings.TrimRight(fields[0], ";"))
}

func hasWhereClause(sql string) bool {
	return regexp.MustCompile(`(?i)\bwhere\b`).MatchString(sql)
}

// StatementCapabilities classifies a SQL statement's effect class from its
// leading keyword, shared between the risk evaluator's own classification
// above and the scheduler's concurrency gate (tools/sql.go), so a SELECT is
// recognized as side-effect-free in both places from one source of truth.
func StatementCapabilities(sql string) map[types.Capability]struct{} {
	switch firstToken(sql) {
	case "SELECT", "SHOW", "EXPLAIN", "":
		return map[types.Capability]struct{}{types.CapQuery: {}, types.CapExplore: {}}
	case "INSERT", "UPDATE", "DELETE", "REPLACE":
		return map[types.Capability]struct{}{types.CapModify: {}}
	case "CREATE", "ALTER", "DROP", "TRUNCATE", "GRANT", "REVOKE":
		return map[types.Capability]struct{}{types.CapSchemaChange: {}}
	default:
		return map[types.Capability]struct{}{types.CapModify: {}, types.CapSchemaChange: {}}
	}
}

// Evaluate classifies a pending call into a RiskAssessment. It is a pure
// function of the tool name, its arguments, and the active config; it
// never touches the network, a database, or the filesystem.
func Evaluate(toolName string, args json.RawMessage, cfg *config.Config) types.RiskAssessment {
	switch toolName {
	case "sql_tool":
		return evaluateSQL(args, cfg)
	case "execute_bash", "execute_shell":
		return evaluateShell(toolName, args, cfg)
	case "execute_code":
		return requireConfirmation(types.RiskAssessment{
			Level:   types.RiskMedium,
			Reasons: []string{"code execution is always at least medium risk"},
		}, cfg)
	case "write_file", "append_file", "edit_file":
		return evaluateFileWrite(args, cfg)
	default:
		return requireConfirmation(types.RiskAssessment{Level: types.RiskSafe}, cfg)
	}
}

type sqlArgs struct {
	SQL string `json:"sql"`
}

func evaluateSQL(args json.RawMessage, cfg *config.Config) types.RiskAssessment {
	var a sqlArgs
	if err := json.Unmarshal(args, &a); err != nil || strings.TrimSpace(a.SQL) == "" {
		return requireConfirmation(types.RiskAssessment{
			Level:   types.RiskHigh,
			Reasons: []string{"unparseable sql arguments"},
		}, cfg)
	}

	token := firstToken(a.SQL)
	var ra types.RiskAssessment

	switch token {
	case "DROP", "TRUNCATE", "ALTER":
		if systemCatalogPattern.MatchString(a.SQL) {
			ra = types.RiskAssessment{
				Level:   types.RiskCritical,
				Reasons: []string{token + " targets a system catalog"},
			}
		} else {
			ra = types.RiskAssessment{
				Level:   types.RiskHigh,
				Reasons: []string{token + " is a destructive schema operation"},
			}
		}
	case "DELETE", "UPDATE":
		if hasWhereClause(a.SQL) {
			ra = types.RiskAssessment{
				Level:   types.RiskMedium,
				Reasons: []string{token + " with a WHERE clause"},
			}
		} else {
			ra = types.RiskAssessment{
				Level:   types.RiskHigh,
				Reasons: []string{token + " without a WHERE clause affects every row"},
			}
		}
	case "INSERT", "CREATE":
		ra = types.RiskAssessment{
			Level:   types.RiskLow,
			Reasons: []string{token + " is additive, non-destructive"},
		}
	case "SELECT", "SHOW", "EXPLAIN", "":
		ra = types.RiskAssessment{Level: types.RiskSafe}
	default:
		ra = types.RiskAssessment{
			Level:   types.RiskMedium,
			Reasons: []string{"unrecognized statement kind " + token},
		}
	}
	return requireConfirmation(ra, cfg)
}

type shellArgsShape struct {
	Command string   `json:"command"`
	Argv    []string `json:"argv"`
}

// shellBlacklist names commands that are never acceptable regardless of
// the host's own allowlist (tools/bash.go's BashPolicy is the enforcement
// mechanism; this is the risk classification layered on top of it).
var shellBlacklist = map[string]bool{
	"rm": true, "dd": true, "mkfs": true, "shutdown": true, "reboot": true,
}

func evaluateShell(toolName string, args json.RawMessage, cfg *config.Config) types.RiskAssessment {
	var a shellArgsShape
	_ = json.Unmarshal(args, &a)

	base := a.Command
	if fields := strings.Fields(a.Command); len(fields) > 0 {
		base = fields[0]
	}
	base = filepath.Base(base)

	allowlist := cfg.GetStrings("risk.shell_allowlist", nil)

	var ra types.RiskAssessment
	switch {
	case shellBlacklist[base]:
		ra = types.RiskAssessment{
			Level:   types.RiskCritical,
			Reasons: []string{"command '" + base + "' is blacklisted"},
		}
	case len(allowlist) > 0 && !contains(allowlist, base):
		ra = types.RiskAssessment{
			Level:   types.RiskHigh,
			Reasons: []string{"command '" + base + "' is outside the configured whitelist"},
		}
	default:
		ra = types.RiskAssessment{
			Level:   types.RiskLow,
			Reasons: []string{toolName + " executes host commands"},
		}
	}
	return requireConfirmation(ra, cfg)
}

type fileWriteArgs struct {
	Path string `json:"path"`
}

func evaluateFileWrite(args json.RawMessage, cfg *config.Config) types.RiskAssessment {
	var a fileWriteArgs
	_ = json.Unmarshal(args, &a)

	root := cfg.GetString("workspace_root", "")
	ra := types.RiskAssessment{Level: types.RiskLow, Reasons: []string{"file write"}}
	if root != "" && a.Path != "" {
		abs, err := filepath.Abs(a.Path)
		rootAbs, rootErr := filepath.Abs(root)
		if err == nil && rootErr == nil && !strings.HasPrefix(abs, rootAbs) {
			ra = types.RiskAssessment{
				Level:   types.RiskHigh,
				Reasons: []string{"write targets a path outside the workspace root"},
			}
		}
	}
	return requireConfirmation(ra, cfg)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// requireConfirmation applies the policy threshold: confirmation is
// required iff level >= threshold. allow_dangerous bypasses the gate
// entirely; auto_execute bypasses it for everything short of critical.
func requireConfirmation(ra types.RiskAssessment, cfg *config.Config) types.RiskAssessment {
	if cfg == nil {
		ra.RequiresConfirmation = ra.Level.AtLeast(types.RiskMedium)
		return ra
	}
	if cfg.AllowsDangerous() {
		ra.RequiresConfirmation = false
		return ra
	}
	if cfg.AutoExecute() && !ra.Level.AtLeast(types.RiskCritical) {
		ra.RequiresConfirmation = false
		return ra
	}
	threshold := types.RiskLevel(cfg.RiskThreshold())
	if threshold == "" {
		threshold = types.RiskMedium
	}
	ra.RequiresConfirmation = ra.Level.AtLeast(threshold)
	return ra
}
