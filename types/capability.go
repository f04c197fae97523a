package types

// Capability is a coarse tag describing the class of effect a tool has.
// The set is closed: tools may claim any subset.
type Capability string

const (
	CapQuery        Capability = "query"
	CapModify       Capability = "modify"
	CapSchemaChange Capability = "schema_change"
	CapExplore      Capability = "explore"
	CapAnalyze      Capability = "analyze"
	CapExport       Capability = "export"
	CapRead         Capability = "read"
	CapWrite        Capability = "write"
	CapImport       Capability = "import"
	CapBackup       Capability = "backup"
	CapTransform    Capability = "transform"
)

// AllCapabilities lists the closed enum, for validation at registration time.
var AllCapabilities = map[Capability]bool{
	CapQuery: true, CapModify: true, CapSchemaChange: true, CapExplore: true,
	CapAnalyze: true, CapExport: true, CapRead: true, CapWrite: true,
	CapImport: true, CapBackup: true, CapTransform: true,
}

// SideEffectFree reports whether every given capability is safe to run
// concurrently with other side-effect-free calls.
func SideEffectFree(caps map[Capability]struct{}) bool {
	for c := range caps {
		switch c {
		case CapQuery, CapExplore, CapRead, CapAnalyze:
			continue
		default:
			return false
		}
	}
	return true
}

// RiskLevel is a closed enum from safe to critical.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// rank orders risk levels for threshold comparisons.
var rank = map[RiskLevel]int{
	RiskSafe: 0, RiskLow: 1, RiskMedium: 2, RiskHigh: 3, RiskCritical: 4,
}

// AtLeast reports whether r is at least as severe as other.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return rank[r] >= rank[other]
}

// RiskAssessment is the pure classification RiskEvaluator produces.
type RiskAssessment struct {
	Level                RiskLevel
	Reasons              []string
	RequiresConfirmation bool
}
