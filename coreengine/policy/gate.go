// Package policy maps configuration snapshots to runtime guard flags.
package policy

import "strings"

// Network defaults recognized in configuration.
const (
	NetworkAllow = "allow"
	NetworkDeny  = "deny"
)

// Decision is the outcome of the policy gate.
type Decision struct {
	AllowNetwork                bool `json:"allow_network"`
	RequireApprovalForMutations bool `json:"require_approval_for_mutations"`
}

// Decide derives guard flags. Network access is allowed only when the
// trimmed, lower-cased networkDefault is exactly "allow". Never fails.
func Decide(networkDefault string, requireApproval bool) Decision {
	return Decision{
		AllowNetwork:                normalize(networkDefault) == NetworkAllow,
		RequireApprovalForMutations: requireApproval,
	}
}

// Restrictive is the decision applied when no configuration is available.
func Restrictive() Decision {
	return Decision{AllowNetwork: false, RequireApprovalForMutations: true}
}

// IsRecognizedNetworkDefault reports whether s normalizes to allow or deny.
func IsRecognizedNetworkDefault(s string) bool {
	switch normalize(s) {
	case NetworkAllow, NetworkDeny:
		return true
	default:
		return false
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
