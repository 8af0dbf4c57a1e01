package models

import "sort"

// Profile names accepted by the resolver.
const (
	ProfileVPS         = "vps"
	ProfilePerformance = "performance"
	ProfileMinimal     = "minimal"
	ProfileCustom      = "custom"
)

// KnownProfile returns true for a recognized profile name.
func KnownProfile(name string) bool {
	switch name {
	case ProfileVPS, ProfilePerformance, ProfileMinimal, ProfileCustom:
		return true
	default:
		return false
	}
}

// ConfigDelta is a flat set of kernel config key -> value overrides produced
// by the profile resolver and consumed verbatim by the build orchestrator.
// Values are "y", "n", or a quoted string.
type ConfigDelta map[string]string

// Keys returns the delta keys in sorted order for deterministic application.
func (d ConfigDelta) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge returns a copy of d with overrides applied on top.
// Override values win on key collision.
func (d ConfigDelta) Merge(overrides map[string]string) ConfigDelta {
	out := make(ConfigDelta, len(d)+len(overrides))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
