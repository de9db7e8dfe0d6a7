package forecast

import "strings"

// Multipliers applied for recognised recent-change descriptions.
const (
	capacityIncreaseFactor = 1.15
	capacityDecreaseFactor = 0.85
	premiumTierFactor      = 1.30
	standardTierFactor     = 0.75
	backupEnabledFactor    = 1.10
	backupDisabledFactor   = 0.90
	snapshotEnabledFactor  = 1.05
	snapshotDisabledFactor = 0.95
)

// DetectChanges returns the trimmed change descriptions that match at least
// one cost rule. Unrecognised text neither adjusts the forecast nor lowers
// its confidence.
func DetectChanges(recentChanges []string) []string {
	out := make([]string, 0, len(recentChanges))
	for _, c := range recentChanges {
		c = strings.TrimSpace(c)
		if _, ok := changeFactor(strings.ToLower(c)); ok {
			out = append(out, c)
		}
	}
	return out
}

// ChangeMultiplier composes the cost multipliers implied by the change
// descriptions. Each rule contributes independently and factors multiply.
func ChangeMultiplier(changes []string) float64 {
	m := 1.0
	for _, c := range changes {
		f, _ := changeFactor(strings.ToLower(c))
		m *= f
	}
	return m
}

// changeFactor returns the multiplier for one lower-cased description and
// whether any rule matched it.
func changeFactor(c string) (float64, bool) {
	f, matched := 1.0, false
	apply := func(factor float64) {
		f *= factor
		matched = true
	}
	if strings.Contains(c, "capacity") {
		switch {
		case containsAny(c, "increase", "expand", "grow"):
			apply(capacityIncreaseFactor)
		case containsAny(c, "decrease", "reduce", "shrink"):
			apply(capacityDecreaseFactor)
		}
	}
	switch {
	case strings.Contains(c, "premium"):
		apply(premiumTierFactor)
	case strings.Contains(c, "standard"):
		apply(standardTierFactor)
	}
	if strings.Contains(c, "backup") {
		if factor, ok := toggleFactor(c, backupEnabledFactor, backupDisabledFactor); ok {
			apply(factor)
		}
	}
	if strings.Contains(c, "snapshot") {
		if factor, ok := toggleFactor(c, snapshotEnabledFactor, snapshotDisabledFactor); ok {
			apply(factor)
		}
	}
	return f, matched
}

// toggleFactor checks "disable" first since it contains "enable".
func toggleFactor(c string, enabled, disabled float64) (float64, bool) {
	switch {
	case strings.Contains(c, "disable"):
		return disabled, true
	case strings.Contains(c, "enable"):
		return enabled, true
	default:
		return 1, false
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
