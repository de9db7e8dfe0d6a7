package estimate

import (
	"strings"

	"github.com/rshade/storagecost/internal/pricing"
)

// meterRule matches a price item whose meter name contains every token in
// all and none of the tokens in none. Matching is case-insensitive.
type meterRule struct {
	all  []string
	none []string
}

func has(tokens ...string) meterRule {
	return meterRule{all: tokens}
}

func (r meterRule) without(tokens ...string) meterRule {
	r.none = append(append([]string(nil), r.none...), tokens...)
	return r
}

func (r meterRule) matches(meterName string) bool {
	m := strings.ToLower(meterName)
	for _, t := range r.all {
		if !strings.Contains(m, strings.ToLower(t)) {
			return false
		}
	}
	for _, t := range r.none {
		if strings.Contains(m, strings.ToLower(t)) {
			return false
		}
	}
	return true
}

// selectPrice returns the first item matched by the earliest rule. Rules are
// tried in order; within a rule the client's sorted order breaks ties, so the
// result is stable for a given catalog response.
func selectPrice(items []pricing.PriceItem, rules ...meterRule) (pricing.PriceItem, bool) {
	for _, r := range rules {
		for _, it := range items {
			if r.matches(it.MeterName) {
				return it, true
			}
		}
	}
	return pricing.PriceItem{}, false
}
