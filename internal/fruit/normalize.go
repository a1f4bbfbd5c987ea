package fruit

import (
	"math"
	"strings"
)

type typeRule struct {
	match func(label string) bool
	tag   Type
}

type conditionRule struct {
	match func(label string) bool
	tag   Condition
}

func contains(substr string) func(string) bool {
	return func(label string) bool { return strings.Contains(label, substr) }
}

// Rules are evaluated in order against the lower-cased label; the first match wins.
var (
	typeRules = []typeRule{
		{match: contains("apple"), tag: Apple},
		{match: contains("orange"), tag: Orange},
		{match: contains("banana"), tag: Banana},
	}
	conditionRules = []conditionRule{
		{match: contains("fresh"), tag: Fresh},
	}
)

// Unrecognized labels fall back to these values instead of failing.
const (
	DefaultType      = Apple
	DefaultCondition = Rotten
)

// Normalize maps a raw classifier response into the fixed taxonomy. It never fails.
func Normalize(resp BackendResponse) Result {
	label := strings.ToLower(resp.Class)
	return Result{
		FruitType:  resolveType(label),
		Condition:  resolveCondition(label),
		Confidence: Percent(resp.Confidence),
	}
}

// Percent scales a 0..1 score to an integer percentage, rounding half away from zero.
func Percent(score float64) int {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	return int(math.Round(score * 100))
}

func resolveType(label string) Type {
	for _, rule := range typeRules {
		if rule.match(label) {
			return rule.tag
		}
	}
	return DefaultType
}

func resolveCondition(label string) Condition {
	for _, rule := range conditionRules {
		if rule.match(label) {
			return rule.tag
		}
	}
	return DefaultCondition
}

// Recognized reports whether the label names one of the known fruits. Normalize
// still falls back to DefaultType for unrecognized labels; callers use this only to log.
func Recognized(class string) bool {
	label := strings.ToLower(class)
	for _, rule := range typeRules {
		if rule.match(label) {
			return true
		}
	}
	return false
}
