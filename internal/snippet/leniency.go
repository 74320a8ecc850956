package snippet

import (
	"fmt"
	"regexp"
	"strings"
)

// LeniencyRule marks a class of type-check findings as expected and benign.
// The runtime supplies module bindings as globals, so findings about
// unresolvable imports are noise rather than defects.
type LeniencyRule struct {
	Name  string
	Match func(Diagnostic) bool
}

func messagePrefix(prefix string) func(Diagnostic) bool {
	return func(d Diagnostic) bool { return strings.HasPrefix(d.Message, prefix) }
}

// DefaultLeniency is the built-in allow-list.
func DefaultLeniency() []LeniencyRule {
	return []LeniencyRule{
		{Name: "unresolved-module", Match: messagePrefix("Cannot find module")},
		{Name: "unresolved-import", Match: messagePrefix("Could not resolve")},
	}
}

// PatternRule builds a rule from a regular expression over the message.
func PatternRule(name, pattern string) (LeniencyRule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return LeniencyRule{}, fmt.Errorf("leniency rule %q: %w", name, err)
	}
	return LeniencyRule{Name: name, Match: func(d Diagnostic) bool { return re.MatchString(d.Message) }}, nil
}

// applyLeniency returns the diagnostics no rule matched, plus a count of
// suppressed findings per rule name.
func applyLeniency(ds []Diagnostic, rules []LeniencyRule) ([]Diagnostic, map[string]int) {
	var kept []Diagnostic
	suppressed := make(map[string]int)
outer:
	for _, d := range ds {
		for _, r := range rules {
			if r.Match != nil && r.Match(d) {
				suppressed[r.Name]++
				continue outer
			}
		}
		kept = append(kept, d)
	}
	return kept, suppressed
}
