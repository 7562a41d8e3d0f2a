// Package policy evaluates keyword policies against post text.
//
// A policy is a tree decoded once from configuration. Each mapping entry pairs
// a trigger substring with a child node that refines the match: a nested
// mapping, a list of exclusion words, a boolean, or nothing at all. The
// reserved "default" key of a mapping supplies the node substituted for any
// child written as the literal token "default".
package policy

import (
	"strings"
)

const defaultToken = "default"

// Kind tags the variant held by a Policy node.
type Kind int

const (
	KindEmpty Kind = iota
	KindMapping
	KindExclusions
	KindFlag
)

func (k Kind) String() string {
	switch k {
	case KindMapping:
		return "mapping"
	case KindExclusions:
		return "exclusions"
	case KindFlag:
		return "flag"
	default:
		return "empty"
	}
}

// Rule is one trigger of a mapping node.
type Rule struct {
	Trigger string
	Child   *Policy
}

// Policy is a node of the keyword policy tree. The zero value and nil are
// both the empty policy, which matches every text.
type Policy struct {
	kind       Kind
	rules      []Rule
	fallback   *Policy
	exclusions []string
	flag       bool
}

// Empty returns the policy that matches everything.
func Empty() *Policy { return &Policy{kind: KindEmpty} }

// Flag returns a boolean leaf.
func Flag(v bool) *Policy { return &Policy{kind: KindFlag, flag: v} }

// Exclusions returns a leaf that rejects texts containing any of words.
func Exclusions(words ...string) *Policy {
	normalized := make([]string, 0, len(words))
	for _, w := range words {
		normalized = append(normalized, strings.ToLower(w))
	}
	return &Policy{kind: KindExclusions, exclusions: normalized}
}

// Mapping returns a mapping node. fallback is the node's own "default" entry
// and may be nil.
func Mapping(fallback *Policy, rules ...Rule) *Policy {
	normalized := make([]Rule, 0, len(rules))
	for _, r := range rules {
		normalized = append(normalized, Rule{Trigger: strings.ToLower(r.Trigger), Child: r.Child})
	}
	return &Policy{kind: KindMapping, rules: normalized, fallback: fallback}
}

// Kind reports the variant of the node.
func (p *Policy) Kind() Kind {
	if p == nil {
		return KindEmpty
	}
	return p.kind
}

// Rules returns the triggers of a mapping node in configuration order.
func (p *Policy) Rules() []Rule {
	if p == nil {
		return nil
	}
	return p.rules
}

// IsEmpty reports whether the node filters nothing.
func (p *Policy) IsEmpty() bool {
	if p == nil || p.kind == KindEmpty {
		return true
	}
	return p.kind == KindMapping && len(p.rules) == 0 && p.fallback == nil
}

// Normalize lowercases and trims text before comparison.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Matches reports whether text satisfies p.
func Matches(text string, p *Policy) bool {
	return p.Matches(text)
}

// Matches reports whether text satisfies the policy.
func (p *Policy) Matches(text string) bool {
	return p.satisfiedBy(Normalize(text))
}

func (p *Policy) satisfiedBy(text string) bool {
	if p.IsEmpty() {
		return true
	}

	switch p.kind {
	case KindMapping:
		for _, rule := range p.rules {
			if !strings.Contains(text, rule.Trigger) {
				continue
			}
			if rule.Child.satisfiedBy(text) {
				return true
			}
		}
		return false
	case KindExclusions:
		for _, word := range p.exclusions {
			if strings.Contains(text, word) {
				return false
			}
		}
		return true
	default:
		// A boolean leaf means the trigger alone suffices, whatever its value.
		return true
	}
}
