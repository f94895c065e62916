// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"

	"github.com/aether-foundation/aether/lib/schema"
)

// Engine evaluates triples against a fixed rule set. An Engine is
// immutable after construction; swap in a new Engine to change policy.
type Engine struct {
	rules   []Rule
	version string
}

// NewEngine compiles a rule set. Rules are validated again here so an
// Engine built from hand-constructed rules carries the same guarantee
// as one loaded from disk.
func NewEngine(rules []Rule) (*Engine, error) {
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
	}
	return &Engine{rules: rules, version: Version(rules)}, nil
}

// Version returns the rule-set version hash.
func (e *Engine) Version() string {
	return e.version
}

// Rules returns the compiled rule set in definition order.
func (e *Engine) Rules() []Rule {
	return e.rules
}

// Evaluate decides one (actor, action, resource) triple. The winning
// rule is the matching rule with the most specific resource pattern;
// among equally specific rules the most recently defined wins. With
// no matching rule the decision is deny.
func (e *Engine) Evaluate(actor, action, resource string) schema.PolicyDecision {
	winner := -1
	winnerScore := -1
	for i, rule := range e.rules {
		if !rule.matches(actor, action, resource) {
			continue
		}
		if score := specificity(rule.Resource); score >= winnerScore {
			winner = i
			winnerScore = score
		}
	}
	if winner < 0 {
		return schema.PolicyDecision{
			Allowed:       false,
			Reason:        "no matching rule",
			PolicyVersion: e.version,
		}
	}
	rule := e.rules[winner]
	return schema.PolicyDecision{
		Allowed:       rule.Effect == EffectAllow,
		Reason:        decisionReason(rule, winner),
		PolicyVersion: e.version,
	}
}

func decisionReason(rule Rule, index int) string {
	if rule.Name != "" {
		return fmt.Sprintf("rule %q (%s)", rule.Name, rule.Effect)
	}
	return fmt.Sprintf("rule #%d (%s)", index, rule.Effect)
}
