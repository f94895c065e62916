// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"

	"github.com/aether-foundation/aether/lib/codec"
)

// Effect is the outcome a rule produces when it wins evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Rule grants or withholds one class of action. All three patterns
// must match for the rule to apply.
type Rule struct {
	// Name labels the rule in audit reasons. Optional.
	Name string `json:"name,omitempty"`
	// Actor is a glob over hierarchical actor identities.
	Actor string `json:"actor"`
	// Action is a glob over action names such as "job/submit/shell-exec".
	Action string `json:"action"`
	// Resource is a glob over the resource the action targets.
	Resource string `json:"resource"`
	Effect   Effect `json:"effect"`
}

// Validate rejects rules that could never match or carry an unknown
// effect. A rule set containing an invalid rule is refused outright
// rather than silently weakened.
func (r Rule) Validate() error {
	if r.Actor == "" || r.Action == "" || r.Resource == "" {
		return fmt.Errorf("rule %q: actor, action, and resource patterns are all required", r.Name)
	}
	switch r.Effect {
	case EffectAllow, EffectDeny:
	default:
		return fmt.Errorf("rule %q: unknown effect %q", r.Name, r.Effect)
	}
	return nil
}

// matches reports whether the rule applies to the triple.
func (r Rule) matches(actor, action, resource string) bool {
	return MatchPattern(r.Actor, actor) &&
		MatchPattern(r.Action, action) &&
		MatchPattern(r.Resource, resource)
}

// ruleFile is the on-disk shape of a policy file.
type ruleFile struct {
	Rules []Rule `json:"rules"`
}

// LoadRules reads a JSONC policy file. Comments and trailing commas
// are stripped before parsing so operators can annotate rule files
// in place.
func LoadRules(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	return ParseRules(raw)
}

// ParseRules parses JSONC policy bytes and validates every rule.
func ParseRules(raw []byte) ([]Rule, error) {
	var file ruleFile
	decoder := json.NewDecoder(strings.NewReader(string(jsonc.ToJSON(raw))))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("parsing policy rules: %w", err)
	}
	for _, rule := range file.Rules {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
	}
	return file.Rules, nil
}

// Version computes the rule-set version: the hex BLAKE3 hash of the
// canonical CBOR encoding of the rules. Logically identical rule sets
// hash identically regardless of source formatting.
func Version(rules []Rule) string {
	encoded, err := codec.Marshal(rules)
	if err != nil {
		// Rules are plain strings; deterministic encoding cannot fail.
		panic(fmt.Sprintf("encoding policy rules: %v", err))
	}
	sum := blake3.Sum256(encoded)
	return fmt.Sprintf("%x", sum[:16])
}
