// Copyright 2026 AuthGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package trust evaluates IAM-style role trust documents against a caller
// identity. Evaluation is a pure boolean and never returns an error: any
// structural defect in a document is an implicit deny.
package trust

import (
	"encoding/json"
	"strings"

	"github.com/keelworks/authgate/pkg/identity"
)

// ActionAssumeRole is the action checked when a caller assumes a role.
const ActionAssumeRole = "sts:AssumeRole"

// Document is a role trust policy.
type Document struct {
	Version    string      `json:"Version"`
	Statements []Statement `json:"Statement"`
}

// Statement is a single trust-policy statement.
type Statement struct {
	Sid       string          `json:"Sid,omitempty"`
	Effect    Effect          `json:"Effect"`
	Principal *Principal      `json:"Principal,omitempty"`
	Actions   StringOrSlice   `json:"Action,omitempty"`
	Resource  json.RawMessage `json:"Resource,omitempty"`  // accepted, not evaluated here
	Condition json.RawMessage `json:"Condition,omitempty"` // accepted, not evaluated here
}

// Effect is Allow or Deny.
type Effect string

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

// Principal is the statement principal: the "*" wildcard, one or more AWS
// ARNs, or a service name. Service principals parse but never match a
// caller; role assumption by a caller is never a service principal.
type Principal struct {
	Wildcard bool
	AWS      StringOrSlice
	Service  string
}

func (p *Principal) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.Wildcard = s == "*"
		if !p.Wildcard {
			p.AWS = StringOrSlice{s}
		}
		return nil
	}

	var obj struct {
		AWS     StringOrSlice `json:"AWS"`
		Service string        `json:"Service"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	p.AWS = obj.AWS
	p.Service = obj.Service
	return nil
}

func (p Principal) MarshalJSON() ([]byte, error) {
	if p.Wildcard {
		return json.Marshal("*")
	}
	obj := map[string]any{}
	if len(p.AWS) > 0 {
		obj["AWS"] = p.AWS
	}
	if p.Service != "" {
		obj["Service"] = p.Service
	}
	return json.Marshal(obj)
}

// StringOrSlice handles JSON fields that can be either a string or []string
type StringOrSlice []string

func (s *StringOrSlice) UnmarshalJSON(data []byte) error {
	// Try string first
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = []string{str}
		return nil
	}
	// Try array
	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	*s = arr
	return nil
}

func (s StringOrSlice) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]string(s))
}

// Evaluate decides whether caller may assume the role guarded by the given
// trust document. Default deny: null, empty, or malformed input is false; a
// document containing any statement without a valid Effect or a Principal
// is false as a whole; a matching Deny overrides any number of matching
// Allows.
func Evaluate(policyJSON []byte, caller identity.Caller) bool {
	return EvaluateAction(policyJSON, caller, ActionAssumeRole)
}

// EvaluateAction is Evaluate for an arbitrary action name.
func EvaluateAction(policyJSON []byte, caller identity.Caller, action string) bool {
	if len(strings.TrimSpace(string(policyJSON))) == 0 {
		return false
	}

	var doc Document
	if err := json.Unmarshal(policyJSON, &doc); err != nil {
		return false
	}
	return doc.Evaluate(caller, action)
}

// Evaluate applies deny-overrides-allow over the document's statements.
func (d *Document) Evaluate(caller identity.Caller, action string) bool {
	if len(d.Statements) == 0 {
		return false
	}

	// Structural validation invalidates the whole document, not just the
	// offending statement.
	for _, stmt := range d.Statements {
		if stmt.Effect != EffectAllow && stmt.Effect != EffectDeny {
			return false
		}
		if stmt.Principal == nil {
			return false
		}
	}

	allowed := false
	for _, stmt := range d.Statements {
		if !stmt.matches(caller, action) {
			continue
		}
		if stmt.Effect == EffectDeny {
			return false
		}
		allowed = true
	}
	return allowed
}

// matches reports whether the statement applies to this caller and action.
func (s *Statement) matches(caller identity.Caller, action string) bool {
	return s.Principal.matches(caller) && matchesAction(s.Actions, action)
}

func (p *Principal) matches(caller identity.Caller) bool {
	if p.Wildcard {
		return true
	}
	for _, arn := range p.AWS {
		if arn == "*" || arnMatchesCaller(arn, caller) {
			return true
		}
	}
	return false
}

// arnMatchesCaller accepts the caller's account root or the caller's exact
// account+login user ARN:
//
//	arn:aws:iam::<account>:root
//	arn:aws:iam::<account>:user/<login>
func arnMatchesCaller(arn string, caller identity.Caller) bool {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) != 6 || parts[0] != "arn" {
		return false
	}
	account, resource := parts[4], parts[5]
	if account != caller.Account {
		return false
	}
	if resource == "root" {
		return true
	}
	if login, ok := strings.CutPrefix(resource, "user/"); ok {
		return login == caller.Login
	}
	return false
}

// matchesAction is a literal string comparison with a "*" wildcard; no
// partial globbing.
func matchesAction(actions StringOrSlice, action string) bool {
	for _, a := range actions {
		if a == "*" || a == action {
			return true
		}
	}
	return false
}
