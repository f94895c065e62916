// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"testing"
)

func TestErrorRoundTrip(t *testing.T) {
	original := NewError(ErrPolicyDenied, "no rule grants %s", "job/submit/echo")
	parsed := ParseError(original.Error())
	if parsed.Kind != ErrPolicyDenied {
		t.Errorf("kind = %q, want %q", parsed.Kind, ErrPolicyDenied)
	}
	if parsed.Detail != "no rule grants job/submit/echo" {
		t.Errorf("detail = %q", parsed.Detail)
	}
}

func TestParseErrorBareKind(t *testing.T) {
	parsed := ParseError("not-found")
	if parsed.Kind != ErrNotFound || parsed.Detail != "" {
		t.Errorf("parsed = %+v", parsed)
	}
}

func TestParseErrorUnclassified(t *testing.T) {
	parsed := ParseError("connection reset by peer")
	if parsed.Kind != "" {
		t.Errorf("unclassified message got kind %q", parsed.Kind)
	}
	if parsed.Detail != "connection reset by peer" {
		t.Errorf("detail = %q", parsed.Detail)
	}
}

func TestIsKindUnwraps(t *testing.T) {
	inner := NewError(ErrResourceExceeded, "memory cap breached")
	wrapped := fmt.Errorf("monitoring job: %w", inner)
	if !IsKind(wrapped, ErrResourceExceeded) {
		t.Error("IsKind failed to unwrap")
	}
	if IsKind(wrapped, ErrNotFound) {
		t.Error("IsKind matched the wrong kind")
	}
}
