// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"strings"
	"testing"
)

func TestNewJobIDDistinct(t *testing.T) {
	a := NewJobID()
	b := NewJobID()
	if a.IsZero() || b.IsZero() {
		t.Fatal("generated JobID is zero")
	}
	if a.String() == b.String() {
		t.Fatalf("two generated JobIDs collided: %s", a)
	}
}

func TestParseJobIDRoundTrip(t *testing.T) {
	id := NewJobID()
	parsed, err := ParseJobID(id.String())
	if err != nil {
		t.Fatalf("ParseJobID(%q): %v", id, err)
	}
	if parsed != id {
		t.Errorf("round trip changed id: %s != %s", parsed, id)
	}
}

func TestParseJobIDRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"job-",
		"job-short",
		"art-0123456789abcdef",
		"job-" + strings.Repeat("g", 32),
		"job-" + strings.Repeat("A", 32),
		strings.Repeat("0", 36),
	}
	for _, input := range cases {
		if _, err := ParseJobID(input); err == nil {
			t.Errorf("ParseJobID(%q) accepted malformed input", input)
		}
	}
}

func TestArtifactIDFromHashDeterministic(t *testing.T) {
	var hash [32]byte
	for i := range hash {
		hash[i] = byte(i)
	}
	a := ArtifactIDFromHash(hash)
	b := ArtifactIDFromHash(hash)
	if a != b {
		t.Fatalf("same hash produced different ids: %s %s", a, b)
	}
	if a.String() != "art-0001020304050607" {
		t.Errorf("unexpected artifact id %s", a)
	}
	if _, err := ParseArtifactID(a.String()); err != nil {
		t.Errorf("ParseArtifactID(%q): %v", a, err)
	}
}

func TestNewActor(t *testing.T) {
	valid := []string{"operator", "aurorad", "agent/planner", "svc.runtime-1"}
	for _, input := range valid {
		if _, err := NewActor(input); err != nil {
			t.Errorf("NewActor(%q): %v", input, err)
		}
	}
	invalid := []string{"", "/leading", "trailing/", "double//slash", "Upper", "spa ce"}
	for _, input := range invalid {
		if _, err := NewActor(input); err == nil {
			t.Errorf("NewActor(%q) accepted malformed input", input)
		}
	}
}

func TestJobIDTextMarshaling(t *testing.T) {
	id := NewJobID()
	text, err := id.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var decoded JobID
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if decoded != id {
		t.Errorf("text round trip changed id: %s != %s", decoded, id)
	}
	var rejected JobID
	if err := rejected.UnmarshalText([]byte("not-a-job-id")); err == nil {
		t.Error("UnmarshalText accepted malformed input")
	}
}
