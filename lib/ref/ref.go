// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	jobPrefix      = "job-"
	artifactPrefix = "art-"
	entryPrefix    = "mem-"

	// randomIDHexLength is the hex length of randomly generated
	// identifiers (JobID, EntryID): 16 random bytes.
	randomIDHexLength = 32

	// ArtifactIDHexLength is the hex length of an artifact identifier:
	// the first 8 bytes of the file-domain BLAKE3 hash. Long enough
	// that collisions require ~2^32 distinct artifacts; the full
	// 32-byte hash is stored in the metadata index.
	ArtifactIDHexLength = 16
)

// JobID identifies one submitted job. Immutable and unique for the
// daemon's lifetime; a retry of the same logical request produces a
// new JobID.
type JobID struct{ value string }

// NewJobID generates a fresh random JobID.
func NewJobID() JobID {
	return JobID{value: jobPrefix + randomHex(randomIDHexLength)}
}

// ParseJobID validates and parses a job identifier string.
func ParseJobID(s string) (JobID, error) {
	if err := validateID(s, jobPrefix, randomIDHexLength); err != nil {
		return JobID{}, fmt.Errorf("invalid job id: %w", err)
	}
	return JobID{value: s}, nil
}

func (id JobID) String() string { return id.value }

// IsZero reports whether this is an uninitialized zero-value JobID.
func (id JobID) IsZero() bool { return id.value == "" }

// MarshalText implements encoding.TextMarshaler.
func (id JobID) MarshalText() ([]byte, error) { return []byte(id.value), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *JobID) UnmarshalText(text []byte) error {
	parsed, err := ParseJobID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ArtifactID identifies an immutable content-addressed blob. It is
// derived from the content hash, so identical bytes always yield the
// same ArtifactID.
type ArtifactID struct{ value string }

// ArtifactIDFromHash constructs an ArtifactID from a 32-byte
// file-domain content hash.
func ArtifactIDFromHash(hash [32]byte) ArtifactID {
	return ArtifactID{value: artifactPrefix + hex.EncodeToString(hash[:ArtifactIDHexLength/2])}
}

// ParseArtifactID validates and parses an artifact identifier string.
func ParseArtifactID(s string) (ArtifactID, error) {
	if err := validateID(s, artifactPrefix, ArtifactIDHexLength); err != nil {
		return ArtifactID{}, fmt.Errorf("invalid artifact id: %w", err)
	}
	return ArtifactID{value: s}, nil
}

func (id ArtifactID) String() string { return id.value }

// IsZero reports whether this is an uninitialized zero-value ArtifactID.
func (id ArtifactID) IsZero() bool { return id.value == "" }

// MarshalText implements encoding.TextMarshaler.
func (id ArtifactID) MarshalText() ([]byte, error) { return []byte(id.value), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ArtifactID) UnmarshalText(text []byte) error {
	parsed, err := ParseArtifactID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// EntryID identifies one memory store entry.
type EntryID struct{ value string }

// NewEntryID generates a fresh random EntryID.
func NewEntryID() EntryID {
	return EntryID{value: entryPrefix + randomHex(randomIDHexLength)}
}

// ParseEntryID validates and parses a memory entry identifier string.
func ParseEntryID(s string) (EntryID, error) {
	if err := validateID(s, entryPrefix, randomIDHexLength); err != nil {
		return EntryID{}, fmt.Errorf("invalid entry id: %w", err)
	}
	return EntryID{value: s}, nil
}

func (id EntryID) String() string { return id.value }

// IsZero reports whether this is an uninitialized zero-value EntryID.
func (id EntryID) IsZero() bool { return id.value == "" }

// MarshalText implements encoding.TextMarshaler.
func (id EntryID) MarshalText() ([]byte, error) { return []byte(id.value), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *EntryID) UnmarshalText(text []byte) error {
	parsed, err := ParseEntryID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Actor names the principal making a request: "operator", "aurorad",
// "agent/planner". Actors are hierarchical slash-separated names, the
// same shape the policy engine's patterns match against.
type Actor struct{ value string }

// NewActor validates and constructs an Actor.
func NewActor(s string) (Actor, error) {
	if s == "" {
		return Actor{}, fmt.Errorf("invalid actor: empty")
	}
	if strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/") || strings.Contains(s, "//") {
		return Actor{}, fmt.Errorf("invalid actor %q: malformed path segments", s)
	}
	for _, r := range s {
		if !isActorRune(r) {
			return Actor{}, fmt.Errorf("invalid actor %q: character %q not allowed", s, r)
		}
	}
	return Actor{value: s}, nil
}

func (a Actor) String() string { return a.value }

// IsZero reports whether this is an uninitialized zero-value Actor.
func (a Actor) IsZero() bool { return a.value == "" }

// MarshalText implements encoding.TextMarshaler.
func (a Actor) MarshalText() ([]byte, error) { return []byte(a.value), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Actor) UnmarshalText(text []byte) error {
	parsed, err := NewActor(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func isActorRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_' || r == '.' || r == '/':
		return true
	}
	return false
}

// RequestID generates a unique request identifier for boundary
// requests. UUIDv4 rather than the job-/mem- hex scheme: request IDs
// are transport-level correlation tokens, not domain identifiers.
func RequestID() string {
	return uuid.NewString()
}

// randomHex returns hexLength hex characters from crypto/rand.
func randomHex(hexLength int) string {
	buf := make([]byte, hexLength/2)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read only fails when the OS entropy source is
		// broken; no identifier can safely be generated.
		panic("ref: reading random bytes: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// validateID checks prefix, length, and lowercase-hex payload.
func validateID(s, prefix string, hexLength int) error {
	if !strings.HasPrefix(s, prefix) {
		return fmt.Errorf("%q lacks %q prefix", s, prefix)
	}
	payload := s[len(prefix):]
	if len(payload) != hexLength {
		return fmt.Errorf("%q payload length is %d, want %d", s, len(payload), hexLength)
	}
	for _, r := range payload {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return fmt.Errorf("%q contains non-hex character %q", s, r)
		}
	}
	return nil
}
