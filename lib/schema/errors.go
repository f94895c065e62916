// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable failure taxonomy carried on every
// rejected or failed action. Orchestrating clients branch on the kind
// to decide whether to retry, escalate, or abandon.
type ErrorKind string

const (
	// ErrPolicyDenied means the policy engine rejected the action.
	// Always audited, never retried automatically.
	ErrPolicyDenied ErrorKind = "policy-denied"

	// ErrResourceExceeded means a sandbox ceiling was breached (OOM,
	// CPU or time budget).
	ErrResourceExceeded ErrorKind = "resource-exceeded"

	// ErrSandboxSetup means the isolation primitives could not be
	// constructed; the job never reached Running.
	ErrSandboxSetup ErrorKind = "sandbox-setup-failure"

	// ErrJobProcess means the job's own process crashed or exited
	// non-zero. Captured verbatim.
	ErrJobProcess ErrorKind = "job-process-failure"

	// ErrNotFound means a lookup of an unknown job, artifact, or
	// memory entry.
	ErrNotFound ErrorKind = "not-found"

	// ErrStorageIO means the underlying persistent store failed.
	// For the audit log this is fatal to the daemon's availability.
	ErrStorageIO ErrorKind = "storage-io-failure"
)

// Error is the substrate's boundary error: a taxonomy kind plus a
// human-readable detail. It crosses the socket as the response error
// string in "kind: detail" form and is reconstructed by ParseError on
// the client side.
type Error struct {
	Kind   ErrorKind
	Detail string
}

// NewError constructs a boundary error.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Detail
}

// knownKinds drives ParseError's prefix scan.
var knownKinds = []ErrorKind{
	ErrPolicyDenied,
	ErrResourceExceeded,
	ErrSandboxSetup,
	ErrJobProcess,
	ErrNotFound,
	ErrStorageIO,
}

// ParseError reconstructs a boundary Error from its wire string. If
// the string does not begin with a known kind, the whole message is
// wrapped as a storage-agnostic detail with an empty kind — callers
// treat that as an unclassified transport error.
func ParseError(message string) *Error {
	for _, kind := range knownKinds {
		prefix := string(kind)
		if message == prefix {
			return &Error{Kind: kind}
		}
		if len(message) > len(prefix)+2 && message[:len(prefix)] == prefix && message[len(prefix):len(prefix)+2] == ": " {
			return &Error{Kind: kind, Detail: message[len(prefix)+2:]}
		}
	}
	return &Error{Detail: message}
}

// IsKind reports whether err is (or wraps) a boundary Error of the
// given kind.
func IsKind(err error, kind ErrorKind) bool {
	var boundary *Error
	return errors.As(err, &boundary) && boundary.Kind == kind
}
