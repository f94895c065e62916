// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Package service implements the CBOR-over-unix-socket protocol both
// Aether daemons serve and every client speaks.
//
// The model is one request per connection: the client writes a single
// CBOR map containing an "action" field plus action-specific fields,
// the server dispatches on the action, writes a single response
// envelope, and the connection closes. CBOR is self-delimiting, so
// there is no framing protocol.
//
// Streaming actions (job log follow) are the exception: the server
// keeps the connection open and writes a CBOR sequence of response
// envelopes. The stream ends with an application-level end marker or
// an error envelope; the client reads until then.
//
// Failure responses carry the boundary error taxonomy as the error
// string ("policy-denied: ...", "not-found: ..."); the client parses
// it back into a typed error so callers can branch on the kind.
package service
