// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Package runtime provides the client for the external model runtime
// service (cfcd). Prediction, encoding, and scoring jobs are not run
// in a sandbox; the orchestrator forwards them here and the runtime
// service resolves them against its loaded model.
//
// The service speaks the same one-request-per-connection CBOR
// protocol as the Aether daemons. It is reached over its Unix socket
// when possible, falling back to a TCP host for environments without
// Unix socket support.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/aether-foundation/aether/lib/codec"
	"github.com/aether-foundation/aether/lib/schema"
	"github.com/aether-foundation/aether/lib/service"
)

const dialTimeout = 5 * time.Second

// responseReadTimeout bounds the wait for the runtime's answer.
// Model invocations are slow; this is deliberately generous.
const responseReadTimeout = 10 * time.Minute

const maxResponseSize = 32 * 1024 * 1024

// Invoker is the part of the runtime service the job runner uses.
type Invoker interface {
	// Invoke runs one runtime-backed job. jobType is the runtime
	// action ("predict", "encode", "score", or an external type
	// forwarded verbatim). Returns the result payload.
	Invoke(ctx context.Context, jobType string, modelVersion string, payload []byte) ([]byte, error)
}

// Client reaches the runtime service. Safe for concurrent use.
type Client struct {
	socketPath string
	hostAddr   string
}

var _ Invoker = (*Client)(nil)

// New creates a Client. socketPath is the runtime's Unix socket;
// hostAddr is an optional "host:port" TCP fallback tried when the
// socket cannot be reached.
func New(socketPath, hostAddr string) *Client {
	return &Client{socketPath: socketPath, hostAddr: hostAddr}
}

type invokeRequest struct {
	ModelVersion string `json:"model_version,omitempty"`
	Payload      []byte `json:"payload,omitempty"`
}

type invokeResponse struct {
	Output []byte `json:"output"`
}

// Invoke sends one job to the runtime service and blocks until the
// result is available or ctx is cancelled.
func (c *Client) Invoke(ctx context.Context, jobType string, modelVersion string, payload []byte) ([]byte, error) {
	fields := map[string]any{
		"action":        jobType,
		"model_version": modelVersion,
		"payload":       payload,
	}
	encoded, err := codec.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshaling runtime request: %w", err)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtime %q: %w", jobType, err)
	}
	defer conn.Close()

	// Cancellation must interrupt a slow model, not just the dial.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if _, err := conn.Write(encoded); err != nil {
		return nil, fmt.Errorf("runtime %q: writing request: %w", jobType, err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response service.Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("runtime %q: reading response: %w", jobType, err)
	}
	if !response.OK {
		return nil, fmt.Errorf("runtime %q: %w", jobType, schema.ParseError(response.Error))
	}

	var result invokeResponse
	if len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, &result); err != nil {
			return nil, fmt.Errorf("runtime %q: decoding result: %w", jobType, err)
		}
	}
	return result.Output, nil
}

// dial connects to the runtime service: Unix socket first, TCP host
// fallback second.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}

	var errs []error
	if c.socketPath != "" {
		conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
	}
	if c.hostAddr != "" {
		conn, err := dialer.DialContext(ctx, "tcp", c.hostAddr)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("no runtime service address configured")
	}
	return nil, fmt.Errorf("connecting to runtime service: %w", errors.Join(errs...))
}
