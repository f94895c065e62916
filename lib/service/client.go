// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/aether-foundation/aether/lib/codec"
	"github.com/aether-foundation/aether/lib/schema"
)

// dialTimeout covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long a plain Call waits for the
// response: the server's read timeout plus its write timeout plus
// handler headroom.
const responseReadTimeout = 45 * time.Second

// maxResponseSize matches the server's maxRequestSize.
const maxResponseSize = 32 * 1024 * 1024

// Client sends requests to an Aether service socket. Each Call opens
// a new connection, matching the server's one-request-per-connection
// model. Safe for concurrent use.
type Client struct {
	socketPath string
}

// NewClient creates a client for the socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends one request and decodes the response data into result
// (when result is non-nil and data is present).
//
// request is a typed request struct; the client injects the "action"
// field. A failure response is parsed back into a *schema.Error, so
// callers can test the kind with schema.IsKind.
func (c *Client) Call(ctx context.Context, action string, request any, result any) error {
	encoded, err := encodeRequest(action, request)
	if err != nil {
		return err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	defer conn.Close()

	if err := writeRequest(conn, encoded); err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return fmt.Errorf("calling %q on %s: reading response: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return fmt.Errorf("action %q: %w", action, schema.ParseError(response.Error))
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

// CallStream opens a streaming action and returns a reader over its
// elements. The caller must Close the reader. Cancelling ctx tears
// the connection down, which unblocks a pending Next.
func (c *Client) CallStream(ctx context.Context, action string, request any) (*StreamReader, error) {
	encoded, err := encodeRequest(action, request)
	if err != nil {
		return nil, err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	if err := writeRequest(conn, encoded); err != nil {
		conn.Close()
		return nil, fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	return &StreamReader{
		action:  action,
		conn:    conn,
		decoder: codec.NewDecoder(io.LimitReader(conn, maxResponseSize)),
		done:    done,
	}, nil
}

// StreamReader iterates a stream's elements. Not safe for concurrent
// use.
type StreamReader struct {
	action  string
	conn    net.Conn
	decoder *codec.Decoder
	done    chan struct{}
	closed  bool
}

// Next decodes the next element into result. Returns io.EOF when the
// server closes the stream cleanly, or the parsed failure when the
// server ends the stream with an error envelope.
func (r *StreamReader) Next(result any) error {
	var response Response
	if err := r.decoder.Decode(&response); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("reading stream for %q: %w", r.action, err)
	}
	if !response.OK {
		return fmt.Errorf("action %q: %w", r.action, schema.ParseError(response.Error))
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding stream element for %q: %w", r.action, err)
		}
	}
	return nil
}

// Close releases the connection. Safe to call more than once.
func (r *StreamReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	close(r.done)
	return r.conn.Close()
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	return conn, nil
}

// encodeRequest marshals the typed request and injects the action
// field. Round-tripping through a map keeps request structs free of
// transport concerns.
func encodeRequest(action string, request any) ([]byte, error) {
	fields := make(map[string]any)
	if request != nil {
		encoded, err := codec.Marshal(request)
		if err != nil {
			return nil, fmt.Errorf("marshaling request for %q: %w", action, err)
		}
		if err := codec.Unmarshal(encoded, &fields); err != nil {
			return nil, fmt.Errorf("marshaling request for %q: %w", action, err)
		}
	}
	fields["action"] = action
	encoded, err := codec.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshaling request for %q: %w", action, err)
	}
	return encoded, nil
}

// writeRequest sends the request and half-closes the write side so
// the server's read sees EOF cleanly.
func writeRequest(conn net.Conn, encoded []byte) error {
	if _, err := conn.Write(encoded); err != nil {
		return fmt.Errorf("writing request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}
	return nil
}
