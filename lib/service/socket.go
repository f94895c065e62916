// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/aether-foundation/aether/lib/codec"
)

// ActionFunc processes one request. The raw parameter is the full
// CBOR request including the "action" field; the handler decodes its
// action-specific fields from it.
//
// Return a value for the response's "data" field, or nil for a bare
// {ok: true}. A returned error becomes a failure response with the
// error's string as the message.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// StreamFunc processes one streaming request. The handler sends any
// number of values on the stream and returns; a non-nil error is
// delivered to the client as a trailing failure envelope. The handler
// must watch ctx and the stream's send errors to notice a departed
// client.
type StreamFunc func(ctx context.Context, raw []byte, stream *Stream) error

// Response is the wire envelope for all responses, including each
// element of a stream.
type Response struct {
	OK    bool             `json:"ok"`
	Error string           `json:"error,omitempty"`
	Data  codec.RawMessage `json:"data,omitempty"`
}

// Stream sends a sequence of values on one connection. Not safe for
// concurrent use; a handler sends from one goroutine.
type Stream struct {
	conn    net.Conn
	encoder *codec.Encoder
}

// Send writes one value as a success envelope. Returns an error when
// the client has gone away; the handler should stop sending.
func (s *Stream) Send(value any) error {
	data, err := codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling stream element: %w", err)
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.encoder.Encode(Response{OK: true, Data: data})
}

// SocketServer serves the socket protocol. Register actions with
// Handle and HandleStream before calling Serve.
type SocketServer struct {
	socketPath     string
	handlers       map[string]ActionFunc
	streamHandlers map[string]StreamFunc
	logger         *slog.Logger

	// activeConnections tracks in-flight handlers so Serve can drain
	// them on shutdown.
	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server that will listen on socketPath.
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	return &SocketServer{
		socketPath:     socketPath,
		handlers:       make(map[string]ActionFunc),
		streamHandlers: make(map[string]StreamFunc),
		logger:         logger,
	}
}

// Handle registers a request-response action. Panics on a duplicate
// registration: that is a wiring bug, not a runtime condition.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	if s.registered(action) {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// HandleStream registers a streaming action.
func (s *SocketServer) HandleStream(action string, handler StreamFunc) {
	if s.registered(action) {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.streamHandlers[action] = handler
}

func (s *SocketServer) registered(action string) bool {
	_, plain := s.handlers[action]
	_, stream := s.streamHandlers[action]
	return plain || stream
}

// Serve accepts connections until ctx is cancelled, then stops
// accepting and drains active handlers. Any stale socket file at the
// path is removed before listening, and the socket file is removed on
// return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("socket server listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// readTimeout bounds the wait for the client's request. A well-behaved
// client sends it immediately after connecting.
const readTimeout = 30 * time.Second

// writeTimeout bounds each response or stream-element write.
const writeTimeout = 10 * time.Second

// maxRequestSize bounds one CBOR request. Inline artifact content is
// the largest payload; 32 MB covers every job output the substrate is
// meant to carry inline.
const maxRequestSize = 32 * 1024 * 1024

func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// One CBOR value; LimitReader keeps a hostile client from
	// exhausting memory.
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			// Client connected but sent nothing.
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	var header struct {
		Action string `json:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}

	if handler, exists := s.streamHandlers[header.Action]; exists {
		// Streams are long-lived; the request is already read, so
		// clear the read deadline and let the handler own pacing.
		conn.SetReadDeadline(time.Time{})
		stream := &Stream{conn: conn, encoder: codec.NewEncoder(conn)}
		if err := handler(ctx, []byte(raw), stream); err != nil {
			s.logger.Debug("stream action failed", "action", header.Action, "error", err)
			s.writeError(conn, err.Error())
		}
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("action failed", "action", header.Action, "error", err)
		s.writeError(conn, err.Error())
		return
	}
	s.writeSuccess(conn, result)
}

func (s *SocketServer) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{OK: false, Error: message}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

func (s *SocketServer) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
