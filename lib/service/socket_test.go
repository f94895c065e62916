// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package service_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/aether-foundation/aether/lib/codec"
	"github.com/aether-foundation/aether/lib/schema"
	"github.com/aether-foundation/aether/lib/service"
	"github.com/aether-foundation/aether/lib/testutil"
)

type echoRequest struct {
	Message string `json:"message"`
}

type echoResponse struct {
	Message string `json:"message"`
}

// startServer runs a server in the background and waits until it
// accepts connections. A "ping" action is registered for readiness
// polling.
func startServer(t *testing.T, configure func(*service.SocketServer)) *service.Client {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "svc.sock")
	server := service.NewSocketServer(socketPath, slog.New(slog.DiscardHandler))
	server.Handle("ping", func(ctx context.Context, raw []byte) (any, error) { return nil, nil })
	configure(server)

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, serveDone, 5*time.Second, "server shutdown")
	})

	client := service.NewClient(socketPath)
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := client.Call(context.Background(), "ping", nil, nil); err == nil {
			return client
		} else if time.Now().After(deadline) {
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCallRoundTrip(t *testing.T) {
	client := startServer(t, func(server *service.SocketServer) {
		server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
			var request echoRequest
			if err := codec.Unmarshal(raw, &request); err != nil {
				return nil, err
			}
			return echoResponse{Message: request.Message}, nil
		})
	})

	var response echoResponse
	err := client.Call(context.Background(), "echo", echoRequest{Message: "hello"}, &response)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if response.Message != "hello" {
		t.Errorf("message = %q, want hello", response.Message)
	}
}

func TestCallUnknownAction(t *testing.T) {
	client := startServer(t, func(server *service.SocketServer) {})
	err := client.Call(context.Background(), "nonexistent", nil, nil)
	if err == nil {
		t.Fatal("unknown action must fail")
	}
}

func TestErrorKindSurvivesTheWire(t *testing.T) {
	client := startServer(t, func(server *service.SocketServer) {
		server.Handle("lookup", func(ctx context.Context, raw []byte) (any, error) {
			return nil, schema.NewError(schema.ErrNotFound, "job job-00 missing")
		})
	})

	err := client.Call(context.Background(), "lookup", nil, nil)
	if !schema.IsKind(err, schema.ErrNotFound) {
		t.Errorf("error = %v, want not-found kind", err)
	}
}

func TestNilResultDiscardsData(t *testing.T) {
	client := startServer(t, func(server *service.SocketServer) {
		server.Handle("noop", func(ctx context.Context, raw []byte) (any, error) {
			return nil, nil
		})
	})
	if err := client.Call(context.Background(), "noop", nil, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
}

func TestStream(t *testing.T) {
	client := startServer(t, func(server *service.SocketServer) {
		server.HandleStream("count", func(ctx context.Context, raw []byte, stream *service.Stream) error {
			for i := 0; i < 3; i++ {
				if err := stream.Send(echoResponse{Message: fmt.Sprintf("line-%d", i)}); err != nil {
					return err
				}
			}
			return nil
		})
	})

	reader, err := client.CallStream(context.Background(), "count", nil)
	if err != nil {
		t.Fatalf("CallStream: %v", err)
	}
	defer reader.Close()

	var got []string
	for {
		var element echoResponse
		err := reader.Next(&element)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, element.Message)
	}
	if len(got) != 3 || got[0] != "line-0" || got[2] != "line-2" {
		t.Errorf("stream elements = %v", got)
	}
}

func TestStreamServerError(t *testing.T) {
	client := startServer(t, func(server *service.SocketServer) {
		server.HandleStream("fail", func(ctx context.Context, raw []byte, stream *service.Stream) error {
			if err := stream.Send(echoResponse{Message: "one"}); err != nil {
				return err
			}
			return schema.NewError(schema.ErrStorageIO, "log file vanished")
		})
	})

	reader, err := client.CallStream(context.Background(), "fail", nil)
	if err != nil {
		t.Fatalf("CallStream: %v", err)
	}
	defer reader.Close()

	var element echoResponse
	if err := reader.Next(&element); err != nil {
		t.Fatalf("first element: %v", err)
	}
	err = reader.Next(&element)
	if !schema.IsKind(err, schema.ErrStorageIO) {
		t.Errorf("trailing error = %v, want storage-io kind", err)
	}
}

func TestGracefulShutdownRemovesSocket(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "svc.sock")
	server := service.NewSocketServer(socketPath, slog.New(slog.DiscardHandler))
	server.Handle("noop", func(ctx context.Context, raw []byte) (any, error) { return nil, nil })

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Serve(ctx) }()

	client := service.NewClient(socketPath)
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := client.Call(context.Background(), "noop", nil, nil); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server did not come up")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := testutil.RequireReceive(t, serveDone, 5*time.Second, "server shutdown"); err != nil {
		t.Errorf("Serve: %v", err)
	}
	if err := client.Call(context.Background(), "noop", nil, nil); err == nil {
		t.Error("call after shutdown must fail")
	}
}
