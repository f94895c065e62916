// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/aether-foundation/aether/lib/codec"
	"github.com/aether-foundation/aether/lib/schema"
	"github.com/aether-foundation/aether/lib/service"
	"github.com/aether-foundation/aether/lib/testutil"
)

// startRuntime serves a fake runtime service on a fresh socket.
func startRuntime(t *testing.T, register func(*service.SocketServer)) string {
	t.Helper()

	socketPath := filepath.Join(testutil.SocketDir(t), "cfcd.sock")
	server := service.NewSocketServer(socketPath, slog.New(slog.DiscardHandler))
	register(server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, done, 5*time.Second, "server did not stop")
	})

	// Wait for the socket to come up.
	client := New(socketPath, "")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := client.Invoke(context.Background(), "ping", "", nil); err == nil {
			return socketPath
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("runtime server never became reachable")
	return ""
}

func TestInvoke(t *testing.T) {
	socketPath := startRuntime(t, func(server *service.SocketServer) {
		server.Handle("ping", func(ctx context.Context, raw []byte) (any, error) {
			return invokeResponse{}, nil
		})
		server.Handle("predict", func(ctx context.Context, raw []byte) (any, error) {
			var request struct {
				ModelVersion string `json:"model_version"`
				Payload      []byte `json:"payload"`
			}
			if err := codec.Unmarshal(raw, &request); err != nil {
				return nil, err
			}
			if request.ModelVersion != "v3" {
				t.Errorf("model version = %q, want v3", request.ModelVersion)
			}
			return invokeResponse{Output: append([]byte("out:"), request.Payload...)}, nil
		})
	})

	client := New(socketPath, "")
	output, err := client.Invoke(context.Background(), "predict", "v3", []byte("state"))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if string(output) != "out:state" {
		t.Errorf("output = %q", output)
	}
}

func TestInvokeFailureParsesTaxonomy(t *testing.T) {
	socketPath := startRuntime(t, func(server *service.SocketServer) {
		server.Handle("ping", func(ctx context.Context, raw []byte) (any, error) {
			return nil, nil
		})
		server.Handle("predict", func(ctx context.Context, raw []byte) (any, error) {
			return nil, schema.NewError(schema.ErrNotFound, "model version v9 not loaded")
		})
	})

	client := New(socketPath, "")
	_, err := client.Invoke(context.Background(), "predict", "v9", nil)
	if !schema.IsKind(err, schema.ErrNotFound) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestInvokeNoAddress(t *testing.T) {
	client := New("", "")
	if _, err := client.Invoke(context.Background(), "predict", "", nil); err == nil {
		t.Error("expected error with no configured address")
	}
}

func TestInvokeCancellation(t *testing.T) {
	socketPath := startRuntime(t, func(server *service.SocketServer) {
		server.Handle("ping", func(ctx context.Context, raw []byte) (any, error) {
			return nil, nil
		})
		server.HandleStream("hang", func(ctx context.Context, raw []byte, stream *service.Stream) error {
			<-ctx.Done()
			return nil
		})
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		client := New(socketPath, "")
		_, err := client.Invoke(ctx, "hang", "", nil)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	err := testutil.RequireReceive(t, errCh, 5*time.Second, "Invoke did not return after cancel")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
