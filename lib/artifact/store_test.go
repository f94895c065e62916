// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package artifact_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/aether-foundation/aether/lib/artifact"
	"github.com/aether-foundation/aether/lib/clock"
	"github.com/aether-foundation/aether/lib/ref"
	"github.com/aether-foundation/aether/lib/schema"
)

func openTestStore(t *testing.T, clk clock.Clock) *artifact.Store {
	t.Helper()
	store, err := artifact.Open(artifact.Options{
		Dir:      t.TempDir(),
		Clock:    clk,
		PoolSize: 2,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	data := []byte("line one\nline two\nline three\n")
	meta, err := store.Put(ctx, data, "text/plain", ref.JobID{})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if meta.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", meta.Size, len(data))
	}
	if meta.ID.IsZero() {
		t.Error("meta must carry an ID")
	}

	restored, gotMeta, err := store.Get(ctx, meta.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(restored, data) {
		t.Error("Get returned different bytes")
	}
	if gotMeta.ContentHash != meta.ContentHash {
		t.Errorf("ContentHash mismatch: %s != %s", gotMeta.ContentHash, meta.ContentHash)
	}
}

func TestPutIsIdempotent(t *testing.T) {
	fake := clock.Fake(time.Unix(1000, 0))
	store := openTestStore(t, fake)
	ctx := context.Background()

	data := []byte("identical content")
	first, err := store.Put(ctx, data, "text/plain", ref.JobID{})
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}

	fake.Advance(time.Hour)
	second, err := store.Put(ctx, data, "text/plain", ref.JobID{})
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("dedup put changed ID: %s != %s", second.ID, first.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("dedup put changed CreatedAt: %v != %v", second.CreatedAt, first.CreatedAt)
	}
}

func TestGetUnknownArtifact(t *testing.T) {
	store := openTestStore(t, nil)
	id := ref.ArtifactIDFromHash(artifact.HashBlob([]byte("never stored")))
	_, _, err := store.Get(context.Background(), id)
	if !schema.IsKind(err, schema.ErrNotFound) {
		t.Errorf("error = %v, want not-found", err)
	}
}

func TestListFilter(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()
	job := ref.NewJobID()

	if _, err := store.Put(ctx, []byte("output a"), "text/plain", job); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(ctx, []byte("output b"), "application/json", job); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(ctx, []byte("unrelated"), "text/plain", ref.NewJobID()); err != nil {
		t.Fatal(err)
	}

	byJob, err := store.List(ctx, schema.ArtifactFilter{ProducingJob: job})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(byJob) != 2 {
		t.Errorf("got %d artifacts for job, want 2", len(byJob))
	}

	byMIME, err := store.List(ctx, schema.ArtifactFilter{ProducingJob: job, MIMEType: "application/json"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(byMIME) != 1 {
		t.Errorf("got %d json artifacts, want 1", len(byMIME))
	}

	limited, err := store.List(ctx, schema.ArtifactFilter{Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("got %d artifacts with limit 1", len(limited))
	}
}

func TestSweepByAgeSparesReferenced(t *testing.T) {
	fake := clock.Fake(time.Unix(1000, 0))
	store := openTestStore(t, fake)
	ctx := context.Background()

	old, err := store.Put(ctx, []byte("old unreferenced"), "", ref.JobID{})
	if err != nil {
		t.Fatal(err)
	}
	pinned, err := store.Put(ctx, []byte("old but referenced"), "", ref.JobID{})
	if err != nil {
		t.Fatal(err)
	}
	job := ref.NewJobID()
	if err := store.SetJobRefs(ctx, job, []ref.ArtifactID{pinned.ID}); err != nil {
		t.Fatalf("SetJobRefs: %v", err)
	}

	fake.Advance(48 * time.Hour)
	fresh, err := store.Put(ctx, []byte("fresh"), "", ref.JobID{})
	if err != nil {
		t.Fatal(err)
	}

	stats, err := store.Sweep(ctx, artifact.RetentionPolicy{MaxAge: 24 * time.Hour})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Evicted != 1 {
		t.Errorf("evicted %d, want 1", stats.Evicted)
	}
	if _, _, err := store.Get(ctx, old.ID); !schema.IsKind(err, schema.ErrNotFound) {
		t.Error("old unreferenced artifact should be gone")
	}
	if _, _, err := store.Get(ctx, pinned.ID); err != nil {
		t.Errorf("referenced artifact must survive: %v", err)
	}
	if _, _, err := store.Get(ctx, fresh.ID); err != nil {
		t.Errorf("fresh artifact must survive: %v", err)
	}

	// Dropping the reference exposes the pinned artifact to the
	// next aged sweep.
	if err := store.ReleaseJobRefs(ctx, job); err != nil {
		t.Fatalf("ReleaseJobRefs: %v", err)
	}
	fake.Advance(48 * time.Hour)
	if _, err := store.Sweep(ctx, artifact.RetentionPolicy{MaxAge: 24 * time.Hour}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.Get(ctx, pinned.ID); !schema.IsKind(err, schema.ErrNotFound) {
		t.Error("unpinned artifact should be evicted")
	}
}

func TestSweepBySize(t *testing.T) {
	fake := clock.Fake(time.Unix(1000, 0))
	store := openTestStore(t, fake)
	ctx := context.Background()

	// Incompressible-ish distinct payloads so stored sizes are known
	// to be nontrivial.
	var ids []ref.ArtifactID
	for i := 0; i < 4; i++ {
		payload := make([]byte, 2048)
		for j := range payload {
			payload[j] = byte(i*31 + j*17 + j*j)
		}
		meta, err := store.Put(ctx, payload, "", ref.JobID{})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, meta.ID)
		fake.Advance(time.Minute)
	}

	stats, err := store.Sweep(ctx, artifact.RetentionPolicy{MaxTotalBytes: 4096})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Evicted == 0 {
		t.Fatal("size pressure should evict something")
	}
	// Oldest go first.
	if _, _, err := store.Get(ctx, ids[0]); !schema.IsKind(err, schema.ErrNotFound) {
		t.Error("oldest artifact should be evicted first")
	}
	if _, _, err := store.Get(ctx, ids[len(ids)-1]); err != nil {
		t.Errorf("newest artifact should survive: %v", err)
	}
}
