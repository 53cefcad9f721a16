package segstore

import (
	"context"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/basekick-labs/arc-query/internal/storage"
)

// fakeRemoteBackend is a minimal storage.Backend standing in for s3/azure:
// List/Read answer from an in-memory object map, and every Read call is
// recorded so tests can assert the local cache is actually used.
type fakeRemoteBackend struct {
	objects map[string][]byte
	reads   []string
}

func (f *fakeRemoteBackend) Read(ctx context.Context, path string) ([]byte, error) {
	f.reads = append(f.reads, path)
	data, ok := f.objects[path]
	if !ok {
		return nil, &os.PathError{Op: "read", Path: path, Err: os.ErrNotExist}
	}
	return data, nil
}

func (f *fakeRemoteBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeRemoteBackend) Close() error       { return nil }
func (f *fakeRemoteBackend) Type() string       { return "s3" }
func (f *fakeRemoteBackend) ConfigJSON() string { return "{}" }

func TestSegmentFromClause_RemoteBackendCachesFiles(t *testing.T) {
	backend := &fakeRemoteBackend{objects: map[string][]byte{
		"orders_OFFLINE/seg1/part-0.parquet": []byte("parquet bytes"),
	}}
	cacheDir := t.TempDir()
	ctx := context.Background()

	from, err := segmentFromClause(ctx, backend, "orders_OFFLINE", "seg1", cacheDir)
	if err != nil {
		t.Fatalf("segmentFromClause failed: %v", err)
	}
	if !strings.Contains(from, "read_parquet(") {
		t.Errorf("from-clause = %q, want a read_parquet() call", from)
	}
	if len(backend.reads) != 1 {
		t.Fatalf("expected exactly one remote Read, got %d: %v", len(backend.reads), backend.reads)
	}

	// Calling again must hit the cache rather than re-fetching from the backend.
	if _, err := segmentFromClause(ctx, backend, "orders_OFFLINE", "seg1", cacheDir); err != nil {
		t.Fatalf("segmentFromClause (second call) failed: %v", err)
	}
	if len(backend.reads) != 1 {
		t.Errorf("expected the second Open to reuse the cache, got %d total reads: %v", len(backend.reads), backend.reads)
	}
}

func TestSegmentFromClause_RemoteBackendNoFiles(t *testing.T) {
	backend := &fakeRemoteBackend{objects: map[string][]byte{}}
	if _, err := segmentFromClause(context.Background(), backend, "orders_OFFLINE", "seg1", t.TempDir()); err == nil {
		t.Fatal("expected an error when no parquet files exist under the segment prefix")
	}
}

func TestSegmentFromClause_LocalBackendSkipsCache(t *testing.T) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	backend, err := storage.NewLocalBackend(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("NewLocalBackend failed: %v", err)
	}
	defer backend.Close()

	from, err := segmentFromClause(context.Background(), backend, "orders_OFFLINE", "seg1", "/unused-cache-dir")
	if err != nil {
		t.Fatalf("segmentFromClause failed: %v", err)
	}
	want := "read_parquet('" + storage.GetStoragePath(backend, "orders_OFFLINE", "seg1") + "')"
	if from != want {
		t.Errorf("from-clause = %q, want %q", from, want)
	}
}
