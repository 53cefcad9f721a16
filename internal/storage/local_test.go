package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestLocalBackend(t *testing.T) *LocalBackend {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "arc-query-storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	backend, err := NewLocalBackend(tmpDir, logger)
	if err != nil {
		t.Fatalf("failed to create LocalBackend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

func writeTestFile(t *testing.T, backend *LocalBackend, path string, data []byte) {
	t.Helper()
	full := filepath.Join(backend.GetBasePath(), path)
	if err := os.MkdirAll(filepath.Dir(full), 0700); err != nil {
		t.Fatalf("failed to create parent dir for %s: %v", path, err)
	}
	if err := os.WriteFile(full, data, 0600); err != nil {
		t.Fatalf("failed to seed file %s: %v", path, err)
	}
}

func TestLocalBackend_Read(t *testing.T) {
	backend := newTestLocalBackend(t)
	ctx := context.Background()

	path := "tables/orders_OFFLINE/segment1/data.parquet"
	data := []byte("parquet bytes")
	writeTestFile(t, backend, path, data)

	got, err := backend.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Read = %q, want %q", got, data)
	}

	if _, err := backend.Read(ctx, "tables/orders_OFFLINE/segment1/missing.parquet"); err == nil {
		t.Fatal("expected an error reading a missing file")
	}
}

func TestLocalBackend_List(t *testing.T) {
	backend := newTestLocalBackend(t)
	ctx := context.Background()

	segments := []string{
		"tables/orders_OFFLINE/segment1/data.parquet",
		"tables/orders_OFFLINE/segment2/data.parquet",
	}
	for _, p := range segments {
		writeTestFile(t, backend, p, []byte("data"))
	}

	listed, err := backend.List(ctx, "tables/orders_OFFLINE/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listed) != len(segments) {
		t.Errorf("List returned %d entries, want %d: %v", len(listed), len(segments), listed)
	}

	empty, err := backend.List(ctx, "tables/does_not_exist/")
	if err != nil {
		t.Fatalf("List on a missing prefix should not error, got: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("List on a missing prefix = %v, want empty", empty)
	}
}

func TestLocalBackend_PathTraversalRejected(t *testing.T) {
	backend := newTestLocalBackend(t)
	ctx := context.Background()

	if _, err := backend.Read(ctx, "../../etc/passwd"); err == nil {
		t.Fatal("expected Read to reject a path escaping the base directory")
	}
}

func TestLocalBackend_TypeAndConfigJSON(t *testing.T) {
	backend := newTestLocalBackend(t)

	if backend.Type() != "local" {
		t.Errorf("Type() = %q, want %q", backend.Type(), "local")
	}
	if backend.ConfigJSON() == "" {
		t.Error("ConfigJSON() returned empty string")
	}
}
