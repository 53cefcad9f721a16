package main

import (
	"testing"

	"github.com/basekick-labs/arc-query/internal/config"
	"github.com/basekick-labs/arc-query/internal/query"
)

func TestParseColumnDataType(t *testing.T) {
	cases := []struct {
		in   string
		want query.ColumnDataType
	}{
		{"INT", query.ColumnInt},
		{"int", query.ColumnInt},
		{"LONG", query.ColumnLong},
		{"FLOAT", query.ColumnFloat},
		{"DOUBLE", query.ColumnDouble},
		{"BYTES", query.ColumnBytes},
		{"OBJECT", query.ColumnObject},
		{"STRING", query.ColumnString},
		{"anything-else", query.ColumnString},
	}
	for _, c := range cases {
		if got := parseColumnDataType(c.in); got != c.want {
			t.Errorf("parseColumnDataType(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNewStorageBackend_UnsupportedBackend(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Backend: "hdfs"}}
	if _, err := newStorageBackend(cfg); err == nil {
		t.Fatal("expected an error for an unsupported storage backend")
	}
}

func TestNewStorageBackend_LocalDefaultsWhenUnset(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Backend: "", LocalPath: t.TempDir()}}
	backend, err := newStorageBackend(cfg)
	if err != nil {
		t.Fatalf("newStorageBackend failed: %v", err)
	}
	defer backend.Close()

	if backend.Type() != "local" {
		t.Errorf("Type() = %q, want %q", backend.Type(), "local")
	}
}
