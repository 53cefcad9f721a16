package storage

import "context"

// Backend defines the interface query execution uses to pull segment data
// out of a deep store. It is deliberately narrow: arc-query never writes
// segments (that is done upstream, out of process), so the only operations
// a segment load needs are discovering which objects make up a segment and
// fetching their bytes.
type Backend interface {
	// Read reads the full contents of the object at path.
	Read(ctx context.Context, path string) ([]byte, error)

	// List lists all object keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close closes any resources held by the backend.
	Close() error

	// Type returns the storage type identifier ("local", "s3", "azure").
	// segstore uses it to tell the local backend from remote ones.
	Type() string

	// ConfigJSON returns the backend's configuration as JSON.
	ConfigJSON() string
}
