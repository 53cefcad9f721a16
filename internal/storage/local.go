package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// LocalBackend implements Backend over a local filesystem directory. It is
// used as the single-node deep store, whose segment files segstore queries
// in place; segstore writes its cache of remote segment files straight to
// its cache directory, not through a LocalBackend.
type LocalBackend struct {
	basePath string
	logger   zerolog.Logger
}

// NewLocalBackend creates a new local filesystem storage backend
func NewLocalBackend(basePath string, logger zerolog.Logger) (*LocalBackend, error) {
	// Convert to absolute path to avoid issues with filepath.Rel during List operations
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	// Ensure base path exists with owner-only permissions for security
	if err := os.MkdirAll(absPath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	return &LocalBackend{
		basePath: absPath,
		logger:   logger.With().Str("component", "local-storage").Logger(),
	}, nil
}

// Read reads data from the specified path
func (b *LocalBackend) Read(ctx context.Context, path string) ([]byte, error) {
	// Validate and sanitize the path to prevent path traversal
	fullPath, err := b.validatePath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return data, nil
}

// List lists all objects with the given prefix
func (b *LocalBackend) List(ctx context.Context, prefix string) ([]string, error) {
	// Validate and sanitize the prefix to prevent path traversal
	searchPath, err := b.validatePath(prefix)
	if err != nil {
		return nil, fmt.Errorf("invalid prefix: %w", err)
	}
	var results []string

	// Use filepath.Walk to recursively list files
	err = filepath.Walk(searchPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Skip directories that don't exist
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		// Skip directories
		if info.IsDir() {
			return nil
		}

		// Skip hidden files (e.g., .DS_Store on macOS)
		if strings.HasPrefix(info.Name(), ".") {
			return nil
		}

		// Get relative path from base
		relPath, err := filepath.Rel(b.basePath, path)
		if err != nil {
			return err
		}

		results = append(results, relPath)
		return nil
	})

	if err != nil {
		// If the directory doesn't exist, return empty list
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return results, nil
}

// Close closes any resources held by the backend (no-op for local storage)
func (b *LocalBackend) Close() error {
	return nil
}

// GetFullPath returns the full filesystem path for a given storage path,
// or an empty string when the path would escape the base directory.
func (b *LocalBackend) GetFullPath(path string) string {
	// Validate and sanitize the path to prevent path traversal
	fullPath, err := b.validatePath(path)
	if err != nil {
		// Return empty string for invalid paths
		return ""
	}
	return fullPath
}

// GetBasePath returns the base path for the local storage
func (b *LocalBackend) GetBasePath() string {
	return b.basePath
}

// Type returns the storage type identifier
func (b *LocalBackend) Type() string {
	return "local"
}

// ConfigJSON returns the configuration as JSON
func (b *LocalBackend) ConfigJSON() string {
	config := map[string]string{"base_path": b.basePath}
	data, _ := json.Marshal(config)
	return string(data)
}

// sanitizePath removes any potentially dangerous path components
func sanitizePath(path string) string {
	// Remove leading slashes
	path = strings.TrimPrefix(path, "/")

	// Replace .. with _ to prevent directory traversal
	path = strings.ReplaceAll(path, "..", "_")

	// Remove any null bytes (can bypass some checks)
	path = strings.ReplaceAll(path, "\x00", "")

	return path
}

// validatePath ensures the resolved path stays within the base path (prevents path traversal)
func (b *LocalBackend) validatePath(path string) (string, error) {
	// First sanitize the path
	sanitized := sanitizePath(path)

	// Join with base path and get the absolute path
	fullPath := filepath.Join(b.basePath, sanitized)
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	// Get absolute base path for comparison
	absBasePath, err := filepath.Abs(b.basePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}

	// Ensure the resolved path is within the base path
	// Use filepath.Rel to check if the path is under basePath
	relPath, err := filepath.Rel(absBasePath, absPath)
	if err != nil {
		return "", fmt.Errorf("path traversal detected")
	}

	// If the relative path starts with "..", it's outside the base path
	if strings.HasPrefix(relPath, "..") {
		return "", fmt.Errorf("path traversal detected: path escapes base directory")
	}

	return absPath, nil
}
