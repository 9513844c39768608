package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/cache"
)

// FileCache persists the MSAL token cache in a single file readable only by
// the current user
type FileCache struct {
	path string
	mu   sync.Mutex
}

var _ cache.ExportReplace = (*FileCache)(nil)

// NewFileCache creates a cache backed by path
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// Replace loads the cache file into MSAL. A missing file is an empty cache.
func (c *FileCache) Replace(_ context.Context, u cache.Unmarshaler, _ cache.ReplaceHints) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read token cache: %w", err)
	}
	return u.Unmarshal(data)
}

// Export writes the MSAL cache to the file
func (c *FileCache) Export(_ context.Context, m cache.Marshaler, _ cache.ExportHints) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal token cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	return nil
}

// DefaultCacheFile returns the per-user cache location
func DefaultCacheFile() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "odata-provider", "msal_cache.json")
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "odata-provider", "msal_cache.json")
}
