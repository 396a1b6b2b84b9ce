// Package artifacts resolves model files from a local cache directory,
// fetching missing ones from an object store.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an artifact is absent locally and no fetcher is configured.
var ErrNotFound = errors.New("artifacts: not found")

// Fetcher downloads the object stored under key into dest.
type Fetcher interface {
	Fetch(ctx context.Context, key, dest string) error
}

// Cache maps artifact names to local files under Dir. Missing files are
// fetched from Prefix/name.
//
// Concurrent cold lookups of the same name may download it more than once.
// Each download lands in its own temporary file and is renamed into place,
// so readers never see a partial artifact.
type Cache struct {
	Dir     string
	Prefix  string
	Fetcher Fetcher
	Logger  *slog.Logger
}

// Path returns the local path of name, fetching it first if needed.
func (c *Cache) Path(ctx context.Context, name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("artifacts: invalid name %q", name)
	}

	local := filepath.Join(c.Dir, name)
	if st, err := os.Stat(local); err == nil && !st.IsDir() {
		return local, nil
	}

	if c.Fetcher == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, local)
	}

	key := c.Key(name)
	c.logger().Info("fetching artifact", "key", key, "dest", local)

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return "", fmt.Errorf("artifacts: create cache dir: %w", err)
	}

	tmp := filepath.Join(c.Dir, fmt.Sprintf(".%s.%s.part", name, uuid.NewString()))
	if err := c.Fetcher.Fetch(ctx, key, tmp); err != nil {
		os.Remove(tmp)
		c.logger().Error("artifact fetch failed", "key", key, "error", err)
		return "", fmt.Errorf("artifacts: fetch %s: %w", key, err)
	}
	if err := os.Rename(tmp, local); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("artifacts: install %s: %w", local, err)
	}

	return local, nil
}

// Key returns the object key for name.
func (c *Cache) Key(name string) string {
	if c.Prefix == "" {
		return name
	}
	return path.Join(c.Prefix, name)
}

// Warm resolves every name and returns their local paths in order.
func (c *Cache) Warm(ctx context.Context, names ...string) ([]string, error) {
	paths := make([]string, 0, len(names))
	for _, n := range names {
		p, err := c.Path(ctx, n)
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func (c *Cache) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default().With("component", "artifacts")
	}
	return c.Logger
}
