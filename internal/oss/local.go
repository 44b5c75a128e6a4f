package oss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/franz/fpvscan/internal/util"
)

// BackendLocal serves a directory tree laid out like the bucket
const BackendLocal = "local"

// Local is a Backend over a local directory. Keys are slash-separated
// paths relative to the root.
type Local struct {
	root string
	name string
}

// NewLocal opens root as a bucket. The bucket name defaults to the base
// name of root.
func NewLocal(cfg Config) (*Local, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: local backend needs a root directory (OSS_ENDPOINT)", util.ErrInvalidConfig)
	}
	info, err := os.Stat(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to open local bucket: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", util.ErrInvalidConfig, cfg.Endpoint)
	}

	name := cfg.Bucket
	if name == "" {
		name = filepath.Base(cfg.Endpoint)
	}
	return &Local{root: cfg.Endpoint, name: name}, nil
}

func (l *Local) Bucket() string {
	return l.name
}

// ListPage lists everything under prefix in one page
func (l *Local) ListPage(ctx context.Context, prefix string, delimited bool, _ string) (Page, error) {
	// walk from the deepest directory the prefix names
	dir := ""
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir = prefix[:i]
	}
	start := filepath.Join(l.root, filepath.FromSlash(dir))

	var page Page
	seen := make(map[string]bool)

	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == start {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		if delimited {
			rest := key[len(prefix):]
			if i := strings.Index(rest, "/"); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seen[cp] {
					seen[cp] = true
					page.Prefixes = append(page.Prefixes, cp)
				}
				return nil
			}
		}
		page.Keys = append(page.Keys, key)
		return nil
	})
	if err != nil {
		return Page{}, err
	}

	sort.Strings(page.Prefixes)
	sort.Strings(page.Keys)
	return page, nil
}

func (l *Local) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(path.Clean("/"+key)))
}

func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	info, err := os.Stat(l.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

func (l *Local) Size(_ context.Context, key string) (int64, error) {
	info, err := os.Stat(l.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%s: %w", key, util.ErrNotFound)
		}
		return 0, err
	}
	return info.Size(), nil
}

func (l *Local) Download(_ context.Context, key, localPath string) error {
	src, err := os.Open(l.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", key, util.ErrNotFound)
		}
		return err
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
