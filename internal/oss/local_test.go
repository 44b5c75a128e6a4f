package oss

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/franz/fpvscan/internal/util"
)

func writeTree(t *testing.T, root string, files map[string]int64) {
	t.Helper()
	for key, size := range files {
		p := filepath.Join(root, filepath.FromSlash(key))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		f, err := os.Create(p)
		require.NoError(t, err)
		require.NoError(t, f.Truncate(size))
		require.NoError(t, f.Close())
	}
}

func TestLocal(t *testing.T) {
	root := filepath.Join(t.TempDir(), "fpv-local")
	writeTree(t, root, map[string]int64{
		"7393/session_20250101_120000_1/metadata.json":                    12,
		"7393/session_20250101_120000_1/segments/7393-down_sbs_0000.mp4":  600_000_000,
		"7393/session_20250101_120000_1/segments/7393-front_sbs_0000.mp4": 550_000_000,
		"7393/session_20250102_120000_2/metadata.json":                    12,
		"b852/session_20250101_090000_3/metadata.json":                    12,
		"readme.txt":                                                      3,
	})

	c, err := New(Config{Backend: BackendLocal, Endpoint: root}, nil)
	require.NoError(t, err)
	require.Equal(t, "fpv-local", c.Bucket())
	ctx := context.Background()

	devices, err := c.ListPrefixes(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"7393/", "b852/"}, devices)

	sessions, err := c.ListPrefixes(ctx, "7393/")
	require.NoError(t, err)
	require.Equal(t, []string{"7393/session_20250101_120000_1/", "7393/session_20250102_120000_2/"}, sessions)

	partial, err := c.ListPrefixes(ctx, "7393/session_20250102")
	require.NoError(t, err)
	require.Equal(t, []string{"7393/session_20250102_120000_2/"}, partial)

	keys, err := c.ListObjects(ctx, "7393/session_20250101_120000_1/segments/")
	require.NoError(t, err)
	require.Equal(t, []string{
		"7393/session_20250101_120000_1/segments/7393-down_sbs_0000.mp4",
		"7393/session_20250101_120000_1/segments/7393-front_sbs_0000.mp4",
	}, keys)

	missing, err := c.ListObjects(ctx, "9999/")
	require.NoError(t, err)
	require.Empty(t, missing)

	n, err := c.ObjectSize(ctx, "7393/session_20250101_120000_1/segments/7393-down_sbs_0000.mp4")
	require.NoError(t, err)
	require.Equal(t, int64(600_000_000), n)

	_, err = c.ObjectSize(ctx, "7393/nope.mp4")
	require.ErrorIs(t, err, util.ErrNotFound)

	ok, err := c.ObjectExists(ctx, "b852/session_20250101_090000_3/metadata.json")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.ObjectExists(ctx, "b852/")
	require.NoError(t, err)
	require.False(t, ok, "directories are not objects")

	dst := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, c.Download(ctx, "readme.txt", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Len(t, data, 3)
}

func TestNewLocal_Invalid(t *testing.T) {
	_, err := NewLocal(Config{})
	require.ErrorIs(t, err, util.ErrInvalidConfig)

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = NewLocal(Config{Endpoint: file})
	require.ErrorIs(t, err, util.ErrInvalidConfig)

	_, err = NewLocal(Config{Endpoint: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)
}
