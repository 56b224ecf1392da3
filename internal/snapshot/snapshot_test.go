package snapshot_test

import (
	"errors"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/twpayne/go-vfs/v4/vfst"

	"github.com/twpayne/dedupscan/internal/fstable"
	"github.com/twpayne/dedupscan/internal/snapshot"
)

func TestSaveLoad(t *testing.T) {
	testFS, cleanup, err := vfst.NewTestFS(map[string]any{
		"/root": map[string]any{
			"a":   "alpha",
			"b":   "alpha",
			"dir": map[string]any{"c": "gamma"},
		},
	})
	assert.NoError(t, err)
	t.Cleanup(cleanup)
	root := testFS.TempDir() + "/root"

	table := fstable.New()
	assert.NoError(t, table.Ingester(root,
		fstable.WithDirectoryEntries(true),
		fstable.WithFileContent(true),
		fstable.WithDigests(true),
	).Ingest())

	path := filepath.Join(t.TempDir(), "snapshot")
	assert.NoError(t, snapshot.Save(path, snapshot.New([]string{root}, table)))

	actual, err := snapshot.Load(path)
	assert.NoError(t, err)
	assert.Equal(t, snapshot.Version, actual.Version)
	assert.Equal(t, []string{root}, actual.Roots)
	assert.False(t, actual.Created.IsZero())
	assert.Equal(t, table.Entries(), actual.Table.Entries())
	assert.Equal(t, fstable.BLAKE3, actual.Table.DigestAlgorithm())
	for view := range actual.Table.Files() {
		content, ok := view.Content()
		assert.True(t, ok)
		expected, err := os.ReadFile(filepath.Join(root, view.Path()))
		assert.NoError(t, err)
		assert.Equal(t, expected, content)
	}

	matches, err := filepath.Glob(path + ".*.tmp")
	assert.NoError(t, err)
	assert.Equal(t, 0, len(matches))
}

func TestLoadNotExist(t *testing.T) {
	_, err := snapshot.Load(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.False(t, errors.Is(err, snapshot.ErrCorrupt))
}

func TestLoadCorrupt(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	random := make([]byte, 4096)
	for i := range random {
		random[i] = byte(r.Uint32())
	}

	valid := filepath.Join(t.TempDir(), "valid")
	assert.NoError(t, snapshot.Save(valid, snapshot.New(nil, fstable.New())))
	validData, err := os.ReadFile(valid)
	assert.NoError(t, err)

	for _, tc := range []struct {
		name string
		data []byte
	}{
		{name: "empty"},
		{name: "random", data: random},
		{name: "magic_then_random", data: append([]byte("dedupscan\x00"), random...)},
		{name: "truncated", data: validData[:len(validData)/2]},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "snapshot")
			assert.NoError(t, os.WriteFile(path, tc.data, 0o666))
			_, err := snapshot.Load(path)
			assert.True(t, errors.Is(err, snapshot.ErrCorrupt))
		})
	}
}
