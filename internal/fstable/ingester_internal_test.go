package fstable

import (
	"cmp"
	"errors"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/sirupsen/logrus"

	"github.com/twpayne/dedupscan/internal/pathstore"
	"github.com/twpayne/dedupscan/internal/stats"
)

func TestSortStableFunc(t *testing.T) {
	type pair struct {
		key   int
		order int
	}
	byKey := func(a, b pair) int {
		return cmp.Compare(a.key, b.key)
	}
	for _, tc := range []struct {
		name    string
		n       int
		workers int
	}{
		{name: "empty", n: 0, workers: 4},
		{name: "serial", n: 1000, workers: 4},
		{name: "two_runs", n: 2 * minSortRun, workers: 2},
		{name: "odd_runs", n: 3*minSortRun + 17, workers: 3},
		{name: "many_runs", n: 20 * minSortRun, workers: 8},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := rand.New(rand.NewPCG(1, uint64(tc.n)))
			s := make([]pair, tc.n)
			for i := range s {
				s[i] = pair{key: r.IntN(100), order: i}
			}
			expected := slices.Clone(s)
			slices.SortStableFunc(expected, byKey)
			sortStableFunc(s, byKey, tc.workers)
			assert.Equal(t, expected, s)
		})
	}
}

func TestMergeKeepsLast(t *testing.T) {
	table := New()
	a := table.paths.AddPath("a")
	b := table.paths.AddPath("b")
	table.merge([]Entry{{Path: b, Size: 1}, {Path: a, Size: 1}}, 2)
	table.merge([]Entry{{Path: a, Size: 2}}, 2)
	assert.Equal(t, []Entry{{Path: a, Size: 2}, {Path: b, Size: 1}}, table.Entries())
}

func TestArenaAppendAndGetOffset(t *testing.T) {
	var a arena
	assert.Equal(t, uint64(0), a.appendAndGetOffset([]byte("hello")))
	assert.Equal(t, uint64(5), a.appendAndGetOffset([]byte("world")))
	assert.Equal(t, []byte("world"), a.slice(5, 5))
}

func TestZeroDigestPanics(t *testing.T) {
	assert.Panics(t, func() {
		mustBeNonZero(Digest{})
	})
}

func TestDigestErrorHandler(t *testing.T) {
	table := New()
	missing := table.paths.AddPath("missing")
	alsoMissing := table.paths.AddPath("also-missing")
	entries := []Entry{{Path: missing}, {Path: alsoMissing}}

	t.Run("soft", func(t *testing.T) {
		statistics := &stats.Statistics{}
		i := NewIngester(table, t.TempDir(), WithStatistics(statistics))
		assert.NoError(t, i.loadDigests(slices.Clone(entries)))
		assert.Equal(t, uint64(2), statistics.Errors.Load())
	})

	t.Run("strict", func(t *testing.T) {
		i := NewIngester(table, t.TempDir(), WithErrorHandler(func(err error) error {
			return err
		}))
		err := i.loadContent(slices.Clone(entries))
		assert.True(t, errors.Is(err, fs.ErrNotExist))
	})
}

func TestFailedContentLoadTruncatesArena(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("hello"), 0o666))

	table := New()
	table.content.appendAndGetOffset([]byte("seed"))
	entries := []Entry{
		{Path: table.paths.AddPath("a"), Size: 5},
		{Path: table.paths.AddPath("missing"), Size: 1},
	}
	i := NewIngester(table, dir, WithErrorHandler(func(err error) error {
		return err
	}))
	err := i.loadContent(entries)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Equal(t, 4, table.ContentSize())
	assert.Equal(t, []byte("seed"), table.content.slice(0, 4))
}

func TestNewEntriesMetadataError(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	statistics := &stats.Statistics{}
	table := New()
	i := NewIngester(table, t.TempDir(), WithLogger(logger), WithStatistics(statistics))

	entries := i.newEntries([]walkedItem{
		{
			path:     "broken",
			segments: pathstore.Split("broken"),
			err:      errors.New("lstat failed"),
		},
	})
	assert.Equal(t, 1, len(entries))
	assert.Equal(t, "broken", table.paths.Path(entries[0].Path))
	assert.Equal(t, uint64(0), entries[0].Size)
	assert.Equal(t, Flags{}, entries[0].Flags)
	assert.Equal(t, uint64(1), statistics.MetadataErrors.Load())
	assert.Equal(t, uint64(1), statistics.Entries.Load())
}

func TestGobDecodeContentKind(t *testing.T) {
	for _, tc := range []struct {
		name        string
		kind        ContentKind
		expectedErr bool
	}{
		{name: "none", kind: ContentNone},
		{name: "external", kind: ContentExternal},
		{name: "unknown", kind: ContentExternal + 1, expectedErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			table := New()
			table.merge([]Entry{
				{Path: table.paths.AddPath("a"), Content: Content{Kind: tc.kind}},
			}, 1)
			data, err := table.GobEncode()
			assert.NoError(t, err)
			err = New().GobDecode(data)
			if tc.expectedErr {
				assert.IsError(t, err, ErrMalformed)
				return
			}
			assert.NoError(t, err)
		})
	}
}
