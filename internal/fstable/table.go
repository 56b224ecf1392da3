// Package fstable implements a compact in-memory table of filesystem entries
// and its ingester.
package fstable

import (
	"errors"
	"iter"
	"runtime"
	"slices"
	"sync"

	"github.com/twpayne/dedupscan/internal/pathstore"
)

// ErrDigestAlgorithmMismatch is returned when digests computed with
// different algorithms would be mixed in one table.
var ErrDigestAlgorithmMismatch = errors.New("fstable: digest algorithm mismatch")

// A Table holds entries sorted by path and unique by path, the paths they
// refer to, and the inline content of entries that have it.
//
// Mutating methods (Ingest, Extend, Compact) must not run concurrently with
// each other or with readers.
type Table struct {
	entries   []Entry
	paths     *pathstore.Store
	content   arena
	algorithm DigestAlgorithm
}

// An arena is a growable byte buffer shared by concurrent content loaders.
type arena struct {
	sync.Mutex
	data []byte
}

// New returns a new empty Table.
func New() *Table {
	return &Table{
		paths: pathstore.New(),
	}
}

// appendAndGetOffset appends data to a and returns the offset at which it was
// appended.
func (a *arena) appendAndGetOffset(data []byte) uint64 {
	a.Lock()
	defer a.Unlock()
	offset := uint64(len(a.data))
	a.data = append(a.data, data...)
	return offset
}

// size returns the number of bytes in a.
func (a *arena) size() int {
	a.Lock()
	defer a.Unlock()
	return len(a.data)
}

// truncate discards everything after the first n bytes of a.
func (a *arena) truncate(n int) {
	a.Lock()
	defer a.Unlock()
	a.data = a.data[:n]
}

// slice returns the n bytes at offset.
func (a *arena) slice(offset, n uint64) []byte {
	return a.data[offset : offset+n : offset+n]
}

// Len returns the number of entries in t.
func (t *Table) Len() int {
	return len(t.entries)
}

// Entries returns t's entries in path order. The returned slice aliases t and
// must not be modified.
func (t *Table) Entries() []Entry {
	return t.entries
}

// Paths returns t's path store.
func (t *Table) Paths() *pathstore.Store {
	return t.paths
}

// DigestAlgorithm returns the algorithm of the digests in t, or the empty
// string if t has never had digests computed.
func (t *Table) DigestAlgorithm() DigestAlgorithm {
	return t.algorithm
}

// Path returns e's path.
func (t *Table) Path(e *Entry) string {
	return t.paths.Path(e.Path)
}

// EntryContent returns e's inline content, if any. The returned slice aliases
// t.
func (t *Table) EntryContent(e *Entry) ([]byte, bool) {
	if e.Content.Kind != ContentBytes {
		return nil, false
	}
	return t.content.slice(e.Content.Offset, e.Content.Length), true
}

// ContentSize returns the size of t's content arena.
func (t *Table) ContentSize() int {
	return len(t.content.data)
}

// TotalSize returns the sum of the sizes of all non-directory entries.
func (t *Table) TotalSize() uint64 {
	var total uint64
	for i := range t.entries {
		if !t.entries[i].Flags.IsDir {
			total += t.entries[i].Size
		}
	}
	return total
}

// Lookup returns the entry for path.
func (t *Table) Lookup(path string) (Entry, bool) {
	index, ok := t.paths.Lookup(path)
	if !ok {
		return Entry{}, false
	}
	i, ok := slices.BinarySearchFunc(t.entries, index, func(e Entry, target uint32) int {
		return t.paths.Compare(e.Path, target)
	})
	if !ok {
		return Entry{}, false
	}
	return t.entries[i], true
}

// A View is an entry together with the table that owns it.
type View struct {
	table *Table
	entry *Entry
}

// Entry returns a copy of v's entry.
func (v View) Entry() Entry { return *v.entry }

// Path returns v's path.
func (v View) Path() string { return v.table.Path(v.entry) }

// Size returns v's size.
func (v View) Size() uint64 { return v.entry.Size }

// Flags returns v's flags.
func (v View) Flags() Flags { return v.entry.Flags }

// Digest returns v's digest, which is zero if it has not been computed.
func (v View) Digest() Digest { return v.entry.Digest }

// Content returns v's inline content, if any.
func (v View) Content() ([]byte, bool) { return v.table.EntryContent(v.entry) }

// All returns an iterator over all of t's entries in path order.
func (t *Table) All() iter.Seq[View] {
	return func(yield func(View) bool) {
		for i := range t.entries {
			if !yield(View{table: t, entry: &t.entries[i]}) {
				return
			}
		}
	}
}

// Files returns an iterator over t's non-directory entries in path order.
func (t *Table) Files() iter.Seq[View] {
	return func(yield func(View) bool) {
		for view := range t.All() {
			if view.entry.Flags.IsDir {
				continue
			}
			if !yield(view) {
				return
			}
		}
	}
}

// Compact rewrites t's content arena so that it contains only the content of
// current entries. Re-ingesting paths leaves the replaced entries' content in
// the arena until Compact is called.
func (t *Table) Compact() {
	var data []byte
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Content.Kind != ContentBytes {
			continue
		}
		content := t.content.slice(entry.Content.Offset, entry.Content.Length)
		entry.Content.Offset = uint64(len(data))
		data = append(data, content...)
	}
	t.content.data = data
}

// Extend adds copies of other's entries to t with their paths prefixed by
// prefix. Inline content is copied into t's arena. Entries in other replace
// entries in t with the same path.
func (t *Table) Extend(other *Table, prefix string) error {
	if other.hasDigests() && t.hasDigests() && other.algorithm != t.algorithm {
		return ErrDigestAlgorithmMismatch
	}
	prefixSegments := pathstore.Split(prefix)
	newEntries := make([]Entry, 0, len(other.entries))
	for i := range other.entries {
		entry := other.entries[i]
		segments := append(slices.Clone(prefixSegments), other.paths.Segments(entry.Path)...)
		entry.Path = t.paths.AddPath(pathstore.Join(segments))
		if content, ok := other.EntryContent(&entry); ok {
			entry.Content.Offset = t.content.appendAndGetOffset(content)
		}
		newEntries = append(newEntries, entry)
	}
	if other.hasDigests() {
		t.algorithm = other.algorithm
	}
	t.merge(newEntries, runtime.GOMAXPROCS(0))
	return nil
}

// hasDigests returns whether any of t's entries has a digest.
func (t *Table) hasDigests() bool {
	for i := range t.entries {
		if t.entries[i].HasDigest() {
			return true
		}
	}
	return false
}

// merge adds newEntries to t, sorts all entries by path, and removes entries
// with duplicate paths, keeping the last added.
func (t *Table) merge(newEntries []Entry, workers int) {
	entries := append(t.entries, newEntries...)
	sortStableFunc(entries, func(a, b Entry) int {
		return t.paths.Compare(a.Path, b.Path)
	}, workers)
	unique := entries[:0]
	for i, entry := range entries {
		if i+1 < len(entries) && entries[i+1].Path == entry.Path {
			continue
		}
		unique = append(unique, entry)
	}
	clear(entries[len(unique):])
	t.entries = unique
}
