package fstable

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/twpayne/dedupscan/internal/pathstore"
)

// ErrMalformed is returned when decoding an inconsistent table.
var ErrMalformed = errors.New("fstable: malformed table")

// tableWire is the gob representation of a Table.
type tableWire struct {
	Entries   []Entry
	Parts     []string
	Nodes     []pathstore.Node
	Content   []byte
	Algorithm DigestAlgorithm
}

// GobEncode implements [encoding/gob.GobEncoder].
func (t *Table) GobEncode() ([]byte, error) {
	parts, nodes := t.paths.Export()
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(tableWire{
		Entries:   t.entries,
		Parts:     parts,
		Nodes:     nodes,
		Content:   t.content.data,
		Algorithm: t.algorithm,
	}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements [encoding/gob.GobDecoder]. It validates the decoded
// table and returns an error wrapping ErrMalformed if it is inconsistent.
func (t *Table) GobDecode(data []byte) error {
	var wire tableWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	paths, err := pathstore.Import(wire.Parts, wire.Nodes)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if wire.Algorithm != "" {
		if _, err := ParseDigestAlgorithm(string(wire.Algorithm)); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformed, err)
		}
	}
	contentSize := uint64(len(wire.Content))
	for i := range wire.Entries {
		entry := &wire.Entries[i]
		switch {
		case uint64(entry.Path) >= uint64(paths.Len()):
			return fmt.Errorf("%w: entry %d: path %d out of range", ErrMalformed, i, entry.Path)
		case i > 0 && paths.Compare(wire.Entries[i-1].Path, entry.Path) >= 0:
			return fmt.Errorf("%w: entry %d: out of order", ErrMalformed, i)
		case entry.Content.Kind > ContentExternal:
			return fmt.Errorf("%w: entry %d: unknown content kind %d", ErrMalformed, i, entry.Content.Kind)
		case entry.Content.Kind == ContentBytes &&
			(entry.Content.Offset > contentSize || entry.Content.Length > contentSize-entry.Content.Offset):
			return fmt.Errorf("%w: entry %d: content out of range", ErrMalformed, i)
		}
	}
	t.entries = wire.Entries
	t.paths = paths
	t.content.data = wire.Content
	t.algorithm = wire.Algorithm
	return nil
}
