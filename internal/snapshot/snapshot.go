// Package snapshot saves and loads tables to and from disk.
package snapshot

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/twpayne/dedupscan/internal/fstable"
)

// Version is the current snapshot format version.
const Version = 1

// maxDecoderMemory limits the memory used when decompressing a snapshot.
const maxDecoderMemory = 1 << 34

// magic identifies snapshot files.
var magic = []byte("dedupscan\x00")

// ErrCorrupt is returned when a snapshot cannot be loaded.
var ErrCorrupt = errors.New("snapshot: corrupt")

// A Snapshot is a table with the roots it was built from.
type Snapshot struct {
	Version int
	Roots   []string
	Created time.Time
	Table   *fstable.Table
}

// New returns a new snapshot of table.
func New(roots []string, table *fstable.Table) *Snapshot {
	return &Snapshot{
		Version: Version,
		Roots:   slices.Clone(roots),
		Created: time.Now().UTC(),
		Table:   table,
	}
}

// Save writes s to path atomically.
func Save(path string, s *Snapshot) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, base+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	if _, err = f.Write(magic); err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		return err
	}
	if err = gob.NewEncoder(enc).Encode(s); err != nil {
		_ = enc.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	if err = enc.Close(); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// Load reads a snapshot from path. If path does not exist then the returned
// error wraps [fs.ErrNotExist]. All other errors wrap [ErrCorrupt].
func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	defer f.Close()

	s, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}
	return s, nil
}

func decode(r io.Reader) (*Snapshot, error) {
	header := make([]byte, len(magic))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if !bytes.Equal(header, magic) {
		return nil, errors.New("bad magic")
	}

	dec, err := zstd.NewReader(r,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxDecoderMemory),
	)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var s Snapshot
	if err := gob.NewDecoder(dec).Decode(&s); err != nil {
		return nil, err
	}
	switch {
	case s.Version != Version:
		return nil, fmt.Errorf("unsupported version %d", s.Version)
	case s.Table == nil:
		return nil, errors.New("no table")
	}
	return &s, nil
}
