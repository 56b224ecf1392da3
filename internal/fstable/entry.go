package fstable

import (
	"io/fs"
	"strings"
)

// Flags describe a filesystem object.
type Flags struct {
	IsDir      bool
	Dotfile    bool
	Symlink    bool
	Readable   bool
	Writable   bool
	Executable bool
}

// A ContentKind identifies where an entry's content is stored.
type ContentKind uint8

// Content kinds.
const (
	// ContentNone means that the entry has no stored content.
	ContentNone ContentKind = iota
	// ContentBytes means that the content is stored inline in the table's
	// content arena.
	ContentBytes
	// ContentExternal means that the content is stored outside the table and
	// is addressed by the entry's digest. Offset is opaque to this package.
	ContentExternal
)

// Content locates an entry's content. For ContentBytes, the content is
// Length bytes at Offset in the owning table's content arena. Offsets are
// meaningless outside the table that assigned them.
type Content struct {
	Kind   ContentKind
	Offset uint64
	Length uint64
}

// An Entry describes one file or directory.
type Entry struct {
	Path    uint32
	Size    uint64
	Flags   Flags
	Content Content
	Digest  Digest
}

// HasDigest returns whether e has a computed digest.
func (e *Entry) HasDigest() bool {
	return !e.Digest.IsZero()
}

// newFlags returns the Flags for the object at path with the given info.
func newFlags(path string, info fs.FileInfo) Flags {
	mode := info.Mode()
	flags := Flags{
		IsDir:   mode.IsDir(),
		Dotfile: strings.HasPrefix(info.Name(), "."),
		Symlink: mode&fs.ModeSymlink != 0,
	}
	flags.Readable, flags.Writable, flags.Executable = access(path, mode)
	return flags
}
