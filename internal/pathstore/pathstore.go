// Package pathstore stores filesystem paths compactly.
//
// A path is split into segments. Each distinct segment is stored once and
// each distinct chain of segments is stored once as a (segment, parent) pair,
// so paths sharing a prefix share its storage. Segments and paths are
// referred to by dense uint32 indices.
//
// A Store has no internal locking. It supports a single writer, or any
// number of concurrent readers while no writer is active.
package pathstore

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// ErrMalformed is returned by Import when the exported data is inconsistent.
var ErrMalformed = errors.New("pathstore: malformed data")

// Root is the segment used for the leading separator of an absolute path.
const Root = "/"

// A Node is one link in a path chain: the last segment of the path and the
// index of the path without that segment. Paths with a single segment have
// Parent 0, the empty path.
type Node struct {
	Part   uint32
	Parent uint32
}

// A Store interns path segments and path chains.
type Store struct {
	parts     []string
	partIndex map[string]uint32
	nodes     []Node
	nodeIndex map[Node]uint32
}

// New returns a new Store containing only the empty segment and the empty
// path, both with index 0.
func New() *Store {
	s := &Store{
		parts:     []string{""},
		partIndex: map[string]uint32{"": 0},
		nodes:     []Node{{}},
		nodeIndex: make(map[Node]uint32),
	}
	return s
}

// AddPath interns path and returns its index. The empty path always has index
// 0 and no other path has index 0. Adding a path that is already present
// returns the existing index without growing the store.
func (s *Store) AddPath(path string) uint32 {
	var index uint32
	for _, segment := range Split(path) {
		index = s.internNode(Node{
			Part:   s.internPart(segment),
			Parent: index,
		})
	}
	return index
}

// Lookup returns the index of path if it has been added.
func (s *Store) Lookup(path string) (uint32, bool) {
	var index uint32
	for _, segment := range Split(path) {
		part, ok := s.partIndex[segment]
		if !ok {
			return 0, false
		}
		index, ok = s.nodeIndex[Node{Part: part, Parent: index}]
		if !ok {
			return 0, false
		}
	}
	return index, true
}

// Path returns the path with the given index. index must have been returned
// by s.
func (s *Store) Path(index uint32) string {
	return Join(s.Segments(index))
}

// Segments returns the segments of the path with the given index, from the
// root to the leaf.
func (s *Store) Segments(index uint32) []string {
	var buf [16]uint32
	chain := s.chain(index, buf[:0])
	segments := make([]string, len(chain))
	for i, part := range chain {
		segments[i] = s.parts[part]
	}
	return segments
}

// Base returns the last segment of the path with the given index.
func (s *Store) Base(index uint32) string {
	return s.parts[s.nodes[index].Part]
}

// Parent returns the index of the path's parent. The parent of the empty path
// is the empty path.
func (s *Store) Parent(index uint32) uint32 {
	return s.nodes[index].Parent
}

// Compare compares the paths with indices a and b segment by segment. It
// returns -1 if a sorts before b, 0 if they are the same path, and +1
// otherwise. Segment strings are compared only where the segment indices
// differ. A path sorts before every path it is a strict prefix of.
func (s *Store) Compare(a, b uint32) int {
	if a == b {
		return 0
	}
	var aBuf, bBuf [16]uint32
	aChain := s.chain(a, aBuf[:0])
	bChain := s.chain(b, bBuf[:0])
	for i := range min(len(aChain), len(bChain)) {
		if aChain[i] == bChain[i] {
			continue
		}
		return strings.Compare(s.parts[aChain[i]], s.parts[bChain[i]])
	}
	switch {
	case len(aChain) < len(bChain):
		return -1
	case len(aChain) > len(bChain):
		return 1
	default:
		return 0
	}
}

// Parts returns the number of stored segments, including the empty segment.
func (s *Store) Parts() int {
	return len(s.parts)
}

// Len returns the number of stored paths, including the empty path.
func (s *Store) Len() int {
	return len(s.nodes)
}

// Export returns the stored segments and path nodes in index order. The
// returned slices alias s and must not be modified.
func (s *Store) Export() ([]string, []Node) {
	return s.parts, s.nodes
}

// Import returns a new Store from the output of Export, validating it.
func Import(parts []string, nodes []Node) (*Store, error) {
	switch {
	case len(parts) == 0 || parts[0] != "":
		return nil, fmt.Errorf("%w: missing empty segment", ErrMalformed)
	case len(nodes) == 0 || nodes[0] != (Node{}):
		return nil, fmt.Errorf("%w: missing empty path", ErrMalformed)
	case uint64(len(parts)) > math.MaxUint32 || uint64(len(nodes)) > math.MaxUint32:
		return nil, fmt.Errorf("%w: too many entries", ErrMalformed)
	}
	s := &Store{
		parts:     parts,
		partIndex: make(map[string]uint32, len(parts)),
		nodes:     nodes,
		nodeIndex: make(map[Node]uint32, len(nodes)),
	}
	for i, part := range parts {
		if _, ok := s.partIndex[part]; ok {
			return nil, fmt.Errorf("%w: duplicate segment %q", ErrMalformed, part)
		}
		s.partIndex[part] = uint32(i) //nolint:gosec
	}
	for i, node := range nodes[1:] {
		index := uint32(i + 1) //nolint:gosec
		switch {
		case node.Part == 0 || int(node.Part) >= len(parts):
			return nil, fmt.Errorf("%w: path %d: segment %d out of range", ErrMalformed, index, node.Part)
		case node.Parent >= index:
			return nil, fmt.Errorf("%w: path %d: parent %d out of order", ErrMalformed, index, node.Parent)
		}
		if _, ok := s.nodeIndex[node]; ok {
			return nil, fmt.Errorf("%w: path %d: duplicate", ErrMalformed, index)
		}
		s.nodeIndex[node] = index
	}
	return s, nil
}

// chain appends the segment indices of the path with the given index to buf,
// from the root to the leaf.
func (s *Store) chain(index uint32, buf []uint32) []uint32 {
	for index != 0 {
		node := s.nodes[index]
		buf = append(buf, node.Part)
		index = node.Parent
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return buf
}

func (s *Store) internPart(segment string) uint32 {
	if index, ok := s.partIndex[segment]; ok {
		return index
	}
	index := s.nextIndex(len(s.parts))
	s.parts = append(s.parts, segment)
	s.partIndex[segment] = index
	return index
}

func (s *Store) internNode(node Node) uint32 {
	if index, ok := s.nodeIndex[node]; ok {
		return index
	}
	index := s.nextIndex(len(s.nodes))
	s.nodes = append(s.nodes, node)
	s.nodeIndex[node] = index
	return index
}

// nextIndex converts n to an index, panicking if the index space is exhausted.
func (s *Store) nextIndex(n int) uint32 {
	if uint64(n) >= math.MaxUint32 {
		panic("pathstore: index space exhausted")
	}
	return uint32(n)
}

// Split returns the segments of path. A leading separator is returned as the
// Root segment. Empty segments are dropped, so repeated and trailing
// separators are ignored.
func Split(path string) []string {
	path = filepath.ToSlash(path)
	var segments []string
	if strings.HasPrefix(path, "/") {
		segments = append(segments, Root)
	}
	for _, segment := range strings.Split(path, "/") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	return segments
}

// Join is the inverse of Split.
func Join(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	if segments[0] == Root {
		return Root + strings.Join(segments[1:], "/")
	}
	return strings.Join(segments, "/")
}
