// Package dedup groups files by content digest and measures duplication.
package dedup

import (
	"cmp"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/exp/maps"

	"github.com/twpayne/dedupscan/internal/fstable"
)

// UnknownContentType is the content type of files whose type cannot be
// detected.
const UnknownContentType = "unknown"

// A Member is a file that takes part in the analysis.
type Member struct {
	Path   string
	Size   uint64
	Digest fstable.Digest
}

// A Group is a maximal set of members with the same digest.
type Group struct {
	Digest  fstable.Digest
	Size    uint64
	Members []string
}

// A Report describes the duplication among a set of files.
type Report struct {
	// Files is the number of files with digests.
	Files int
	// TotalBytes is the total size of files with digests.
	TotalBytes uint64
	// DedupedBytes is the total size if each group were stored once.
	DedupedBytes uint64
	// Undigested is the number of files without digests. They are excluded
	// from all other counts.
	Undigested      int
	UndigestedBytes uint64
	// Groups are ordered by digest.
	Groups []Group
	// ContentTypes maps content types to the bytes wasted by duplicates of
	// that type. It is only populated with WithContentTypes.
	ContentTypes map[string]uint64
}

// An Option sets an option on an analysis.
type Option func(*analyzer)

type analyzer struct {
	contentTypes bool
	root         string
	content      func(path string) ([]byte, bool)
}

// WithContentTypes enables content type detection for duplicated groups.
// Files are read relative to root unless their content is stored inline in
// the analyzed table.
func WithContentTypes(root string) Option {
	return func(a *analyzer) {
		a.contentTypes = true
		a.root = root
	}
}

// WastedBytes returns the number of bytes used by all but one member of g.
func (g *Group) WastedBytes() uint64 {
	return g.Size * uint64(len(g.Members)-1) //nolint:gosec
}

// AnalyzeTable analyzes the non-directory entries of table.
func AnalyzeTable(table *fstable.Table, options ...Option) *Report {
	members := make([]Member, 0, table.Len())
	for view := range table.Files() {
		members = append(members, Member{
			Path:   view.Path(),
			Size:   view.Size(),
			Digest: view.Digest(),
		})
	}
	options = append(slices.Clone(options), func(a *analyzer) {
		a.content = func(path string) ([]byte, bool) {
			entry, ok := table.Lookup(path)
			if !ok {
				return nil, false
			}
			return table.EntryContent(&entry)
		}
	})
	return Analyze(members, options...)
}

// Analyze sorts members by digest, with ties broken by path, and groups
// members with equal digests. Members without digests are counted as
// undigested and otherwise ignored. members is not modified.
func Analyze(members []Member, options ...Option) *Report {
	a := &analyzer{}
	for _, option := range options {
		option(a)
	}

	report := &Report{}
	sorted := make([]Member, 0, len(members))
	for _, member := range members {
		if member.Digest.IsZero() {
			report.Undigested++
			report.UndigestedBytes += member.Size
			continue
		}
		sorted = append(sorted, member)
		report.TotalBytes += member.Size
	}
	report.Files = len(sorted)

	slices.SortFunc(sorted, func(a, b Member) int {
		if c := a.Digest.Compare(b.Digest); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})

	for start := 0; start < len(sorted); {
		end := start + 1
		for end < len(sorted) && sorted[end].Digest == sorted[start].Digest {
			end++
		}
		group := Group{
			Digest:  sorted[start].Digest,
			Size:    sorted[start].Size,
			Members: make([]string, 0, end-start),
		}
		for _, member := range sorted[start:end] {
			group.Members = append(group.Members, member.Path)
		}
		report.DedupedBytes += group.Size
		report.Groups = append(report.Groups, group)
		start = end
	}

	if a.contentTypes {
		report.ContentTypes = make(map[string]uint64)
		for i := range report.Groups {
			group := &report.Groups[i]
			if len(group.Members) < 2 {
				continue
			}
			report.ContentTypes[a.contentType(group.Members[0])] += group.WastedBytes()
		}
	}

	return report
}

// contentType returns the detected content type of the file at path.
func (a *analyzer) contentType(path string) string {
	if a.content != nil {
		if data, ok := a.content(path); ok {
			return mimetype.Detect(data).String()
		}
	}
	mime, err := mimetype.DetectFile(filepath.Join(a.root, filepath.FromSlash(path)))
	if err != nil {
		return UnknownContentType
	}
	return mime.String()
}

// DuplicatedBytes returns the number of bytes that deduplication would save.
func (r *Report) DuplicatedBytes() uint64 {
	return r.TotalBytes - r.DedupedBytes
}

// GroupCount returns the number of groups.
func (r *Report) GroupCount() int {
	return len(r.Groups)
}

// GroupSizes returns the number of members of each group, in group order.
func (r *Report) GroupSizes() []int {
	sizes := make([]int, 0, len(r.Groups))
	for i := range r.Groups {
		sizes = append(sizes, len(r.Groups[i].Members))
	}
	return sizes
}

// Top returns up to n groups with at least two members, ordered by
// decreasing member count, then by decreasing wasted bytes, then by digest.
func (r *Report) Top(n int) []Group {
	var groups []Group
	for i := range r.Groups {
		if len(r.Groups[i].Members) >= 2 {
			groups = append(groups, r.Groups[i])
		}
	}
	slices.SortFunc(groups, func(a, b Group) int {
		if c := cmp.Compare(len(b.Members), len(a.Members)); c != 0 {
			return c
		}
		if c := cmp.Compare(b.WastedBytes(), a.WastedBytes()); c != 0 {
			return c
		}
		return a.Digest.Compare(b.Digest)
	})
	if n = max(n, 0); len(groups) > n {
		groups = groups[:n]
	}
	return groups
}

// Duplicates returns the paths of the members of each group with at least
// threshold members, indexed by the hex string of their digest.
func (r *Report) Duplicates(threshold int) map[string][]string {
	result := make(map[string][]string)
	for i := range r.Groups {
		group := &r.Groups[i]
		if len(group.Members) < threshold {
			continue
		}
		result[group.Digest.String()] = slices.Clone(group.Members)
	}
	return result
}

// ContentTypeNames returns the detected content types, sorted.
func (r *Report) ContentTypeNames() []string {
	names := maps.Keys(r.ContentTypes)
	slices.Sort(names)
	return names
}
