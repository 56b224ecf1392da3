package fstable

import (
	"cmp"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/twpayne/dedupscan/internal/pathstore"
	"github.com/twpayne/dedupscan/internal/stats"
)

// channelBufferCapacity is the buffer capacity between the directory walkers
// and the collector.
const channelBufferCapacity = 1024

// An Ingester adds the contents of a directory tree to a Table.
type Ingester struct {
	table                  *Table
	src                    string
	dst                    string
	createDirectoryEntries bool
	ingestFileContent      bool
	computeDigests         bool
	algorithm              DigestAlgorithm
	maxGoroutines          int
	logger                 *logrus.Logger
	errorHandler           func(error) error
	statistics             *stats.Statistics
	progress               func(string)
}

// An IngesterOption sets an option on an [*Ingester].
type IngesterOption func(*Ingester)

// A walkedItem is an object found while walking the source directory.
type walkedItem struct {
	path     string
	segments []string
	info     fs.FileInfo
	err      error
}

// WithDestination records dst as the destination for ingested files. It is
// reserved for copying ingested files and currently has no effect.
func WithDestination(dst string) IngesterOption {
	return func(i *Ingester) {
		i.dst = dst
	}
}

// WithDirectoryEntries sets whether entries are created for directories.
func WithDirectoryEntries(enable bool) IngesterOption {
	return func(i *Ingester) {
		i.createDirectoryEntries = enable
	}
}

// WithFileContent sets whether file contents are stored inline in the table.
func WithFileContent(enable bool) IngesterOption {
	return func(i *Ingester) {
		i.ingestFileContent = enable
	}
}

// WithDigests sets whether content digests are computed.
func WithDigests(enable bool) IngesterOption {
	return func(i *Ingester) {
		i.computeDigests = enable
	}
}

// WithDigestAlgorithm sets the digest algorithm.
func WithDigestAlgorithm(algorithm DigestAlgorithm) IngesterOption {
	return func(i *Ingester) {
		i.algorithm = algorithm
	}
}

// WithMaxGoroutines sets the maximum number of goroutines used for walking,
// reading, and hashing.
func WithMaxGoroutines(maxGoroutines int) IngesterOption {
	return func(i *Ingester) {
		i.maxGoroutines = maxGoroutines
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logrus.Logger) IngesterOption {
	return func(i *Ingester) {
		i.logger = logger
	}
}

// WithErrorHandler sets the handler for errors reading or hashing individual
// files. If the handler returns a non-nil error then Ingest returns it and
// leaves the table's entries and content unchanged. Paths interned during the
// failed ingestion remain in the table's path store. The handler may be called
// concurrently. The default handler logs a warning and returns nil.
func WithErrorHandler(errorHandler func(error) error) IngesterOption {
	return func(i *Ingester) {
		i.errorHandler = errorHandler
	}
}

// WithStatistics sets the statistics updated during ingestion.
func WithStatistics(statistics *stats.Statistics) IngesterOption {
	return func(i *Ingester) {
		i.statistics = statistics
	}
}

// WithProgress sets a function called with the path of each file once its
// content or digest has been processed. It may be called concurrently.
func WithProgress(progress func(string)) IngesterOption {
	return func(i *Ingester) {
		i.progress = progress
	}
}

// NewIngester returns a new [*Ingester] that adds src to table.
func NewIngester(table *Table, src string, options ...IngesterOption) *Ingester {
	i := &Ingester{
		table:         table,
		src:           src,
		algorithm:     DefaultDigestAlgorithm,
		maxGoroutines: runtime.GOMAXPROCS(0),
		logger:        logrus.StandardLogger(),
		statistics:    &stats.Statistics{},
		progress:      func(string) {},
	}
	for _, option := range options {
		option(i)
	}
	i.maxGoroutines = max(1, i.maxGoroutines)
	if i.errorHandler == nil {
		i.errorHandler = func(err error) error {
			i.logger.WithError(err).Warn("skipping file")
			return nil
		}
	}
	return i
}

// Ingester returns a new [*Ingester] that adds src to t.
func (t *Table) Ingester(src string, options ...IngesterOption) *Ingester {
	return NewIngester(t, src, options...)
}

// Destination returns the destination set with WithDestination.
func (i *Ingester) Destination() string {
	return i.dst
}

// Ingest walks the source directory and merges an entry for each regular
// file, and optionally each directory, into the table. Paths are stored
// relative to the source directory. Entries already in the table with the
// same paths are replaced.
func (i *Ingester) Ingest() error {
	switch info, err := os.Stat(i.src); {
	case err != nil:
		return err
	case !info.IsDir():
		return fmt.Errorf("%s: not a directory", i.src)
	}
	if i.computeDigests && i.table.hasDigests() && i.table.algorithm != i.algorithm {
		return fmt.Errorf("%s: %w: table has %s, requested %s", i.src, ErrDigestAlgorithmMismatch, i.table.algorithm, i.algorithm)
	}

	start := time.Now()
	items, err := i.walk()
	if err != nil {
		return err
	}
	newEntries := i.newEntries(items)
	i.logger.WithFields(logrus.Fields{
		"root":     i.src,
		"walked":   len(items),
		"entries":  len(newEntries),
		"duration": time.Since(start),
	}).Debug("walked")

	start = time.Now()
	switch {
	case i.ingestFileContent:
		err = i.loadContent(newEntries)
	case i.computeDigests:
		err = i.loadDigests(newEntries)
	}
	if err != nil {
		return err
	}
	if i.computeDigests {
		i.table.algorithm = i.algorithm
	}
	i.logger.WithFields(logrus.Fields{
		"root":     i.src,
		"content":  i.ingestFileContent,
		"digests":  i.computeDigests,
		"duration": time.Since(start),
	}).Debug("loaded")

	i.table.merge(newEntries, i.maxGoroutines)
	return nil
}

// walk returns all objects below the source directory ordered by path. The
// directories are read concurrently and symbolic links are not followed.
func (i *Ingester) walk() ([]walkedItem, error) {
	itemsCh := make(chan walkedItem, channelBufferCapacity)
	itemsDoneCh := make(chan []walkedItem)
	go func() {
		var items []walkedItem
		for item := range itemsCh {
			items = append(items, item)
		}
		itemsDoneCh <- items
	}()

	config := fastwalk.Config{
		Follow:     false,
		NumWorkers: i.maxGoroutines,
	}
	walkErr := fastwalk.Walk(&config, i.src, func(path string, dirEntry fs.DirEntry, err error) error {
		if err != nil {
			i.statistics.Errors.Add(1)
			i.logger.WithError(err).WithField("path", path).Warn("cannot read directory")
			return nil
		}
		relPath, err := filepath.Rel(i.src, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		i.statistics.DirEntries.Add(1)
		relPath = filepath.ToSlash(relPath)
		info, err := dirEntry.Info()
		itemsCh <- walkedItem{
			path:     relPath,
			segments: pathstore.Split(relPath),
			info:     info,
			err:      err,
		}
		return nil
	})
	close(itemsCh)
	items := <-itemsDoneCh
	if walkErr != nil {
		return nil, walkErr
	}

	slices.SortFunc(items, func(a, b walkedItem) int {
		return slices.Compare(a.segments, b.segments)
	})
	return items, nil
}

// newEntries returns entries for the items that should be ingested, interning
// their paths.
func (i *Ingester) newEntries(items []walkedItem) []Entry {
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		var entry Entry
		if item.err != nil {
			i.statistics.MetadataErrors.Add(1)
			i.logger.WithError(item.err).WithField("path", item.path).Warn("no metadata")
		} else {
			mode := item.info.Mode()
			if !mode.IsRegular() && !(mode.IsDir() && i.createDirectoryEntries) {
				continue
			}
			entry.Size = uint64(max(0, item.info.Size())) //nolint:gosec
			entry.Flags = newFlags(filepath.Join(i.src, item.path), item.info)
		}
		entry.Path = i.table.paths.AddPath(item.path)
		if !entry.Flags.IsDir {
			i.statistics.Entries.Add(1)
			i.statistics.TotalBytes.Add(entry.Size)
		}
		entries = append(entries, entry)
	}
	return entries
}

// loadContent reads the content of each file entry concurrently into the
// table's content arena, computing digests if requested.
func (i *Ingester) loadContent(entries []Entry) error {
	contentSize := i.table.content.size()
	p := pool.New().WithErrors().WithMaxGoroutines(i.maxGoroutines)
	for _, index := range i.largestFilesFirst(entries) {
		entry := &entries[index]
		p.Go(func() error {
			path := i.fullPath(entry)
			data, err := os.ReadFile(path)
			if err != nil {
				return i.handleError(err)
			}
			i.statistics.FilesOpened.Add(1)
			i.statistics.BytesRead.Add(uint64(len(data)))
			entry.Content = Content{
				Kind:   ContentBytes,
				Offset: i.table.content.appendAndGetOffset(data),
				Length: uint64(len(data)),
			}
			if i.computeDigests {
				entry.Digest = ContentDigest(i.algorithm, data)
				i.statistics.BytesHashed.Add(uint64(len(data)))
			}
			i.progress(path)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		i.table.content.truncate(contentSize)
		return err
	}
	return nil
}

// loadDigests computes the digest of each file entry concurrently, reading
// the files from disk.
func (i *Ingester) loadDigests(entries []Entry) error {
	p := pool.New().WithErrors().WithMaxGoroutines(i.maxGoroutines)
	for _, index := range i.largestFilesFirst(entries) {
		entry := &entries[index]
		p.Go(func() error {
			path := i.fullPath(entry)
			digest, written, err := FileDigest(i.algorithm, path)
			if err != nil {
				return i.handleError(err)
			}
			i.statistics.FilesOpened.Add(1)
			i.statistics.BytesHashed.Add(uint64(written)) //nolint:gosec
			entry.Digest = digest
			i.progress(path)
			return nil
		})
	}
	return p.Wait()
}

// largestFilesFirst returns the indices of the non-directory entries, largest
// first, so that the longest reads start earliest.
func (i *Ingester) largestFilesFirst(entries []Entry) []int {
	indices := make([]int, 0, len(entries))
	for index := range entries {
		if !entries[index].Flags.IsDir {
			indices = append(indices, index)
		}
	}
	slices.SortStableFunc(indices, func(a, b int) int {
		return cmp.Compare(entries[b].Size, entries[a].Size)
	})
	return indices
}

// fullPath returns the filesystem path of entry. The path store is only read
// here, so fullPath may be called concurrently.
func (i *Ingester) fullPath(entry *Entry) string {
	return filepath.Join(i.src, filepath.FromSlash(i.table.paths.Path(entry.Path)))
}

func (i *Ingester) handleError(err error) error {
	i.statistics.Errors.Add(1)
	return i.errorHandler(err)
}
