// Package find builds tables of one or more directory trees, caching them in
// snapshots, and finds duplicate files in them.
package find

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"

	"github.com/twpayne/dedupscan/internal/dedup"
	"github.com/twpayne/dedupscan/internal/fstable"
	"github.com/twpayne/dedupscan/internal/snapshot"
	"github.com/twpayne/dedupscan/internal/stats"
)

// A Finder finds duplicate files below its roots.
type Finder struct {
	Roots            []string
	SnapshotPath     string
	DirectoryEntries bool
	FileContent      bool
	ContentTypes     bool
	KeepGoing        bool
	Refresh          bool
	Algorithm        fstable.DigestAlgorithm
	MaxGoroutines    int
	Logger           *logrus.Logger
	Statistics       *stats.Statistics
	Progress         func(string)

	table *fstable.Table
}

// Table returns the table of f's roots. If f has a snapshot of the same roots
// then the table is loaded from it. Otherwise the roots are scanned and, if
// f.SnapshotPath is set, the snapshot is saved. A snapshot that cannot be
// loaded is removed and replaced. If f.Refresh is set then the roots are
// always scanned.
func (f *Finder) Table() (*fstable.Table, error) {
	if f.table != nil {
		return f.table, nil
	}
	if len(f.Roots) == 0 {
		return nil, errors.New("no roots")
	}

	if f.SnapshotPath != "" && !f.Refresh {
		if table, ok := f.loadSnapshot(); ok {
			f.table = table
			return table, nil
		}
	}

	table, err := f.scan()
	if err != nil {
		return nil, err
	}
	f.table = table
	f.saveSnapshot()
	return table, nil
}

// ScanAdditional ingests dir, which must be below one of f's roots, into f's
// table, replacing any existing entries for the same paths. Entries for files
// that no longer exist below dir are kept.
func (f *Finder) ScanAdditional(dir string) error {
	table, err := f.Table()
	if err != nil {
		return err
	}
	prefix, err := f.prefix(dir)
	if err != nil {
		return err
	}
	dirTable := fstable.New()
	if err := f.ingester(dirTable, dir).Ingest(); err != nil {
		return err
	}
	if err := table.Extend(dirTable, prefix); err != nil {
		return err
	}
	f.saveSnapshot()
	return nil
}

// FindDuplicates returns the duplication report for f's roots.
func (f *Finder) FindDuplicates() (*dedup.Report, error) {
	table, err := f.Table()
	if err != nil {
		return nil, err
	}
	var options []dedup.Option
	if f.ContentTypes {
		options = append(options, dedup.WithContentTypes(f.contentRoot()))
	}
	start := time.Now()
	report := dedup.AnalyzeTable(table, options...)
	f.logger().WithFields(logrus.Fields{
		"files":    report.Files,
		"groups":   report.GroupCount(),
		"duration": time.Since(start),
	}).Debug("analyzed")
	return report, nil
}

// scan ingests each root concurrently into its own table and merges them.
func (f *Finder) scan() (*fstable.Table, error) {
	if len(f.Roots) == 1 {
		table := fstable.New()
		if err := f.ingester(table, f.Roots[0]).Ingest(); err != nil {
			return nil, err
		}
		return table, nil
	}

	pool, err := ants.NewPool(min(len(f.Roots), f.maxGoroutines()))
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	tables := make([]*fstable.Table, len(f.Roots))
	errs := make([]error, len(f.Roots))
	var wg sync.WaitGroup
	for i, root := range f.Roots {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			table := fstable.New()
			if err := f.ingester(table, root).Ingest(); err != nil {
				errs[i] = err
				return
			}
			tables[i] = table
		}); err != nil {
			wg.Done()
			errs[i] = err
		}
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	result := fstable.New()
	for i, root := range f.Roots {
		if err := result.Extend(tables[i], rootPrefix(root)); err != nil {
			return nil, fmt.Errorf("%s: %w", root, err)
		}
	}
	return result, nil
}

func (f *Finder) ingester(table *fstable.Table, src string) *fstable.Ingester {
	options := []fstable.IngesterOption{
		fstable.WithDirectoryEntries(f.DirectoryEntries),
		fstable.WithFileContent(f.FileContent),
		fstable.WithDigests(true),
		fstable.WithDigestAlgorithm(f.algorithm()),
		fstable.WithMaxGoroutines(f.maxGoroutines()),
		fstable.WithLogger(f.logger()),
	}
	if !f.KeepGoing {
		options = append(options, fstable.WithErrorHandler(func(err error) error {
			return err
		}))
	}
	if f.Statistics != nil {
		options = append(options, fstable.WithStatistics(f.Statistics))
	}
	if f.Progress != nil {
		options = append(options, fstable.WithProgress(f.Progress))
	}
	return table.Ingester(src, options...)
}

// loadSnapshot returns the table from f's snapshot if it is usable.
func (f *Finder) loadSnapshot() (*fstable.Table, bool) {
	logger := f.logger().WithField("path", f.SnapshotPath)
	s, err := snapshot.Load(f.SnapshotPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Debug("no snapshot")
		return nil, false
	case err != nil:
		logger.WithError(err).Warn("removing unreadable snapshot")
		if err := os.Remove(f.SnapshotPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.WithError(err).Warn("cannot remove snapshot")
		}
		return nil, false
	case !slices.Equal(s.Roots, f.Roots):
		logger.WithField("roots", s.Roots).Info("snapshot roots differ")
		return nil, false
	case s.Table.DigestAlgorithm() != "" && s.Table.DigestAlgorithm() != f.algorithm():
		logger.WithField("algorithm", s.Table.DigestAlgorithm()).Info("snapshot digest algorithm differs")
		return nil, false
	}
	logger.WithFields(logrus.Fields{
		"created": s.Created,
		"entries": s.Table.Len(),
	}).Debug("loaded snapshot")
	return s.Table, true
}

// saveSnapshot saves f's table if f has a snapshot path. Failures are logged.
func (f *Finder) saveSnapshot() {
	if f.SnapshotPath == "" {
		return
	}
	if err := snapshot.Save(f.SnapshotPath, snapshot.New(f.Roots, f.table)); err != nil {
		f.logger().WithError(err).WithField("path", f.SnapshotPath).Warn("cannot save snapshot")
	}
}

// prefix returns the path prefix in f's table of dir.
func (f *Finder) prefix(dir string) (string, error) {
	for _, root := range f.Roots {
		relPath, err := filepath.Rel(root, dir)
		if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
			continue
		}
		if relPath == "." {
			relPath = ""
		}
		if len(f.Roots) == 1 {
			return filepath.ToSlash(relPath), nil
		}
		return path.Join(rootPrefix(root), filepath.ToSlash(relPath)), nil
	}
	return "", fmt.Errorf("%s: not below any root", dir)
}

// rootPrefix returns the path prefix in a multi-root table of entries below
// root. The current directory has an empty prefix.
func rootPrefix(root string) string {
	if root = filepath.ToSlash(filepath.Clean(root)); root == "." {
		return ""
	}
	return root
}

// contentRoot returns the directory that paths in f's table are relative to.
func (f *Finder) contentRoot() string {
	if len(f.Roots) == 1 {
		return f.Roots[0]
	}
	return ""
}

func (f *Finder) algorithm() fstable.DigestAlgorithm {
	if f.Algorithm == "" {
		return fstable.DefaultDigestAlgorithm
	}
	return f.Algorithm
}

func (f *Finder) logger() *logrus.Logger {
	if f.Logger == nil {
		return logrus.StandardLogger()
	}
	return f.Logger
}

func (f *Finder) maxGoroutines() int {
	if f.MaxGoroutines <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return f.MaxGoroutines
}
