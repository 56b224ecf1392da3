package stats

import (
	"encoding/json"
	"io"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Statistics contains scan statistics. Counters are updated concurrently by
// ingestion workers and are padded to separate cache lines to prevent false
// sharing.
type Statistics struct {
	DirEntries     atomic.Uint64
	_              cpu.CacheLinePad
	Entries        atomic.Uint64
	_              cpu.CacheLinePad
	MetadataErrors atomic.Uint64
	_              cpu.CacheLinePad
	Errors         atomic.Uint64
	_              cpu.CacheLinePad
	TotalBytes     atomic.Uint64
	_              cpu.CacheLinePad
	FilesOpened    atomic.Uint64
	_              cpu.CacheLinePad
	BytesRead      atomic.Uint64
	_              cpu.CacheLinePad
	BytesHashed    atomic.Uint64
	_              cpu.CacheLinePad
}

// A Snapshot is a point-in-time copy of Statistics.
type Snapshot struct {
	DirEntries         uint64  `json:"dirEntries"`
	Entries            uint64  `json:"entries"`
	MetadataErrors     uint64  `json:"metadataErrors"`
	Errors             uint64  `json:"errors"`
	TotalBytes         uint64  `json:"totalBytes"`
	FilesOpened        uint64  `json:"filesOpened"`
	FilesOpenedPercent float64 `json:"filesOpenedPercent"`
	BytesRead          uint64  `json:"bytesRead"`
	BytesHashed        uint64  `json:"bytesHashed"`
	BytesHashedPercent float64 `json:"bytesHashedPercent"`
}

// Snapshot returns the current values of s.
func (s *Statistics) Snapshot() Snapshot {
	entries := s.Entries.Load()
	totalBytes := s.TotalBytes.Load()
	filesOpened := s.FilesOpened.Load()
	bytesHashed := s.BytesHashed.Load()
	return Snapshot{
		DirEntries:         s.DirEntries.Load(),
		Entries:            entries,
		MetadataErrors:     s.MetadataErrors.Load(),
		Errors:             s.Errors.Load(),
		TotalBytes:         totalBytes,
		FilesOpened:        filesOpened,
		FilesOpenedPercent: 100 * float64(filesOpened) / max(1, float64(entries)),
		BytesRead:          s.BytesRead.Load(),
		BytesHashed:        bytesHashed,
		BytesHashedPercent: 100 * float64(bytesHashed) / max(1, float64(totalBytes)),
	}
}

// MarshalJSON implements [encoding/json.Marshaler].
func (s *Statistics) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// Print writes s to w as indented JSON.
func (s *Statistics) Print(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(s.Snapshot())
}
