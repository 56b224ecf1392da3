package stats_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/dedupscan/internal/stats"
)

func TestStatistics(t *testing.T) {
	var s stats.Statistics
	s.Entries.Add(4)
	s.FilesOpened.Add(2)
	s.TotalBytes.Add(200)
	s.BytesHashed.Add(50)
	s.Errors.Add(1)

	snapshot := s.Snapshot()
	assert.Equal(t, uint64(4), snapshot.Entries)
	assert.Equal(t, 50.0, snapshot.FilesOpenedPercent)
	assert.Equal(t, 25.0, snapshot.BytesHashedPercent)

	var buf bytes.Buffer
	assert.NoError(t, s.Print(&buf))
	var decoded stats.Snapshot
	assert.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, snapshot, decoded)
}

func TestStatisticsEmpty(t *testing.T) {
	var s stats.Statistics
	snapshot := s.Snapshot()
	assert.Zero(t, snapshot.FilesOpenedPercent)
	assert.Zero(t, snapshot.BytesHashedPercent)
}
