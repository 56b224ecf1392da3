package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/twpayne/go-vfs/v4/vfst"

	"github.com/twpayne/dedupscan/internal/config"
	"github.com/twpayne/dedupscan/internal/fstable"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd := newCLI(&stdout, &stderr).newRootCmd()
	rootCmd.SetArgs(append([]string{"--log-level=error"}, args...))
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestDuplicatesCmd(t *testing.T) {
	fs, cleanup, err := vfst.NewTestFS(map[string]any{
		"/root": map[string]any{
			"a.txt": "hello",
			"b.txt": "hello",
			"c.txt": "other",
		},
	})
	assert.NoError(t, err)
	t.Cleanup(cleanup)
	root := fs.TempDir() + "/root"

	stdout, _, err := execute(t, "duplicates", root)
	assert.NoError(t, err)
	var actual map[string][]string
	assert.NoError(t, json.Unmarshal([]byte(stdout), &actual))
	assert.Equal(t, map[string][]string{
		fstable.ContentDigest(fstable.BLAKE3, []byte("hello")).String(): {"a.txt", "b.txt"},
	}, actual)
}

func TestScanThenCompute(t *testing.T) {
	fs, cleanup, err := vfst.NewTestFS(map[string]any{
		"/root": map[string]any{
			"a.txt": "hello",
			"b.txt": "hello",
		},
	})
	assert.NoError(t, err)
	t.Cleanup(cleanup)
	root := fs.TempDir() + "/root"
	snapshotPath := filepath.Join(t.TempDir(), "snapshot")

	stdout, _, err := execute(t, "scan", "--save", snapshotPath, root)
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "2 entries"))

	stdout, _, err = execute(t, "compute", "--load", snapshotPath)
	assert.NoError(t, err)
	assert.Contains(t, stdout, "files:         2")
	assert.Contains(t, stdout, "groups:        1")
	assert.Contains(t, stdout, "a.txt")
}

func TestConfigCmd(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, os.WriteFile(configPath, []byte("threshold: 3\ndigestAlgorithm: xxh3\n"), 0o666))

	stdout, _, err := execute(t, "--config="+configPath, "--algorithm=blake3", "config")
	assert.NoError(t, err)

	path := filepath.Join(t.TempDir(), "effective.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(stdout), 0o666))
	actual, err := config.Load(path)
	assert.NoError(t, err)
	assert.Equal(t, 3, actual.Threshold)
	assert.Equal(t, "blake3", actual.DigestAlgorithm)
	assert.Equal(t, "error", actual.LogLevel)
}

func TestInvalidAlgorithm(t *testing.T) {
	_, _, err := execute(t, "--algorithm=md5", "config")
	assert.Error(t, err)
}

func TestComputeUnreadableSnapshot(t *testing.T) {
	fs, cleanup, err := vfst.NewTestFS(map[string]any{
		"/root": map[string]any{
			"a.txt": "hello",
			"b.txt": "hello",
		},
	})
	assert.NoError(t, err)
	t.Cleanup(cleanup)
	root := fs.TempDir() + "/root"

	for _, tc := range []struct {
		name string
		data []byte
	}{
		{
			name: "garbage",
			data: []byte{0x8f, 0x01, 0xfe, 0x42, 0x00, 0x7a, 0xc3, 0x19},
		},
		{
			name: "missing",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			snapshotPath := filepath.Join(t.TempDir(), "snapshot")
			if tc.data != nil {
				assert.NoError(t, os.WriteFile(snapshotPath, tc.data, 0o666))
			}
			stdout, _, err := execute(t, "compute", "--load="+snapshotPath, root)
			assert.NoError(t, err)
			assert.Contains(t, stdout, "files:         2")
			assert.Contains(t, stdout, "groups:        1")
		})
	}
}

func TestComputeNegativeTop(t *testing.T) {
	fs, cleanup, err := vfst.NewTestFS(map[string]any{
		"/root": map[string]any{
			"a.txt": "hello",
			"b.txt": "hello",
		},
	})
	assert.NoError(t, err)
	t.Cleanup(cleanup)
	root := fs.TempDir() + "/root"

	_, _, err = execute(t, "compute", "--top=-1", root)
	assert.Error(t, err)

	stdout, _, err := execute(t, "compute", "--top=0", root)
	assert.NoError(t, err)
	assert.NotContains(t, stdout, "Largest duplicate groups")
}
