//go:build unix

package fstable

import (
	"io/fs"

	"golang.org/x/sys/unix"
)

// access returns whether the current process can read, write, and execute
// path.
func access(path string, _ fs.FileMode) (readable, writable, executable bool) {
	readable = unix.Access(path, unix.R_OK) == nil
	writable = unix.Access(path, unix.W_OK) == nil
	executable = unix.Access(path, unix.X_OK) == nil
	return
}
