//go:build !unix

package fstable

import "io/fs"

// access approximates access(2) with the owner permission bits.
func access(_ string, mode fs.FileMode) (readable, writable, executable bool) {
	perm := mode.Perm()
	return perm&0o400 != 0, perm&0o200 != 0, perm&0o100 != 0
}
