//go:build linux

package platform

import "golang.org/x/sys/unix"

// deviceAccessible reports whether path can be opened for reading. An empty
// path skips the check.
func deviceAccessible(path string) bool {
	if path == "" {
		return true
	}
	return unix.Access(path, unix.R_OK) == nil
}
