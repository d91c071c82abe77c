//go:build !windows

package audit

import (
	"os"
	"syscall"
)

// flockExclusive takes an exclusive advisory lock on f for the duration of
// a single append, serializing writers across processes sharing the same
// log file (spec.md §5 "Shared resources").
func flockExclusive(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
}

// funlock releases a lock taken by flockExclusive.
func funlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
