//go:build windows

package audit

import "os"

// flockExclusive is a no-op on Windows; cross-process append ordering on
// that platform relies solely on the in-process mutex in Writer, matching
// the single-DES-process deployment model in spec.md §5.
func flockExclusive(f *os.File) error { return nil }

func funlock(f *os.File) error { return nil }
