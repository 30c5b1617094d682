//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package console

import "os"

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
