//go:build !linux

package filesystem

import (
	"os"
	"time"
)

// statTimes falls back to the portable FileInfo, which only carries a modification time.
func statTimes(name string) (Times, error) {
	info, err := os.Stat(name)
	if err != nil {
		return Times{}, err
	}
	mtime := info.ModTime()
	return Times{Creation: mtime, LastWrite: mtime, LastAccess: mtime}, nil
}

func chtimes(name string, atime time.Time, mtime time.Time) error {
	if atime.IsZero() || mtime.IsZero() {
		info, err := os.Stat(name)
		if err != nil {
			return err
		}
		if atime.IsZero() {
			atime = info.ModTime()
		}
		if mtime.IsZero() {
			mtime = info.ModTime()
		}
	}
	return os.Chtimes(name, atime, mtime)
}
