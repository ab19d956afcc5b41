//go:build linux

package filesystem

import (
	"golang.org/x/sys/unix"
)

func fadvise(fd uintptr, advice Advice) error {
	var a int
	switch advice {
	case AdviceSequential:
		a = unix.FADV_SEQUENTIAL
	case AdviceRandom:
		a = unix.FADV_RANDOM
	case AdviceDontNeed:
		a = unix.FADV_DONTNEED
	default:
		a = unix.FADV_NORMAL
	}
	return unix.Fadvise(int(fd), 0, 0, a)
}
