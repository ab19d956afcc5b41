//go:build linux

package filesystem

import (
	"errors"
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

const statxMask = unix.STATX_ATIME | unix.STATX_MTIME | unix.STATX_BTIME

// statTimes uses statx so the birth time is available where the filesystem records one.
// Filesystems without a birth time report the modification time as creation time.
func statTimes(name string) (Times, error) {
	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, name, unix.AT_STATX_SYNC_AS_STAT, statxMask, &stx)
	if errors.Is(err, unix.ENOSYS) {
		return statTimesLegacy(name)
	}
	if err != nil {
		return Times{}, &fs.PathError{Op: "statx", Path: name, Err: err}
	}

	t := Times{
		LastWrite:  statxTime(stx.Mtime),
		LastAccess: statxTime(stx.Atime),
	}
	if stx.Mask&unix.STATX_BTIME != 0 {
		t.Creation = statxTime(stx.Btime)
	} else {
		t.Creation = t.LastWrite
	}
	return t, nil
}

func statTimesLegacy(name string) (Times, error) {
	var st unix.Stat_t
	if err := unix.Stat(name, &st); err != nil {
		return Times{}, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	mtime := time.Unix(st.Mtim.Unix())
	return Times{
		Creation:   mtime,
		LastWrite:  mtime,
		LastAccess: time.Unix(st.Atim.Unix()),
	}, nil
}

func statxTime(ts unix.StatxTimestamp) time.Time {
	return time.Unix(ts.Sec, int64(ts.Nsec))
}

// chtimes calls utimensat directly so a zero time maps to UTIME_OMIT.
func chtimes(name string, atime time.Time, mtime time.Time) error {
	ts := []unix.Timespec{timespec(atime), timespec(mtime)}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, name, ts, 0); err != nil {
		return &fs.PathError{Op: "chtimes", Path: name, Err: err}
	}
	return nil
}

func timespec(t time.Time) unix.Timespec {
	if t.IsZero() {
		return unix.Timespec{Nsec: unix.UTIME_OMIT}
	}
	return unix.NsecToTimespec(t.UnixNano())
}
