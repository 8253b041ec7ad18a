//go:build unix

package jsonfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// fileLock is an advisory flock(2) lock shared with other sysmon processes
// using the same store.
type fileLock struct {
	f *os.File
}

func openLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) lock(exclusive bool) error {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	for {
		err := unix.Flock(int(l.f.Fd()), how)
		if err != unix.EINTR {
			return err
		}
	}
}

func (l *fileLock) unlock() error {
	return unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}

func (l *fileLock) close() error {
	return l.f.Close()
}
