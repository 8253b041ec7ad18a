//go:build !unix

package jsonfile

// fileLock is a no-op where flock(2) is unavailable; the in-process mutex
// still serialises writers.
type fileLock struct{}

func openLock(string) (*fileLock, error) { return &fileLock{}, nil }

func (*fileLock) lock(bool) error { return nil }
func (*fileLock) unlock() error   { return nil }
func (*fileLock) close() error    { return nil }
