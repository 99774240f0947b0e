package os

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Flock is an inter-process file lock, used to keep a host to a
// single running daemon instance.
type Flock struct {
	f *flock.Flock
}

func NewFileLock(path string) (*Flock, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "peermesh.lock")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0770); err != nil {
		return nil, err
	}
	return &Flock{f: flock.New(path)}, nil
}

// TryLock grabs the lock without blocking, false when another
// process holds it.
func (f *Flock) TryLock() (bool, error) { return f.f.TryLock() }

func (f *Flock) Unlock() error { return f.f.Unlock() }
