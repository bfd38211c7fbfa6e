package zdm

import (
	"os"
	"sync"
)

// destFile owns the single open handle to the destination file. All writes,
// range-mode and sequential alike, are issued via WriteAt against an
// explicit offset (an offset-addressed write primitive) per §9's preference
// over a mutex-guarded seek-then-write; the mutex additionally serializes
// callers whose underlying os.File implementation does not guarantee
// WriteAt's documented thread-safety.
type destFile struct {
	f  *os.File
	mu sync.Mutex
}

// openRangeMode opens (creating if absent) the destination and pre-sizes it
// to fileSize when the file is absent or its current size differs, so that
// every offset in [0, fileSize) is addressable by workers.
func openRangeMode(path string, fileSize int64) (*destFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, NewLocalIOError("open", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, NewLocalIOError("stat", err)
	}
	if info.Size() != fileSize {
		if err := f.Truncate(fileSize); err != nil {
			f.Close()
			return nil, NewLocalIOError("presize", err)
		}
	}
	return &destFile{f: f}, nil
}

// openSequentialMode opens (creating if absent) the destination for
// append-by-offset, truncating to zero if it exists and is already larger
// than fileSize (the prior file is presumed corrupt). Unlike range mode it
// is never pre-sized.
func openSequentialMode(path string, fileSize int64) (*destFile, int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, 0, NewLocalIOError("open", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, NewLocalIOError("stat", err)
	}
	existing := info.Size()
	if existing > fileSize {
		if err := f.Truncate(0); err != nil {
			f.Close()
			return nil, 0, NewLocalIOError("truncate", err)
		}
		existing = 0
	}
	return &destFile{f: f}, existing, nil
}

func (d *destFile) writeAt(b []byte, offset int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.f.WriteAt(b, offset)
	if err != nil {
		return NewLocalIOError("write", err)
	}
	if n != len(b) {
		return NewLocalIOError("write", os.ErrClosed)
	}
	return nil
}

// truncate resets the destination to zero length, used by the sequential
// fallback when a server ignores a non-zero range request.
func (d *destFile) truncate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.f.Truncate(0); err != nil {
		return NewLocalIOError("truncate", err)
	}
	return nil
}

func (d *destFile) readAt(b []byte, offset int64) (int, error) {
	return d.f.ReadAt(b, offset)
}

func (d *destFile) close() error {
	return d.f.Close()
}
