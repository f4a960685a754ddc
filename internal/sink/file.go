package sink

import (
	"fmt"
	"os"
)

// FileSink writes segment bytes to a local file. By default it refuses to
// overwrite an existing file (create_new semantics); Overwrite switches to
// truncating create semantics.
type FileSink struct {
	f *os.File
}

// NewFileSink opens path according to overwrite and returns a sink ready
// for writes.
func NewFileSink(path string, overwrite bool) (*FileSink, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: opening %s: %w", path, err)
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

func (s *FileSink) Flush() error {
	return s.f.Sync()
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	return s.f.Close()
}
