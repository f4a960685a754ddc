// Package sink implements the three output kinds the control loop writes
// segment bytes to — a player's stdin, a file, a TCP broadcaster — and a
// multiplexing wrapper that fans writes out to whichever are configured.
package sink

import (
	"errors"
	"io"
)

// Sink is the downstream byte consumer the fetch worker writes into.
type Sink interface {
	io.Writer
	Flush() error
}

// ErrPipeClosed is returned by PlayerSink.Write when the child process has
// closed its stdin (a broken pipe); the control loop maps this to a clean
// exit ("player closed").
var ErrPipeClosed = errors.New("sink: player pipe closed")

// Multi fans writes out to every present sink in order, short-circuiting
// on the first error. A nil entry is skipped, so callers can build the
// slice directly from optional config without filtering.
type Multi struct {
	sinks []Sink
}

// NewMulti builds a Multi over the non-nil sinks in order.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *Multi) Write(p []byte) (int, error) {
	for _, s := range m.sinks {
		if _, err := s.Write(p); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Flush flushes every sink in order, stopping at the first error.
func (m *Multi) Flush() error {
	for _, s := range m.sinks {
		if err := s.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Len reports how many sinks are present. Config validation counts the
// configured outputs itself and does not call it.
func (m *Multi) Len() int { return len(m.sinks) }

// Close releases every present sink that holds a closeable resource (a
// file handle, a child process, a listener), continuing past individual
// failures and returning the first one encountered.
func (m *Multi) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		c, ok := s.(interface{ Close() error })
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
