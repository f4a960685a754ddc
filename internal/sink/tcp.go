package sink

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// TCPSink broadcasts segment bytes to every currently-connected client.
// New connections are accepted lazily, once per Flush, so it never needs a
// dedicated accept-loop goroutine: the worker's own flush cadence drives
// it.
type TCPSink struct {
	listener net.Listener
	log      *slog.Logger

	mu      sync.Mutex
	clients []net.Conn
	header  []byte
}

// NewTCPSink starts listening on addr (e.g. ":8080").
func NewTCPSink(addr string, log *slog.Logger) (*TCPSink, error) {
	if log == nil {
		log = slog.Default()
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("sink: listening on %s: %w", addr, err)
	}
	return &TCPSink{listener: l, log: log}, nil
}

// SetHeader records the #EXT-X-MAP init bytes so every client accepted
// from here on receives them before any segment data.
func (s *TCPSink) SetHeader(header []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header = append([]byte(nil), header...)
}

func (s *TCPSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alive := s.clients[:0]
	for _, c := range s.clients {
		if _, err := c.Write(p); err != nil {
			if isRecoverableClientError(err) {
				_ = c.Close()
				continue
			}
			s.log.Warn("tcp client write failed, dropping", "remote", c.RemoteAddr(), "error", err)
			_ = c.Close()
			continue
		}
		alive = append(alive, c)
	}
	s.clients = alive
	return len(p), nil
}

// Flush polls accept() once (non-blocking) and folds any newly-accepted
// client into the broadcast list after writing it the latched header.
func (s *TCPSink) Flush() error {
	if tcpListener, ok := s.listener.(*net.TCPListener); ok {
		_ = tcpListener.SetDeadline(time.Now().Add(time.Millisecond))
	}
	conn, err := s.listener.Accept()
	if err != nil {
		if isTimeout(err) {
			return nil
		}
		return nil
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.header) > 0 {
		if _, err := conn.Write(s.header); err != nil {
			_ = conn.Close()
			return nil
		}
	}
	s.clients = append(s.clients, conn)
	s.log.Info("tcp client connected", "remote", conn.RemoteAddr())
	return nil
}

// Close stops accepting new connections and closes every current client.
func (s *TCPSink) Close() error {
	err := s.listener.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		_ = c.Close()
	}
	s.clients = nil
	return err
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isRecoverableClientError(err error) bool {
	return errors.Is(err, net.ErrClosed) || isBrokenPipe(err) || isTimeout(err)
}
