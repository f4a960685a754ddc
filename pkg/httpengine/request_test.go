package httpengine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llhls/client/pkg/hlsurl"
)

// rawServer accepts connections on a loopback listener and hands each one,
// plus the raw request line+headers it read, to handle. handle writes
// whatever response bytes it wants directly to the connection.
func rawServer(t *testing.T, handle func(t *testing.T, conn net.Conn, request string)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				req := readRequest(t, conn)
				if req == "" {
					return
				}
				handle(t, conn, req)
			}()
		}
	}()

	return ln.Addr().String()
}

func readRequest(t *testing.T, conn net.Conn) string {
	t.Helper()
	r := bufio.NewReader(conn)
	var sb strings.Builder
	for {
		line, err := r.ReadString('\n')
		sb.WriteString(line)
		if err != nil {
			return ""
		}
		if strings.HasSuffix(sb.String(), "\r\n\r\n") {
			return sb.String()
		}
	}
}

func newTestAgent() *Agent {
	return NewAgent(Config{Retries: 2, Timeout: 2 * time.Second, UserAgent: "llhls-test"})
}

func TestCall_ContentLength(t *testing.T) {
	addr := rawServer(t, func(t *testing.T, conn net.Conn, req string) {
		body := "hello world"
		fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
	})

	var buf bytes.Buffer
	agent := newTestAgent()
	r, err := NewRequest(context.Background(), agent, MethodGet, hlsurl.New("http://"+addr+"/seg.ts"), &buf)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Call(context.Background()))
	assert.Equal(t, "hello world", buf.String())
}

func TestCall_NotFound(t *testing.T) {
	addr := rawServer(t, func(t *testing.T, conn net.Conn, req string) {
		fmt.Fprint(conn, "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n")
	})

	var buf bytes.Buffer
	agent := newTestAgent()
	r, err := NewRequest(context.Background(), agent, MethodGet, hlsurl.New("http://"+addr+"/missing.ts"), &buf)
	require.NoError(t, err)
	defer r.Close()

	err = r.Call(context.Background())
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestCall_UnexpectedStatus(t *testing.T) {
	addr := rawServer(t, func(t *testing.T, conn net.Conn, req string) {
		fmt.Fprint(conn, "HTTP/1.1 500 Internal Server Error\r\nContent-Length: 0\r\n\r\n")
	})

	var buf bytes.Buffer
	agent := newTestAgent()
	r, err := NewRequest(context.Background(), agent, MethodGet, hlsurl.New("http://"+addr+"/x"), &buf)
	require.NoError(t, err)
	defer r.Close()

	err = r.Call(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 500, statusErr.Code)
}

func TestCall_ForceHTTPSRejectsPlainHTTP(t *testing.T) {
	agent := NewAgent(Config{ForceHTTPS: true, Retries: 1, Timeout: time.Second, UserAgent: "x"})

	var buf bytes.Buffer
	_, err := NewRequest(context.Background(), agent, MethodGet, hlsurl.New("http://example.com/x"), &buf)
	var schemeErr *SchemeError
	require.ErrorAs(t, err, &schemeErr)
}

func TestCall_ResumeViaRange(t *testing.T) {
	full := "0123456789ABCDEFGHIJ" // 20 bytes
	var attempts atomic.Int32

	addr := rawServer(t, func(t *testing.T, conn net.Conn, req string) {
		if attempts.Add(1) == 1 {
			// Write a Content-Length header promising 20 bytes but only
			// send the first 8, then reset the connection — simulating a
			// dropped transport mid-body.
			fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n", len(full))
			conn.Write([]byte(full[:8]))
			if tcp, ok := conn.(*net.TCPConn); ok {
				tcp.SetLinger(0)
			}
			return
		}

		// Second attempt: expect a Range header for the remainder.
		if !strings.Contains(strings.ToLower(req), "range: bytes=8-") {
			fmt.Fprint(conn, "HTTP/1.1 400 Bad Request\r\nContent-Length: 0\r\n\r\n")
			return
		}
		remainder := full[8:]
		fmt.Fprintf(conn, "HTTP/1.1 206 Partial Content\r\nContent-Length: %d\r\n\r\n%s", len(remainder), remainder)
	})

	var buf bytes.Buffer
	agent := NewAgent(Config{Retries: 2, Timeout: 2 * time.Second, UserAgent: "x"})
	r, err := NewRequest(context.Background(), agent, MethodGet, hlsurl.New("http://"+addr+"/seg.ts"), &buf)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Call(context.Background()))
	assert.Equal(t, full, buf.String())
}

func TestCall_ResumeFallbackDiscardsOnPlain200(t *testing.T) {
	full := "0123456789ABCDEFGHIJ"
	var attempts atomic.Int32

	addr := rawServer(t, func(t *testing.T, conn net.Conn, req string) {
		if attempts.Add(1) == 1 {
			fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n", len(full))
			conn.Write([]byte(full[:8]))
			if tcp, ok := conn.(*net.TCPConn); ok {
				tcp.SetLinger(0)
			}
			return
		}
		// Server doesn't support Range: resends the whole body as 200.
		fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(full), full)
	})

	var buf bytes.Buffer
	agent := NewAgent(Config{Retries: 2, Timeout: 2 * time.Second, UserAgent: "x"})
	r, err := NewRequest(context.Background(), agent, MethodGet, hlsurl.New("http://"+addr+"/seg.ts"), &buf)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Call(context.Background()))
	assert.Equal(t, full, buf.String())
}

func TestSetURL_SameOriginSkipsReconnect(t *testing.T) {
	addr := rawServer(t, func(t *testing.T, conn net.Conn, req string) {
		fmt.Fprint(conn, "HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\nA")
	})

	var buf bytes.Buffer
	agent := newTestAgent()
	r, err := NewRequest(context.Background(), agent, MethodGet, hlsurl.New("http://"+addr+"/a.ts"), &buf)
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Call(context.Background()))

	conn := r.conn
	require.NoError(t, r.SetURL(context.Background(), hlsurl.New("http://"+addr+"/b.ts")))
	assert.Same(t, conn, r.conn)
}
