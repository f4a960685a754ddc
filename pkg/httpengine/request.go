package httpengine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/llhls/client/pkg/hlsurl"
	"github.com/llhls/client/pkg/httpdecoder"
	"github.com/llhls/client/pkg/transport"
)

// Method is the HTTP verb a Request uses.
type Method int

const (
	MethodGet Method = iota
	MethodPost
)

func (m Method) String() string {
	if m == MethodPost {
		return "POST"
	}
	return "GET"
}

// maxHeaderBytes bounds the accumulated response status-line+headers block;
// a server that never terminates it with a blank line is cut off here
// rather than allowed to exhaust memory.
const maxHeaderBytes = 2048

// Request binds a method, URL, extra headers, and optional body to a sink.
// Call performs the round trip over the connection NewRequest dialed
// (reusing it when SetURL targets the same origin) and streams the decoded
// response body into sink, retrying with resume on transport failure.
type Request struct {
	agent *Agent

	method  Method
	url     hlsurl.URL
	headers []string
	body    []byte
	sink    io.Writer

	conn   transport.Conn
	reader *bufio.Reader

	// written counts bytes this Request has handed to sink across the
	// lifetime of the current logical fetch (i.e. surviving reconnects),
	// so a retry can resume at the right sink offset rather than the
	// wire offset, which differs once gzip/chunked decoding is involved.
	written uint64
}

// NewRequest builds a Request and dials its first connection.
func NewRequest(ctx context.Context, agent *Agent, method Method, url hlsurl.URL, sink io.Writer) (*Request, error) {
	r := &Request{agent: agent, method: method, url: url, sink: sink}
	if err := r.connect(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Header appends an extra header line (without the trailing CRLF) to every
// subsequent request built by this Request.
func (r *Request) Header(header string) {
	r.headers = append(r.headers, header)
}

// SetURL points this Request at a new URL ahead of the next Call. If the
// new URL has a different scheme or host, the existing connection is torn
// down and rebuilt; otherwise the same keep-alive connection is reused.
func (r *Request) SetURL(ctx context.Context, url hlsurl.URL) error {
	sameOrigin, err := sameOrigin(r.url, url)
	if err != nil {
		return err
	}
	r.url = url
	if sameOrigin {
		return nil
	}
	r.closeConn()
	return r.connect(ctx)
}

func sameOrigin(a, b hlsurl.URL) (bool, error) {
	if a.Scheme != b.Scheme {
		return false, nil
	}
	aHost, err := a.Host()
	if err != nil {
		return false, err
	}
	bHost, err := b.Host()
	if err != nil {
		return false, err
	}
	return aHost == bHost, nil
}

func (r *Request) connect(ctx context.Context) error {
	if r.agent.cfg.ForceHTTPS && r.url.Scheme != hlsurl.SchemeHTTPS {
		return &SchemeError{URL: r.url.String(), Reason: "URL is not HTTPS and force_https is enabled"}
	}

	conn, err := transport.Dial(ctx, r.url, transport.Config{
		ForceIPv4:  r.agent.cfg.ForceIPv4,
		Timeout:    r.agent.cfg.Timeout,
		Socks5Addr: r.agent.cfg.Socks5Addr,
		TLSConfig:  r.agent.cfg.TLSConfig,
	})
	if err != nil {
		return err
	}

	r.conn = conn
	r.reader = bufio.NewReader(conn)
	return nil
}

func (r *Request) closeConn() {
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
		r.reader = nil
	}
}

// Close releases the underlying connection.
func (r *Request) Close() error {
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	r.reader = nil
	return err
}

// Call performs the request, retrying transport-class errors up to
// agent.cfg.Retries times with sink-offset resume, and returns only once
// the full response body has been delivered (or a non-retryable/terminal
// error occurs).
func (r *Request) Call(ctx context.Context) error {
	r.written = 0

	for attempt := uint64(0); ; attempt++ {
		err := r.doRequest(ctx, attempt > 0 && r.written > 0)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}
		if attempt >= r.agent.cfg.Retries {
			return fmt.Errorf("httpengine: exhausted %d retries: %w", r.agent.cfg.Retries, err)
		}

		r.closeConn()
		if err := r.connect(ctx); err != nil {
			return err
		}
	}
}

func isRetryable(err error) bool {
	var notFound *NotFoundError
	var status *StatusError
	var scheme *SchemeError
	var sinkErr *sinkError
	switch {
	case errors.As(err, &notFound), errors.As(err, &status), errors.As(err, &scheme), errors.As(err, &sinkErr):
		return false
	default:
		return true
	}
}

// sinkError marks an error that originated from the destination sink
// (e.g. a closed player stdin pipe) rather than from the wire. Call's
// retry loop never retries these: a closed downstream is terminal, unlike
// a dropped connection, and retrying would just fail again against the
// same dead sink.
type sinkError struct {
	err error
}

func (e *sinkError) Error() string { return e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }

// doRequest builds and sends one wire request, reads the status line and
// headers, and streams the decoded body into the sink. resume is true when
// this is a retry with bytes already delivered: it adds a Range header and
// handles either a 206 (server honored it) or a 200 (server ignored it,
// fall back to discarding the already-delivered prefix of the fresh body).
func (r *Request) doRequest(ctx context.Context, resume bool) error {
	raw, err := r.build(resume)
	if err != nil {
		return err
	}

	if _, err := r.conn.Write([]byte(raw)); err != nil {
		return fmt.Errorf("httpengine: writing request: %w", err)
	}

	headers, err := r.readHeaders()
	if err != nil {
		return err
	}

	code, err := statusCode(headers)
	if err != nil {
		return err
	}

	switch code {
	case 200, 206:
		// fall through
	case 404:
		return &NotFoundError{URL: r.url.String()}
	default:
		return &StatusError{Code: code, URL: r.url.String()}
	}

	body, err := httpdecoder.New(r.reader, headers)
	if err != nil {
		return err
	}

	var dst io.Writer = &sinkWriter{sink: r.sink, written: &r.written}
	if resume && code == 200 {
		// Server ignored Range: bytes=N-; it is resending from byte 0.
		// Discard the prefix we already delivered rather than writing it
		// twice, since the sink may be an unseekable pipe or socket.
		dst = &discardingWriter{sink: r.sink, skip: r.written, written: &r.written}
	}

	if _, err := io.Copy(dst, body); err != nil {
		return fmt.Errorf("httpengine: copying response body: %w", err)
	}
	return nil
}

func (r *Request) readHeaders() (string, error) {
	var sb strings.Builder
	for {
		line, err := r.reader.ReadString('\n')
		sb.WriteString(line)
		if err != nil {
			return "", fmt.Errorf("httpengine: reading response headers: %w", err)
		}
		if sb.Len() > maxHeaderBytes {
			return "", fmt.Errorf("httpengine: response headers exceeded %d bytes", maxHeaderBytes)
		}
		if strings.HasSuffix(sb.String(), "\r\n\r\n") {
			return sb.String(), nil
		}
	}
}

func statusCode(headers string) (int, error) {
	firstLine, _, _ := strings.Cut(headers, "\r\n")
	fields := strings.Fields(firstLine)
	if len(fields) < 2 {
		return 0, fmt.Errorf("httpengine: malformed status line %q", firstLine)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("httpengine: malformed status code %q: %w", fields[1], err)
	}
	return code, nil
}

func (r *Request) build(resume bool) (string, error) {
	path, err := r.url.RequestTarget()
	if err != nil {
		return "", err
	}
	host, err := r.url.Host()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s HTTP/1.1\r\n", r.method, path)
	fmt.Fprintf(&sb, "Host: %s\r\n", host)
	fmt.Fprintf(&sb, "User-Agent: %s\r\n", r.agent.cfg.UserAgent)
	sb.WriteString("Accept: */*\r\n")
	sb.WriteString("Accept-Language: en-US\r\n")
	sb.WriteString("Accept-Encoding: gzip\r\n")
	sb.WriteString("Connection: keep-alive\r\n")
	if resume {
		fmt.Fprintf(&sb, "Range: bytes=%d-\r\n", r.written)
	}
	for _, h := range r.headers {
		sb.WriteString(h)
		sb.WriteString("\r\n")
	}
	if len(r.body) > 0 {
		fmt.Fprintf(&sb, "Content-Length: %d\r\n", len(r.body))
	}
	sb.WriteString("\r\n")
	sb.Write(r.body)

	return sb.String(), nil
}

// sinkWriter tracks how many bytes have been handed to sink, independent of
// how many bytes were read off the wire (post-decode accounting).
type sinkWriter struct {
	sink    io.Writer
	written *uint64
}

func (w *sinkWriter) Write(p []byte) (int, error) {
	n, err := w.sink.Write(p)
	*w.written += uint64(n)
	if err != nil {
		return n, &sinkError{err: err}
	}
	return n, nil
}

// discardingWriter drops the first skip bytes written to it (the portion
// already delivered to sink by a previous, interrupted attempt), then
// forwards the remainder, continuing to update written.
type discardingWriter struct {
	sink    io.Writer
	skip    uint64
	written *uint64
}

func (w *discardingWriter) Write(p []byte) (int, error) {
	total := len(p)
	if w.skip > 0 {
		if uint64(len(p)) <= w.skip {
			w.skip -= uint64(len(p))
			return total, nil
		}
		p = p[w.skip:]
		w.skip = 0
	}
	n, err := w.sink.Write(p)
	*w.written += uint64(n)
	if err != nil {
		return total - len(p) + n, &sinkError{err: err}
	}
	return total, nil
}
