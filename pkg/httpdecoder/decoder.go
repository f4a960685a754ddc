// Package httpdecoder wraps a raw HTTP/1.1 response body reader, applying
// chunked transfer decoding and/or gzip content decoding as declared by the
// response headers, and stopping after exactly one response body so the
// underlying connection stays aligned for keep-alive reuse.
package httpdecoder

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http/httputil"
	"strconv"
	"strings"
)

// New builds a Decoder for the body that follows headers (the raw header
// block text, including the status line, as read off the wire) on r.
//
// Recognized combinations: chunked+gzip, chunked alone, gzip alone, or a
// Content-Length-framed body. Anything else is a framing error, since a
// response with none of these cannot be bounded.
func New(r io.Reader, headers string) (io.Reader, error) {
	lower := strings.ToLower(headers)
	chunked := containsHeaderLine(lower, "transfer-encoding: chunked")
	gzipped := containsHeaderLine(lower, "content-encoding: gzip")

	switch {
	case chunked && gzipped:
		return newChunkedGzipReader(httputil.NewChunkedReader(r)), nil
	case chunked:
		return httputil.NewChunkedReader(r), nil
	case gzipped:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("httpdecoder: opening gzip reader: %w", err)
		}
		gz.Multistream(false)
		return gz, nil
	default:
		length, ok := contentLength(lower)
		if !ok {
			return nil, fmt.Errorf("httpdecoder: could not resolve encoding of response")
		}
		return io.LimitReader(r, length), nil
	}
}

func containsHeaderLine(lowerHeaders, line string) bool {
	for _, l := range strings.Split(lowerHeaders, "\r\n") {
		if strings.TrimSpace(l) == line {
			return true
		}
	}
	return false
}

func contentLength(lowerHeaders string) (int64, bool) {
	for _, l := range strings.Split(lowerHeaders, "\r\n") {
		if !strings.HasPrefix(l, "content-length") {
			continue
		}
		fields := strings.Fields(l)
		if len(fields) < 2 {
			return 0, false
		}
		n, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// chunkedGzipReader wraps a gzip reader over a chunked-transfer reader. When
// the gzip stream ends, the chunked decoder may still hold unread trailer
// bytes (the terminating zero-length chunk and trailing CRLF); draining
// them here keeps the connection's read position aligned with what the
// server actually sent, which matters for keep-alive reuse of the
// transport.
type chunkedGzipReader struct {
	chunked io.Reader
	gz      *gzip.Reader
	drained bool
}

func newChunkedGzipReader(chunked io.Reader) *chunkedGzipReader {
	return &chunkedGzipReader{chunked: chunked}
}

func (c *chunkedGzipReader) Read(buf []byte) (int, error) {
	if c.gz == nil {
		gz, err := gzip.NewReader(c.chunked)
		if err != nil {
			return 0, fmt.Errorf("httpdecoder: opening gzip reader over chunked body: %w", err)
		}
		c.gz = gz
	}

	n, err := c.gz.Read(buf)
	if n == 0 && err == io.EOF && !c.drained {
		c.drained = true
		if _, drainErr := io.Copy(io.Discard, c.chunked); drainErr != nil {
			return 0, drainErr
		}
	}
	return n, err
}
