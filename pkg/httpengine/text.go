package httpengine

import (
	"bytes"
	"context"

	"github.com/llhls/client/pkg/hlsurl"
)

// TextRequest is a Request whose sink is an in-memory buffer, used for
// fetching playlist text: the caller never streams a media playlist, it
// just wants the whole body as a string on every reload.
type TextRequest struct {
	req *Request
	buf *bytes.Buffer
}

// NewTextRequest builds a GET TextRequest and performs the first fetch.
func NewTextRequest(ctx context.Context, agent *Agent, url hlsurl.URL) (*TextRequest, error) {
	buf := &bytes.Buffer{}
	req, err := NewRequest(ctx, agent, MethodGet, url, buf)
	if err != nil {
		return nil, err
	}
	t := &TextRequest{req: req, buf: buf}
	if err := req.Call(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Header appends an extra header line to subsequent requests.
func (t *TextRequest) Header(header string) {
	t.req.Header(header)
}

// Text re-fetches the URL and returns the response body as a string. The
// internal buffer is reused across calls.
func (t *TextRequest) Text(ctx context.Context) (string, error) {
	t.buf.Reset()
	if err := t.req.Call(ctx); err != nil {
		return "", err
	}
	return t.buf.String(), nil
}

// Close releases the underlying connection.
func (t *TextRequest) Close() error {
	return t.req.Close()
}
