package httpengine

import (
	"context"
	"io"

	"github.com/llhls/client/pkg/hlsurl"
)

// WriterRequest streams a GET response body directly into an arbitrary
// io.Writer sink (the output multiplexer), re-targetable to a new URL
// without re-dialing when the origin is unchanged.
type WriterRequest struct {
	req *Request
}

// NewWriterRequest builds a WriterRequest and performs the first fetch.
func NewWriterRequest(ctx context.Context, agent *Agent, url hlsurl.URL, sink io.Writer) (*WriterRequest, error) {
	req, err := NewRequest(ctx, agent, MethodGet, url, sink)
	if err != nil {
		return nil, err
	}
	if err := req.Call(ctx); err != nil {
		return nil, err
	}
	return &WriterRequest{req: req}, nil
}

// Call fetches url, streaming its body into the sink passed to
// NewWriterRequest.
func (w *WriterRequest) Call(ctx context.Context, url hlsurl.URL) error {
	if err := w.req.SetURL(ctx, url); err != nil {
		return err
	}
	return w.req.Call(ctx)
}

// Close releases the underlying connection.
func (w *WriterRequest) Close() error {
	return w.req.Close()
}
