// Package fetchworker runs the background segment downloader: a single
// goroutine that owns the output sink and pipelines GETs for the URLs the
// scheduler enqueues on its inbox.
package fetchworker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/llhls/client/internal/segment"
	"github.com/llhls/client/pkg/hlsurl"
	"github.com/llhls/client/pkg/httpengine"
)

// ErrDead is returned by URL/SyncURL when the worker has already
// terminated. Join reports the worker's own terminal error instead.
var ErrDead = errors.New("fetchworker: worker is dead")

// inboxDepth bounds how many fire-and-forget URLs may queue ahead of the
// worker before a plain URL() call starts blocking its caller. The
// scheduler never has more than the low-latency handler's newest/next pair
// outstanding at once, so a small depth is enough to keep URL() effectively
// non-blocking without unbounded growth.
const inboxDepth = 8

// Sink is the subset of internal/sink.Sink the worker needs: a writer the
// HTTP engine can stream segment bytes into, plus an explicit flush point.
type Sink interface {
	io.Writer
	Flush() error
}

type item struct {
	url string
	ack chan struct{}
}

// request is the subset of *httpengine.WriterRequest the run loop depends
// on, seamed out so tests can exercise the inbox/ack/drain logic without a
// live server.
type request interface {
	Call(ctx context.Context, url hlsurl.URL) error
	Close() error
}

// newWriterRequest is swappable in tests.
var newWriterRequest = func(ctx context.Context, agent *httpengine.Agent, sink Sink, url hlsurl.URL) (request, error) {
	return httpengine.NewWriterRequest(ctx, agent, url, sink)
}

// Worker owns a persistent HTTP writer request over sink for its lifetime
// and returns the sink on clean shutdown.
type Worker struct {
	agent *httpengine.Agent
	sink  Sink
	log   *slog.Logger

	inbox chan item
	done  chan struct{}
	err   error
}

// New starts the worker goroutine. The first URL delivered to the inbox
// performs the worker's initial HTTP fetch; the underlying keep-alive
// transport is established lazily at that point, not at New.
func New(agent *httpengine.Agent, sink Sink, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{
		agent: agent,
		sink:  sink,
		log:   log,
		inbox: make(chan item, inboxDepth),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

// URL enqueues u without waiting for the worker to act on it. Returns
// ErrDead if the worker has already terminated.
func (w *Worker) URL(u string) error {
	select {
	case <-w.done:
		return ErrDead
	default:
	}
	select {
	case w.inbox <- item{url: u}:
		return nil
	case <-w.done:
		return ErrDead
	}
}

// SyncURL enqueues u and blocks until the worker has received it off the
// inbox — a rendezvous barrier used at stream start and whenever ordering
// must not interleave with a subsequent async enqueue.
func (w *Worker) SyncURL(ctx context.Context, u string) error {
	select {
	case <-w.done:
		return ErrDead
	default:
	}
	ack := make(chan struct{})
	select {
	case w.inbox <- item{url: u, ack: ack}:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return ErrDead
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return ErrDead
	}
}

// Join drops the inbox sender, waits for the worker to finish its current
// request and exit, and yields the sink back for reuse (or the terminal
// error, if the worker died abnormally).
func (w *Worker) Join() (Sink, error) {
	close(w.inbox)
	<-w.done
	return w.sink, w.err
}

func (w *Worker) run() {
	defer close(w.done)

	var req request
	ctx := context.Background()

	for it := range w.inbox {
		if it.ack != nil {
			close(it.ack)
		}

		url := hlsurl.New(it.url)
		var err error
		if req == nil {
			req, err = newWriterRequest(ctx, w.agent, w.sink, url)
		} else {
			err = req.Call(ctx, url)
		}

		if err == nil {
			continue
		}

		var notFound *httpengine.NotFoundError
		if errors.As(err, &notFound) {
			w.log.Warn("segment not found, skipping", "url", it.url)
			w.drain()
			continue
		}

		w.err = fmt.Errorf("fetchworker: fetching %s: %w", it.url, err)
		if req != nil {
			_ = req.Close()
		}
		w.drain()
		return
	}

	if req != nil {
		_ = req.Close()
	}
}

// drain empties any backlog of URLs queued behind a skipped or fatal
// segment; they are stale once the worker has fallen behind or died.
func (w *Worker) drain() {
	for {
		select {
		case it := <-w.inbox:
			if it.ack != nil {
				close(it.ack)
			}
		default:
			return
		}
	}
}

// FetchHeader fetches the #EXT-X-MAP init segment and logs a best-effort
// codec summary via segment.ProbeInit, returning the raw bytes for the
// caller to deliver to the sink (and, for sinks that broadcast to
// late-joining clients, to latch for future connections).
func FetchHeader(ctx context.Context, agent *httpengine.Agent, url hlsurl.URL, log *slog.Logger) ([]byte, error) {
	if log == nil {
		log = slog.Default()
	}
	var buf writeBuffer
	req, err := httpengine.NewWriterRequest(ctx, agent, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("fetchworker: fetching init segment: %w", err)
	}
	defer req.Close()

	if info, err := segment.ProbeInit(buf.Bytes()); err == nil {
		log.Info("init segment probed", "tracks", info.TrackCount, "codecs", info.Codecs)
	} else {
		log.Debug("init segment probe failed", "error", err)
	}

	return buf.Bytes(), nil
}

// ProbeAndWriteHeader fetches the #EXT-X-MAP init segment and writes it to
// sink before any media segment bytes. Callers whose sink also broadcasts
// to late-joining clients (internal/sink.TCPSink) should call FetchHeader
// directly instead, so the header can be latched via SetHeader as well as
// written immediately.
func ProbeAndWriteHeader(ctx context.Context, agent *httpengine.Agent, sink Sink, url hlsurl.URL, log *slog.Logger) error {
	header, err := FetchHeader(ctx, agent, url, log)
	if err != nil {
		return err
	}
	if _, err := sink.Write(header); err != nil {
		return fmt.Errorf("fetchworker: writing init segment to sink: %w", err)
	}
	return sink.Flush()
}

type writeBuffer struct {
	data []byte
}

func (b *writeBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *writeBuffer) Bytes() []byte { return b.data }
