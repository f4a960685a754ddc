// Package control ties the media playlist, scheduler, and fetch worker
// together into the live streaming run loop (component K), plus the
// passthrough mode that bypasses the core entirely and hands the resolved
// playlist URL straight to an external player.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/llhls/client/internal/fetchworker"
	"github.com/llhls/client/internal/observability"
	"github.com/llhls/client/internal/playlist"
	"github.com/llhls/client/internal/scheduler"
	"github.com/llhls/client/internal/segment"
	"github.com/llhls/client/internal/sink"
	"github.com/llhls/client/pkg/hlsurl"
	"github.com/llhls/client/pkg/httpengine"
)

// HeaderSetter is implemented by sinks that latch the #EXT-X-MAP init
// bytes for delivery to clients that connect after the header was first
// written (internal/sink.TCPSink).
type HeaderSetter interface {
	SetHeader(header []byte)
}

// Closer is implemented by sinks holding a resource that needs releasing
// once the run loop is done with it (a file handle, a child process, a
// listener).
type Closer interface {
	Close() error
}

// PlaylistView is the subset of *playlist.Playlist the run loop reads
// directly, seamed out so tests can drive the loop without a live reload.
type PlaylistView interface {
	Header() (hlsurl.URL, bool)
	LastDuration() (time.Duration, bool)
}

// Joiner is the subset of *fetchworker.Worker the run loop needs once a
// terminal condition is reached: drop the inbox and recover the sink (or
// the worker's terminal error).
type Joiner interface {
	Join() (fetchworker.Sink, error)
}

// Run resolves the handler strategy, then drives reload/process cycles
// until the stream ends, the downstream sink closes, or a fatal error
// occurs. playlistURL must already be the fully-resolved media-playlist
// URL; agent carries the shared HTTP config and TLS roots; out is the
// already-assembled output sink (see BuildSink).
func Run(ctx context.Context, agent *httpengine.Agent, playlistURL hlsurl.URL, out sink.Sink, noLowLatency bool, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	log = observability.WithSession(log, uuid.NewString())

	p, err := playlist.New(ctx, agent, playlistURL)
	if err != nil {
		return fmt.Errorf("control: resolving media playlist: %w", err)
	}
	defer p.Close()

	worker := fetchworker.New(agent, out, log)

	handler, err := selectHandler(ctx, p, worker, log, noLowLatency)
	if err != nil {
		_, _ = worker.Join()
		return err
	}

	return runLoop(ctx, log, agent, p, handler, worker, out)
}

// selectHandler builds the low-latency handler and performs its required
// first reload, falling back to the normal handler if that reload produces
// no prefetch hints at all (spec §4.H "Handler selection").
func selectHandler(ctx context.Context, p *playlist.Playlist, worker *fetchworker.Worker, log *slog.Logger, noLowLatency bool) (scheduler.Handler, error) {
	if noLowLatency {
		return scheduler.NewNormalHandler(p, worker, log), nil
	}

	h := scheduler.NewLowLatencyHandler(p, worker, log)
	if _, err := h.Reload(ctx); err != nil {
		return nil, fmt.Errorf("control: initial playlist reload: %w", err)
	}
	if scheduler.HasPrefetchHints(p) {
		return h, nil
	}
	log.Info("playlist carries no prefetch hints, falling back to normal latency")
	return scheduler.NewNormalHandler(p, worker, log), nil
}

func runLoop(ctx context.Context, log *slog.Logger, agent *httpengine.Agent, pv PlaylistView, handler scheduler.Handler, worker Joiner, out sink.Sink) error {
	headerWritten := false

	for {
		select {
		case <-ctx.Done():
			return finishOnError(worker, ctx.Err())
		default:
		}

		cycleStart := time.Now()
		result, err := handler.Reload(ctx)
		if err != nil {
			return finishOnError(worker, err)
		}

		switch result.Status {
		case playlist.StatusOffline:
			log.Info("stream ended")
			return shutdownClean(worker, out)
		case playlist.StatusUnchanged:
			duration, _ := pv.LastDuration()
			if serr := segment.Sleep(ctx, segment.HalfDelay(duration, time.Since(cycleStart))); serr != nil {
				return finishOnError(worker, serr)
			}
			continue
		}

		if !headerWritten {
			headerWritten = true
			writeHeaderOnce(ctx, agent, pv, out, log)
		}

		if err := handler.Process(ctx, cycleStart); err != nil {
			return finishOnError(worker, err)
		}
	}
}

// writeHeaderOnce fetches and delivers the #EXT-X-MAP init segment ahead
// of any media segment bytes, latching it on sinks that broadcast to
// late-joining clients. Fetch failures are logged and otherwise ignored:
// a missing init segment does not make the stream itself unplayable for
// codecs that don't need one. It runs before the first Process call, so
// the header reaches the sink ahead of any segment the scheduler enqueues.
func writeHeaderOnce(ctx context.Context, agent *httpengine.Agent, pv PlaylistView, out sink.Sink, log *slog.Logger) {
	hdrURL, ok := pv.Header()
	if !ok {
		return
	}
	data, err := fetchworker.FetchHeader(ctx, agent, hdrURL, log)
	if err != nil {
		log.Warn("failed to fetch init segment header", "error", err)
		return
	}
	if hs, ok := out.(HeaderSetter); ok {
		hs.SetHeader(data)
	}
	if _, err := out.Write(data); err != nil {
		log.Warn("failed to write init segment header", "error", err)
		return
	}
	_ = out.Flush()
}

// finishOnError classifies a fatal-looking error from Reload/Process: a
// dead worker whose terminal error was the downstream sink closing maps to
// a clean exit (spec §4.K, §7 "Sink"); everything else propagates.
func finishOnError(worker Joiner, err error) error {
	if errors.Is(err, fetchworker.ErrDead) {
		_, joinErr := worker.Join()
		if joinErr == nil {
			return fmt.Errorf("control: worker terminated unexpectedly")
		}
		if errors.Is(joinErr, sink.ErrPipeClosed) {
			return nil
		}
		return joinErr
	}
	_, _ = worker.Join()
	return err
}

// shutdownClean tears the worker and sink down for a terminal condition
// that is not itself an error (offline playlist). A sink error surfacing
// only now (e.g. the player closed just as the stream ended) still maps to
// a clean exit rather than turning a successful run into a failure.
func shutdownClean(worker Joiner, out sink.Sink) error {
	_, err := worker.Join()
	if err != nil && !errors.Is(err, sink.ErrPipeClosed) {
		return err
	}
	_ = out.Flush()
	if c, ok := out.(Closer); ok {
		_ = c.Close()
	}
	return nil
}
