// Package scheduler decides, on each playlist reload, which segment URL to
// hand to the fetch worker and how long to sleep before the next reload. It
// implements the two handler strategies the control loop can select
// between: low-latency (prefetch-driven) and normal-latency
// (EXTINF-driven).
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/llhls/client/internal/playlist"
	"github.com/llhls/client/internal/segment"
)

// Worker is the subset of the fetch worker a handler needs: enqueue a URL
// either as a fire-and-forget send or as a rendezvous send that blocks
// until the worker has begun the request.
type Worker interface {
	URL(u string) error
	SyncURL(ctx context.Context, u string) error
}

// Handler reloads the bound playlist and makes one scheduling decision per
// cycle.
type Handler interface {
	Reload(ctx context.Context) (playlist.Result, error)
	Process(ctx context.Context, cycleStart time.Time) error
}

// sleepFunc is swappable in tests so they don't have to wait out real
// segment durations.
var sleepFunc = segment.Sleep

// PrefetchKind distinguishes which prefetch URL the low-latency handler is
// currently chasing.
type PrefetchKind int

const (
	// KindNewest targets the final prefetch entry.
	KindNewest PrefetchKind = iota
	// KindNext targets the non-final prefetch entry.
	KindNext
)

// LowLatencyHandler drives the scheduler from #EXT-X-TWITCH-PREFETCH hints.
// Its five-state behavior (fresh / unchanged-once / unchanged-many /
// advanced-via-prefetch / advanced-via-rescan) is expressed as explicit
// fields rather than recursive control flow.
type LowLatencyHandler struct {
	playlist *playlist.Playlist
	worker   Worker
	log      *slog.Logger

	prevURL        string
	prefetchKind   PrefetchKind
	unchangedCount uint32
}

// NewLowLatencyHandler builds a handler bound to p and worker w.
func NewLowLatencyHandler(p *playlist.Playlist, w Worker, log *slog.Logger) *LowLatencyHandler {
	if log == nil {
		log = slog.Default()
	}
	return &LowLatencyHandler{playlist: p, worker: w, log: log, prefetchKind: KindNewest}
}

func (h *LowLatencyHandler) Reload(ctx context.Context) (playlist.Result, error) {
	return h.playlist.Reload(ctx)
}

func (h *LowLatencyHandler) segmentKind() segment.Kind {
	if h.prefetchKind == KindNewest {
		return segment.KindNewestPrefetch
	}
	return segment.KindNextPrefetch
}

// Process performs one scheduling decision for the current reload cycle.
func (h *LowLatencyHandler) Process(ctx context.Context, cycleStart time.Time) error {
	if h.playlist.HasAd() {
		h.log.Info("ad detected, skipping cycle")
		return h.sleepFull(ctx, cycleStart)
	}

	url, ok := h.playlist.PrefetchURL(h.segmentKind())
	if !ok {
		return h.sleepFull(ctx, cycleStart)
	}

	if url.String() == h.prevURL {
		if h.unchangedCount == 0 {
			newest, ok := h.playlist.PrefetchURL(segment.KindNewestPrefetch)
			if ok {
				h.prevURL = newest.String()
				if err := h.worker.SyncURL(ctx, newest.String()); err != nil {
					return err
				}
			}
			h.unchangedCount++
			return nil
		}
		h.log.Info("prefetch unchanged, retrying")
		h.unchangedCount++
		duration, _ := h.playlist.LastDuration()
		return sleepFunc(ctx, segment.HalfDelay(duration, time.Since(cycleStart)))
	}

	// URL advanced.
	if h.unchangedCount > 1 {
		seg, isLast, found := h.playlist.FindNormal(h.prevURL)
		switch {
		case found:
			h.prevURL = seg.URL.String()
			if err := h.worker.URL(seg.URL.String()); err != nil {
				return err
			}
			return h.sleepFullFor(ctx, cycleStart, seg.Duration)
		case isLast:
			h.unchangedCount = 0
			// fall through to use the prefetch URL below
		default:
			h.prefetchKind = KindNewest
			h.unchangedCount = 0
			newest, ok := h.playlist.PrefetchURL(segment.KindNewestPrefetch)
			if ok {
				url = newest
			}
		}
	}

	h.prevURL = url.String()
	if h.prefetchKind == KindNewest {
		if err := h.worker.SyncURL(ctx, url.String()); err != nil {
			return err
		}
		h.prefetchKind = KindNext
		return nil
	}
	if err := h.worker.URL(url.String()); err != nil {
		return err
	}
	return h.sleepFull(ctx, cycleStart)
}

func (h *LowLatencyHandler) sleepFull(ctx context.Context, cycleStart time.Time) error {
	duration, _ := h.playlist.LastDuration()
	return h.sleepFullFor(ctx, cycleStart, duration)
}

func (h *LowLatencyHandler) sleepFullFor(ctx context.Context, cycleStart time.Time, duration time.Duration) error {
	return sleepFunc(ctx, segment.FullDelay(duration, time.Since(cycleStart)))
}

// NormalHandler drives the scheduler purely from #EXTINF segments, for
// playlists with no usable prefetch hints.
type NormalHandler struct {
	playlist *playlist.Playlist
	worker   Worker
	log      *slog.Logger

	prevURL    string
	shouldSync bool
}

// NewNormalHandler builds a handler bound to p and worker w.
func NewNormalHandler(p *playlist.Playlist, w Worker, log *slog.Logger) *NormalHandler {
	if log == nil {
		log = slog.Default()
	}
	return &NormalHandler{playlist: p, worker: w, log: log, shouldSync: true}
}

func (h *NormalHandler) Reload(ctx context.Context) (playlist.Result, error) {
	return h.playlist.Reload(ctx)
}

func (h *NormalHandler) Process(ctx context.Context, cycleStart time.Time) error {
	if h.playlist.HasAd() {
		h.log.Info("ad detected, skipping cycle")
		duration, _ := h.playlist.LastDuration()
		return sleepFunc(ctx, segment.FullDelay(duration, time.Since(cycleStart)))
	}

	normals := h.playlist.NormalSegments()
	if len(normals) == 0 {
		return nil
	}

	next, isLast, found := h.playlist.FindNormal(h.prevURL)
	var chosen segment.Segment
	switch {
	case found:
		chosen = next
	case h.prevURL != "" && isLast:
		duration, _ := h.playlist.LastDuration()
		return sleepFunc(ctx, segment.HalfDelay(duration, time.Since(cycleStart)))
	default:
		chosen = normals[len(normals)-1]
	}

	h.prevURL = chosen.URL.String()
	if h.shouldSync {
		if err := h.worker.SyncURL(ctx, chosen.URL.String()); err != nil {
			return err
		}
		h.shouldSync = false
	} else {
		if err := h.worker.URL(chosen.URL.String()); err != nil {
			return err
		}
	}
	return sleepFunc(ctx, segment.FullDelay(chosen.Duration, time.Since(cycleStart)))
}

// Select builds the handler the control loop should start with: low latency
// unless noLowLatency forces normal, or the first reload yields no prefetch
// entries at all (in which case the caller should rebuild with NewNormalHandler).
func Select(p *playlist.Playlist, w Worker, log *slog.Logger, noLowLatency bool) Handler {
	if noLowLatency {
		return NewNormalHandler(p, w, log)
	}
	return NewLowLatencyHandler(p, w, log)
}

// HasPrefetchHints reports whether the playlist currently holds any
// prefetch entry, used by the control loop to decide whether a freshly
// selected LowLatencyHandler must fall back to NewNormalHandler after its
// first reload.
func HasPrefetchHints(p *playlist.Playlist) bool {
	_, newest := p.PrefetchURL(segment.KindNewestPrefetch)
	_, next := p.PrefetchURL(segment.KindNextPrefetch)
	return newest || next
}
