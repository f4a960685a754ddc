// Package playlist implements the incremental HLS media-playlist state
// machine: it re-fetches the playlist text on each reload, folds it into a
// bounded segment queue, tracks the media-sequence counter across reloads,
// and detects end-of-stream and ad insertion.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/llhls/client/internal/segment"
	"github.com/llhls/client/pkg/hlsurl"
	"github.com/llhls/client/pkg/httpengine"
)

// maxQueueLen bounds the in-memory segment queue. The wire protocol never
// needs more than a handful of trailing entries; this just stops a
// pathological playlist (or a bug in the fold below) from growing the
// queue without limit across a long-running stream.
const maxQueueLen = 32

// Status classifies the outcome of a successful Reload call that is not a
// hard error: the playlist either advanced normally, signaled the stream
// ended, or produced an identical prefetch tail to the previous reload.
type Status int

const (
	// StatusOK means the reload produced a normal (possibly zero-segment)
	// update; the caller should proceed to the scheduler's Process step.
	StatusOK Status = iota
	// StatusOffline means the playlist's final line was #EXT-X-ENDLIST;
	// this is terminal.
	StatusOffline
	// StatusUnchanged means the prefetch tail is byte-identical to the
	// previous reload; the caller should skip Process and sleep half the
	// last segment duration instead.
	StatusUnchanged
)

// Result is the outcome of one Reload call.
type Result struct {
	Status Status
}

// MalformedError reports a playlist that violates an invariant (a
// media-sequence value that went backwards, or a tag with an unparseable
// field). It is fatal at the control loop.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("playlist: malformed playlist: %s", e.Reason)
}

// Playlist holds one media playlist's incremental parse state. It is
// mutated by exactly one goroutine (the control loop); there is no
// internal locking.
type Playlist struct {
	request *httpengine.TextRequest

	segments []segment.Segment
	sequence uint64
	added    int

	header    hlsurl.URL
	headerSet bool

	endlistSeen    bool
	initialized    bool
	lastPrefetches string
	lastText       string
}

// New builds a Playlist bound to the given media-playlist URL via a
// persistent HTTP text request.
func New(ctx context.Context, agent *httpengine.Agent, url hlsurl.URL) (*Playlist, error) {
	req, err := httpengine.NewTextRequest(ctx, agent, url)
	if err != nil {
		return nil, err
	}
	return &Playlist{request: req}, nil
}

// Close releases the underlying HTTP connection.
func (p *Playlist) Close() error {
	return p.request.Close()
}

// Header returns the #EXT-X-MAP init-segment URL latched on first
// observation, if any was ever seen.
func (p *Playlist) Header() (hlsurl.URL, bool) {
	return p.header, p.headerSet
}

// Sequence returns the last #EXT-X-MEDIA-SEQUENCE value observed.
func (p *Playlist) Sequence() uint64 {
	return p.sequence
}

// Added returns how many segments were newly pushed on the most recent
// reload.
func (p *Playlist) Added() int {
	return p.added
}

// Segments returns the fresh range pushed by the most recent reload: the
// last Added() entries of the queue. Empty when Added() == 0.
func (p *Playlist) Segments() []segment.Segment {
	if p.added <= 0 {
		return nil
	}
	start := len(p.segments) - p.added
	if start < 0 {
		start = 0
	}
	out := make([]segment.Segment, len(p.segments)-start)
	copy(out, p.segments[start:])
	return out
}

// AllSegments returns a copy of the full in-memory queue, oldest first.
func (p *Playlist) AllSegments() []segment.Segment {
	out := make([]segment.Segment, len(p.segments))
	copy(out, p.segments)
	return out
}

// LastDuration returns the most recently observed Normal segment's
// duration, scanning from the back of the queue. It returns false when the
// queue holds only prefetch entries (or is empty).
func (p *Playlist) LastDuration() (duration time.Duration, ok bool) {
	for i := len(p.segments) - 1; i >= 0; i-- {
		if p.segments[i].Kind == segment.KindNormal {
			return p.segments[i].Duration, true
		}
	}
	return 0, false
}

// PrefetchURL returns the tail prefetch entry of the given kind
// (KindNextPrefetch or KindNewestPrefetch), scanning only the last two
// queue positions since prefetch entries may appear nowhere else.
func (p *Playlist) PrefetchURL(kind segment.Kind) (hlsurl.URL, bool) {
	start := len(p.segments) - 2
	if start < 0 {
		start = 0
	}
	for i := len(p.segments) - 1; i >= start; i-- {
		if p.segments[i].Kind == kind {
			return p.segments[i].URL, true
		}
	}
	return hlsurl.URL{}, false
}

// NormalSegments returns every Normal segment currently in the queue,
// oldest first.
func (p *Playlist) NormalSegments() []segment.Segment {
	var out []segment.Segment
	for _, s := range p.segments {
		if s.Kind == segment.KindNormal {
			out = append(out, s)
		}
	}
	return out
}

// FindNormal scans the Normal segments for prevURL and returns the segment
// immediately following it. found is false either when prevURL is the last
// Normal segment (isLast reports this case) or when prevURL is not present
// in the queue at all (isLast is also false).
func (p *Playlist) FindNormal(prevURL string) (next segment.Segment, isLast bool, found bool) {
	normals := p.NormalSegments()
	for i, s := range normals {
		if s.URL.String() != prevURL {
			continue
		}
		if i+1 < len(normals) {
			return normals[i+1], false, true
		}
		return segment.Segment{}, true, false
	}
	return segment.Segment{}, false, false
}

// HasAd reports whether the most recently fetched playlist text carries an
// ad-insertion marker: the literal #EXT-X-DISCONTINUITY tag together with
// one of the known ad-signalling tokens anywhere in the text.
func (p *Playlist) HasAd() bool {
	return hasAd(p.lastText)
}

var adTokens = []string{"stitched-ad", "X-TV-TWITCH-AD", "Amazon"}

func hasAd(text string) bool {
	if !strings.Contains(text, "#EXT-X-DISCONTINUITY") {
		return false
	}
	for _, tok := range adTokens {
		if strings.Contains(text, tok) {
			return true
		}
	}
	return false
}

// Reload fetches the playlist text and folds it into the queue.
func (p *Playlist) Reload(ctx context.Context) (Result, error) {
	text, err := p.request.Text(ctx)
	if err != nil {
		var notFound *httpengine.NotFoundError
		if errors.As(err, &notFound) {
			return Result{Status: StatusOffline}, nil
		}
		return Result{}, err
	}
	return p.apply(text)
}

// LoadText folds already-fetched playlist text into the queue, bypassing
// the network request. Used for offline/cached fixtures and by tests that
// exercise the fold algorithm without a live server.
func (p *Playlist) LoadText(text string) (Result, error) {
	return p.apply(text)
}

func (p *Playlist) apply(text string) (Result, error) {
	p.lastText = text
	lines := nonEmptyLines(text)

	if len(lines) > 0 && strings.HasPrefix(lines[len(lines)-1], "#EXT-X-ENDLIST") {
		p.endlistSeen = true
		p.added = 0
		return Result{Status: StatusOffline}, nil
	}

	prefetchRemoved := p.popTrailingPrefetch()
	prevSegmentCount := len(p.segments)
	totalSegments := 0

	// Single forward pass over the playlist text, mirroring the original
	// source's reload loop: #EXT-X-MEDIA-SEQUENCE always precedes the
	// segment tags it governs, so by the time an #EXTINF/
	// #EXT-X-TWITCH-PREFETCH tag is folded, prevSegmentCount already
	// reflects whatever front-trim or full clear the sequence advance
	// below required. Folding first and reconciling the sequence second
	// (as two separate passes) loses that ordering and can silently drop
	// the very segment a big sequence jump just revealed.
	for i := 0; i < len(lines); i++ {
		line := lines[i]

		switch {
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			raw, _ := strings.CutPrefix(line, "#EXT-X-MEDIA-SEQUENCE:")
			seq, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
			if err != nil {
				return Result{}, &MalformedError{Reason: fmt.Sprintf("unparseable media sequence %q", raw)}
			}
			switch {
			case !p.initialized:
				// The very first reload establishes the baseline sequence;
				// there is no prior queue state to reconcile against.
				p.sequence = seq
			case seq < p.sequence:
				return Result{}, &MalformedError{Reason: fmt.Sprintf("media sequence went backwards: %d < %d", seq, p.sequence)}
			default:
				removed := seq - p.sequence
				if removed <= uint64(len(p.segments)) {
					p.segments = p.segments[removed:]
					prevSegmentCount = len(p.segments)
				} else {
					p.segments = p.segments[:0]
					prevSegmentCount = 0
					prefetchRemoved = 0
				}
				p.sequence = seq
			}
			p.initialized = true

		case strings.HasPrefix(line, "#EXTINF:"):
			totalSegments++
			if totalSegments <= prevSegmentCount {
				continue
			}
			if i+1 >= len(lines) {
				return Result{}, &MalformedError{Reason: "EXTINF tag with no following URL line"}
			}
			duration, err := segment.ParseExtinf(line)
			if err != nil {
				return Result{}, &MalformedError{Reason: err.Error()}
			}
			p.segments = append(p.segments, segment.Normal(duration, hlsurl.New(lines[i+1])))

		case strings.HasPrefix(line, "#EXT-X-TWITCH-PREFETCH:"):
			totalSegments++
			if totalSegments <= prevSegmentCount {
				continue
			}
			url, ok := strings.CutPrefix(line, "#EXT-X-TWITCH-PREFETCH:")
			if !ok || url == "" {
				return Result{}, &MalformedError{Reason: "empty prefetch URL"}
			}
			if i+1 < len(lines) {
				p.segments = append(p.segments, segment.NextPrefetch(hlsurl.New(url)))
			} else {
				p.segments = append(p.segments, segment.NewestPrefetch(hlsurl.New(url)))
			}

		case strings.HasPrefix(line, "#EXT-X-MAP:"):
			if !p.headerSet {
				if uri, ok := segment.ParseMapURI(line); ok {
					p.header = hlsurl.New(uri)
					p.headerSet = true
				}
			}
		}
	}

	p.added = totalSegments - (prevSegmentCount + prefetchRemoved)
	if p.added < 0 {
		p.added = 0
	}

	if len(p.segments) > maxQueueLen {
		p.segments = p.segments[len(p.segments)-maxQueueLen:]
	}

	tail := p.tailPrefetchKey()
	unchanged := tail != "" && tail == p.lastPrefetches
	p.lastPrefetches = tail

	if unchanged {
		return Result{Status: StatusUnchanged}, nil
	}
	return Result{Status: StatusOK}, nil
}

// popTrailingPrefetch removes up to two trailing prefetch entries from the
// queue; they are ephemeral hints that must be re-derived from scratch on
// every reload rather than accumulated.
func (p *Playlist) popTrailingPrefetch() int {
	removed := 0
	for removed < 2 && len(p.segments) > 0 && p.segments[len(p.segments)-1].IsPrefetch() {
		p.segments = p.segments[:len(p.segments)-1]
		removed++
	}
	return removed
}

// tailPrefetchKey builds the comparison key used to detect an unchanged
// prefetch tail across reloads: the URLs of up to the last two prefetch
// entries, in queue order.
func (p *Playlist) tailPrefetchKey() string {
	start := len(p.segments) - 2
	if start < 0 {
		start = 0
	}
	var sb strings.Builder
	for i := start; i < len(p.segments); i++ {
		if !p.segments[i].IsPrefetch() {
			continue
		}
		sb.WriteString(p.segments[i].URL.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

func nonEmptyLines(text string) []string {
	rawLines := strings.Split(text, "\n")
	out := make([]string, 0, len(rawLines))
	for _, l := range rawLines {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}
