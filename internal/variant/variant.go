// Package variant parses an HLS master (multivariant) playlist and selects
// the media-playlist URL matching the requested quality. Discovering the
// master playlist itself is an external collaborator's job; this package
// only covers the parse-and-select step named as testable in its own
// right.
package variant

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/ulikunitz/xz"
)

// Stream is one #EXT-X-STREAM-INF entry: a media-playlist URL tagged with
// its resolution and an optional human-readable name.
type Stream struct {
	URL       string
	Name      string
	Width     int
	Height    int
	Bandwidth int
}

var (
	resolutionRe = regexp.MustCompile(`RESOLUTION=(\d+)x(\d+)`)
	bandwidthRe  = regexp.MustCompile(`BANDWIDTH=(\d+)`)
	nameRe       = regexp.MustCompile(`NAME="([^"]*)"`)
)

// Parse reads a master playlist's text and returns its variant streams in
// playlist order.
func Parse(text string) ([]Stream, error) {
	lines := strings.Split(text, "\n")
	var streams []Stream

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(strings.TrimRight(lines[i], "\r"))
		if !strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			continue
		}
		if i+1 >= len(lines) {
			return nil, fmt.Errorf("variant: STREAM-INF tag with no following URL line")
		}
		url := strings.TrimSpace(strings.TrimRight(lines[i+1], "\r"))
		s := Stream{URL: url}

		if m := resolutionRe.FindStringSubmatch(line); m != nil {
			s.Width, _ = strconv.Atoi(m[1])
			s.Height, _ = strconv.Atoi(m[2])
		}
		if m := bandwidthRe.FindStringSubmatch(line); m != nil {
			s.Bandwidth, _ = strconv.Atoi(m[1])
		}
		if m := nameRe.FindStringSubmatch(line); m != nil {
			s.Name = m[1]
		}
		streams = append(streams, s)
	}

	if len(streams) == 0 {
		return nil, fmt.Errorf("variant: no #EXT-X-STREAM-INF entries found")
	}
	return streams, nil
}

// ParseCompressed auto-detects gzip/bzip2/xz compression on r by magic
// bytes before parsing, for loading an offline/cached master-playlist
// fixture without knowing its encoding ahead of time.
func ParseCompressed(r io.Reader) ([]Stream, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("variant: peeking header: %w", err)
	}

	var reader io.Reader = br
	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("variant: creating gzip reader: %w", err)
		}
		defer gzr.Close()
		reader = gzr
	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		reader = bzip2.NewReader(br)
	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' && header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("variant: creating xz reader: %w", err)
		}
		reader = xzr
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("variant: reading playlist: %w", err)
	}
	return Parse(string(data))
}

// sourceSuffix is stripped from a requested quality name before exact
// matching, since Twitch appends it to the original-resolution variant's
// NAME attribute.
const sourceSuffix = " (source)"

// Select picks the stream matching quality: "best" returns the highest
// resolution (falling back to highest bandwidth when no stream carries a
// RESOLUTION attribute); anything else does an exact NAME match after
// stripping a trailing " (source)" suffix from both sides.
func Select(streams []Stream, quality string) (Stream, error) {
	if len(streams) == 0 {
		return Stream{}, fmt.Errorf("variant: no streams to select from")
	}

	if quality == "best" {
		best := streams[0]
		for _, s := range streams[1:] {
			if s.Width*s.Height > best.Width*best.Height {
				best = s
				continue
			}
			if s.Width*s.Height == best.Width*best.Height && s.Bandwidth > best.Bandwidth {
				best = s
			}
		}
		return best, nil
	}

	want := strings.TrimSuffix(quality, sourceSuffix)
	for _, s := range streams {
		if strings.TrimSuffix(s.Name, sourceSuffix) == want {
			return s, nil
		}
	}
	return Stream{}, fmt.Errorf("variant: no stream named %q", quality)
}
