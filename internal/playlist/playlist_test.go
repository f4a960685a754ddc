package playlist

import (
	"testing"
	"time"

	"github.com/llhls/client/internal/segment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlaylist() *Playlist {
	return &Playlist{}
}

const basicPlaylist = "#EXTM3U\n" +
	"#EXT-X-MEDIA-SEQUENCE:100\n" +
	"#EXTINF:2.000,\n" +
	"https://example.com/s100.ts\n" +
	"#EXT-X-TWITCH-PREFETCH:https://example.com/p101.ts\n"

func TestApplyFreshPlaylist(t *testing.T) {
	p := newTestPlaylist()
	res, err := p.apply(basicPlaylist)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, uint64(100), p.Sequence())
	assert.Equal(t, 2, p.Added())

	all := p.AllSegments()
	require.Len(t, all, 2)
	assert.Equal(t, segment.KindNormal, all[0].Kind)
	assert.Equal(t, segment.KindNewestPrefetch, all[1].Kind)
}

func TestIdempotentReapply(t *testing.T) {
	p := newTestPlaylist()
	_, err := p.apply(basicPlaylist)
	require.NoError(t, err)
	before := p.AllSegments()

	res, err := p.apply(basicPlaylist)
	require.NoError(t, err)
	assert.Equal(t, StatusUnchanged, res.Status)
	assert.Equal(t, 0, p.Added())
	assert.Equal(t, before, p.AllSegments())
}

func TestAddedMatchesAppendedSegmentCount(t *testing.T) {
	p := newTestPlaylist()
	_, err := p.apply(basicPlaylist)
	require.NoError(t, err)

	next := "#EXTM3U\n" +
		"#EXT-X-MEDIA-SEQUENCE:101\n" +
		"#EXTINF:2.000,\n" +
		"https://example.com/s100.ts\n" +
		"#EXTINF:2.000,\n" +
		"https://example.com/s101.ts\n" +
		"#EXT-X-TWITCH-PREFETCH:https://example.com/p102.ts\n"
	res, err := p.apply(next)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 2, p.Added())
}

func TestSequenceNeverDecreases(t *testing.T) {
	p := newTestPlaylist()
	_, err := p.apply(basicPlaylist)
	require.NoError(t, err)

	backwards := "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:50\n#EXTINF:2.0,\nhttps://example.com/s.ts\n"
	_, err = p.apply(backwards)
	require.Error(t, err)
	var malformed *MalformedError
	require.ErrorAs(t, err, &malformed)
}

func TestSequenceJumpAheadClearsQueue(t *testing.T) {
	p := newTestPlaylist()
	_, err := p.apply(basicPlaylist)
	require.NoError(t, err)
	require.Greater(t, len(p.AllSegments()), 0)

	jumped := "#EXTM3U\n" +
		"#EXT-X-MEDIA-SEQUENCE:9999\n" +
		"#EXTINF:2.0,\n" +
		"https://example.com/s9999.ts\n"
	res, err := p.apply(jumped)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	all := p.AllSegments()
	require.Len(t, all, 1)
	assert.Equal(t, "https://example.com/s9999.ts", all[0].URL.String())
}

func TestEndlistSignalsOffline(t *testing.T) {
	p := newTestPlaylist()
	text := "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:1\n#EXTINF:2.0,\nhttps://example.com/s1.ts\n#EXT-X-ENDLIST\n"
	res, err := p.apply(text)
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, res.Status)
}

func TestHeaderLatchedOnce(t *testing.T) {
	p := newTestPlaylist()
	first := "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:1\n#EXT-X-MAP:URI=\"https://example.com/init.mp4\"\n#EXTINF:2.0,\nhttps://example.com/s1.ts\n"
	_, err := p.apply(first)
	require.NoError(t, err)
	header, ok := p.Header()
	require.True(t, ok)
	assert.Equal(t, "https://example.com/init.mp4", header.String())

	second := "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:2\n#EXT-X-MAP:URI=\"https://example.com/other.mp4\"\n#EXTINF:2.0,\nhttps://example.com/s2.ts\n"
	_, err = p.apply(second)
	require.NoError(t, err)
	header, ok = p.Header()
	require.True(t, ok)
	assert.Equal(t, "https://example.com/init.mp4", header.String())
}

func TestPrefetchOnlyAtTailAndBounded(t *testing.T) {
	p := newTestPlaylist()
	text := "#EXTM3U\n" +
		"#EXT-X-MEDIA-SEQUENCE:1\n" +
		"#EXTINF:2.0,\n" +
		"https://example.com/s1.ts\n" +
		"#EXT-X-TWITCH-PREFETCH:https://example.com/p1.ts\n" +
		"#EXT-X-TWITCH-PREFETCH:https://example.com/p2.ts\n"
	_, err := p.apply(text)
	require.NoError(t, err)

	all := p.AllSegments()
	require.Len(t, all, 3)
	assert.Equal(t, segment.KindNormal, all[0].Kind)
	assert.Equal(t, segment.KindNextPrefetch, all[1].Kind)
	assert.Equal(t, segment.KindNewestPrefetch, all[2].Kind)
}

func TestURLWithQueryParamsParsesUnchanged(t *testing.T) {
	p := newTestPlaylist()
	text := "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:1\n#EXTINF:2.0,\n" +
		"https://example.com/s1.ts?sig=abc&token=def\n"
	_, err := p.apply(text)
	require.NoError(t, err)
	all := p.AllSegments()
	require.Len(t, all, 1)
	assert.Equal(t, "https://example.com/s1.ts?sig=abc&token=def", all[0].URL.String())
}

func TestHasAdDetection(t *testing.T) {
	p := newTestPlaylist()
	text := "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:1\n" +
		"#EXT-X-DISCONTINUITY\n" +
		"#EXTINF:2.0,\n#EXT-X-CUE-OUT stitched-ad\nhttps://example.com/ad1.ts\n"
	_, err := p.apply(text)
	require.NoError(t, err)
	assert.True(t, p.HasAd())
}

func TestNoAdWithoutDiscontinuity(t *testing.T) {
	p := newTestPlaylist()
	text := "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:1\n#EXTINF:2.0,\nhttps://example.com/s1.ts\n"
	_, err := p.apply(text)
	require.NoError(t, err)
	assert.False(t, p.HasAd())
}

func TestLastDurationSkipsPrefetch(t *testing.T) {
	p := newTestPlaylist()
	text := "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:1\n" +
		"#EXTINF:3.5,\nhttps://example.com/s1.ts\n" +
		"#EXT-X-TWITCH-PREFETCH:https://example.com/p1.ts\n"
	_, err := p.apply(text)
	require.NoError(t, err)
	d, ok := p.LastDuration()
	require.True(t, ok)
	assert.InDelta(t, 3500*time.Millisecond, d, float64(time.Millisecond))
}

func TestFindNormalAdvanceAndLast(t *testing.T) {
	p := newTestPlaylist()
	text := "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:1\n" +
		"#EXTINF:2.0,\nhttps://example.com/s1.ts\n" +
		"#EXTINF:2.0,\nhttps://example.com/s2.ts\n"
	_, err := p.apply(text)
	require.NoError(t, err)

	next, isLast, found := p.FindNormal("https://example.com/s1.ts")
	assert.True(t, found)
	assert.False(t, isLast)
	assert.Equal(t, "https://example.com/s2.ts", next.URL.String())

	_, isLast, found = p.FindNormal("https://example.com/s2.ts")
	assert.False(t, found)
	assert.True(t, isLast)

	_, isLast, found = p.FindNormal("https://example.com/unknown.ts")
	assert.False(t, found)
	assert.False(t, isLast)
}

func TestMalformedMissingURLAfterExtinf(t *testing.T) {
	p := newTestPlaylist()
	text := "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:1\n#EXTINF:2.0,\n"
	_, err := p.apply(text)
	require.Error(t, err)
}
