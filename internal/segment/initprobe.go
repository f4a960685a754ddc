package segment

import (
	"bytes"
	"fmt"

	"github.com/Eyevinn/mp4ff/mp4"
)

// InitInfo is a best-effort summary of an #EXT-X-MAP init segment (the
// fragmented-MP4 header AV1/HEVC variants require ahead of their first
// media segment), used only to log codec/track info once per stream.
type InitInfo struct {
	TrackCount int
	Codecs     []string
}

// ProbeInit decodes the ftyp/moov boxes of an init segment and summarizes
// its tracks. Errors here are never fatal to streaming: the init bytes are
// still written to the sink unchanged regardless of whether this probe
// succeeds.
func ProbeInit(data []byte) (InitInfo, error) {
	parsed, err := mp4.DecodeFile(bytes.NewReader(data))
	if err != nil {
		return InitInfo{}, fmt.Errorf("segment: decoding init segment: %w", err)
	}
	if parsed.Init == nil || parsed.Init.Moov == nil {
		return InitInfo{}, fmt.Errorf("segment: init segment has no moov box")
	}

	info := InitInfo{TrackCount: len(parsed.Init.Moov.Traks)}
	for _, trak := range parsed.Init.Moov.Traks {
		if trak.Mdia == nil || trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil {
			continue
		}
		stsd := trak.Mdia.Minf.Stbl.Stsd
		if stsd == nil {
			continue
		}
		for _, child := range stsd.Children {
			info.Codecs = append(info.Codecs, child.Type())
		}
	}
	return info, nil
}
