// Package trackparser re-parses fMP4 bytes received over a socket (as
// opposed to samples produced locally by transmux) back into track.Sample
// values. This is the path a rendition transcoder output, or a replayed
// recording, re-enters the Track State Engine through.
package trackparser

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"

	"github.com/livepeer/catalyst-api/track"
)

// InitInfo is the decoded contents of a track's moov/ftyp init segment: one
// entry per elementary track it describes, in track-ID order.
type InitInfo struct {
	Tracks []fmp4.InitTrack
}

// ParseInit decodes a CMAF init segment.
func ParseInit(data []byte) (*InitInfo, error) {
	var init fmp4.Init
	if err := init.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("trackparser: parse init: %w", err)
	}

	info := &InitInfo{}
	for _, t := range init.Tracks {
		info.Tracks = append(info.Tracks, *t)
	}
	return info, nil
}

// PartSamples is one fMP4 Part's samples for a single track ID, re-expressed
// as track.Sample values in decode order.
type PartSamples struct {
	TrackID int
	Samples []track.Sample
}

// ParsePart decodes one or more moof+mdat fragments and returns the samples
// they carry, grouped by track ID. Composition offsets come through
// unchanged from the box's PTSOffset field; callers must already know each
// track's timescale (from ParseInit) to interpret Duration/DecodeTime.
func ParsePart(data []byte) ([]PartSamples, error) {
	var parts fmp4.Parts
	if err := parts.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("trackparser: parse part: %w", err)
	}

	byTrack := map[int]*PartSamples{}
	var order []int

	for _, part := range parts {
		for _, pt := range part.Tracks {
			ps, ok := byTrack[pt.ID]
			if !ok {
				ps = &PartSamples{TrackID: pt.ID}
				byTrack[pt.ID] = ps
				order = append(order, pt.ID)
			}

			decodeTime := pt.BaseTime
			for _, s := range pt.Samples {
				ps.Samples = append(ps.Samples, track.Sample{
					Data:              s.Payload,
					DecodeTime:        decodeTime,
					Duration:          s.Duration,
					CompositionOffset: s.PTSOffset,
					Keyframe:          !s.IsNonSyncSample,
				})
				decodeTime += uint64(s.Duration)
			}
		}
	}

	out := make([]PartSamples, 0, len(order))
	for _, id := range order {
		out = append(out, *byTrack[id])
	}
	return out, nil
}
