// Package fmp4box builds CMAF init segments and Parts (moof+mdat) from
// decoded samples. It is the one place in the module that imports
// bluenviron/mediacommon/v2's box-level types, so that track's breakpoint
// engine stays independent of that library's surface.
package fmp4box

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/livepeer/catalyst-api/track"
)

// TrackConfig describes one elementary track's codec-level init data, as
// extracted from the first FLV sequence header the Transmuxer sees.
type TrackConfig struct {
	ID        int
	TimeScale uint32
	Codec     mp4.Codec
}

// Muxer implements track.PartMuxer for a fixed set of tracks sharing one
// rendition (video plus, when present, its paired audio track).
type Muxer struct {
	tracks []TrackConfig

	// trackIndexOf maps each Sample passed to MuxPart to the index of the
	// TrackConfig it belongs to. The breakpoint engine operates on a single
	// logical Sample stream per rendition, so this classifier is what splits
	// a Part's samples across tracks.
	trackIndexOf func(s track.Sample) int
}

// NewMuxer builds a Muxer for the given tracks. trackIndexOf classifies each
// incoming Sample against the tracks slice by index; callers with a single
// track (e.g. audio-only renditions) may pass a function that always returns
// 0.
func NewMuxer(tracks []TrackConfig, trackIndexOf func(s track.Sample) int) *Muxer {
	return &Muxer{tracks: tracks, trackIndexOf: trackIndexOf}
}

// MuxInit renders the moov/ftyp init segment shared by every Part this Muxer
// produces.
func (m *Muxer) MuxInit() ([]byte, error) {
	init := &fmp4.Init{}
	for _, t := range m.tracks {
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        t.ID,
			TimeScale: t.TimeScale,
			Codec:     t.Codec,
		})
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return nil, fmt.Errorf("fmp4box: marshal init: %w", err)
	}
	return buf.Bytes(), nil
}

// MuxPart renders one moof+mdat fragment covering the given samples. Samples
// are split across the Muxer's configured tracks by trackIndexOf so a single
// Part can carry both video and audio in one fragment, as LL-HLS expects for
// muxed renditions.
func (m *Muxer) MuxPart(sequenceNumber uint32, baseTime uint64, samples []track.Sample) ([]byte, error) {
	perTrack := make([][]*fmp4.Sample, len(m.tracks))
	perTrackBase := make([]uint64, len(m.tracks))
	for i := range perTrackBase {
		perTrackBase[i] = baseTime
	}

	for _, s := range samples {
		idx := 0
		if m.trackIndexOf != nil {
			idx = m.trackIndexOf(s)
		}
		if idx < 0 || idx >= len(m.tracks) {
			return nil, fmt.Errorf("fmp4box: sample maps to out-of-range track %d", idx)
		}
		perTrack[idx] = append(perTrack[idx], &fmp4.Sample{
			IsNonSyncSample: !s.Keyframe,
			Payload:         s.Data,
			Duration:        s.Duration,
			PTSOffset:       s.CompositionOffset,
		})
	}

	part := &fmp4.Part{SequenceNumber: sequenceNumber}
	for i, t := range m.tracks {
		if len(perTrack[i]) == 0 {
			continue
		}
		part.Tracks = append(part.Tracks, &fmp4.PartTrack{
			ID:       t.ID,
			BaseTime: perTrackBase[i],
			Samples:  perTrack[i],
		})
	}

	if len(part.Tracks) == 0 {
		return nil, fmt.Errorf("fmp4box: part %d has no samples for any configured track", sequenceNumber)
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return nil, fmt.Errorf("fmp4box: marshal part %d: %w", sequenceNumber, err)
	}
	return buf.Bytes(), nil
}
