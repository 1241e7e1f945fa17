// Package transmux wires the FLV demuxer, the CMAF box muxer, and the
// per-track breakpoint engine together into one Transmuxer per incoming
// connection: FLV bytes in, init segments and sealed Parts out.
package transmux

import (
	"fmt"
	"io"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/livepeer/catalyst-api/flv"
	"github.com/livepeer/catalyst-api/fmp4box"
	"github.com/livepeer/catalyst-api/log"
	"github.com/livepeer/catalyst-api/track"
)

// Config mirrors the target/max/target-segment durations spec.md's Track
// State Engine balances, plus the rendition name used for log correlation
// and object-store paths.
type Config struct {
	Rendition  string
	Breakpoint track.BreakpointConfig
}

// Transmuxer reads one RTMP connection's FLV stream and produces CMAF init
// segments plus sealed Parts/Segments for every elementary track it finds.
type Transmuxer struct {
	cfg Config
	dm  *flv.Demuxer

	ready   bool
	tracks  []*trackPipe
	trackOf map[int]int // flv track index -> tracks slice index
}

type trackPipe struct {
	info  flv.TrackInfo
	state *track.TrackState
}

// New wraps r as an FLV stream. The returned Transmuxer isn't ready to
// produce samples until enough sequence headers have been observed; call
// Run to drive it to completion.
func New(cfg Config, r io.Reader) (*Transmuxer, error) {
	dm, err := flv.NewDemuxer(r)
	if err != nil {
		return nil, fmt.Errorf("transmux: %w", err)
	}
	return &Transmuxer{cfg: cfg, dm: dm, trackOf: map[int]int{}}, nil
}

// PartBatch is one or more Parts completed by a single incoming sample
// batch, tagged with which elementary track produced them.
type PartBatch struct {
	TrackIndex int
	Parts      []track.Part
}

// Snapshot renders the current manifest for one elementary track, keyed by
// the same TrackIndex Callbacks.OnInit/OnParts receive. Callers publishing
// PartBatch.Parts call this to get the snapshot to hand to
// manifest.Publisher.PublishParts.
func (tm *Transmuxer) Snapshot(trackIndex int) *track.Manifest {
	pos, ok := tm.trackOf[trackIndex]
	if !ok {
		return nil
	}
	return tm.tracks[pos].state.Snapshot()
}

// RetainSegments trims one track's sealed Segments to n, returning whatever
// was evicted so the caller can archive it via manifest.Publisher.PublishEviction.
func (tm *Transmuxer) RetainSegments(trackIndex int, n int) []*track.Segment {
	pos, ok := tm.trackOf[trackIndex]
	if !ok {
		return nil
	}
	return tm.tracks[pos].state.RetainSegments(n)
}

// Callbacks lets the caller react to the two events a Transmuxer emits
// without Run itself taking a dependency on object storage or the bus.
type Callbacks struct {
	OnInit  func(trackIndex int, info flv.TrackInfo, initSegment []byte) error
	OnParts func(batch PartBatch) error
}

// Run drives the demuxer until the source is exhausted (io.EOF) or an
// unrecoverable error occurs, invoking cb for every init segment and
// completed Part batch along the way.
func (tm *Transmuxer) Run(cb Callbacks) error {
	for {
		idx, sample, err := tm.dm.ReadSample()
		if err == io.EOF {
			return tm.finish(cb)
		}
		if err == flv.ErrInitNotReady {
			continue
		}
		if err != nil {
			return fmt.Errorf("transmux: read sample: %w", err)
		}

		if err := tm.ensureTrack(idx, cb); err != nil {
			return err
		}

		tp := tm.tracks[tm.trackOf[idx]]
		parts, err := tp.state.Push([]track.Sample{sample})
		if err != nil {
			return fmt.Errorf("transmux: push sample on track %d: %w", idx, err)
		}
		if len(parts) > 0 {
			if err := cb.OnParts(PartBatch{TrackIndex: idx, Parts: parts}); err != nil {
				return err
			}
		}
	}
}

// ensureTrack lazily materializes a trackPipe (and emits its init segment)
// the first time a track index is seen with sequence headers present, since
// FLV only guarantees ordering within a track, not across tracks.
func (tm *Transmuxer) ensureTrack(flvIdx int, cb Callbacks) error {
	if _, ok := tm.trackOf[flvIdx]; ok {
		return nil
	}

	streams := tm.dm.Streams()
	if flvIdx >= len(streams) {
		return fmt.Errorf("transmux: sample for unknown track %d", flvIdx)
	}
	info := streams[flvIdx]

	codec, err := codecFor(info)
	if err != nil {
		return fmt.Errorf("transmux: %w", err)
	}

	muxer := fmp4box.NewMuxer([]fmp4box.TrackConfig{{
		ID:        flvIdx + 1,
		TimeScale: info.Timescale,
		Codec:     codec,
	}}, func(track.Sample) int { return 0 })

	state := track.NewTrackState(info.Timescale, tm.cfg.Breakpoint, muxer)

	init, err := state.InitSegment()
	if err != nil {
		return fmt.Errorf("transmux: mux init for track %d: %w", flvIdx, err)
	}

	tm.trackOf[flvIdx] = len(tm.tracks)
	tm.tracks = append(tm.tracks, &trackPipe{info: info, state: state})

	log.LogNoRequestID("transmux: track ready", "rendition", tm.cfg.Rendition, "track", flvIdx, "kind", info.Kind, "timescale", info.Timescale)

	if cb.OnInit != nil {
		if err := cb.OnInit(flvIdx, info, init); err != nil {
			return err
		}
	}
	return nil
}

// finish flushes every track's pending samples once the source stream ends.
func (tm *Transmuxer) finish(cb Callbacks) error {
	log.LogNoRequestID("transmux: source exhausted, flushing tracks", "rendition", tm.cfg.Rendition, "tracks", len(tm.tracks))
	for flvIdx, pos := range tm.trackOf {
		tp := tm.tracks[pos]
		final, _, _, err := tp.state.Finish()
		if err != nil {
			return fmt.Errorf("transmux: finish track %d: %w", flvIdx, err)
		}
		if final != nil && cb.OnParts != nil {
			if err := cb.OnParts(PartBatch{TrackIndex: flvIdx, Parts: []track.Part{*final}}); err != nil {
				return err
			}
		}
	}
	return nil
}

func codecFor(info flv.TrackInfo) (mp4.Codec, error) {
	switch info.Kind {
	case flv.KindVideo:
		switch {
		case info.AV1SequenceHeader != nil:
			return fmp4box.NewAV1Codec(info.AV1SequenceHeader), nil
		case len(info.VPS) > 0:
			return fmp4box.NewH265Codec(first(info.VPS), first(info.SPS), first(info.PPS)), nil
		default:
			return fmp4box.NewH264Codec(first(info.SPS), first(info.PPS)), nil
		}
	case flv.KindAudio:
		return fmp4box.NewAACCodec(info.AudioConfig), nil
	default:
		return nil, fmt.Errorf("unknown track kind %v", info.Kind)
	}
}

func first(bs [][]byte) []byte {
	if len(bs) == 0 {
		return nil
	}
	return bs[0]
}

// DefaultBreakpointConfig matches spec.md's documented S1 scenario default:
// 0.25s target part, 0.5s hard cap, 2s target segment. cmd/ingest uses this
// for every connection; the duration fields of config.Cli are not applied to
// it.
func DefaultBreakpointConfig() track.BreakpointConfig {
	return track.BreakpointConfig{
		TargetPartDuration:    250 * time.Millisecond,
		MaxPartDuration:       500 * time.Millisecond,
		TargetSegmentDuration: 2 * time.Second,
	}
}
