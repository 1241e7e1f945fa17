package track

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// TrackState is the streaming breakpoint engine for a single rendition
// track. It owns no transport or storage concerns: callers push decoded
// Samples in, it returns completed Parts as soon as a breakpoint closes
// them, and it periodically yields a Manifest snapshot for publication.
type TrackState struct {
	Timescale uint32
	Segments  []*Segment

	TotalDuration uint64
	Complete      bool

	OtherInfo     map[string]RenditionInfo
	RecordingData *RecordingInfo

	cfg   BreakpointConfig
	muxer PartMuxer

	pending   []Sample
	partAccum time.Duration
	segAccum  time.Duration

	nextPartIdx            uint32
	nextSegmentIdx         uint32
	nextSegmentPartIdx     uint32
	lastIndependentPartIdx uint32
}

// NewTrackState starts a fresh engine with one open Segment awaiting Parts.
func NewTrackState(timescale uint32, cfg BreakpointConfig, muxer PartMuxer) *TrackState {
	ts := &TrackState{
		Timescale: timescale,
		cfg:       cfg,
		muxer:     muxer,
		OtherInfo: map[string]RenditionInfo{},
	}
	ts.Segments = append(ts.Segments, &Segment{Idx: ts.nextSegmentIdx, ID: ulid.Make()})
	ts.nextSegmentIdx++
	return ts
}

// currentSegment returns the trailing, unsealed Segment that new Parts are
// appended to.
func (ts *TrackState) currentSegment() *Segment {
	return ts.Segments[len(ts.Segments)-1]
}

// Push appends newly decoded samples to the pending buffer, slices off any
// Parts that the new samples complete, and returns them in order. Samples
// that don't yet complete a Part remain buffered for the next call.
func (ts *TrackState) Push(samples []Sample) ([]Part, error) {
	if ts.Complete {
		return nil, fmt.Errorf("track: Push after Complete")
	}
	ts.pending = append(ts.pending, samples...)

	bps := computeBreakPoints(samples, ts.Timescale, ts.partAccum, ts.segAccum, ts.cfg)
	ts.partAccum, ts.segAccum = accumulatorsAfter(samples, ts.Timescale, ts.partAccum, ts.segAccum, ts.cfg)
	if len(bps) == 0 {
		return nil, nil
	}

	// Breakpoint indices are relative to `samples`; pending already held
	// len(ts.pending)-len(samples) samples before this call.
	offset := len(ts.pending) - len(samples)

	var completed []Part
	cut := 0
	for _, bp := range bps {
		idx := bp.Index + offset
		if idx <= cut {
			continue
		}
		part, err := ts.makePart(ts.pending[cut:idx])
		if err != nil {
			return completed, err
		}
		completed = append(completed, *part)
		cut = idx

		if bp.Kind == breakSegment {
			ts.sealCurrentSegment()
		}
	}
	ts.pending = ts.pending[cut:]

	return completed, nil
}

// makePart seals the given run of samples into a Part: it assigns the
// monotonic index, computes the CMAF base media decode time, determines
// independence, and delegates byte construction to the configured muxer.
func (ts *TrackState) makePart(samples []Sample) (*Part, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("track: makePart with no samples")
	}

	independent := false
	var duration uint32
	for _, s := range samples {
		if s.Keyframe {
			independent = true
		}
		duration += s.Duration
	}

	idx := ts.nextPartIdx
	startTS := ts.TotalDuration

	data, err := ts.muxer.MuxPart(idx, startTS, samples)
	if err != nil {
		return nil, fmt.Errorf("track: mux part %d: %w", idx, err)
	}

	part := &Part{
		Idx:         idx,
		StartTS:     startTS,
		Duration:    duration,
		Independent: independent,
		Data:        data,
		samples:     samples,
	}

	ts.nextPartIdx++
	ts.nextSegmentPartIdx++
	ts.TotalDuration += uint64(duration)
	if independent {
		ts.lastIndependentPartIdx = idx
	}

	seg := ts.currentSegment()
	seg.Parts = append(seg.Parts, *part)

	return part, nil
}

// sealCurrentSegment closes the trailing Segment and opens the next one.
func (ts *TrackState) sealCurrentSegment() {
	ts.currentSegment().sealed = true
	ts.nextSegmentPartIdx = 0
	ts.Segments = append(ts.Segments, &Segment{Idx: ts.nextSegmentIdx, ID: ulid.Make()})
	ts.nextSegmentIdx++
}

// Finish flushes any buffered samples into a final Part, seals the
// in-progress Segment, and marks the engine Complete. It returns the final
// Part if the pending buffer was non-empty, and the (segmentIdx, partIdx) of
// the last unit produced.
func (ts *TrackState) Finish() (*Part, uint32, uint32, error) {
	if ts.Complete {
		return nil, 0, 0, fmt.Errorf("track: Finish called twice")
	}

	var final *Part
	if len(ts.pending) > 0 {
		p, err := ts.makePart(ts.pending)
		if err != nil {
			return nil, 0, 0, err
		}
		final = p
		ts.pending = nil
	}

	segIdx := ts.currentSegment().Idx
	ts.sealCurrentSegment()
	ts.Complete = true

	return final, segIdx, ts.nextPartIdx - 1, nil
}

// RetainSegments trims sealed Segments from the front of the live window,
// keeping only the newest n plus the currently open Segment. Evicted
// Segments are returned so the caller (the Rendition Manifest Publisher) can
// hand them off to the recording/DVR path before they're dropped from
// memory.
func (ts *TrackState) RetainSegments(n int) []*Segment {
	sealedCount := 0
	for _, seg := range ts.Segments {
		if seg.sealed {
			sealedCount++
		}
	}
	if sealedCount <= n {
		return nil
	}

	evictCount := sealedCount - n
	evicted := make([]*Segment, 0, evictCount)
	kept := make([]*Segment, 0, len(ts.Segments)-evictCount)
	for _, seg := range ts.Segments {
		if seg.sealed && len(evicted) < evictCount {
			evicted = append(evicted, seg)
			continue
		}
		kept = append(kept, seg)
	}
	ts.Segments = kept

	return evicted
}

// InitSegment returns the track's moov/ftyp init payload, built once and
// cached by the muxer implementation.
func (ts *TrackState) InitSegment() ([]byte, error) {
	return ts.muxer.MuxInit()
}
