package track

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeMuxer stands in for fmp4box in tests: it never touches real ISO BMFF
// bytes, it just records how it was called so assertions can check Part
// boundaries and ordering.
type fakeMuxer struct {
	calls int
}

func (f *fakeMuxer) MuxInit() ([]byte, error) {
	return []byte("ftypmoov"), nil
}

func (f *fakeMuxer) MuxPart(seq uint32, baseTime uint64, samples []Sample) ([]byte, error) {
	f.calls++
	return []byte(fmt.Sprintf("moof-mdat-%d-%d-%d", seq, baseTime, len(samples))), nil
}

func genSamples(n int, timescale, frameDur uint32, keyframeEvery int) []Sample {
	out := make([]Sample, n)
	for i := 0; i < n; i++ {
		out[i] = Sample{
			Data:       []byte{byte(i)},
			DecodeTime: uint64(i) * uint64(frameDur),
			Duration:   frameDur,
			Keyframe:   keyframeEvery > 0 && i%keyframeEvery == 0,
		}
	}
	return out
}

// 30fps video, keyframe every 2s (60 frames), target part 0.25s, max part
// 0.5s, target segment 2s. Matches the S1 scenario.
func s1Config() (uint32, BreakpointConfig) {
	const timescale = 30000
	cfg := BreakpointConfig{
		TargetPartDuration:    250 * time.Millisecond,
		MaxPartDuration:       500 * time.Millisecond,
		TargetSegmentDuration: 2 * time.Second,
	}
	return timescale, cfg
}

func TestPushEmitsPartsOnTargetBoundary(t *testing.T) {
	timescale, cfg := s1Config()
	muxer := &fakeMuxer{}
	ts := NewTrackState(timescale, cfg, muxer)

	// 30fps => frame duration of 1000 ticks at timescale 30000.
	samples := genSamples(60, timescale, 1000, 60)

	parts, err := ts.Push(samples)
	require.NoError(t, err)
	require.NotEmpty(t, parts)

	// With 0.25s target parts, no Part may exceed 250ms (7500 ticks). At
	// 30fps a Part closes before the frame that would pass the target, so
	// each holds 7 frames (7000 ticks).
	for _, p := range parts {
		require.LessOrEqual(t, p.Duration, uint32(7500))
	}
}

func TestPartsAreContiguousAndOrdered(t *testing.T) {
	timescale, cfg := s1Config()
	muxer := &fakeMuxer{}
	ts := NewTrackState(timescale, cfg, muxer)

	samples := genSamples(180, timescale, 1000, 60)
	parts, err := ts.Push(samples)
	require.NoError(t, err)
	require.NotEmpty(t, parts)

	var lastEnd uint64
	for i, p := range parts {
		require.Equal(t, uint32(i), p.Idx)
		if i > 0 {
			require.Equal(t, lastEnd, p.StartTS)
		}
		lastEnd = p.StartTS + uint64(p.Duration)
	}
}

func TestSegmentBreaksOnlyAtKeyframes(t *testing.T) {
	timescale, cfg := s1Config()
	muxer := &fakeMuxer{}
	ts := NewTrackState(timescale, cfg, muxer)

	// 4 seconds of video, keyframe every 2s (at sample 0 and 60).
	samples := genSamples(120, timescale, 1000, 60)
	_, err := ts.Push(samples)
	require.NoError(t, err)

	_, _, _, err = ts.Finish()
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(ts.Segments), 2)
	for _, seg := range ts.Segments {
		if len(seg.Parts) == 0 {
			continue
		}
		require.True(t, seg.Parts[0].Independent, "segment %d must start on an independent part", seg.Idx)
	}
}

func TestHardCapOverridesTargetPart(t *testing.T) {
	timescale := uint32(30000)
	cfg := BreakpointConfig{
		TargetPartDuration:    100 * time.Millisecond,
		MaxPartDuration:       150 * time.Millisecond,
		TargetSegmentDuration: 4 * time.Second,
	}
	muxer := &fakeMuxer{}
	ts := NewTrackState(timescale, cfg, muxer)

	// No keyframes beyond the first: segment break should never trigger, but
	// parts must still close at the hard cap even absent a keyframe.
	samples := genSamples(90, timescale, 1000, 90)
	parts, err := ts.Push(samples)
	require.NoError(t, err)
	require.NotEmpty(t, parts)

	for _, p := range parts {
		durSec := ticksToSeconds(p.Duration, timescale)
		require.LessOrEqual(t, durSec, cfg.MaxPartDuration.Seconds()+1e-9)
	}
}

func TestFinishFlushesPendingSamples(t *testing.T) {
	timescale, cfg := s1Config()
	muxer := &fakeMuxer{}
	ts := NewTrackState(timescale, cfg, muxer)

	samples := genSamples(5, timescale, 1000, 5)
	parts, err := ts.Push(samples)
	require.NoError(t, err)
	require.Empty(t, parts, "5 short samples shouldn't reach any breakpoint yet")

	final, segIdx, partIdx, err := ts.Finish()
	require.NoError(t, err)
	require.NotNil(t, final)
	require.Equal(t, uint32(0), segIdx)
	require.Equal(t, uint32(0), partIdx)
	require.True(t, ts.Complete)

	_, _, _, err = ts.Finish()
	require.Error(t, err)
}

func TestRetainSegmentsEvictsOldestSealedOnly(t *testing.T) {
	timescale, cfg := s1Config()
	muxer := &fakeMuxer{}
	ts := NewTrackState(timescale, cfg, muxer)

	// 10 seconds => 4 sealed 2s segments (breaks at samples 60, 120, 180 and
	// 240) plus one open tail.
	samples := genSamples(300, timescale, 1000, 60)
	_, err := ts.Push(samples)
	require.NoError(t, err)

	sealedBefore := 0
	for _, seg := range ts.Segments {
		if seg.sealed {
			sealedBefore++
		}
	}
	require.GreaterOrEqual(t, sealedBefore, 3)

	evicted := ts.RetainSegments(2)
	require.Len(t, evicted, sealedBefore-2)
	for _, seg := range evicted {
		require.True(t, seg.sealed)
	}

	sealedAfter := 0
	for _, seg := range ts.Segments {
		if seg.sealed {
			sealedAfter++
		}
	}
	require.Equal(t, 2, sealedAfter)
}

func TestSnapshotAndApplyManifestRoundTrip(t *testing.T) {
	timescale, cfg := s1Config()
	muxer := &fakeMuxer{}
	ts := NewTrackState(timescale, cfg, muxer)

	samples := genSamples(120, timescale, 1000, 60)
	_, err := ts.Push(samples)
	require.NoError(t, err)

	snap := ts.Snapshot()
	require.Equal(t, ts.TotalDuration, snap.TotalDuration)
	require.False(t, snap.Completed)

	rehydrated := ApplyManifest(snap, cfg, muxer)
	require.Equal(t, ts.TotalDuration, rehydrated.TotalDuration)
	require.Equal(t, ts.nextPartIdx, rehydrated.nextPartIdx)
	require.Equal(t, ts.lastIndependentPartIdx, rehydrated.lastIndependentPartIdx)

	// The rehydrated state must be usable: pushing more samples should keep
	// minting strictly increasing part indices.
	more := genSamples(60, timescale, 1000, 60)
	moreParts, err := rehydrated.Push(more)
	require.NoError(t, err)
	for _, p := range moreParts {
		require.GreaterOrEqual(t, p.Idx, ts.nextPartIdx)
	}
}

func TestPushAfterCompleteErrors(t *testing.T) {
	timescale, cfg := s1Config()
	muxer := &fakeMuxer{}
	ts := NewTrackState(timescale, cfg, muxer)

	_, _, _, err := ts.Finish()
	require.NoError(t, err)

	_, err = ts.Push(genSamples(1, timescale, 1000, 1))
	require.Error(t, err)
}
