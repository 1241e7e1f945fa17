package track

import "time"

type breakKind int

const (
	breakPart breakKind = iota
	breakSegment
)

// breakPoint marks that the sample at Index begins a new Part (and, for
// breakSegment, also a new Segment). A breakpoint at index i means "cut
// before sample i" - that sample becomes the first sample of the next unit.
type breakPoint struct {
	Index int
	Kind  breakKind
}

// BreakpointConfig holds the three durations the LL-HLS engine balances
// against each other: a target part length, a hard cap on part length, and a
// target segment length. All three are evaluated in wall-clock time, derived
// from each sample's duration and the track timescale.
type BreakpointConfig struct {
	TargetPartDuration    time.Duration
	MaxPartDuration       time.Duration
	TargetSegmentDuration time.Duration
}

// computeBreakPoints scans samples in decode order, starting from the
// supplied running accumulators, and returns every index at which a Part or
// Segment boundary falls. It mutates neither samples nor the accumulators
// passed by value; callers advance their own accumulator state using
// accumulatorsAfter once the returned breakpoints have been applied.
//
// Priority order per sample, highest first:
//  1. Hard cap: partAccum would exceed MaxPartDuration -> force a Part break
//     regardless of the preferred rule below.
//  2. Target segment reached on a keyframe -> Segment break (also ends the
//     current Part; resets both accumulators).
//  3. Target part reached -> Part break.
func computeBreakPoints(samples []Sample, timescale uint32, partAccum, segAccum time.Duration, cfg BreakpointConfig) []breakPoint {
	var out []breakPoint

	for i, s := range samples {
		durSec := ticksToSeconds(s.Duration, timescale)
		dur := time.Duration(durSec * float64(time.Second))

		switch {
		case partAccum+dur > cfg.MaxPartDuration && partAccum > 0:
			out = append(out, breakPoint{Index: i, Kind: breakPart})
			partAccum = 0
		case segAccum+dur > cfg.TargetSegmentDuration && s.Keyframe && segAccum > 0:
			out = append(out, breakPoint{Index: i, Kind: breakSegment})
			partAccum = 0
			segAccum = 0
		case partAccum+dur > cfg.TargetPartDuration && partAccum > 0:
			out = append(out, breakPoint{Index: i, Kind: breakPart})
			partAccum = 0
		}

		partAccum += dur
		segAccum += dur
	}

	return out
}

// accumulatorsAfter replays the same scan computeBreakPoints performed, so a
// caller holding the breakpoints can also recover the trailing accumulator
// state for the unsliced remainder of samples.
func accumulatorsAfter(samples []Sample, timescale uint32, partAccum, segAccum time.Duration, cfg BreakpointConfig) (time.Duration, time.Duration) {
	bps := computeBreakPoints(samples, timescale, partAccum, segAccum, cfg)
	bpAt := make(map[int]breakKind, len(bps))
	for _, bp := range bps {
		bpAt[bp.Index] = bp.Kind
	}

	for i, s := range samples {
		durSec := ticksToSeconds(s.Duration, timescale)
		dur := time.Duration(durSec * float64(time.Second))
		if kind, ok := bpAt[i]; ok {
			partAccum = 0
			if kind == breakSegment {
				segAccum = 0
			}
		}
		partAccum += dur
		segAccum += dur
	}

	return partAccum, segAccum
}
