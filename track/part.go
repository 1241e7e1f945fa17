package track

import "github.com/oklog/ulid/v2"

// Part is one LL-HLS partial segment: a CMAF fragment (moof+mdat) plus the
// metadata needed to render EXT-X-PART and to splice it into later Segments.
type Part struct {
	Idx         uint32
	StartTS     uint64
	Duration    uint32
	Independent bool
	Data        []byte

	samples []Sample
}

// Segment is a sealed run of Parts, addressable by both its monotonic index
// (for EXT-X-MEDIA-SEQUENCE bookkeeping) and a ULID (for cross-linking a DVR
// recording row back to the Parts that produced it).
type Segment struct {
	Idx   uint32
	ID    ulid.ULID
	Parts []Part

	sealed bool
}

// Duration returns the sum of the Segment's Part durations, in track ticks.
func (s *Segment) Duration() uint64 {
	var total uint64
	for _, p := range s.Parts {
		total += uint64(p.Duration)
	}
	return total
}

// PartMuxer builds the moof+mdat payload for one Part and the moov/ftyp
// payload for a track's init segment. Implementations live outside this
// package (see fmp4box) so the breakpoint algorithm never imports a
// box-muxing library directly.
type PartMuxer interface {
	MuxInit() ([]byte, error)
	MuxPart(sequenceNumber uint32, baseTime uint64, samples []Sample) ([]byte, error)
}
