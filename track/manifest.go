package track

import "github.com/oklog/ulid/v2"

// PartInfo is the manifest-level summary of one Part: enough to rebuild
// playlist tags and splice decisions without the Part's media bytes.
type PartInfo struct {
	Idx         uint32
	Duration    uint32
	Independent bool
}

// SegmentInfo is the manifest-level summary of one sealed Segment.
type SegmentInfo struct {
	Idx   uint32
	ID    ulid.ULID
	Parts []PartInfo
}

// ThumbnailRef points at a generated thumbnail stored alongside a recording.
type ThumbnailRef struct {
	TimestampMS int64
	URL         string
}

// RecordingInfo is attached to a Manifest once the rendition's retention
// window has rolled a Segment off into durable storage.
type RecordingInfo struct {
	RecordingID ulid.ULID
	AllowDVR    bool
	Thumbnails  []ThumbnailRef
}

// RenditionInfo is the subset of another rendition's progress that this
// rendition's manifest carries for cross-rendition synchronization (e.g. the
// Edge Playlist Generator aligning multiple renditions' discontinuities).
type RenditionInfo struct {
	NextPartIdx    uint32
	NextSegmentIdx uint32
}

// cursor is the engine's resumable position: everything needed to keep
// minting Idx values and independence tracking consistent after a process
// restart rehydrates state from a published Manifest.
type cursor struct {
	NextPartIdx            uint32
	NextSegmentIdx         uint32
	NextSegmentPartIdx     uint32
	LastIndependentPartIdx uint32
}

// Manifest is the durable, published snapshot of a TrackState: what the
// Rendition Manifest Publisher writes to the object store and broadcasts on
// the bus, and what a restarted ingest process or the Edge Playlist
// Generator rehydrates from.
type Manifest struct {
	Timescale     uint32
	TotalDuration uint64
	Segments      []SegmentInfo
	Cursor        cursor

	OtherInfo     map[string]RenditionInfo
	RecordingData *RecordingInfo
	Completed     bool
}

// Snapshot renders the current TrackState as a publishable Manifest. Every
// Segment is included, the in-progress (unsealed) tail Segment too, since its
// Parts are already final even though the Segment itself may still accept
// more Parts.
func (ts *TrackState) Snapshot() *Manifest {
	m := &Manifest{
		Timescale:     ts.Timescale,
		TotalDuration: ts.TotalDuration,
		Cursor: cursor{
			NextPartIdx:            ts.nextPartIdx,
			NextSegmentIdx:         ts.nextSegmentIdx,
			NextSegmentPartIdx:     ts.nextSegmentPartIdx,
			LastIndependentPartIdx: ts.lastIndependentPartIdx,
		},
		OtherInfo: ts.OtherInfo,
		Completed: ts.Complete,
	}
	if ts.RecordingData != nil {
		m.RecordingData = ts.RecordingData
	}

	for _, seg := range ts.Segments {
		si := SegmentInfo{Idx: seg.Idx, ID: seg.ID}
		for _, p := range seg.Parts {
			si.Parts = append(si.Parts, PartInfo{Idx: p.Idx, Duration: p.Duration, Independent: p.Independent})
		}
		m.Segments = append(m.Segments, si)
	}
	return m
}

// ApplyManifest rebuilds a TrackState from a published snapshot. Part media
// bytes are not recoverable from a Manifest alone (it carries no payloads),
// so rehydrated Parts are zero-filled placeholders: callers that need to
// re-serve old media re-fetch it from the object store by Segment ID rather
// than through the TrackState.
func ApplyManifest(m *Manifest, cfg BreakpointConfig, muxer PartMuxer) *TrackState {
	ts := NewTrackState(m.Timescale, cfg, muxer)
	ts.Segments = nil
	ts.TotalDuration = m.TotalDuration
	ts.nextPartIdx = m.Cursor.NextPartIdx
	ts.nextSegmentIdx = m.Cursor.NextSegmentIdx
	ts.nextSegmentPartIdx = m.Cursor.NextSegmentPartIdx
	ts.lastIndependentPartIdx = m.Cursor.LastIndependentPartIdx
	ts.OtherInfo = m.OtherInfo
	ts.RecordingData = m.RecordingData
	ts.Complete = m.Completed

	for _, si := range m.Segments {
		seg := &Segment{Idx: si.Idx, ID: si.ID, sealed: true}
		for _, pi := range si.Parts {
			seg.Parts = append(seg.Parts, Part{Idx: pi.Idx, Duration: pi.Duration, Independent: pi.Independent})
		}
		ts.Segments = append(ts.Segments, seg)
	}

	// Open a fresh Segment at the cursor so new Parts have somewhere to land.
	ts.Segments = append(ts.Segments, &Segment{Idx: ts.nextSegmentIdx, ID: ulid.Make()})
	ts.nextSegmentIdx++

	return ts
}
