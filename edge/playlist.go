// Package edge is the Edge Playlist Generator: it renders a live manifest
// snapshot, a completed recording's relational state, or both (DVR) into a
// signed, LL-HLS rendition playlist. The per-object URIs it emits are
// signed media tokens minted by token.Signer; the DVR range is read
// straight out of recording.Store.
package edge

import (
	"context"
	"fmt"
	"math"

	"github.com/oklog/ulid/v2"

	"github.com/livepeer/catalyst-api/recording"
	"github.com/livepeer/catalyst-api/token"
	"github.com/livepeer/catalyst-api/track"
)

// preFetchCount is how many upcoming part tokens a live playlist appends,
// per spec.md 4.5 step 5.
const preFetchCount = 16

// hotWindowSegments is how many trailing segments get part-level signed
// URIs instead of one signed whole-segment URI.
const hotWindowSegments = 2

// Session is what request authorization (token.Signer) has already
// established about the caller: either a live room or a completed
// recording, never both.
type Session struct {
	Organization string
	ConnectionID string
	Room         string // set for a live session
	RecordingID  string // set for a recording-playback session

	Authenticated bool
}

// Query is the HLS delivery directives and edge-specific toggles a request
// carries.
type Query struct {
	Rendition string
	Skip      bool // _HLS_skip
	DVR       bool // scuffle_dvr
	MSN       *uint32
	Part      *uint32
}

// Store is the subset of recording.Store the generator's DVR steps need.
type Store interface {
	GetRecordingHeader(ctx context.Context, recordingID ulid.ULID) (*recording.RecordingHeader, error)
	ListRenditionSegments(ctx context.Context, recordingID ulid.ULID, rendition string) ([]recording.RenditionSegmentRow, error)
	ListThumbnails(ctx context.Context, recordingID ulid.ULID) ([]recording.ThumbnailRow, error)
}

// PartRef is one signed LL-HLS partial segment reference.
type PartRef struct {
	ID          string
	Duration    float64
	Independent bool
}

// PlaylistSegment is one RenditionPlaylistSegment. A skipped-idx placeholder
// (spec.md 4.5 step 3) has ID, StartTime and EndTime all nil and no Parts.
type PlaylistSegment struct {
	Idx       uint32
	ID        *string
	StartTime *float64
	EndTime   *float64
	DVRTag    string
	Parts     []PartRef
}

// ThumbnailEntry is one pre-generated thumbnail reference.
type ThumbnailEntry struct {
	ID        string
	StartTime float64
	Idx       uint32
}

// RenditionSummary is one other rendition's progress, used to render
// EXT-X-RENDITION-REPORT.
type RenditionSummary struct {
	Name                   string
	LastSegmentIdx         uint32
	LastSegmentPartIdx     uint32
	LastIndependentPartIdx uint32
}

// RenditionPlaylist is the fully-resolved result of Build: everything
// render.go needs to produce LL-HLS text, with no further store access.
type RenditionPlaylist struct {
	InitSegmentID string
	InitDVR       bool

	MSN uint32

	DVRPrefix       string
	ThumbnailPrefix string
	Thumbnails      []ThumbnailEntry

	Segments []PlaylistSegment

	PreFetchPartIDs     []string
	LastPreFetchPartIdx uint32

	Renditions []RenditionSummary

	Finished bool
}

// roundSeconds applies spec.md's numeric semantics: every duration is
// rounded to 0.001s.
func roundSeconds(x float64) float64 {
	return math.Round(x*1000) / 1000
}

// Build renders a RenditionPlaylist for one rendition of sess, combining
// live (may be nil), a DVR read through store (may be nil if DVR is
// unavailable), and signer for every media URI.
//
// Exactly one of sess.Room or sess.RecordingID is expected to be set; a
// live session requires live != nil, a recording-playback session requires
// live == nil. Any other combination is a caller bug, reported as an error
// rather than silently guessed at.
func Build(ctx context.Context, sess Session, q Query, live *track.Manifest, store Store, signer *token.Signer, objectBaseURL string) (*RenditionPlaylist, error) {
	isLive := sess.Room != ""
	isRecording := sess.RecordingID != ""

	switch {
	case isLive == isRecording:
		return nil, fmt.Errorf("edge: session must be exactly one of live or recording playback")
	case isLive && live == nil:
		return nil, fmt.Errorf("edge: live session classified but no manifest present")
	case isRecording && live != nil:
		return nil, fmt.Errorf("edge: recording session classified but a live manifest is present")
	}

	pl := &RenditionPlaylist{}

	recordingID, dvrAllowed, err := dvrEnrichment(ctx, sess, q, live, store, objectBaseURL, q.Rendition, pl)
	if err != nil {
		return nil, err
	}

	if !q.Skip && dvrAllowed && recordingID != (ulid.ULID{}) {
		if err := appendDVRRange(ctx, store, recordingID, q.Rendition, pl); err != nil {
			return nil, err
		}
	}

	if isLive {
		if err := appendLiveRange(signer, sess, live, dvrAllowed, q.Rendition, pl); err != nil {
			return nil, err
		}
		if err := appendPreFetch(signer, sess, live, q.Rendition, pl); err != nil {
			return nil, err
		}
		initID, err := signer.SignMedia(sess.Organization, sess.Room, sess.RecordingID, sess.ConnectionID, q.Rendition, token.MediaTarget{Init: true})
		if err != nil {
			return nil, fmt.Errorf("edge: sign init token: %w", err)
		}
		pl.InitSegmentID = initID
		pl.Finished = live.Completed
	} else {
		pl.InitSegmentID = "init.mp4"
		pl.InitDVR = true
		pl.Finished = true
	}

	if len(pl.Segments) > 0 {
		pl.MSN = pl.Segments[0].Idx
	}

	return pl, nil
}

// dvrEnrichment implements spec.md 4.5 step 2: decide whether this request
// may see archived DVR content, and if so, populate the public URL
// prefixes. It returns the recording id to read DVR rows from (zero if
// none) and whether DVR disclosure is allowed.
func dvrEnrichment(ctx context.Context, sess Session, q Query, live *track.Manifest, store Store, objectBaseURL, rendition string, pl *RenditionPlaylist) (ulid.ULID, bool, error) {
	var recIDStr string

	switch {
	case sess.RecordingID != "":
		recIDStr = sess.RecordingID
	case live != nil && q.DVR && live.RecordingData != nil && live.RecordingData.AllowDVR:
		recIDStr = live.RecordingData.RecordingID.String()
	default:
		return ulid.ULID{}, false, nil
	}

	recID, err := ulid.Parse(recIDStr)
	if err != nil {
		return ulid.ULID{}, false, fmt.Errorf("edge: parse recording id %q: %w", recIDStr, err)
	}

	if sess.RecordingID != "" {
		// Pure recording playback: the session was already authorized
		// against this exact recording, visibility doesn't gate it again.
		pl.DVRPrefix = fmt.Sprintf("%s/recordings/%s/%s/", objectBaseURL, recID, rendition)
		pl.ThumbnailPrefix = fmt.Sprintf("%s/recordings/%s/thumbnails/", objectBaseURL, recID)
		return recID, true, nil
	}

	header, err := store.GetRecordingHeader(ctx, recID)
	if err != nil {
		return ulid.ULID{}, false, fmt.Errorf("edge: load recording header: %w", err)
	}
	if header.Visibility != "public" && !sess.Authenticated {
		return ulid.ULID{}, false, nil
	}

	pl.DVRPrefix = fmt.Sprintf("%s/recordings/%s/%s/", objectBaseURL, recID, rendition)
	pl.ThumbnailPrefix = fmt.Sprintf("%s/recordings/%s/thumbnails/", objectBaseURL, recID)
	return recID, true, nil
}

// appendDVRRange implements spec.md 4.5 step 3: prepend the archived range
// ahead of (or in place of, for pure recording playback) the live window,
// inserting empty placeholders wherever the stored idx sequence skips.
func appendDVRRange(ctx context.Context, store Store, recID ulid.ULID, rendition string, pl *RenditionPlaylist) error {
	rows, err := store.ListRenditionSegments(ctx, recID, rendition)
	if err != nil {
		return fmt.Errorf("edge: list rendition segments: %w", err)
	}
	thumbs, err := store.ListThumbnails(ctx, recID)
	if err != nil {
		return fmt.Errorf("edge: list thumbnails: %w", err)
	}
	for _, th := range thumbs {
		pl.Thumbnails = append(pl.Thumbnails, ThumbnailEntry{
			ID:        pl.ThumbnailPrefix + th.ObjectPath,
			StartTime: roundSeconds(float64(th.TimestampMS) / 1000),
		})
	}

	var nextIdx uint32
	var cursorMS int64
	for i, row := range rows {
		if i == 0 {
			nextIdx = row.Idx
		}
		for row.Idx > nextIdx {
			pl.Segments = append(pl.Segments, PlaylistSegment{Idx: nextIdx})
			nextIdx++
		}

		start := roundSeconds(float64(cursorMS) / 1000)
		end := roundSeconds(float64(cursorMS+row.DurationMS) / 1000)
		pl.Segments = append(pl.Segments, PlaylistSegment{
			Idx:       row.Idx,
			StartTime: &start,
			EndTime:   &end,
			DVRTag:    fmt.Sprintf("%d.%s.mp4", row.Idx, row.ID),
		})
		cursorMS += row.DurationMS
		nextIdx = row.Idx + 1
	}
	return nil
}

// appendLiveRange implements spec.md 4.5 step 4: hot-window segments get
// per-part signed URIs, earlier sealed segments get one whole-segment
// signed URI.
func appendLiveRange(signer *token.Signer, sess Session, live *track.Manifest, dvrAllowed bool, rendition string, pl *RenditionPlaylist) error {
	var windowTicks uint64
	for _, seg := range live.Segments {
		for _, p := range seg.Parts {
			windowTicks += uint64(p.Duration)
		}
	}
	if windowTicks > live.TotalDuration {
		return fmt.Errorf("edge: manifest window duration exceeds total duration")
	}
	cursorTicks := live.TotalDuration - windowTicks

	n := len(live.Segments)
	for i, seg := range live.Segments {
		segTicks := segmentTicks(seg)
		start := roundSeconds(float64(cursorTicks) / float64(live.Timescale))
		end := roundSeconds(float64(cursorTicks+segTicks) / float64(live.Timescale))
		cursorTicks += segTicks

		ps := PlaylistSegment{Idx: seg.Idx, StartTime: &start, EndTime: &end}
		if dvrAllowed {
			ps.DVRTag = fmt.Sprintf("%d.%s.mp4", seg.Idx, seg.ID)
		}

		hot := n-i <= hotWindowSegments
		if hot {
			for _, p := range seg.Parts {
				partIdx := p.Idx
				tok, err := signer.SignMedia(sess.Organization, sess.Room, sess.RecordingID, sess.ConnectionID, rendition, token.MediaTarget{Part: &partIdx})
				if err != nil {
					return fmt.Errorf("edge: sign part token %d: %w", partIdx, err)
				}
				ps.Parts = append(ps.Parts, PartRef{
					ID:          tok,
					Duration:    roundSeconds(float64(p.Duration) / float64(live.Timescale)),
					Independent: p.Independent,
				})
			}
		} else {
			segIdx := seg.Idx
			tok, err := signer.SignMedia(sess.Organization, sess.Room, sess.RecordingID, sess.ConnectionID, rendition, token.MediaTarget{Segment: &segIdx})
			if err != nil {
				return fmt.Errorf("edge: sign segment token %d: %w", segIdx, err)
			}
			ps.ID = &tok
		}
		pl.Segments = append(pl.Segments, ps)
	}
	return nil
}

func segmentTicks(seg track.SegmentInfo) uint64 {
	var total uint64
	for _, p := range seg.Parts {
		total += uint64(p.Duration)
	}
	return total
}

// appendPreFetch implements spec.md 4.5 step 5.
func appendPreFetch(signer *token.Signer, sess Session, live *track.Manifest, rendition string, pl *RenditionPlaylist) error {
	for name, info := range live.OtherInfo {
		pl.Renditions = append(pl.Renditions, RenditionSummary{
			Name:                   name,
			LastSegmentIdx:         info.NextSegmentIdx,
			LastSegmentPartIdx:     info.NextPartIdx,
			LastIndependentPartIdx: info.NextPartIdx,
		})
	}

	if live.Completed {
		if live.Cursor.NextPartIdx > 0 {
			pl.LastPreFetchPartIdx = live.Cursor.NextPartIdx - 1
		}
		return nil
	}

	for i := uint32(0); i < preFetchCount; i++ {
		partIdx := live.Cursor.NextPartIdx + i
		tok, err := signer.SignMedia(sess.Organization, sess.Room, sess.RecordingID, sess.ConnectionID, rendition, token.MediaTarget{Part: &partIdx})
		if err != nil {
			return fmt.Errorf("edge: sign pre-fetch token %d: %w", partIdx, err)
		}
		pl.PreFetchPartIDs = append(pl.PreFetchPartIDs, tok)
	}
	pl.LastPreFetchPartIdx = live.Cursor.NextPartIdx + preFetchCount - 1
	return nil
}
