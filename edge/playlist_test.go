package edge

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/livepeer/catalyst-api/recording"
	"github.com/livepeer/catalyst-api/token"
	"github.com/livepeer/catalyst-api/track"
)

type fakeStore struct {
	header   *recording.RecordingHeader
	segments []recording.RenditionSegmentRow
	thumbs   []recording.ThumbnailRow
}

func (f *fakeStore) GetRecordingHeader(ctx context.Context, id ulid.ULID) (*recording.RecordingHeader, error) {
	return f.header, nil
}

func (f *fakeStore) ListRenditionSegments(ctx context.Context, id ulid.ULID, rendition string) ([]recording.RenditionSegmentRow, error) {
	return f.segments, nil
}

func (f *fakeStore) ListThumbnails(ctx context.Context, id ulid.ULID) ([]recording.ThumbnailRow, error) {
	return f.thumbs, nil
}

func testSigner() *token.Signer {
	return token.NewSigner([]byte("test-secret"), time.Hour)
}

func liveManifest() *track.Manifest {
	return &track.Manifest{
		Timescale:     1000,
		TotalDuration: 6000,
	}
}

func TestBuildRejectsAmbiguousSession(t *testing.T) {
	_, err := Build(context.Background(), Session{}, Query{Rendition: "720p0"}, nil, &fakeStore{}, testSigner(), "https://obj")
	require.Error(t, err)
}

func TestBuildRejectsLiveSessionWithoutManifest(t *testing.T) {
	_, err := Build(context.Background(), Session{Room: "room1"}, Query{Rendition: "720p0"}, nil, &fakeStore{}, testSigner(), "https://obj")
	require.Error(t, err)
}

func TestBuildLiveSessionEmitsInitAndSegments(t *testing.T) {
	m := &track.Manifest{
		Timescale:     1000,
		TotalDuration: 4000,
		Segments: []track.SegmentInfo{
			{Idx: 0, ID: ulid.Make(), Parts: []track.PartInfo{
				{Idx: 0, Duration: 1000, Independent: true},
				{Idx: 1, Duration: 1000, Independent: false},
			}},
			{Idx: 1, ID: ulid.Make(), Parts: []track.PartInfo{
				{Idx: 2, Duration: 1000, Independent: true},
				{Idx: 3, Duration: 1000, Independent: false},
			}},
		},
	}
	m.Cursor.NextPartIdx = 4
	m.Cursor.NextSegmentIdx = 2

	sess := Session{Organization: "org1", ConnectionID: "conn1", Room: "room1"}
	q := Query{Rendition: "720p0"}

	pl, err := Build(context.Background(), sess, q, m, &fakeStore{}, testSigner(), "https://obj")
	require.NoError(t, err)
	require.NotEmpty(t, pl.InitSegmentID)
	require.False(t, pl.InitDVR)
	require.Len(t, pl.Segments, 2)
	require.Equal(t, uint32(0), pl.MSN)
	require.Len(t, pl.PreFetchPartIDs, preFetchCount)
	require.Equal(t, m.Cursor.NextPartIdx+preFetchCount-1, pl.LastPreFetchPartIdx)

	// both segments fall within the hot window (only two segments total),
	// so both should carry part-level tokens rather than a segment-level one.
	for _, seg := range pl.Segments {
		require.Nil(t, seg.ID)
		require.Len(t, seg.Parts, 2)
		for _, p := range seg.Parts {
			require.NotEmpty(t, p.ID)
		}
	}
}

func TestBuildCompletedLiveSessionHasNoPreFetch(t *testing.T) {
	m := liveManifest()
	m.Completed = true
	m.Cursor.NextPartIdx = 10

	sess := Session{Organization: "org1", ConnectionID: "conn1", Room: "room1"}
	pl, err := Build(context.Background(), sess, Query{Rendition: "720p0"}, m, &fakeStore{}, testSigner(), "https://obj")
	require.NoError(t, err)
	require.Empty(t, pl.PreFetchPartIDs)
	require.True(t, pl.Finished)
	require.Equal(t, uint32(9), pl.LastPreFetchPartIdx)
}

func TestBuildRecordingPlaybackUsesDVRRangeAndInitMP4(t *testing.T) {
	recID := ulid.Make()
	store := &fakeStore{
		header: &recording.RecordingHeader{ID: recID, Visibility: "public"},
		segments: []recording.RenditionSegmentRow{
			{Idx: 0, ID: ulid.Make(), DurationMS: 2000, ObjectPath: "segments/0.m4s"},
			{Idx: 2, ID: ulid.Make(), DurationMS: 2000, ObjectPath: "segments/2.m4s"},
		},
	}

	sess := Session{Organization: "org1", RecordingID: recID.String(), Authenticated: true}
	pl, err := Build(context.Background(), sess, Query{Rendition: "720p0"}, nil, store, testSigner(), "https://obj")
	require.NoError(t, err)
	require.Equal(t, "init.mp4", pl.InitSegmentID)
	require.True(t, pl.InitDVR)
	require.True(t, pl.Finished)

	// one placeholder for the skipped idx 1 between segment 0 and segment 2.
	require.Len(t, pl.Segments, 3)
	require.Nil(t, pl.Segments[1].ID)
	require.Nil(t, pl.Segments[1].StartTime)
	require.Equal(t, uint32(1), pl.Segments[1].Idx)
}

func TestBuildSkipQuerySuppressesDVRRange(t *testing.T) {
	recID := ulid.Make()
	store := &fakeStore{
		header: &recording.RecordingHeader{ID: recID, Visibility: "public"},
		segments: []recording.RenditionSegmentRow{
			{Idx: 0, ID: ulid.Make(), DurationMS: 2000},
		},
	}
	sess := Session{Organization: "org1", RecordingID: recID.String(), Authenticated: true}
	pl, err := Build(context.Background(), sess, Query{Rendition: "720p0", Skip: true}, nil, store, testSigner(), "https://obj")
	require.NoError(t, err)
	require.Empty(t, pl.Segments)
}
