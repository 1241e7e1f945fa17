package manifest

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/livepeer/catalyst-api/track"
)

func TestEncodeDecodeManifestRoundTrips(t *testing.T) {
	recID := ulid.Make()
	segID := ulid.Make()
	snapshot := &track.Manifest{
		Timescale:     90000,
		TotalDuration: 123456,
		Segments: []track.SegmentInfo{
			{Idx: 3, ID: segID, Parts: []track.PartInfo{
				{Idx: 10, Duration: 22500, Independent: true},
				{Idx: 11, Duration: 22500, Independent: false},
			}},
		},
		OtherInfo: map[string]track.RenditionInfo{
			"1080p0": {NextPartIdx: 12, NextSegmentIdx: 4},
		},
		RecordingData: &track.RecordingInfo{
			RecordingID: recID,
			AllowDVR:    true,
			Thumbnails: []track.ThumbnailRef{
				{TimestampMS: 5000, URL: "thumbs/5000.jpg"},
			},
		},
		Completed: false,
	}
	snapshot.Cursor.NextPartIdx = 12
	snapshot.Cursor.NextSegmentIdx = 4
	snapshot.Cursor.NextSegmentPartIdx = 1
	snapshot.Cursor.LastIndependentPartIdx = 10

	payload := EncodeManifest("720p0", snapshot)

	rendition, decoded, err := DecodeManifest(payload)
	require.NoError(t, err)
	require.Equal(t, "720p0", rendition)
	require.Equal(t, snapshot.Timescale, decoded.Timescale)
	require.Equal(t, snapshot.TotalDuration, decoded.TotalDuration)
	require.Equal(t, snapshot.Segments, decoded.Segments)
	require.Equal(t, snapshot.Cursor, decoded.Cursor)
	require.Equal(t, snapshot.OtherInfo, decoded.OtherInfo)
	require.Equal(t, snapshot.RecordingData, decoded.RecordingData)
	require.Equal(t, snapshot.Completed, decoded.Completed)
}

func TestEncodeManifestIsLengthPrefixed(t *testing.T) {
	payload := EncodeManifest("720p0", &track.Manifest{Timescale: 90000})
	// Appending trailing garbage after the prefixed message must not affect
	// decoding - the prefix is what bounds the message, not EOF.
	withTrailer := append(append([]byte{}, payload...), 0xff, 0xff, 0xff)
	rendition, decoded, err := DecodeManifest(withTrailer)
	require.NoError(t, err)
	require.Equal(t, "720p0", rendition)
	require.Equal(t, uint32(90000), decoded.Timescale)
}
