package trackparser

import (
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/stretchr/testify/require"
)

func TestParseInitRoundTrip(t *testing.T) {
	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{
			{ID: 1, TimeScale: 90000, Codec: &mp4.CodecH264{SPS: []byte{1, 2}, PPS: []byte{3}}},
		},
	}
	var buf seekablebuffer.Buffer
	require.NoError(t, init.Marshal(&buf))

	info, err := ParseInit(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, info.Tracks, 1)
	require.Equal(t, 1, info.Tracks[0].ID)
	require.Equal(t, uint32(90000), info.Tracks[0].TimeScale)
}

func TestParsePartRecoversSamplesInOrder(t *testing.T) {
	part := &fmp4.Part{
		SequenceNumber: 0,
		Tracks: []*fmp4.PartTrack{
			{
				ID:       1,
				BaseTime: 1000,
				Samples: []*fmp4.Sample{
					{Duration: 500, Payload: []byte{1, 2, 3}, IsNonSyncSample: false},
					{Duration: 500, Payload: []byte{4, 5, 6}, IsNonSyncSample: true},
				},
			},
		},
	}
	var buf seekablebuffer.Buffer
	require.NoError(t, part.Marshal(&buf))

	groups, err := ParsePart(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, 1, groups[0].TrackID)
	require.Len(t, groups[0].Samples, 2)
	require.Equal(t, uint64(1000), groups[0].Samples[0].DecodeTime)
	require.True(t, groups[0].Samples[0].Keyframe)
	require.Equal(t, uint64(1500), groups[0].Samples[1].DecodeTime)
	require.False(t, groups[0].Samples[1].Keyframe)
}
