package edge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildMasterEmitsScufGroupPerAudioCodec(t *testing.T) {
	out, err := BuildMaster([]RenditionVariant{
		{Name: "720p0", URL: "720p0/index.m3u8", Bandwidth: 2000000, Codecs: "avc1.64001f,mp4a.40.2", Resolution: "1280x720", AudioCodec: "mp4a.40.2"},
		{Name: "1080p0", URL: "1080p0/index.m3u8", Bandwidth: 4000000, Codecs: "avc1.640028,mp4a.40.2", Resolution: "1920x1080", AudioCodec: "mp4a.40.2"},
	})
	require.NoError(t, err)
	require.Contains(t, out, "720p0/index.m3u8")
	require.Contains(t, out, "1080p0/index.m3u8")
	require.Contains(t, out, "#EXT-X-SCUF-GROUP:CODEC=\"mp4a.40.2\",RENDITIONS=\"1080p0,720p0\"")
}
