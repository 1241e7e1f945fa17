package fmp4box

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

// NewH264Codec builds the init-segment codec record for an AVC track from
// the SPS/PPS NAL units parsed out of an FLV AVCDecoderConfigurationRecord.
func NewH264Codec(sps, pps []byte) mp4.Codec {
	return &mp4.CodecH264{
		SPS: sps,
		PPS: pps,
	}
}

// NewH265Codec builds the init-segment codec record for an HEVC track from
// the VPS/SPS/PPS NAL units parsed out of an FLV HEVCDecoderConfigurationRecord.
func NewH265Codec(vps, sps, pps []byte) mp4.Codec {
	return &mp4.CodecH265{
		VPS: vps,
		SPS: sps,
		PPS: pps,
	}
}

// NewAV1Codec builds the init-segment codec record for an AV1 track from the
// sequence header OBU parsed out of an FLV AV1CodecConfigurationRecord.
func NewAV1Codec(sequenceHeader []byte) mp4.Codec {
	return &mp4.CodecAV1{
		SequenceHeader: sequenceHeader,
	}
}

// NewAACCodec builds the init-segment codec record for an AAC track from the
// AudioSpecificConfig parsed out of an FLV AACAudioSpecificConfig tag.
func NewAACCodec(config mpeg4audio.AudioSpecificConfig) mp4.Codec {
	return &mp4.CodecMPEG4Audio{
		Config: config,
	}
}

// CodecName returns a short, stable identifier for a codec record, used for
// logging and for CODECS= attribute rendering in the edge playlist.
func CodecName(c mp4.Codec) (string, error) {
	switch c.(type) {
	case *mp4.CodecH264:
		return "avc1", nil
	case *mp4.CodecH265:
		return "hvc1", nil
	case *mp4.CodecAV1:
		return "av01", nil
	case *mp4.CodecMPEG4Audio:
		return "mp4a", nil
	default:
		return "", fmt.Errorf("fmp4box: unsupported codec type %T", c)
	}
}
