package flv

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFileHeader(buf *bytes.Buffer) {
	buf.WriteString("FLV")
	buf.WriteByte(1)
	buf.WriteByte(0x05) // audio + video present
	binary.Write(buf, binary.BigEndian, uint32(9))
}

func writeTag(buf *bytes.Buffer, typ byte, timestamp uint32, data []byte) {
	binary.Write(buf, binary.BigEndian, uint32(0)) // previous tag size, unused by this reader

	var hdr [11]byte
	hdr[0] = typ
	hdr[1] = byte(len(data) >> 16)
	hdr[2] = byte(len(data) >> 8)
	hdr[3] = byte(len(data))
	hdr[4] = byte(timestamp >> 16)
	hdr[5] = byte(timestamp >> 8)
	hdr[6] = byte(timestamp)
	hdr[7] = byte(timestamp >> 24)
	buf.Write(hdr[:])
	buf.Write(data)
}

func avcSequenceHeader(sps, pps []byte) []byte {
	var b bytes.Buffer
	b.WriteByte(0x17) // keyframe, AVC
	b.WriteByte(0)    // seq header
	b.Write([]byte{0, 0, 0})

	b.Write([]byte{1, 0x42, 0, 0x1f, 0xff})
	b.WriteByte(0xe1) // 1 SPS
	binary.Write(&b, binary.BigEndian, uint16(len(sps)))
	b.Write(sps)
	b.WriteByte(1) // 1 PPS
	binary.Write(&b, binary.BigEndian, uint16(len(pps)))
	b.Write(pps)
	return b.Bytes()
}

func avcFrame(keyframe bool, nalu []byte, ct int32) []byte {
	var b bytes.Buffer
	if keyframe {
		b.WriteByte(0x17)
	} else {
		b.WriteByte(0x27)
	}
	b.WriteByte(1) // NALU
	b.WriteByte(byte(ct >> 16))
	b.WriteByte(byte(ct >> 8))
	b.WriteByte(byte(ct))
	binary.Write(&b, binary.BigEndian, uint32(len(nalu)))
	b.Write(nalu)
	return b.Bytes()
}

func TestDemuxerParsesVideoSequenceHeaderThenFrames(t *testing.T) {
	var buf bytes.Buffer
	writeFileHeader(&buf)
	writeTag(&buf, tagTypeVideo, 0, avcSequenceHeader([]byte{0xaa, 0xbb}, []byte{0xcc}))
	writeTag(&buf, tagTypeVideo, 0, avcFrame(true, []byte{0x01, 0x02, 0x03}, 0))
	writeTag(&buf, tagTypeVideo, 33, avcFrame(false, []byte{0x04, 0x05}, 0))

	d, err := NewDemuxer(&buf)
	require.NoError(t, err)

	idx, s, err := d.ReadSample()
	require.NoError(t, err)
	require.Equal(t, 0, idx)
	require.True(t, s.Keyframe)
	require.Equal(t, uint32(0), s.Duration)

	idx, s, err = d.ReadSample()
	require.NoError(t, err)
	require.Equal(t, 0, idx)
	require.False(t, s.Keyframe)
	require.Equal(t, uint32(33*90), s.Duration)

	streams := d.Streams()
	require.Len(t, streams, 1)
	require.Equal(t, KindVideo, streams[0].Kind)
	require.Equal(t, [][]byte{{0xaa, 0xbb}}, streams[0].SPS)
}

func TestDemuxerRejectsMediaBeforeSequenceHeader(t *testing.T) {
	var buf bytes.Buffer
	writeFileHeader(&buf)
	writeTag(&buf, tagTypeVideo, 0, avcFrame(true, []byte{0x01}, 0))

	d, err := NewDemuxer(&buf)
	require.NoError(t, err)

	_, _, err = d.ReadSample()
	require.ErrorIs(t, err, ErrInitNotReady)
}

func TestDemuxerReturnsEOFCleanly(t *testing.T) {
	var buf bytes.Buffer
	writeFileHeader(&buf)

	d, err := NewDemuxer(&buf)
	require.NoError(t, err)

	_, _, err = d.ReadSample()
	require.ErrorIs(t, err, io.EOF)
}
