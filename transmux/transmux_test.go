package transmux

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livepeer/catalyst-api/flv"
	"github.com/livepeer/catalyst-api/track"
)

func flvStream(t *testing.T, frameCount int) io.Reader {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("FLV")
	buf.WriteByte(1)
	buf.WriteByte(0x01)
	binary.Write(&buf, binary.BigEndian, uint32(9))

	writeTag := func(typ byte, ts uint32, data []byte) {
		binary.Write(&buf, binary.BigEndian, uint32(0))
		var hdr [11]byte
		hdr[0] = typ
		hdr[1] = byte(len(data) >> 16)
		hdr[2] = byte(len(data) >> 8)
		hdr[3] = byte(len(data))
		hdr[4] = byte(ts >> 16)
		hdr[5] = byte(ts >> 8)
		hdr[6] = byte(ts)
		hdr[7] = byte(ts >> 24)
		buf.Write(hdr[:])
		buf.Write(data)
	}

	seqHdr := func() []byte {
		var b bytes.Buffer
		b.WriteByte(0x17)
		b.WriteByte(0)
		b.Write([]byte{0, 0, 0})
		b.Write([]byte{1, 0x42, 0, 0x1f, 0xff})
		b.WriteByte(0xe1)
		binary.Write(&b, binary.BigEndian, uint16(2))
		b.Write([]byte{0xaa, 0xbb})
		b.WriteByte(1)
		binary.Write(&b, binary.BigEndian, uint16(1))
		b.Write([]byte{0xcc})
		return b.Bytes()
	}
	frame := func(keyframe bool) []byte {
		var b bytes.Buffer
		if keyframe {
			b.WriteByte(0x17)
		} else {
			b.WriteByte(0x27)
		}
		b.WriteByte(1)
		b.Write([]byte{0, 0, 0})
		binary.Write(&b, binary.BigEndian, uint32(3))
		b.Write([]byte{0x01, 0x02, 0x03})
		return b.Bytes()
	}

	writeTag(9, 0, seqHdr())
	for i := 0; i < frameCount; i++ {
		writeTag(9, uint32(i)*33, frame(i == 0))
	}

	return &buf
}

func TestTransmuxerEmitsInitThenParts(t *testing.T) {
	cfg := Config{
		Rendition: "720p0",
		Breakpoint: track.BreakpointConfig{
			TargetPartDuration:    250 * time.Millisecond,
			MaxPartDuration:       500 * time.Millisecond,
			TargetSegmentDuration: 2 * time.Second,
		},
	}

	tm, err := New(cfg, flvStream(t, 90))
	require.NoError(t, err)

	var initCount int
	var totalParts int
	err = tm.Run(Callbacks{
		OnInit: func(idx int, info flv.TrackInfo, init []byte) error {
			initCount++
			require.NotEmpty(t, init)
			require.Equal(t, flv.KindVideo, info.Kind)
			return nil
		},
		OnParts: func(batch PartBatch) error {
			totalParts += len(batch.Parts)
			return nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, initCount)
	require.Greater(t, totalParts, 0)
}
