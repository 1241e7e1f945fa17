package manifest

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/oklog/ulid/v2"

	"github.com/livepeer/catalyst-api/track"
)

// Field numbers for the hand-written protobuf wire encoding of a bus
// manifest snapshot. There is no .proto source and no generated
// proto.Message implementation here - without a protoc toolchain available
// in this environment, generating one would mean fabricating codegen.
// protowire is the library's own low-level encoder/decoder, built for
// exactly this: producing and parsing real protobuf wire-format bytes by
// hand when a .proto/protoc-gen-go pipeline isn't available, while still
// using google.golang.org/protobuf rather than falling back to a
// stdlib-only encoding.
const (
	fieldEnvelopeRendition protowire.Number = 1
	fieldEnvelopeManifest  protowire.Number = 2

	fieldManifestTimescale     protowire.Number = 1
	fieldManifestTotalDuration protowire.Number = 2
	fieldManifestSegments      protowire.Number = 3
	fieldManifestCursor        protowire.Number = 4
	fieldManifestOtherInfo     protowire.Number = 5
	fieldManifestRecording     protowire.Number = 6
	fieldManifestCompleted     protowire.Number = 7

	fieldSegmentIdx   protowire.Number = 1
	fieldSegmentID    protowire.Number = 2
	fieldSegmentParts protowire.Number = 3

	fieldPartIdx         protowire.Number = 1
	fieldPartDuration    protowire.Number = 2
	fieldPartIndependent protowire.Number = 3

	fieldCursorNextPartIdx            protowire.Number = 1
	fieldCursorNextSegmentIdx         protowire.Number = 2
	fieldCursorNextSegmentPartIdx     protowire.Number = 3
	fieldCursorLastIndependentPartIdx protowire.Number = 4

	fieldMapKey   protowire.Number = 1
	fieldMapValue protowire.Number = 2

	fieldRenditionInfoNextPartIdx    protowire.Number = 1
	fieldRenditionInfoNextSegmentIdx protowire.Number = 2

	fieldRecordingInfoID         protowire.Number = 1
	fieldRecordingInfoAllowDVR   protowire.Number = 2
	fieldRecordingInfoThumbnails protowire.Number = 3

	fieldThumbnailTimestampMS protowire.Number = 1
	fieldThumbnailURL         protowire.Number = 2
)

// encodeEnvelope hand-encodes a wireManifest into protobuf wire format:
// field 1 is the rendition name, field 2 is the nested Manifest message.
func encodeEnvelope(w wireManifest) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldEnvelopeRendition, protowire.BytesType)
	b = protowire.AppendString(b, w.Rendition)
	if w.Manifest != nil {
		b = protowire.AppendTag(b, fieldEnvelopeManifest, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeManifest(w.Manifest))
	}
	return b
}

func decodeEnvelope(b []byte) (wireManifest, error) {
	var w wireManifest
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return w, fmt.Errorf("manifest: decode envelope: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldEnvelopeRendition:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return w, fmt.Errorf("manifest: decode envelope rendition: %w", protowire.ParseError(n))
			}
			w.Rendition = v
			b = b[n:]
		case fieldEnvelopeManifest:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return w, fmt.Errorf("manifest: decode envelope manifest: %w", protowire.ParseError(n))
			}
			m, err := decodeManifest(v)
			if err != nil {
				return w, err
			}
			w.Manifest = m
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return w, fmt.Errorf("manifest: decode envelope: skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return w, nil
}

func encodeManifest(m *track.Manifest) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldManifestTimescale, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Timescale))
	b = protowire.AppendTag(b, fieldManifestTotalDuration, protowire.VarintType)
	b = protowire.AppendVarint(b, m.TotalDuration)

	for _, seg := range m.Segments {
		b = protowire.AppendTag(b, fieldManifestSegments, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeSegment(seg))
	}

	b = protowire.AppendTag(b, fieldManifestCursor, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeCursor(m))

	for rendition, info := range m.OtherInfo {
		b = protowire.AppendTag(b, fieldManifestOtherInfo, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeOtherInfoEntry(rendition, info))
	}

	if m.RecordingData != nil {
		b = protowire.AppendTag(b, fieldManifestRecording, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeRecordingInfo(*m.RecordingData))
	}

	b = protowire.AppendTag(b, fieldManifestCompleted, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(m.Completed))

	return b
}

func decodeManifest(b []byte) (*track.Manifest, error) {
	m := &track.Manifest{OtherInfo: map[string]track.RenditionInfo{}}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("manifest: decode manifest: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldManifestTimescale:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("manifest: decode timescale: %w", protowire.ParseError(n))
			}
			m.Timescale = uint32(v)
			b = b[n:]
		case fieldManifestTotalDuration:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("manifest: decode total_duration: %w", protowire.ParseError(n))
			}
			m.TotalDuration = v
			b = b[n:]
		case fieldManifestSegments:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("manifest: decode segment: %w", protowire.ParseError(n))
			}
			seg, err := decodeSegment(v)
			if err != nil {
				return nil, err
			}
			m.Segments = append(m.Segments, seg)
			b = b[n:]
		case fieldManifestCursor:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("manifest: decode cursor: %w", protowire.ParseError(n))
			}
			if err := decodeCursorInto(m, v); err != nil {
				return nil, err
			}
			b = b[n:]
		case fieldManifestOtherInfo:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("manifest: decode other_info: %w", protowire.ParseError(n))
			}
			rendition, info, err := decodeOtherInfoEntry(v)
			if err != nil {
				return nil, err
			}
			m.OtherInfo[rendition] = info
			b = b[n:]
		case fieldManifestRecording:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("manifest: decode recording_data: %w", protowire.ParseError(n))
			}
			ri, err := decodeRecordingInfo(v)
			if err != nil {
				return nil, err
			}
			m.RecordingData = &ri
			b = b[n:]
		case fieldManifestCompleted:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("manifest: decode completed: %w", protowire.ParseError(n))
			}
			m.Completed = protowire.DecodeBool(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("manifest: decode manifest: skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return m, nil
}

func encodeSegment(seg track.SegmentInfo) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSegmentIdx, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(seg.Idx))
	b = protowire.AppendTag(b, fieldSegmentID, protowire.BytesType)
	b = protowire.AppendBytes(b, seg.ID[:])
	for _, p := range seg.Parts {
		b = protowire.AppendTag(b, fieldSegmentParts, protowire.BytesType)
		b = protowire.AppendBytes(b, encodePart(p))
	}
	return b
}

func decodeSegment(b []byte) (track.SegmentInfo, error) {
	var seg track.SegmentInfo
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return seg, fmt.Errorf("manifest: decode segment: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldSegmentIdx:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return seg, fmt.Errorf("manifest: decode segment idx: %w", protowire.ParseError(n))
			}
			seg.Idx = uint32(v)
			b = b[n:]
		case fieldSegmentID:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return seg, fmt.Errorf("manifest: decode segment id: %w", protowire.ParseError(n))
			}
			var id ulid.ULID
			copy(id[:], v)
			seg.ID = id
			b = b[n:]
		case fieldSegmentParts:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return seg, fmt.Errorf("manifest: decode part: %w", protowire.ParseError(n))
			}
			p, err := decodePart(v)
			if err != nil {
				return seg, err
			}
			seg.Parts = append(seg.Parts, p)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return seg, fmt.Errorf("manifest: decode segment: skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return seg, nil
}

func encodePart(p track.PartInfo) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldPartIdx, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Idx))
	b = protowire.AppendTag(b, fieldPartDuration, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Duration))
	b = protowire.AppendTag(b, fieldPartIndependent, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(p.Independent))
	return b
}

func decodePart(b []byte) (track.PartInfo, error) {
	var p track.PartInfo
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return p, fmt.Errorf("manifest: decode part: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldPartIdx:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, fmt.Errorf("manifest: decode part idx: %w", protowire.ParseError(n))
			}
			p.Idx = uint32(v)
			b = b[n:]
		case fieldPartDuration:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, fmt.Errorf("manifest: decode part duration: %w", protowire.ParseError(n))
			}
			p.Duration = uint32(v)
			b = b[n:]
		case fieldPartIndependent:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, fmt.Errorf("manifest: decode part independent: %w", protowire.ParseError(n))
			}
			p.Independent = protowire.DecodeBool(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return p, fmt.Errorf("manifest: decode part: skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return p, nil
}

// encodeOtherInfoEntry/decodeOtherInfoEntry encode one map[string]RenditionInfo
// entry as a two-field message (key, value), matching how protoc-gen-go
// itself lowers a proto3 map field to wire format.
func encodeOtherInfoEntry(rendition string, info track.RenditionInfo) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldMapKey, protowire.BytesType)
	b = protowire.AppendString(b, rendition)
	b = protowire.AppendTag(b, fieldMapValue, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeRenditionInfo(info))
	return b
}

func decodeOtherInfoEntry(b []byte) (string, track.RenditionInfo, error) {
	var rendition string
	var info track.RenditionInfo
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return rendition, info, fmt.Errorf("manifest: decode other_info entry: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldMapKey:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return rendition, info, fmt.Errorf("manifest: decode other_info key: %w", protowire.ParseError(n))
			}
			rendition = v
			b = b[n:]
		case fieldMapValue:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return rendition, info, fmt.Errorf("manifest: decode other_info value: %w", protowire.ParseError(n))
			}
			ri, err := decodeRenditionInfo(v)
			if err != nil {
				return rendition, info, err
			}
			info = ri
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return rendition, info, fmt.Errorf("manifest: decode other_info entry: skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return rendition, info, nil
}

func encodeRenditionInfo(info track.RenditionInfo) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldRenditionInfoNextPartIdx, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(info.NextPartIdx))
	b = protowire.AppendTag(b, fieldRenditionInfoNextSegmentIdx, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(info.NextSegmentIdx))
	return b
}

func decodeRenditionInfo(b []byte) (track.RenditionInfo, error) {
	var info track.RenditionInfo
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return info, fmt.Errorf("manifest: decode rendition_info: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldRenditionInfoNextPartIdx:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return info, fmt.Errorf("manifest: decode rendition_info next_part_idx: %w", protowire.ParseError(n))
			}
			info.NextPartIdx = uint32(v)
			b = b[n:]
		case fieldRenditionInfoNextSegmentIdx:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return info, fmt.Errorf("manifest: decode rendition_info next_segment_idx: %w", protowire.ParseError(n))
			}
			info.NextSegmentIdx = uint32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return info, fmt.Errorf("manifest: decode rendition_info: skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return info, nil
}

func encodeRecordingInfo(ri track.RecordingInfo) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldRecordingInfoID, protowire.BytesType)
	b = protowire.AppendBytes(b, ri.RecordingID[:])
	b = protowire.AppendTag(b, fieldRecordingInfoAllowDVR, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(ri.AllowDVR))
	for _, th := range ri.Thumbnails {
		b = protowire.AppendTag(b, fieldRecordingInfoThumbnails, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeThumbnail(th))
	}
	return b
}

func decodeRecordingInfo(b []byte) (track.RecordingInfo, error) {
	var ri track.RecordingInfo
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ri, fmt.Errorf("manifest: decode recording_info: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldRecordingInfoID:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return ri, fmt.Errorf("manifest: decode recording_info id: %w", protowire.ParseError(n))
			}
			var id ulid.ULID
			copy(id[:], v)
			ri.RecordingID = id
			b = b[n:]
		case fieldRecordingInfoAllowDVR:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return ri, fmt.Errorf("manifest: decode recording_info allow_dvr: %w", protowire.ParseError(n))
			}
			ri.AllowDVR = protowire.DecodeBool(v)
			b = b[n:]
		case fieldRecordingInfoThumbnails:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return ri, fmt.Errorf("manifest: decode recording_info thumbnail: %w", protowire.ParseError(n))
			}
			th, err := decodeThumbnail(v)
			if err != nil {
				return ri, err
			}
			ri.Thumbnails = append(ri.Thumbnails, th)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ri, fmt.Errorf("manifest: decode recording_info: skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return ri, nil
}

func encodeThumbnail(th track.ThumbnailRef) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldThumbnailTimestampMS, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(th.TimestampMS))
	b = protowire.AppendTag(b, fieldThumbnailURL, protowire.BytesType)
	b = protowire.AppendString(b, th.URL)
	return b
}

func decodeThumbnail(b []byte) (track.ThumbnailRef, error) {
	var th track.ThumbnailRef
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return th, fmt.Errorf("manifest: decode thumbnail: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldThumbnailTimestampMS:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return th, fmt.Errorf("manifest: decode thumbnail timestamp_ms: %w", protowire.ParseError(n))
			}
			th.TimestampMS = int64(v)
			b = b[n:]
		case fieldThumbnailURL:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return th, fmt.Errorf("manifest: decode thumbnail url: %w", protowire.ParseError(n))
			}
			th.URL = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return th, fmt.Errorf("manifest: decode thumbnail: skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return th, nil
}

// encodeCursor takes the Manifest rather than its Cursor field directly:
// track's cursor type is unexported, so an external package can read its
// exported fields off an existing value but can't name the type itself to
// declare a parameter of it.
func encodeCursor(m *track.Manifest) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldCursorNextPartIdx, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Cursor.NextPartIdx))
	b = protowire.AppendTag(b, fieldCursorNextSegmentIdx, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Cursor.NextSegmentIdx))
	b = protowire.AppendTag(b, fieldCursorNextSegmentPartIdx, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Cursor.NextSegmentPartIdx))
	b = protowire.AppendTag(b, fieldCursorLastIndependentPartIdx, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Cursor.LastIndependentPartIdx))
	return b
}

func decodeCursorInto(m *track.Manifest, b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("manifest: decode cursor: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldCursorNextPartIdx:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("manifest: decode cursor next_part_idx: %w", protowire.ParseError(n))
			}
			m.Cursor.NextPartIdx = uint32(v)
			b = b[n:]
		case fieldCursorNextSegmentIdx:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("manifest: decode cursor next_segment_idx: %w", protowire.ParseError(n))
			}
			m.Cursor.NextSegmentIdx = uint32(v)
			b = b[n:]
		case fieldCursorNextSegmentPartIdx:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("manifest: decode cursor next_segment_part_idx: %w", protowire.ParseError(n))
			}
			m.Cursor.NextSegmentPartIdx = uint32(v)
			b = b[n:]
		case fieldCursorLastIndependentPartIdx:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("manifest: decode cursor last_independent_part_idx: %w", protowire.ParseError(n))
			}
			m.Cursor.LastIndependentPartIdx = uint32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("manifest: decode cursor: skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}
