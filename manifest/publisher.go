// Package manifest is the Rendition Manifest Publisher: after every
// breakpoint pass it writes new Parts to the object store, publishes a
// manifest snapshot on the bus, and - at retention-eviction time - records
// the evicted Segment in the relational recording store, all inside the
// transaction boundary recording.Store.BeginTx establishes.
package manifest

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oklog/ulid/v2"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/livepeer/catalyst-api/bus"
	"github.com/livepeer/catalyst-api/track"
)

// ObjectStore is the subset of objectstore.Client the Publisher needs,
// narrowed to an interface so tests can substitute an in-memory fake
// instead of standing up a real backend.
type ObjectStore interface {
	PutInit(ctx context.Context, data []byte) error
	PutPart(ctx context.Context, segmentIdx, partIdx uint32, data []byte) error
}

// Bus is the subset of bus.Bus the Publisher needs.
type Bus interface {
	PublishManifest(connectionID, rendition string, dedupeKey string, payload []byte) error
}

// RecordingStore is the subset of recording.Store the Publisher needs.
type RecordingStore interface {
	BeginTx(ctx context.Context) (*sql.Tx, error)
	InsertRenditionSegment(ctx context.Context, tx *sql.Tx, recordingID ulid.ULID, rendition string, segmentIdx uint32, segmentID ulid.ULID, durationMS int64, objectPath string) error
	InsertThumbnail(ctx context.Context, tx *sql.Tx, recordingID ulid.ULID, timestampMS int64, objectPath string) error
}

// Publisher drives one rendition's object-store writes, bus publishes, and
// (once a recording is active) relational archival.
type Publisher struct {
	connectionID string
	rendition    string

	store ObjectStore
	bus   Bus
	rec   RecordingStore

	recordingID *string
}

// New builds a Publisher for one rendition of one connection. rec may be
// nil when the session has DVR disabled, in which case PublishEviction
// becomes a no-op beyond dropping the in-memory Segments.
func New(connectionID, rendition string, store ObjectStore, b Bus, rec RecordingStore) *Publisher {
	return &Publisher{connectionID: connectionID, rendition: rendition, store: store, bus: b, rec: rec}
}

// PublishInit writes the track's init segment once, at stream start.
func (p *Publisher) PublishInit(ctx context.Context, init []byte) error {
	return p.store.PutInit(ctx, init)
}

// PublishParts writes every newly completed Part to the object store, then
// publishes the current manifest snapshot on the bus. This mirrors
// spec.md's "after every split_samples pass" publication point.
func (p *Publisher) PublishParts(ctx context.Context, parts []track.Part, snapshot *track.Manifest) error {
	for _, part := range parts {
		segIdx, partIdx := segmentAndPartIdx(snapshot, part.Idx)
		if err := p.store.PutPart(ctx, segIdx, partIdx, part.Data); err != nil {
			return fmt.Errorf("manifest: publish part %d: %w", part.Idx, err)
		}
	}

	payload := EncodeManifest(p.rendition, snapshot)

	lastPart := parts[len(parts)-1]
	segIdx, partIdx := segmentAndPartIdx(snapshot, lastPart.Idx)
	key := bus.DedupeKey(p.connectionID, p.rendition, segIdx, partIdx)

	if err := p.bus.PublishManifest(p.connectionID, p.rendition, key, payload); err != nil {
		return fmt.Errorf("manifest: publish snapshot: %w", err)
	}
	return nil
}

// PublishEviction archives segments evicted by track.TrackState.RetainSegments
// into one relational transaction, alongside any thumbnails generated for
// them. It is a no-op if this session has no active recording.
func (p *Publisher) PublishEviction(ctx context.Context, evicted []*track.Segment, thumbnails []track.ThumbnailRef) error {
	if p.rec == nil || p.recordingID == nil || len(evicted) == 0 {
		return nil
	}

	tx, err := p.rec.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("manifest: begin eviction tx: %w", err)
	}
	defer tx.Rollback()

	recID, err := parseULID(*p.recordingID)
	if err != nil {
		return err
	}

	for _, seg := range evicted {
		var durationMS int64
		if d := seg.Duration(); d > 0 {
			durationMS = int64(d)
		}
		objectPath := fmt.Sprintf("segments/%d.m4s", seg.Idx)
		if err := p.rec.InsertRenditionSegment(ctx, tx, recID, p.rendition, seg.Idx, seg.ID, durationMS, objectPath); err != nil {
			return err
		}
	}
	for _, th := range thumbnails {
		if err := p.rec.InsertThumbnail(ctx, tx, recID, th.TimestampMS, th.URL); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("manifest: commit eviction tx: %w", err)
	}
	return nil
}

// StartRecording begins DVR archival for this rendition's connection.
func (p *Publisher) StartRecording(id string) {
	p.recordingID = &id
}

// wireManifest is the bus payload: the manifest snapshot plus the
// rendition name it belongs to, so a subscriber listening across an
// entire connection can route by rendition without decoding first. It is
// encoded with protowire (wire.go) rather than a generated proto.Message,
// since no protoc run is available here; protowire is google.golang.org/
// protobuf's own low-level encoder, so the bytes on the bus are real
// protobuf wire format, not a JSON substitution.
type wireManifest struct {
	Rendition string
	Manifest  *track.Manifest
}

// EncodeManifest renders one rendition's manifest snapshot as a
// varint-length-prefixed protobuf message, per spec.md §6's "length-prefixed
// protobuf" bus payload.
func EncodeManifest(rendition string, snapshot *track.Manifest) []byte {
	body := encodeEnvelope(wireManifest{Rendition: rendition, Manifest: snapshot})
	out := protowire.AppendVarint(nil, uint64(len(body)))
	return append(out, body...)
}

// DecodeManifest parses a payload EncodeManifest produced, returning the
// rendition name and the rehydrated manifest snapshot.
func DecodeManifest(payload []byte) (string, *track.Manifest, error) {
	length, n := protowire.ConsumeVarint(payload)
	if n < 0 {
		return "", nil, fmt.Errorf("manifest: decode: bad length prefix: %w", protowire.ParseError(n))
	}
	body := payload[n:]
	if uint64(len(body)) < length {
		return "", nil, fmt.Errorf("manifest: decode: truncated payload: want %d bytes, have %d", length, len(body))
	}
	w, err := decodeEnvelope(body[:length])
	if err != nil {
		return "", nil, err
	}
	return w.Rendition, w.Manifest, nil
}

func segmentAndPartIdx(snapshot *track.Manifest, partIdx uint32) (uint32, uint32) {
	for _, seg := range snapshot.Segments {
		for _, p := range seg.Parts {
			if p.Idx == partIdx {
				return seg.Idx, p.Idx
			}
		}
	}
	return snapshot.Cursor.NextSegmentIdx, partIdx
}
