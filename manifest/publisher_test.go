package manifest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/livepeer/catalyst-api/track"
)

type fakeStore struct {
	init  []byte
	parts map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{parts: map[string][]byte{}} }

func (f *fakeStore) PutInit(ctx context.Context, data []byte) error {
	f.init = data
	return nil
}

func (f *fakeStore) PutPart(ctx context.Context, segmentIdx, partIdx uint32, data []byte) error {
	f.parts[key(segmentIdx, partIdx)] = data
	return nil
}

func key(seg, part uint32) string {
	return string(rune(seg)) + "/" + string(rune(part))
}

type fakeBus struct {
	published []string
}

func (f *fakeBus) PublishManifest(connectionID, rendition, dedupeKey string, payload []byte) error {
	f.published = append(f.published, dedupeKey)
	return nil
}

func TestPublishInitWritesToStore(t *testing.T) {
	store := newFakeStore()
	b := &fakeBus{}
	p := New("conn1", "720p0", store, b, nil)

	require.NoError(t, p.PublishInit(context.Background(), []byte("ftypmoov")))
	require.Equal(t, []byte("ftypmoov"), store.init)
}

func TestPublishPartsWritesEachPartAndPublishesOnce(t *testing.T) {
	store := newFakeStore()
	b := &fakeBus{}
	p := New("conn1", "720p0", store, b, nil)

	snapshot := &track.Manifest{
		Segments: []track.SegmentInfo{
			{Idx: 0, Parts: []track.PartInfo{{Idx: 0}, {Idx: 1}}},
		},
	}
	parts := []track.Part{{Idx: 0, Data: []byte("a")}, {Idx: 1, Data: []byte("b")}}

	require.NoError(t, p.PublishParts(context.Background(), parts, snapshot))
	require.Len(t, store.parts, 2)
	require.Len(t, b.published, 1)
}

func TestPublishEvictionNoOpWithoutRecording(t *testing.T) {
	p := New("conn1", "720p0", newFakeStore(), &fakeBus{}, nil)
	err := p.PublishEviction(context.Background(), []*track.Segment{{Idx: 0}}, nil)
	require.NoError(t, err)
}

func TestPublishEvictionNoOpWithoutStartedRecording(t *testing.T) {
	p := New("conn1", "720p0", newFakeStore(), &fakeBus{}, &nilRecordingStore{})
	err := p.PublishEviction(context.Background(), []*track.Segment{{Idx: 0, ID: ulid.Make()}}, nil)
	require.NoError(t, err)
}

// nilRecordingStore exists only to prove PublishEviction short-circuits
// before touching RecordingStore when no recording has been started; it's
// never actually invoked.
type nilRecordingStore struct{}

func (nilRecordingStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	panic("BeginTx should not be called before StartRecording")
}
func (nilRecordingStore) InsertRenditionSegment(ctx context.Context, tx *sql.Tx, recordingID ulid.ULID, rendition string, segmentIdx uint32, segmentID ulid.ULID, durationMS int64, objectPath string) error {
	panic("unused")
}
func (nilRecordingStore) InsertThumbnail(ctx context.Context, tx *sql.Tx, recordingID ulid.ULID, timestampMS int64, objectPath string) error {
	panic("unused")
}
