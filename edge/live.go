package edge

import (
	"sync"
	"time"

	"github.com/livepeer/catalyst-api/track"
)

// LiveState holds the latest published Manifest snapshot for one
// rendition and lets a playlist request block until a newer one arrives,
// the same sync.Cond-based wait muxerVariantFMP4Playlist.playlistReader
// uses - adapted here with a bounded wait instead of an unbounded one,
// since spec.md's blocking reload is capped at server_control.hold_back
// rather than waiting until the stream closes.
type LiveState struct {
	mu       sync.Mutex
	cond     *sync.Cond
	snapshot *track.Manifest
	closed   bool
}

// NewLiveState builds an empty LiveState; call Update once a snapshot is
// first available.
func NewLiveState() *LiveState {
	s := &LiveState{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Update publishes a fresh snapshot and wakes any blocked readers.
func (s *LiveState) Update(m *track.Manifest) {
	s.mu.Lock()
	s.snapshot = m
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Close unblocks every waiter permanently, e.g. when the connection ends.
func (s *LiveState) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// currentMSN is the idx of the newest segment a snapshot carries, the one
// still receiving Parts, i.e. the first not-yet-started segment's idx minus one.
func currentMSN(m *track.Manifest) uint32 {
	if m == nil || m.Cursor.NextSegmentIdx == 0 {
		return 0
	}
	return m.Cursor.NextSegmentIdx - 1
}

// Snapshot returns the current manifest immediately if wantMSN is nil (no
// _HLS_msn was requested). Otherwise it blocks until a snapshot with
// msn >= *wantMSN is published or holdBack elapses, whichever comes first,
// then returns whatever snapshot is current at that point - per spec.md's
// "on timeout returns the current state".
func (s *LiveState) Snapshot(wantMSN *uint32, holdBack time.Duration) *track.Manifest {
	if wantMSN == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.snapshot
	}

	deadline := time.Now().Add(holdBack)
	timer := time.AfterFunc(holdBack, s.cond.Broadcast)
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.closed && currentMSN(s.snapshot) < *wantMSN && time.Now().Before(deadline) {
		s.cond.Wait()
	}
	return s.snapshot
}
