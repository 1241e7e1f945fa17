package config

import "time"

var Version string

// Used so that request IDs and JWT expiry checks can be pinned in tests.
var Clock TimestampGenerator = RealTimestampGenerator{}

// DefaultBreakpointDuration is the target Segment duration the Track State
// Engine cuts a discontinuity-free rendition at absent an independent-frame
// boundary forcing an earlier cut.
const DefaultBreakpointDuration = 6 * time.Second

// DefaultPartDuration is the target LL-HLS Part duration within a Segment.
const DefaultPartDuration = 1 * time.Second

// DefaultHoldBackParts is how many trailing Parts the Edge Playlist
// Generator's blocking-reload long poll will wait for before giving up and
// serving whatever's current.
const DefaultHoldBackParts = 3

// DefaultRetainSegments is how many sealed Segments a rendition keeps in
// memory (and, for blocking reloads, available to late joiners) before the
// oldest is evicted to the recording store.
const DefaultRetainSegments = 12

// DefaultManifestDedupeWindow bounds how long the bus will suppress a
// redelivered manifest snapshot carrying the same dedupe key.
const DefaultManifestDedupeWindow = 30 * time.Second

// DefaultMediaTokenTTL is how long a signed Session/Media/Screenshot token
// stays valid, long enough to outlive a DVR-eligible recording's realistic
// playback session.
const DefaultMediaTokenTTL = 24 * time.Hour
