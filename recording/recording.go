// Package recording is the relational-store repository backing DVR:
// recordings, their per-rendition segments, thumbnails, and single-use
// session-token revocations. Grounded on the teacher's own
// database/sql + lib/pq usage (handlers/analytics/user_end.go): plain
// parameterized SQL via database/sql, no ORM, matching the rest of the
// module's ambient stack.
package recording

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/oklog/ulid/v2"
)

// ErrTokenAlreadyUsed is returned by ConsumeSessionToken when the token's id
// has already been recorded as spent.
var ErrTokenAlreadyUsed = errors.New("recording: session token already used")

// Store wraps a *sql.DB with the queries the Rendition Manifest Publisher,
// the Edge Playlist Generator, and token verification need.
type Store struct {
	db *sql.DB
}

// New wraps an already-opened database handle (opened with
// sql.Open("postgres", ...) and the lib/pq driver registered via blank
// import, as the teacher's main.go does).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Recording is one DVR recording's top-level row.
type Recording struct {
	ID        ulid.ULID
	Room      string
	CreatedAt int64
}

// RecordingHeader is the subset of a recording row the Edge Playlist
// Generator needs to decide whether DVR may be disclosed to an
// unauthenticated viewer: spec.md 4.5 step 2's "visibility = public OR
// was_authenticated" check.
type RecordingHeader struct {
	ID         ulid.ULID
	Room       string
	PublicURL  string
	Visibility string
}

// InsertRecording creates a new recording row and returns its ID.
func (s *Store) InsertRecording(ctx context.Context, room, publicURL, visibility string, createdAtMS int64) (ulid.ULID, error) {
	id := ulid.Make()
	_, err := s.db.ExecContext(ctx,
		`insert into "recordings" ("id", "room", "public_url", "visibility", "created_at_ms") values ($1, $2, $3, $4, $5)`,
		id.String(), room, publicURL, visibility, createdAtMS,
	)
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("recording: insert recording: %w", err)
	}
	return id, nil
}

// GetRecordingHeader loads the visibility/public-URL row the Edge Playlist
// Generator's DVR-enrichment step needs.
func (s *Store) GetRecordingHeader(ctx context.Context, recordingID ulid.ULID) (*RecordingHeader, error) {
	h := &RecordingHeader{ID: recordingID}
	err := s.db.QueryRowContext(ctx,
		`select "room", "public_url", "visibility" from "recordings" where "id" = $1`,
		recordingID.String(),
	).Scan(&h.Room, &h.PublicURL, &h.Visibility)
	if err != nil {
		return nil, fmt.Errorf("recording: get recording header: %w", err)
	}
	return h, nil
}

// RenditionSegmentRow is one archived Segment as recorded by
// InsertRenditionSegment, read back for DVR playlist rendering.
type RenditionSegmentRow struct {
	Idx        uint32
	ID         ulid.ULID
	DurationMS int64
	ObjectPath string
}

// ListRenditionSegments loads every archived Segment for one recording's
// rendition, ordered by idx, for the Edge Playlist Generator's DVR range
// (spec.md 4.5 step 3).
func (s *Store) ListRenditionSegments(ctx context.Context, recordingID ulid.ULID, rendition string) ([]RenditionSegmentRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`select "segment_idx", "segment_id", "duration_ms", "object_path"
			from "recording_rendition_segments"
			where "recording_id" = $1 and "rendition" = $2
			order by "segment_idx" asc`,
		recordingID.String(), rendition,
	)
	if err != nil {
		return nil, fmt.Errorf("recording: list rendition segments: %w", err)
	}
	defer rows.Close()

	var out []RenditionSegmentRow
	for rows.Next() {
		var r RenditionSegmentRow
		var idStr string
		if err := rows.Scan(&r.Idx, &idStr, &r.DurationMS, &r.ObjectPath); err != nil {
			return nil, fmt.Errorf("recording: scan rendition segment: %w", err)
		}
		id, err := ulid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("recording: parse segment id %q: %w", idStr, err)
		}
		r.ID = id
		out = append(out, r)
	}
	return out, rows.Err()
}

// ThumbnailRow is one archived thumbnail, read back for DVR playlist
// rendering.
type ThumbnailRow struct {
	TimestampMS int64
	ObjectPath  string
}

// ListThumbnails loads every thumbnail recorded for one recording, ordered
// by timestamp.
func (s *Store) ListThumbnails(ctx context.Context, recordingID ulid.ULID) ([]ThumbnailRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`select "timestamp_ms", "object_path" from "recording_thumbnails"
			where "recording_id" = $1 order by "timestamp_ms" asc`,
		recordingID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("recording: list thumbnails: %w", err)
	}
	defer rows.Close()

	var out []ThumbnailRow
	for rows.Next() {
		var r ThumbnailRow
		if err := rows.Scan(&r.TimestampMS, &r.ObjectPath); err != nil {
			return nil, fmt.Errorf("recording: scan thumbnail: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertRenditionSegment records one evicted, sealed Segment's archival
// location for a recording's rendition, inside a transaction that the
// caller (manifest.Publisher) drives alongside any sibling writes so the
// row and the object-store upload it describes stay consistent.
func (s *Store) InsertRenditionSegment(ctx context.Context, tx *sql.Tx, recordingID ulid.ULID, rendition string, segmentIdx uint32, segmentID ulid.ULID, durationMS int64, objectPath string) error {
	_, err := tx.ExecContext(ctx,
		`insert into "recording_rendition_segments"
			("recording_id", "rendition", "segment_idx", "segment_id", "duration_ms", "object_path")
			values ($1, $2, $3, $4, $5, $6)`,
		recordingID.String(), rendition, segmentIdx, segmentID.String(), durationMS, objectPath,
	)
	if err != nil {
		return fmt.Errorf("recording: insert rendition segment: %w", err)
	}
	return nil
}

// InsertThumbnail records a generated thumbnail's object path for a
// recording.
func (s *Store) InsertThumbnail(ctx context.Context, tx *sql.Tx, recordingID ulid.ULID, timestampMS int64, objectPath string) error {
	_, err := tx.ExecContext(ctx,
		`insert into "recording_thumbnails" ("recording_id", "timestamp_ms", "object_path") values ($1, $2, $3)`,
		recordingID.String(), timestampMS, objectPath,
	)
	if err != nil {
		return fmt.Errorf("recording: insert thumbnail: %w", err)
	}
	return nil
}

// BeginTx starts a transaction for the caller to batch a Segment's
// rendition-segment row and any thumbnail rows produced at the same
// retention-eviction point, matching spec.md's "one relational transaction"
// requirement.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// ConsumeSessionToken records a single-use PlaybackKey id as spent.
//
// Exactly one of ssoID or userID is expected to be set, matching every
// observed call site; a token carrying only user_id is NOT treated as
// idempotent-consumable here - every attempt inserts a fresh row, and a
// second attempt with the same id hits the unique constraint and is
// reported as ErrTokenAlreadyUsed, same as the sso_id case. This was an
// open question with no deciding precedent in the call sites examined, so
// the single-use family's existing all-or-nothing semantics are kept.
func (s *Store) ConsumeSessionToken(ctx context.Context, id ulid.ULID, ssoID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`insert into "session_token_revokes" ("id", "sso_id", "user_id") values ($1, $2, $3)`,
		id.String(), nullIfEmpty(ssoID), nullIfEmpty(userID),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrTokenAlreadyUsed
		}
		return fmt.Errorf("recording: consume session token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether id has already been recorded as spent,
// without attempting to spend it. Nothing in this module calls it: the edge's
// GatingHandler checks a session token's signature and expiry only.
func (s *Store) IsTokenRevoked(ctx context.Context, id ulid.ULID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from "session_token_revokes" where "id" = $1)`,
		id.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("recording: check token revoked: %w", err)
	}
	return exists, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
