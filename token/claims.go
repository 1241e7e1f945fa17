// Package token implements the two JWT families guarding playback:
// caller-signed PlaybackKey tokens (ES384, verified against an org's public
// key) that establish a session, and server-signed Session/Media/Screenshot
// tokens (HS256) that authorize one specific playback target. Built on
// golang-jwt/v4, matching the teacher's own dependency for claim handling.
package token

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/oklog/ulid/v2"
)

// ErrExpiredIat is returned when a PlaybackKey's iat is older than the
// replay window.
var ErrExpiredIat = errors.New("token: iat outside accepted window")

// ErrFutureIat is returned when a PlaybackKey's iat is in the future.
var ErrFutureIat = errors.New("token: iat in the future")

// ReplayWindow bounds how old a PlaybackKey's iat may be.
const ReplayWindow = 5 * time.Minute

// PlaybackKeyClaims binds a caller-signed session to an organization and a
// target stream, with an optional single-use id consumed via
// recording.ConsumeSessionToken and an optional user_id for attribution.
type PlaybackKeyClaims struct {
	jwt.RegisteredClaims

	Organization string `json:"organization"`
	Target       string `json:"target"`
	ID           string `json:"id,omitempty"`
	UserID       string `json:"user_id,omitempty"`
}

// ParsePlaybackKey verifies tok's ES384 signature against pub and checks the
// iat replay window. now is injected for testability.
func ParsePlaybackKey(tok string, pub *ecdsa.PublicKey, now time.Time) (*PlaybackKeyClaims, error) {
	claims := &PlaybackKeyClaims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok || t.Method.Alg() != jwt.SigningMethodES384.Alg() {
			return nil, fmt.Errorf("token: unexpected signing method %v", t.Header["alg"])
		}
		return pub, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token: parse playback key: %w", err)
	}

	if claims.IssuedAt == nil {
		return nil, fmt.Errorf("token: missing iat")
	}
	iat := claims.IssuedAt.Time
	if now.Sub(iat) > ReplayWindow {
		return nil, ErrExpiredIat
	}
	if iat.After(now) {
		return nil, ErrFutureIat
	}

	return claims, nil
}

// MediaTarget identifies which media object a Session/Media/Screenshot
// token authorizes: exactly one of Init, Part, or Segment is set.
type MediaTarget struct {
	Init    bool
	Part    *uint32
	Segment *uint32
}

func (t MediaTarget) String() string {
	switch {
	case t.Init:
		return "init"
	case t.Part != nil:
		return fmt.Sprintf("part:%d", *t.Part)
	case t.Segment != nil:
		return fmt.Sprintf("segment:%d", *t.Segment)
	default:
		return "none"
	}
}

// SessionClaims authorizes one live connection's access to a rendition's
// playlist; it carries no single media target.
type SessionClaims struct {
	jwt.RegisteredClaims

	Organization string `json:"organization"`
	ConnectionID string `json:"connection_id"`
	Rendition    string `json:"rendition"`
}

// MediaClaims authorizes one specific Init/Part/Segment object.
type MediaClaims struct {
	jwt.RegisteredClaims

	Organization string `json:"organization"`
	Room         string `json:"room,omitempty"`
	Recording    string `json:"recording,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
	Rendition    string `json:"rendition"`

	Init    bool    `json:"init,omitempty"`
	Part    *uint32 `json:"part,omitempty"`
	Segment *uint32 `json:"segment,omitempty"`
}

// Target reconstructs the MediaTarget this claim authorizes.
func (c MediaClaims) Target() MediaTarget {
	return MediaTarget{Init: c.Init, Part: c.Part, Segment: c.Segment}
}

// ScreenshotClaims authorizes a single JPEG screenshot fetch at a given
// media timestamp; modeled separately from MediaClaims since screenshots
// aren't part of the CMAF track timeline.
type ScreenshotClaims struct {
	jwt.RegisteredClaims

	Organization string `json:"organization"`
	Room         string `json:"room"`
	TimestampMS  int64  `json:"timestamp_ms"`
}

// Signer mints server-signed Session/Media/Screenshot tokens with HS256.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner builds a Signer using secret as the HS256 key and ttl as every
// minted token's expiry horizon.
func NewSigner(secret []byte, ttl time.Duration) *Signer {
	return &Signer{secret: secret, ttl: ttl}
}

func (s *Signer) registered(id string) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
}

// SignSession mints a SessionClaims token for one live connection watching
// one rendition.
func (s *Signer) SignSession(organization, connectionID, rendition string) (string, error) {
	claims := SessionClaims{
		RegisteredClaims: s.registered(ulid.Make().String()),
		Organization:     organization,
		ConnectionID:     connectionID,
		Rendition:        rendition,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// SignMedia mints a MediaClaims token for exactly one Init/Part/Segment
// target on a rendition.
func (s *Signer) SignMedia(organization, room, recording, connectionID, rendition string, target MediaTarget) (string, error) {
	claims := MediaClaims{
		RegisteredClaims: s.registered(ulid.Make().String()),
		Organization:     organization,
		Room:             room,
		Recording:        recording,
		ConnectionID:     connectionID,
		Rendition:        rendition,
		Init:             target.Init,
		Part:             target.Part,
		Segment:          target.Segment,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// SignScreenshot mints a ScreenshotClaims token for one room/timestamp pair.
func (s *Signer) SignScreenshot(organization, room string, timestampMS int64) (string, error) {
	claims := ScreenshotClaims{
		RegisteredClaims: s.registered(ulid.Make().String()),
		Organization:     organization,
		Room:             room,
		TimestampMS:      timestampMS,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Signer) parse(tok string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("token: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	return err
}

// VerifyMedia parses and validates a MediaClaims token, then checks that the
// URL-path-derived target matches the embedded target byte-for-byte, per the
// spec's requirement that verification bind the token to its exact path.
func (s *Signer) VerifyMedia(tok, wantRendition string, want MediaTarget) (*MediaClaims, error) {
	claims := &MediaClaims{}
	if err := s.parse(tok, claims); err != nil {
		return nil, fmt.Errorf("token: verify media: %w", err)
	}
	if claims.Rendition != wantRendition {
		return nil, fmt.Errorf("token: rendition mismatch: token=%s path=%s", claims.Rendition, wantRendition)
	}
	if claims.Target().String() != want.String() {
		return nil, fmt.Errorf("token: target mismatch: token=%s path=%s", claims.Target(), want)
	}
	return claims, nil
}

// VerifySession parses and validates a SessionClaims token.
func (s *Signer) VerifySession(tok string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := s.parse(tok, claims); err != nil {
		return nil, fmt.Errorf("token: verify session: %w", err)
	}
	return claims, nil
}

// VerifyScreenshot parses and validates a ScreenshotClaims token.
func (s *Signer) VerifyScreenshot(tok string) (*ScreenshotClaims, error) {
	claims := &ScreenshotClaims{}
	if err := s.parse(tok, claims); err != nil {
		return nil, fmt.Errorf("token: verify screenshot: %w", err)
	}
	return claims, nil
}
