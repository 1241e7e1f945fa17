package token

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T) (*ecdsa.PrivateKey, *ecdsa.PublicKey) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	return priv, &priv.PublicKey
}

func signPlaybackKey(t *testing.T, priv *ecdsa.PrivateKey, iat time.Time, target string) string {
	t.Helper()
	claims := PlaybackKeyClaims{
		RegisteredClaims: jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(iat)},
		Organization:     "org1",
		Target:           target,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodES384, claims).SignedString(priv)
	require.NoError(t, err)
	return tok
}

func TestParsePlaybackKeyAcceptsFreshIat(t *testing.T) {
	priv, pub := mustKey(t)
	now := time.Now()
	tok := signPlaybackKey(t, priv, now.Add(-1*time.Minute), "room1")

	claims, err := ParsePlaybackKey(tok, pub, now)
	require.NoError(t, err)
	require.Equal(t, "room1", claims.Target)
}

func TestParsePlaybackKeyRejectsStaleIat(t *testing.T) {
	priv, pub := mustKey(t)
	now := time.Now()
	tok := signPlaybackKey(t, priv, now.Add(-10*time.Minute), "room1")

	_, err := ParsePlaybackKey(tok, pub, now)
	require.ErrorIs(t, err, ErrExpiredIat)
}

func TestParsePlaybackKeyRejectsFutureIat(t *testing.T) {
	priv, pub := mustKey(t)
	now := time.Now()
	tok := signPlaybackKey(t, priv, now.Add(1*time.Minute), "room1")

	_, err := ParsePlaybackKey(tok, pub, now)
	require.ErrorIs(t, err, ErrFutureIat)
}

func TestParsePlaybackKeyRejectsWrongKey(t *testing.T) {
	priv, _ := mustKey(t)
	_, otherPub := mustKey(t)
	now := time.Now()
	tok := signPlaybackKey(t, priv, now, "room1")

	_, err := ParsePlaybackKey(tok, otherPub, now)
	require.Error(t, err)
}

func TestMediaTokenRoundTrip(t *testing.T) {
	s := NewSigner([]byte("secret"), time.Minute)
	partIdx := uint32(4)

	tok, err := s.SignMedia("org1", "", "", "conn1", "720p0", MediaTarget{Part: &partIdx})
	require.NoError(t, err)

	claims, err := s.VerifyMedia(tok, "720p0", MediaTarget{Part: &partIdx})
	require.NoError(t, err)
	require.Equal(t, "conn1", claims.ConnectionID)
}

func TestMediaTokenRejectsTargetMismatch(t *testing.T) {
	s := NewSigner([]byte("secret"), time.Minute)
	partIdx := uint32(4)
	other := uint32(5)

	tok, err := s.SignMedia("org1", "", "", "conn1", "720p0", MediaTarget{Part: &partIdx})
	require.NoError(t, err)

	_, err = s.VerifyMedia(tok, "720p0", MediaTarget{Part: &other})
	require.Error(t, err)
}

func TestMediaTokenRejectsRenditionMismatch(t *testing.T) {
	s := NewSigner([]byte("secret"), time.Minute)

	tok, err := s.SignMedia("org1", "", "", "conn1", "720p0", MediaTarget{Init: true})
	require.NoError(t, err)

	_, err = s.VerifyMedia(tok, "1080p0", MediaTarget{Init: true})
	require.Error(t, err)
}

func TestSessionAndScreenshotTokensRoundTrip(t *testing.T) {
	s := NewSigner([]byte("secret"), time.Minute)

	sessTok, err := s.SignSession("org1", "conn1", "720p0")
	require.NoError(t, err)
	sessClaims, err := s.VerifySession(sessTok)
	require.NoError(t, err)
	require.Equal(t, "conn1", sessClaims.ConnectionID)

	shotTok, err := s.SignScreenshot("org1", "room1", 1234)
	require.NoError(t, err)
	shotClaims, err := s.VerifyScreenshot(shotTok)
	require.NoError(t, err)
	require.Equal(t, int64(1234), shotClaims.TimestampMS)
}

func TestMediaTokenRejectsWrongSecret(t *testing.T) {
	s1 := NewSigner([]byte("secret1"), time.Minute)
	s2 := NewSigner([]byte("secret2"), time.Minute)

	tok, err := s1.SignMedia("org1", "", "", "conn1", "720p0", MediaTarget{Init: true})
	require.NoError(t, err)

	_, err = s2.VerifyMedia(tok, "720p0", MediaTarget{Init: true})
	require.Error(t, err)
}
