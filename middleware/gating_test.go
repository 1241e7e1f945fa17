package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/livepeer/catalyst-api/token"
	"github.com/stretchr/testify/require"
)

func TestGatingCheckAllowsNoToken(t *testing.T) {
	h := NewGatingHandler(token.NewSigner([]byte("secret"), time.Hour))
	called := false
	handle := h.GatingCheck(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		called = true
		sess := SessionFromContext(r.Context())
		require.False(t, sess.Authenticated)
	})

	rr := httptest.NewRecorder()
	handle(rr, httptest.NewRequest(http.MethodGet, "/index.m3u8", nil), nil)
	require.True(t, called)
}

func TestGatingCheckAttachesSessionForValidToken(t *testing.T) {
	signer := token.NewSigner([]byte("secret"), time.Hour)
	tok, err := signer.SignSession("my-org", "conn-1", "720p0")
	require.NoError(t, err)

	h := NewGatingHandler(signer)
	handle := h.GatingCheck(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		sess := SessionFromContext(r.Context())
		require.True(t, sess.Authenticated)
		require.Equal(t, "my-org", sess.Organization)
		require.Equal(t, "conn-1", sess.ConnectionID)
	})

	req := httptest.NewRequest(http.MethodGet, "/index.m3u8?token="+tok, nil)
	rr := httptest.NewRecorder()
	handle(rr, req, nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestGatingCheckDeniesInvalidTokenWithEndlist(t *testing.T) {
	h := NewGatingHandler(token.NewSigner([]byte("secret"), time.Hour))
	handle := h.GatingCheck(func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		t.Fatal("next should not be called")
	})

	req := httptest.NewRequest(http.MethodGet, "/index.m3u8?token=garbage", nil)
	rr := httptest.NewRecorder()
	handle(rr, req, httprouter.Params{{Key: "file", Value: "index.m3u8"}})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "#EXT-X-ENDLIST")
}
