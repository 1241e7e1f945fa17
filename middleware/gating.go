package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	catErrs "github.com/livepeer/catalyst-api/errors"
	"github.com/livepeer/catalyst-api/edge"
	"github.com/livepeer/catalyst-api/log"
	"github.com/livepeer/catalyst-api/requests"
	"github.com/livepeer/catalyst-api/token"
)

// gatingContextKey is unexported so only GatingCheck's own context values
// round-trip through it; SessionFromContext is the only way to read one.
type gatingContextKey struct{}

// GatingHandler verifies the HS256 Session token the edge playlist
// generator issued (see token.Signer.VerifySession) and attaches the
// resulting edge.Session to the request context, denying any request whose
// token fails verification (bad signature or expired). A request with no
// token passes through unauthenticated, and the token's rendition claim is
// not compared with the requested rendition.
type GatingHandler struct {
	signer *token.Signer
}

func NewGatingHandler(signer *token.Signer) *GatingHandler {
	return &GatingHandler{signer: signer}
}

// SessionFromContext returns the edge.Session GatingCheck attached, or the
// zero Session (Authenticated=false) if none was attached - the unauthenticated,
// DVR-only path spec.md 4.5 step 2 describes.
func SessionFromContext(ctx context.Context) edge.Session {
	if sess, ok := ctx.Value(gatingContextKey{}).(edge.Session); ok {
		return sess
	}
	return edge.Session{}
}

func (h *GatingHandler) GatingCheck(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		requestID := requests.GetRequestId(req)

		tok := req.URL.Query().Get("token")
		if tok == "" {
			if auth := req.Header.Get("Authorization"); auth != "" {
				tok = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if tok == "" {
			// No token at all is allowed through unauthenticated - edge.Build
			// still serves the public DVR range, just none of the live window.
			next(w, req, params)
			return
		}

		claims, err := h.signer.VerifySession(tok)
		if err != nil {
			log.LogError(requestID, "session token rejected", err, "playbackID", params.ByName("playbackID"))
			deny(params.ByName("file"), w)
			return
		}

		sess := edge.Session{
			Organization:  claims.Organization,
			ConnectionID:  claims.ConnectionID,
			Authenticated: true,
		}
		ctx := context.WithValue(req.Context(), gatingContextKey{}, sess)
		next(w, req.WithContext(ctx), params)
	}
}

func deny(requestFile string, w http.ResponseWriter) {
	if !strings.HasSuffix(requestFile, ".m3u8") {
		catErrs.WriteHTTPUnauthorized(w, "unauthorised", nil)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, err := w.Write([]byte("#EXTM3U\n#EXT-X-ERROR: Shutting down since this session is not allowed to view this stream\n#EXT-X-ENDLIST\n"))
	if err != nil {
		log.LogNoRequestID("error writing HTTP error", "error", err)
	}
}
