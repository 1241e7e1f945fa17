package middleware

import (
	"net/http"
	"sync/atomic"

	"github.com/julienschmidt/httprouter"
	"github.com/livepeer/catalyst-api/metrics"
)

// CapacityMiddleware bounds how many concurrent requests a node will accept
// before answering with 429 rather than degrading every stream it already
// carries. cmd/ingest wires it around its /sysinfo status endpoint (its RTMP
// accept loop bounds sessions with its own channel semaphore); cmd/edge wires
// it around every playlist and media route.
type CapacityMiddleware struct {
	requestsInFlight atomic.Int64
}

// HasCapacity rejects a request once requestsInFlight would exceed max.
// max <= 0 means unlimited.
func (c *CapacityMiddleware) HasCapacity(max int, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		metrics.Metrics.HTTPRequestsInFlight.Add(1)
		defer metrics.Metrics.HTTPRequestsInFlight.Add(-1)

		inFlight := c.requestsInFlight.Add(1)
		defer c.requestsInFlight.Add(-1)

		if max > 0 && int(inFlight) > max {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		next(w, r, ps)
	}
}
