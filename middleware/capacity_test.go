package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
)

func TestHasCapacityAllowsRequestsUnderLimit(t *testing.T) {
	c := &CapacityMiddleware{}
	h := c.HasCapacity(2, func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestHasCapacityRejectsOverLimit(t *testing.T) {
	c := &CapacityMiddleware{}
	block := make(chan struct{})
	started := make(chan struct{}, 2)
	h := c.HasCapacity(1, func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		started <- struct{}{}
		<-block
		w.WriteHeader(http.StatusOK)
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	}()
	<-started

	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)

	close(block)
	wg.Wait()
}

func TestHasCapacityUnlimitedWhenMaxIsZero(t *testing.T) {
	c := &CapacityMiddleware{}
	h := c.HasCapacity(0, func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest(http.MethodGet, "/", nil), nil)
		require.Equal(t, http.StatusOK, rr.Code)
	}
}
