package batcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalCoalescesConcurrentCallsIntoOneBatch(t *testing.T) {
	var batchCalls int32
	var mu sync.Mutex
	var seenKeys [][]int

	fn := func(ctx context.Context, keys []int) ([]Result[int], error) {
		atomic.AddInt32(&batchCalls, 1)
		mu.Lock()
		seenKeys = append(seenKeys, append([]int{}, keys...))
		mu.Unlock()
		out := make([]Result[int], len(keys))
		for i, k := range keys {
			out[i] = Result[int]{Value: k * 2}
		}
		return out, nil
	}

	n := NewNormal(Config{MaxBatchSize: 10, SleepDuration: 50 * time.Millisecond, MaxConcurrent: 2}, fn)

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := n.Load(context.Background(), i)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	for i, v := range results {
		require.Equal(t, i*2, v)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&batchCalls))
}

func TestNormalDispatchesEarlyOnFullBatch(t *testing.T) {
	var batchCalls int32
	fn := func(ctx context.Context, keys []int) ([]Result[int], error) {
		atomic.AddInt32(&batchCalls, 1)
		out := make([]Result[int], len(keys))
		for i, k := range keys {
			out[i] = Result[int]{Value: k}
		}
		return out, nil
	}

	n := NewNormal(Config{MaxBatchSize: 2, SleepDuration: time.Hour, MaxConcurrent: 1}, fn)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := n.Load(context.Background(), i)
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()
	require.Equal(t, int32(1), atomic.LoadInt32(&batchCalls))
}

func TestDataloaderDedupesSameKeyInFlight(t *testing.T) {
	var batchCalls int32
	started := make(chan struct{})
	release := make(chan struct{})

	fn := func(ctx context.Context, keys []string) ([]Result[string], error) {
		atomic.AddInt32(&batchCalls, 1)
		close(started)
		<-release
		out := make([]Result[string], len(keys))
		for i, k := range keys {
			out[i] = Result[string]{Value: "v-" + k}
		}
		return out, nil
	}

	d := NewDataloader(Config{MaxBatchSize: 10, SleepDuration: time.Millisecond, MaxConcurrent: 1}, fn)

	var wg sync.WaitGroup
	results := make([]string, 3)
	errs := make([]error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := d.Load(context.Background(), "a")
		results[0], errs[0] = v, err
	}()
	<-started

	for i := 1; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := d.Load(context.Background(), "a")
			results[i], errs[i] = v, err
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < 3; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "v-a", results[i])
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&batchCalls))
}

func TestCoalescerPropagatesBatchError(t *testing.T) {
	wantErr := context.DeadlineExceeded
	fn := func(ctx context.Context, keys []int) ([]Result[int], error) {
		return nil, wantErr
	}
	n := NewNormal(Config{MaxBatchSize: 10, SleepDuration: time.Millisecond, MaxConcurrent: 1}, fn)

	_, err := n.Load(context.Background(), 1)
	require.ErrorIs(t, err, wantErr)
}
