package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderCache_MissThenHit(t *testing.T) {
	var loads atomic.Int32

	c, err := NewLoaderCache[[]float32](4)
	require.NoError(t, err)

	load := func(context.Context) ([]float32, error) {
		loads.Add(1)

		return []float32{1, 2}, nil
	}

	v, hit, err := c.Get(context.Background(), "clarys", load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []float32{1, 2}, v)

	v, hit, err = c.Get(context.Background(), "clarys", load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []float32{1, 2}, v)
	assert.Equal(t, int32(1), loads.Load())
}

func TestLoaderCache_ConcurrentMissesShareResult(t *testing.T) {
	var loads atomic.Int32

	c, err := NewLoaderCache[int](4)
	require.NoError(t, err)

	release := make(chan struct{})
	load := func(context.Context) (int, error) {
		loads.Add(1)
		<-release

		return 42, nil
	}

	var wg sync.WaitGroup

	results := make([]int, 8)
	for i := range results {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			v, _, err := c.Get(context.Background(), "k", load)
			assert.NoError(t, err)

			results[i] = v
		}(i)
	}

	close(release)
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, 42, v)
	}

	assert.GreaterOrEqual(t, loads.Load(), int32(1))
	assert.LessOrEqual(t, loads.Load(), int32(len(results)))
}

func TestLoaderCache_LoadErrorNotCached(t *testing.T) {
	c, err := NewLoaderCache[string](4)
	require.NoError(t, err)

	boom := errors.New("upstream down")

	_, _, err = c.Get(context.Background(), "k", func(context.Context) (string, error) { return "", boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	v, hit, err := c.Get(context.Background(), "k", func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "ok", v)
}

func TestLoaderCache_WaiterHonoursContext(t *testing.T) {
	c, err := NewLoaderCache[string](4)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _, _ = c.Get(context.Background(), "k", func(context.Context) (string, error) {
			close(started)
			<-release

			return "v", nil
		})
	}()

	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = c.Get(ctx, "k", func(context.Context) (string, error) { return "other", nil })
	require.ErrorIs(t, err, context.Canceled)

	close(release)
}

func TestLoaderCache_CancelledCallerDoesNotFailOthers(t *testing.T) {
	c, err := NewLoaderCache[string](4)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	loadErr := make(chan error, 1)

	load := func(ctx context.Context) (string, error) {
		close(started)

		select {
		case <-ctx.Done():
			loadErr <- ctx.Err()

			return "", ctx.Err()
		case <-release:
			loadErr <- nil

			return "vector", nil
		}
	}

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)

	go func() {
		_, _, err := c.Get(first, "clarys", load)
		firstErr <- err
	}()

	<-started

	type result struct {
		v   string
		err error
	}

	second := make(chan result, 1)

	go func() {
		v, _, err := c.Get(context.Background(), "clarys", func(context.Context) (string, error) {
			return "", errors.New("second load must not run")
		})
		second <- result{v: v, err: err}
	}()

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)

	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "vector", got.v)
	require.NoError(t, <-loadErr)

	v, hit, err := c.Get(context.Background(), "clarys", load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "vector", v)
}

func TestLoaderCache_LoadTimeout(t *testing.T) {
	c, err := NewLoaderCache[string](4, WithLoadTimeout(20*time.Millisecond))
	require.NoError(t, err)

	_, _, err = c.Get(context.Background(), "k", func(ctx context.Context) (string, error) {
		<-ctx.Done()

		return "", ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.Len())
}

func TestLoaderCache_EvictsAndPurges(t *testing.T) {
	c, err := NewLoaderCache[string](2)
	require.NoError(t, err)

	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		_, _, err := c.Get(ctx, k, func(context.Context) (string, error) { return "v-" + k, nil })
		require.NoError(t, err)
	}

	assert.Equal(t, 2, c.Len())

	c.Remove("c")
	assert.Equal(t, 1, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}
