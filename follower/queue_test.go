package follower

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-follow/config"
)

func numbered(n int) [][]float64 {
	frames := make([][]float64, n)
	for i := range frames {
		frames[i] = []float64{float64(i)}
	}
	return frames
}

func TestQueueDropsOldest(t *testing.T) {
	q, err := NewQueue(2, config.BackpressureDropOldest)
	require.NoError(t, err)

	// no consumer: the producer never blocks and keeps the newest frames
	q.Pump(context.Background(), NewSliceSource(numbered(5)))
	assert.Equal(t, int64(3), q.Dropped())
	assert.Equal(t, 2, q.Len())

	ctx := context.Background()
	for _, want := range []float64{3, 4} {
		obs, err := q.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, obs[0])
	}
	_, err = q.Next(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestQueueBlocksUntilConsumed(t *testing.T) {
	q, err := NewQueue(1, config.BackpressureBlock)
	require.NoError(t, err)

	ctx := context.Background()
	go q.Pump(ctx, NewSliceSource(numbered(20)))

	for want := 0; want < 20; want++ {
		obs, err := q.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, float64(want), obs[0])
	}
	_, err = q.Next(ctx)
	assert.Equal(t, io.EOF, err)
	assert.Zero(t, q.Dropped())
}

func TestQueueForwardsUpstreamErrorAfterBufferedFrames(t *testing.T) {
	q, err := NewQueue(8, config.BackpressureBlock)
	require.NoError(t, err)

	cause := errors.New("device lost")
	q.Pump(context.Background(), &failingSource{frames: numbered(3), err: cause})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := q.Next(ctx)
		require.NoError(t, err)
	}
	_, err = q.Next(ctx)
	assert.ErrorIs(t, err, cause)
}

func TestQueueHonoursCancellation(t *testing.T) {
	q, err := NewQueue(1, config.BackpressureBlock)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Pump(ctx, NewSliceSource(numbered(10)))
		close(done)
	}()

	cancel()
	<-done

	// drain what made it in before the cancellation
	for {
		_, err := q.Next(context.Background())
		if err != nil {
			assert.ErrorIs(t, err, context.Canceled)
			break
		}
	}
}

func TestNewQueueValidates(t *testing.T) {
	_, err := NewQueue(0, config.BackpressureBlock)
	assert.ErrorIs(t, err, config.ErrConfiguration)
	_, err = NewQueue(4, "spill")
	assert.ErrorIs(t, err, config.ErrConfiguration)
}
