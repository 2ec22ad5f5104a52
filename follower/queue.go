package follower

import (
	"context"
	"sync/atomic"

	"github.com/RyanBlaney/sonido-follow/config"
	"github.com/RyanBlaney/sonido-follow/logging"
)

// Queue is the bounded hand-off between the producer reading a Source and
// the follower. With BackpressureBlock the producer waits for room; with
// BackpressureDropOldest the oldest buffered observation is discarded.
// Queue is itself a Source: the producer's terminal error (io.EOF or a
// failure) is returned after every buffered observation.
type Queue struct {
	ch      chan []float64
	policy  string
	err     error
	dropped atomic.Int64

	logger logging.Logger
}

// NewQueue creates a queue holding up to size observations
func NewQueue(size int, policy string) (*Queue, error) {
	if size <= 0 {
		return nil, config.Errorf("queue", "size must be positive, got %d", size)
	}
	switch policy {
	case config.BackpressureBlock, config.BackpressureDropOldest:
	default:
		return nil, config.Errorf("queue", "unknown backpressure policy %q", policy)
	}
	return &Queue{
		ch:     make(chan []float64, size),
		policy: policy,
		logger: logging.WithFields(logging.Fields{
			"component": "observation_queue",
			"policy":    policy,
		}),
	}, nil
}

// Pump copies src into the queue until src ends or ctx is cancelled, then
// closes the queue. It must be called at most once.
func (q *Queue) Pump(ctx context.Context, src Source) {
	var err error
	defer func() {
		q.err = err
		close(q.ch)
		if n := q.dropped.Load(); n > 0 {
			q.logger.Warn("Observations dropped", logging.Fields{
				"dropped": n,
			})
		}
	}()

	for {
		var obs []float64
		obs, err = src.Next(ctx)
		if err != nil {
			return
		}
		if err = q.push(ctx, obs); err != nil {
			return
		}
	}
}

func (q *Queue) push(ctx context.Context, obs []float64) error {
	if q.policy == config.BackpressureBlock {
		select {
		case q.ch <- obs:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case q.ch <- obs:
			return nil
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// Next returns the next buffered observation
func (q *Queue) Next(ctx context.Context) ([]float64, error) {
	select {
	case obs, ok := <-q.ch:
		if !ok {
			return nil, q.err
		}
		return obs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dropped counts observations discarded under drop-oldest
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Len is the number of buffered observations
func (q *Queue) Len() int { return len(q.ch) }
