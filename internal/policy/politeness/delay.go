// Package politeness draws the randomized pause taken before each fetch.
package politeness

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Delay sleeps a duration drawn uniformly from [Min, Max].
type Delay struct {
	low, high time.Duration
	draw      func(n int64) int64
}

// New returns a Delay. Bounds are swapped when given in the wrong order and
// negative bounds are treated as zero.
func New(minDelay, maxDelay time.Duration) *Delay {
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < 0 {
		maxDelay = 0
	}
	if maxDelay < minDelay {
		minDelay, maxDelay = maxDelay, minDelay
	}
	return &Delay{low: minDelay, high: maxDelay, draw: rand.Int64N}
}

// Next returns the next delay without sleeping.
func (d *Delay) Next() time.Duration {
	span := int64(d.high - d.low)
	if span <= 0 {
		return d.low
	}
	return d.low + time.Duration(d.draw(span+1))
}

// Wait sleeps for Next() or until ctx is done.
func (d *Delay) Wait(ctx context.Context) error {
	delay := d.Next()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("politeness delay: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
