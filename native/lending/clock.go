package lending

import (
	"sync/atomic"
	"time"
)

// BlockClock supplies the block number used for interest accrual.
type BlockClock interface {
	BlockNumber() uint64
}

// ManualClock is advanced explicitly. Tests and simulations drive it.
type ManualClock struct {
	block atomic.Uint64
}

// NewManualClock starts at block.
func NewManualClock(block uint64) *ManualClock {
	c := &ManualClock{}
	c.block.Store(block)
	return c
}

func (c *ManualClock) BlockNumber() uint64 { return c.block.Load() }

// Advance moves the clock forward by n blocks and returns the new height.
func (c *ManualClock) Advance(n uint64) uint64 { return c.block.Add(n) }

// IntervalClock derives the block number from wall time: one block per
// Interval since Genesis.
type IntervalClock struct {
	Genesis  time.Time
	Interval time.Duration
	Now      func() time.Time
}

func (c IntervalClock) BlockNumber() uint64 {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	if c.Interval <= 0 {
		return 0
	}
	elapsed := now().Sub(c.Genesis)
	if elapsed <= 0 {
		return 0
	}
	return uint64(elapsed / c.Interval)
}
