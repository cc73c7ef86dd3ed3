package engine

import (
	"sync/atomic"
	"time"

	"github.com/tradeforge-lab/tradeforge/internal/types"
)

// Cursor is the current processing timestamp of a running simulation. The
// simulation loop is the only writer; the progress ticker reads it
// concurrently, so access is atomic on the epoch-millisecond value.
type Cursor struct {
	millis atomic.Int64
}

// Set advances the cursor to the given simulated time.
func (c *Cursor) Set(t time.Time) {
	c.millis.Store(t.UnixMilli())
}

// Load returns the last simulated time the loop reached, or the zero time
// if the loop has not started.
func (c *Cursor) Load() time.Time {
	v := c.millis.Load()
	if v == 0 {
		return time.Time{}
	}

	return time.UnixMilli(v).UTC()
}

// Progress converts the cursor position into a completion percentage over
// the backtest range, clamped to [0, 100].
func (c *Cursor) Progress(rng types.DateRange) float64 {
	total := rng.End.Sub(rng.Start)
	if total <= 0 {
		return 0
	}

	at := c.Load()
	if at.IsZero() {
		return 0
	}

	pct := float64(at.Sub(rng.Start)) / float64(total) * 100

	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}
