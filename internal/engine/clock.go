package engine

import "sync/atomic"

// Clock is a monotonic logical clock. Trace events are stamped with
// Next() so observers can order them without comparing wall time.
//
// Thread-safety: safe for concurrent use; in practice only the Run loop
// calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}
