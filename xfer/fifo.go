package xfer

import (
	"errors"
	"fmt"

	"github.com/hyoklee/fabtsuite/fi"
)

// FIFO is a fixed-capacity ring buffer of buffer headers with free-running
// insertion and removal counters. Capacity must be a power of two; indices
// are derived by masking a counter rather than wrapping it, so the counters
// themselves only ever grow.
type FIFO struct {
	insertions uint64
	removals   uint64
	indexMask  uint64
	hdr        []*BufHeader
}

// NewFIFO creates a FIFO with room for size entries. size must be a power
// of two and at least 1.
func NewFIFO(size int) *FIFO {
	if size <= 0 || size&(size-1) != 0 {
		panic(fmt.Sprintf("xfer: FIFO size %d is not a positive power of two", size))
	}
	return &FIFO{
		indexMask: uint64(size - 1),
		hdr:       make([]*BufHeader, size),
	}
}

// Empty reports whether the FIFO holds no entries.
func (f *FIFO) Empty() bool { return f.insertions == f.removals }

// Full reports whether the FIFO has no room for another entry.
func (f *FIFO) Full() bool { return f.insertions-f.removals == f.indexMask+1 }

// Len reports the number of entries currently queued.
func (f *FIFO) Len() int { return int(f.insertions - f.removals) }

// Put enqueues h, returning false if the FIFO is full.
func (f *FIFO) Put(h *BufHeader) bool {
	if f.insertions-f.removals > f.indexMask {
		return false
	}
	f.hdr[f.insertions&f.indexMask] = h
	f.insertions++
	return true
}

// Get dequeues and returns the oldest entry, or nil if the FIFO is empty.
func (f *FIFO) Get() *BufHeader {
	if f.Empty() {
		return nil
	}
	h := f.hdr[f.removals&f.indexMask]
	f.hdr[f.removals&f.indexMask] = nil
	f.removals++
	return h
}

// Peek returns the oldest entry without dequeuing it, or nil if the FIFO is
// empty.
func (f *FIFO) Peek() *BufHeader {
	if f.Empty() {
		return nil
	}
	return f.hdr[f.removals&f.indexMask]
}

// CancelAll asks the endpoint to cancel every outstanding operation named
// by a completion context still queued in the FIFO. Cancellation does not
// remove the entries: the FIFO still expects a completion, now carrying an
// error, for each of them.
func (f *FIFO) CancelAll(ep EndpointCanceller) {
	if ep == nil {
		return
	}
	for i := f.removals; i != f.insertions; i++ {
		h := f.hdr[i&f.indexMask]
		if h == nil || h.Xfc.Cancelled {
			continue
		}
		if ctx := h.Context(); ctx != nil {
			for {
				err := ep.Cancel(ctx)
				if err == nil || !errors.Is(err, fi.ErrAgain) {
					break
				}
			}
		}
		h.Xfc.Cancelled = true
	}
}
