package xfer

import (
	"errors"
	"fmt"

	"github.com/hyoklee/fabtsuite/fi"
)

// TxCtl manages the transmit side of a connection's control-message
// traffic: buffers ready to send, buffers with sends outstanding, and a
// pool of unused buffers recycled once a send completes. Unlike a payload
// free list, the pool here holds a fixed set of pre-typed, pre-registered
// control buffers (vector or progress buffers) the owning connection fills
// at construction time.
type TxCtl struct {
	Ready  *FIFO
	Posted *FIFO
	Pool   *Stack
}

// NewTxCtl creates a TxCtl with the given FIFO depth and pool size. The
// caller is responsible for filling Pool with buffers of the appropriate
// control-message type.
func NewTxCtl(depth, poolSize int) *TxCtl {
	return &TxCtl{
		Ready:  NewFIFO(depth),
		Posted: NewFIFO(depth),
		Pool:   NewStack(poolSize),
	}
}

// Transmit drains the ready queue onto the wire, moving each buffer to the
// posted queue as its send goes out, until either the ready queue runs dry
// or the posted queue is full. A send that fails with fi.ErrAgain is left
// at the head of the ready queue to retry on the next call rather than
// treated as fatal: the provider's send queue being momentarily full is
// routine backpressure, not a failure.
func (tc *TxCtl) Transmit(ep Sender, peer fi.Address) error {
	for {
		h := tc.Ready.Peek()
		if h == nil || tc.Posted.Full() {
			return nil
		}

		ctx, err := h.NewCompletionContext()
		if err != nil {
			return err
		}
		_, err = ep.PostSend(&fi.SendRequest{
			Region:  h.MR,
			Buffer:  h.Raw[:h.NUsed],
			Dest:    peer,
			Context: ctx,
		})
		if err != nil {
			ctx.Release()
			if errors.Is(err, fi.ErrAgain) {
				return nil
			}
			return err
		}

		tc.Ready.Get()
		tc.Posted.Put(h)
	}
}

// Complete resolves a completed send against the posted queue, returning
// the buffer to the pool. resolved is the header the caller already
// recovered from the completion's own context (via HeaderFromContext); it
// must equal the posted queue's head, or fabric and FIFO bookkeeping have
// diverged and the process can no longer trust either one. Complete returns
// an error if a send completed with no matching posted buffer at all —
// unlike a stray receive, this can never be benign: the provider does not
// fabricate send completions.
func (tc *TxCtl) Complete(cmpl *fi.CompletionEvent, resolved *BufHeader) error {
	h := tc.Posted.Get()
	if h == nil {
		return fmt.Errorf("xfer: txctl: message tx completed, but no tx was posted")
	}
	if h != resolved {
		panic("xfer: txctl: completion context does not match FIFO head")
	}
	if cmpl.Flags&desiredTxFlags != desiredTxFlags && !h.Xfc.Cancelled {
		panic(fmt.Sprintf("xfer: txctl: expected completion flags 0x%x, got 0x%x", desiredTxFlags, cmpl.Flags&desiredTxFlags))
	}
	if !tc.Pool.Put(h) {
		panic("xfer: txctl: buffer pool full")
	}
	return nil
}

// Cancel cancels every send still outstanding in the posted queue.
func (tc *TxCtl) Cancel(ep EndpointCanceller) {
	tc.Posted.CancelAll(ep)
}
