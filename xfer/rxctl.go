package xfer

import (
	"fmt"

	"github.com/hyoklee/fabtsuite/fi"
)

// desiredRxFlags are the completion flags a successful message receive
// must carry: FI_MSG together with FI_RECV.
var desiredRxFlags = uint64(fi.CapMsg) | uint64(fi.BindRecv)

// desiredTxFlags are the completion flags a successful message send must
// carry: FI_MSG together with FI_SEND.
var desiredTxFlags = uint64(fi.CapMsg) | uint64(fi.BindSend)

// RxCtl manages the receive side of a connection's control-message
// traffic: buffers posted for incoming vector or progress messages, and buffers
// holding ones that have arrived but not yet been consumed.
type RxCtl struct {
	Posted *FIFO
	Rcvd   *FIFO
}

// NewRxCtl creates an RxCtl with the given FIFO depth for both queues.
func NewRxCtl(depth int) *RxCtl {
	return &RxCtl{Posted: NewFIFO(depth), Rcvd: NewFIFO(depth)}
}

// Post posts a receive for h on the connection's endpoint and records it
// in the posted queue.
func (rc *RxCtl) Post(ep *fi.Endpoint, peer fi.Address, h *BufHeader) error {
	ctx, err := h.NewCompletionContext()
	if err != nil {
		return err
	}
	_, err = ep.PostRecv(&fi.RecvRequest{
		Region:  h.MR,
		Source:  peer,
		Context: ctx,
	})
	if err != nil {
		ctx.Release()
		return err
	}
	rc.Posted.Put(h)
	return nil
}

// Complete resolves a completed receive against the posted queue, returning
// the buffer it belongs to. resolved is the header the caller already
// recovered from the completion's own context (via HeaderFromContext); it
// must equal the posted queue's head, or fabric and FIFO bookkeeping have
// diverged and the process can no longer trust either one. Complete returns
// (nil, nil) if the posted queue is empty — a benign condition the callers
// ignore.
func (rc *RxCtl) Complete(cmpl *fi.CompletionEvent, resolved *BufHeader) (*BufHeader, error) {
	h := rc.Posted.Get()
	if h == nil {
		return nil, nil
	}
	if h != resolved {
		panic("xfer: rxctl: completion context does not match FIFO head")
	}
	if cmpl.Flags&desiredRxFlags != desiredRxFlags && !h.Xfc.Cancelled {
		panic(fmt.Sprintf("xfer: rxctl: expected completion flags 0x%x, got 0x%x", desiredRxFlags, cmpl.Flags&desiredRxFlags))
	}
	h.NUsed = uintptr(cmpl.Len)
	return h, nil
}

// Cancel cancels every receive still outstanding in the posted queue.
func (rc *RxCtl) Cancel(ep EndpointCanceller) {
	rc.Posted.CancelAll(ep)
}
