// Package xfer implements the transport engine: buffer primitives, the
// receiver and transmitter state machines, and the worker pool that
// multiplexes many sessions onto a bounded number of goroutines using the
// fabric's completion-poll primitive.
package xfer

import "github.com/hyoklee/fabtsuite/fi"

// XferType classifies a posted buffer so a completion can be dispatched to
// the right handler.
type XferType int

const (
	XferProgress XferType = iota
	XferRDMAWrite
	XferVector
	XferFragment
)

func (t XferType) String() string {
	switch t {
	case XferProgress:
		return "progress"
	case XferRDMAWrite:
		return "rdma_write"
	case XferVector:
		return "vector"
	case XferFragment:
		return "fragment"
	default:
		return "unknown"
	}
}

// Owner tracks whether a buffer is currently under program or NIC control.
type Owner int

const (
	OwnerProgram Owner = iota
	OwnerNIC
)

// Place is a bitset marking batch boundaries in a multi-buffer RDMA write.
type Place uint8

const (
	PlaceFirst Place = 1 << 0
	PlaceLast  Place = 1 << 1
)

// XferContext is the transfer-context tag attached to every posted buffer.
// It travels inside the buffer's fi.CompletionContext value so a completion
// can be classified without the fabric layer knowing anything about the
// transfer protocol.
type XferContext struct {
	Type      XferType
	Owner     Owner
	Place     Place
	NChildren uint32
	Cancelled bool
}

// BufHeader is the common header shared by every buffer family: byte
// buffers, progress buffers, vector buffers, and fragments. Self recovers
// the concrete wrapper type (*ByteBuf, *ProgressBuf, *VectorBuf, *Fragment)
// from a bare *BufHeader the way fi.CompletionContext.Value recovers a Go
// value from an opaque completion pointer — Go has no struct-prefix cast,
// so a back-pointer plays the same role.
type BufHeader struct {
	Xfc        XferContext
	fctx       *fi.CompletionContext
	NAllocated uintptr
	NUsed      uintptr
	RAddr      uint64
	MR         *fi.MemoryRegion
	Raw        []byte
	Self       any
}

// NewCompletionContext allocates and attaches a fresh fi.CompletionContext
// to h, carrying h itself as the context value so a completion can be
// resolved straight back to this header.
func (h *BufHeader) NewCompletionContext() (*fi.CompletionContext, error) {
	ctx, err := fi.NewCompletionContext()
	if err != nil {
		return nil, err
	}
	ctx.SetValue(h)
	h.fctx = ctx
	return ctx, nil
}

// Context returns the header's attached completion context, if any.
func (h *BufHeader) Context() *fi.CompletionContext { return h.fctx }

// HeaderFromContext recovers a *BufHeader from a resolved completion
// context's value.
func HeaderFromContext(ctx *fi.CompletionContext) (*BufHeader, bool) {
	if ctx == nil {
		return nil, false
	}
	h, ok := ctx.Value().(*BufHeader)
	return h, ok
}

// EndpointCanceller is the subset of fi.Endpoint a FIFO needs to cancel
// outstanding operations on cleanup; it exists so the FIFO's CancelAll does
// not have to depend on the whole connection-management surface.
type EndpointCanceller interface {
	Cancel(ctx *fi.CompletionContext) error
}

// Sender is the subset of fi.Endpoint TxCtl.Transmit needs to post a send;
// it exists so tests can exercise Transmit's EAGAIN handling against a fake
// without a real fabric endpoint.
type Sender interface {
	PostSend(req *fi.SendRequest) (*fi.CompletionContext, error)
}
