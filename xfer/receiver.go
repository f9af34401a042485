package xfer

import (
	"errors"
	"fmt"

	"github.com/hyoklee/fabtsuite/fi"
	"github.com/hyoklee/fabtsuite/wire"
)

// Receiver is the connection type behind the fget personality: it
// advertises RDMA write targets to a transmitter, watches for the
// transmitter's progress reports, and hands completed RDMA writes off to
// its session's sink terminal.
type Receiver struct {
	Connection
	Progress   *RxCtl
	Vec        *TxCtl
	TgtPosted  *FIFO
	NFull      uint64
	payloadAcc fi.MRAccessFlag
	domain     *fi.Domain
}

// NewReceiver creates a Receiver bound to av, using domain for memory
// registration. It pre-allocates and registers depth vector buffers to
// seed the outgoing vector-advertisement pool.
func NewReceiver(av *fi.AddressVector, domain *fi.Domain, depth int, cfg *Config) (*Receiver, error) {
	r := &Receiver{
		Connection: *NewConnection(av, cfg),
		Progress:   NewRxCtl(depth),
		Vec:        NewTxCtl(depth, depth),
		TgtPosted:  NewFIFO(depth),
		payloadAcc: fi.MRAccessRemoteWrite,
		domain:     domain,
	}
	for i := 0; i < depth; i++ {
		vb := NewVectorBuf()
		if err := registerBuf(domain, &vb.Hdr, fi.MRAccessLocal, r.Keys.Next()); err != nil {
			return nil, err
		}
		r.Vec.Pool.Put(&vb.Hdr)
	}
	return r, nil
}

// Cancel cancels every outstanding progress receive and vector send.
func (r *Receiver) Cancel() {
	r.Connection.Cancel()
	r.Progress.Cancel(r.EP)
	r.Vec.Cancel(r.EP)
}

// start posts the receiver's initial batch of progress-message receives
// and stages the session's target buffers on ReadyForCxn.
func (r *Receiver) start(w *Worker, s *Session) (LoopControl, error) {
	r.Started = true
	r.debugf("xfer: receiver: start: staging progress receives and target buffers")

	for !r.Progress.Posted.Full() {
		pb := NewProgressBuf()
		if err := registerBuf(r.domain, &pb.Hdr, fi.MRAccessLocal, r.Keys.Next()); err != nil {
			return LoopError, err
		}
		if err := r.Progress.Post(r.EP, r.PeerAddr, &pb.Hdr); err != nil {
			return LoopError, err
		}
	}

	for !s.ReadyForCxn.Full() {
		b := w.RxPool.Get()
		if b == nil {
			break
		}
		s.ReadyForCxn.Put(b)
	}
	return LoopContinue, nil
}

// processProgress resolves a completed progress-message receive: folds
// its reported byte count into NFull, observes remote EOF, and reposts the
// buffer for the next report.
func (r *Receiver) processProgress(cmpl *fi.CompletionEvent, resolved *BufHeader) (LoopControl, error) {
	h, err := r.Progress.Complete(cmpl, resolved)
	if err != nil {
		return LoopError, err
	}
	if h == nil {
		return LoopContinue, nil
	}
	if errors.Is(cancelledErr(h), ErrCancelled) {
		return LoopContinue, nil
	}

	pb, ok := h.Self.(*ProgressBuf)
	if !ok {
		return LoopError, fmt.Errorf("xfer: receiver: progress completion on non-progress buffer")
	}
	if err := pb.Decode(); err != nil {
		r.debugw("malformed progress message", "error", err)
		return r.repostProgress(h)
	}

	r.NFull += pb.Msg.NFilled
	if pb.Msg.NLeftover == 0 {
		r.EOF.Remote = true
		r.debugf("xfer: receiver: remote EOF observed, %d bytes filled total", r.NFull)
	}

	return r.repostProgress(h)
}

func (r *Receiver) repostProgress(h *BufHeader) (LoopControl, error) {
	if err := r.Progress.Post(r.EP, r.PeerAddr, h); err != nil {
		return LoopError, err
	}
	return LoopContinue, nil
}

// processVectorTx resolves a completed vector-message transmit.
func (r *Receiver) processVectorTx(cmpl *fi.CompletionEvent, resolved *BufHeader) (LoopControl, error) {
	if err := r.Vec.Complete(cmpl, resolved); err != nil {
		return LoopError, err
	}
	return LoopContinue, nil
}

// cqProcess drains one completion from the receiver's queue and dispatches
// it by the transfer-context type the completion names.
func (r *Receiver) cqProcess() (LoopControl, error) {
	ev, err := r.CQ.ReadContext()
	if err != nil {
		if errors.Is(err, fi.ErrNoCompletion) {
			return LoopContinue, nil
		}
		return LoopError, err
	}
	ctx, err := ev.Resolve()
	if err != nil {
		return LoopError, err
	}
	h, ok := HeaderFromContext(ctx)
	if !ok {
		return LoopError, fmt.Errorf("xfer: receiver: completion with unrecognized context")
	}

	switch h.Xfc.Type {
	case XferProgress:
		return r.processProgress(ev, h)
	case XferVector:
		return r.processVectorTx(ev, h)
	default:
		return LoopError, fmt.Errorf("xfer: receiver: unexpected transfer context type %v", h.Xfc.Type)
	}
}

// vectorUpdate advertises the session's pending target buffers as RDMA
// write targets, or, once the remote side has signaled EOF, enqueues the
// zero-triple vector message that closes the local half of the handshake.
func (r *Receiver) vectorUpdate(s *Session) error {
	if r.EOF.Remote && !r.EOF.Local && !r.Vec.Ready.Full() {
		h := r.Vec.Pool.Get()
		if h != nil {
			vb, _ := h.Self.(*VectorBuf)
			vb.Msg = wire.VectorMsg{}
			vb.Encode()
			r.Vec.Ready.Put(h)
			r.EOF.Local = true
		}
		return nil
	}

	for !r.Vec.Ready.Full() && !s.ReadyForCxn.Empty() {
		vh := r.Vec.Pool.Get()
		if vh == nil {
			break
		}
		vb, ok := vh.Self.(*VectorBuf)
		if !ok {
			return fmt.Errorf("xfer: receiver: vector pool returned non-vector buffer")
		}

		var msg wire.VectorMsg
		i := uint32(0)
		for ; i < wire.MaxVectorTriples; i++ {
			th := s.ReadyForCxn.Get()
			if th == nil {
				break
			}
			th.NUsed = 0

			if r.Config.reregister() && th.MR == nil {
				if err := registerBuf(r.domain, th, r.payloadAcc, r.Keys.Next()); err != nil {
					return fmt.Errorf("xfer: receiver: re-register target buffer: %w", err)
				}
			}

			r.TgtPosted.Put(th)

			msg.IOV[i] = wire.VectorTriple{Addr: 0, Len: uint64(th.NAllocated), Key: th.MR.Key()}
		}
		msg.NIOVs = i
		vb.Msg = msg
		vb.Encode()

		r.Vec.Ready.Put(vh)
	}
	return nil
}

// targetsRead folds newly-filled RDMA write bytes into the target buffers
// posted as advertised, handing any buffer that becomes completely full
// off to ReadyForTerminal. On remote EOF, a partially-full target buffer
// is handed off too rather than waiting for it to fill the rest of the way.
func (r *Receiver) targetsRead(s *Session) {
	for r.NFull > 0 {
		h := r.TgtPosted.Peek()
		if h == nil || s.ReadyForTerminal.Full() {
			break
		}
		if h.NUsed+uintptr(r.NFull) < h.NAllocated {
			h.NUsed += uintptr(r.NFull)
			r.NFull = 0
		} else {
			r.NFull -= uint64(h.NAllocated - h.NUsed)
			h.NUsed = h.NAllocated
			r.TgtPosted.Get()
			if r.Config.reregister() {
				_ = deregisterBuf(h)
			}
			s.ReadyForTerminal.Put(h)
		}
	}

	if r.EOF.Remote {
		if h := r.TgtPosted.Peek(); h != nil && h.NUsed != 0 {
			r.TgtPosted.Get()
			if r.Config.reregister() {
				_ = deregisterBuf(h)
			}
			s.ReadyForTerminal.Put(h)
		}
	}
}

// Pass drives one step of the receiver's state machine: completion
// processing, sink-side trading, vector advertisement, vector
// transmission, and target-buffer bookkeeping, in that order, matching the
// reference receiver loop.
func (r *Receiver) Pass(w *Worker, s *Session) (LoopControl, error) {
	if !r.Started {
		return r.start(w, s)
	}

	ctl, err := r.cqProcess()
	if err != nil {
		return LoopError, err
	}

	if ShutdownRequested() && !r.Cancelled {
		r.Cancel()
	}

	if r.Cancelled {
		if r.Progress.Posted.Empty() && r.Vec.Posted.Empty() {
			return LoopEnd, ErrShutdownCancelled
		}
		return LoopContinue, nil
	}

	sinkCtl := s.Terminal.Trade(s.ReadyForTerminal, s.ReadyForCxn)
	if sinkCtl == LoopError {
		return LoopError, fmt.Errorf("xfer: receiver: sink rejected received payload")
	}

	if err := r.vectorUpdate(s); err != nil {
		return LoopError, err
	}

	if err := r.Vec.Transmit(r.EP, r.PeerAddr); err != nil {
		return LoopError, err
	}

	r.targetsRead(s)

	if sinkCtl == LoopEnd && s.ReadyForTerminal.Empty() &&
		r.EOF.Remote && r.EOF.Local && r.Vec.Posted.Empty() {
		return LoopEnd, nil
	}

	return ctl, nil
}
