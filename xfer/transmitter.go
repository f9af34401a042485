package xfer

import (
	"errors"
	"fmt"

	"github.com/hyoklee/fabtsuite/fi"
	"github.com/hyoklee/fabtsuite/wire"
)

// Transmitter is the connection type behind the fput personality: it
// accepts RDMA write targets advertised by a receiver, writes a source
// terminal's bytes into them, and reports progress back over the wire.
//
// The reference implementation double-buffers its local/remote iov arrays
// (x->payload.iov/iov2, x->riov/riov2) and flips a phase bit between them
// so one fi_writemsg call's input arrays are never the same memory as the
// next call's output arrays. Go slices don't alias that way — each pass
// builds a fresh slice — so there is no phase bit here; RIOVs is simply
// truncated and replaced after each write.
type Transmitter struct {
	Connection
	Progress       *TxCtl
	Vec            *RxCtl
	WrPosted       *FIFO
	BytesProgress  uint64
	RIOVs          []fi.RMATarget
	FragmentOffset uintptr
	FragmentPool   *Stack
	domain         *fi.Domain
	initial        wire.InitialMsg
	ack            wire.AckMsg
	rmaMaxSegs     int
}

// NewTransmitter creates a Transmitter bound to av, using domain for
// memory registration. It pre-allocates and registers depth vector
// receive buffers and depth progress-message buffers.
func NewTransmitter(av *fi.AddressVector, domain *fi.Domain, depth int, cfg *Config) (*Transmitter, error) {
	maxSegs := rmaMaxSegs
	if cfg != nil && cfg.Contiguous {
		maxSegs = 1
	}
	x := &Transmitter{
		Connection:   *NewConnection(av, cfg),
		Progress:     NewTxCtl(depth, depth),
		Vec:          NewRxCtl(depth),
		WrPosted:     NewFIFO(depth),
		FragmentPool: NewStack(depth),
		domain:       domain,
		rmaMaxSegs:   maxSegs,
	}
	for i := 0; i < depth; i++ {
		pb := NewProgressBuf()
		if err := registerBuf(domain, &pb.Hdr, fi.MRAccessLocal, x.Keys.Next()); err != nil {
			return nil, err
		}
		x.Progress.Pool.Put(&pb.Hdr)
	}
	for i := 0; i < depth; i++ {
		f := NewFragment(nil)
		x.FragmentPool.Put(&f.Hdr)
	}
	return x, nil
}

// Cancel cancels every outstanding progress send, vector receive, and
// RDMA write.
func (x *Transmitter) Cancel() {
	x.Connection.Cancel()
	x.Progress.Cancel(x.EP)
	x.Vec.Cancel(x.EP)
	x.WrPosted.CancelAll(x.EP)
}

// start stages outgoing payload buffers, posts the ack receive, sends the
// initial handshake message, waits for the ack, re-resolves the peer
// address from the ack's advertised address, and posts the initial batch
// of vector-message receives.
//
// The reference implementation's wait for the ack treats every
// unexpected completion while waiting for the send to clear FI_EAGAIN as
// fatal. That is a correctness bug (REDESIGN FLAG): any unrelated
// completion racing the handshake would abort the transfer. Here, only a
// genuine protocol mismatch — an ack of the wrong size or flags — is
// treated as fatal; anything else is drained and ignored.
func (x *Transmitter) start(w *Worker, s *Session) (ctl LoopControl, err error) {
	x.Started = true

	span := x.startSpan("transmitter.handshake", TraceAttribute{Key: "session_id", Value: s.ID.String()})
	defer func() { span.End(err) }()

	for !s.ReadyForTerminal.Full() {
		b := w.TxPool.Get()
		if b == nil {
			break
		}
		b.NUsed = 0
		s.ReadyForTerminal.Put(b)
	}

	ackBuf := NewByteBuf(wire.AckMsgSize)
	if err := registerBuf(x.domain, &ackBuf.Hdr, fi.MRAccessLocal, x.Keys.Next()); err != nil {
		return LoopError, err
	}
	ackCtx, err := ackBuf.Hdr.NewCompletionContext()
	if err != nil {
		return LoopError, err
	}
	if _, err := x.EP.PostRecv(&fi.RecvRequest{Region: ackBuf.Hdr.MR, Source: x.PeerAddr, Context: ackCtx}); err != nil {
		return LoopError, err
	}

	initBuf := NewByteBuf(wire.InitialMsgSize)
	if err := registerBuf(x.domain, &initBuf.Hdr, fi.MRAccessLocal, x.Keys.Next()); err != nil {
		return LoopError, err
	}
	x.initial.Encode(initBuf.Hdr.Raw)
	if _, err := x.EP.PostSend(&fi.SendRequest{Region: initBuf.Hdr.MR, Dest: x.PeerAddr}); err != nil {
		return LoopError, err
	}
	x.debugf("xfer: transmitter: initial message sent, awaiting ack")

	for {
		ev, err := x.CQ.ReadContext()
		if err != nil {
			if errors.Is(err, fi.ErrNoCompletion) {
				continue
			}
			return LoopError, err
		}
		ctx, err := ev.Resolve()
		if err != nil {
			return LoopError, err
		}
		if ctx != ackCtx {
			continue
		}

		if ev.Flags&desiredRxFlags != desiredRxFlags {
			return LoopError, fmt.Errorf("xfer: transmitter: expected ack flags 0x%x, got 0x%x", desiredRxFlags, ev.Flags&desiredRxFlags)
		}
		if ev.Len != wire.AckMsgSize {
			return LoopError, fmt.Errorf("xfer: transmitter: ack is incorrect size")
		}
		break
	}

	ack, err := wire.DecodeAckMsg(ackBuf.Hdr.Raw)
	if err != nil {
		return LoopError, err
	}
	x.ack = ack
	x.debugw("xfer: transmitter: ack received", "session_id", s.ID.String(), "addr_len", ack.AddrLen)

	newAddr, err := x.AV.InsertRaw(ack.Addr[:ack.AddrLen], 0)
	if err != nil {
		return LoopError, err
	}
	oldAddr := x.PeerAddr
	x.PeerAddr = newAddr
	if err := x.AV.Remove([]fi.Address{oldAddr}, 0); err != nil {
		return LoopError, err
	}

	for !x.Vec.Posted.Full() {
		vb := NewVectorBuf()
		if err := registerBuf(x.domain, &vb.Hdr, fi.MRAccessLocal, x.Keys.Next()); err != nil {
			return LoopError, err
		}
		if err := x.Vec.Post(x.EP, x.PeerAddr, &vb.Hdr); err != nil {
			return LoopError, err
		}
	}

	return LoopContinue, nil
}

// vecbufUnload drains every fully-received vector message in Vec.Rcvd,
// appending its advertised targets to RIOVs and observing a zero-triple
// message as remote EOF.
func (x *Transmitter) vecbufUnload() error {
	for {
		h := x.Vec.Rcvd.Get()
		if h == nil {
			return nil
		}
		vb, ok := h.Self.(*VectorBuf)
		if !ok {
			return fmt.Errorf("xfer: transmitter: vector rx queue holds non-vector buffer")
		}
		if !x.EOF.Remote && vb.Msg.NIOVs == 0 {
			x.EOF.Remote = true
		}
		for i := uint32(0); i < vb.Msg.NIOVs; i++ {
			t := vb.Msg.IOV[i]
			x.RIOVs = append(x.RIOVs, fi.RMATarget{Addr: t.Addr, Len: t.Len, Key: t.Key})
		}
		if err := x.Vec.Post(x.EP, x.PeerAddr, h); err != nil {
			return err
		}
	}
}

// processVectorRx resolves a completed vector-message receive into the
// rcvd queue, discarding malformed advertisements by simply reposting the
// buffer unchanged.
func (x *Transmitter) processVectorRx(cmpl *fi.CompletionEvent, resolved *BufHeader) (LoopControl, error) {
	h, err := x.Vec.Complete(cmpl, resolved)
	if err != nil {
		return LoopError, err
	}
	if h == nil {
		return LoopContinue, nil
	}
	if errors.Is(cancelledErr(h), ErrCancelled) {
		return LoopContinue, nil
	}

	vb, ok := h.Self.(*VectorBuf)
	if !ok {
		return LoopError, fmt.Errorf("xfer: transmitter: vector completion on non-vector buffer")
	}
	if decErr := vb.Decode(); decErr != nil || !vb.WellFormed() {
		malformedErr := fmt.Errorf("%w: %v", ErrMalformedVector, decErr)
		if m := x.metrics(); m != nil {
			m.VectorFailed(malformedErr, nil)
		}
		x.debugw("malformed vector advertisement", "error", malformedErr)
		if err := x.Vec.Post(x.EP, x.PeerAddr, h); err != nil {
			return LoopError, err
		}
		return LoopContinue, nil
	}

	if m := x.metrics(); m != nil {
		m.VectorReceived(nil)
	}

	if !x.Vec.Rcvd.Put(h) {
		return LoopError, fmt.Errorf("xfer: transmitter: received-vectors queue was full")
	}
	return LoopContinue, nil
}

// processWriteCompletion dequeues every fragment completed by one RDMA
// write, releasing each back to the fragment pool and decrementing its
// parent's outstanding-child count, then dequeues whole buffers whose
// children have all completed, handing them to ReadyForTerminal.
func (x *Transmitter) processWriteCompletion(s *Session) {
	for {
		h := x.WrPosted.Peek()
		if h == nil || h.Xfc.Owner != OwnerProgram || h.Xfc.Type != XferFragment {
			break
		}
		x.WrPosted.Get()
		f := h.Self.(*Fragment)
		f.Parent.Xfc.NChildren--
		x.FragmentPool.Put(h)
	}
	for {
		h := x.WrPosted.Peek()
		if h == nil || h.Xfc.Owner != OwnerProgram || h.Xfc.Type != XferRDMAWrite || h.Xfc.NChildren != 0 || s.ReadyForTerminal.Full() {
			break
		}
		x.WrPosted.Get()
		x.BytesProgress += uint64(h.NUsed)
		if x.Config.reregister() {
			_ = deregisterBuf(h)
		}
		s.ReadyForTerminal.Put(h)
		if m := x.metrics(); m != nil {
			m.WriteCompleted(nil)
		}
	}
}

// processProgressTx resolves a completed progress-message send.
func (x *Transmitter) processProgressTx(cmpl *fi.CompletionEvent, resolved *BufHeader) (LoopControl, error) {
	if err := x.Progress.Complete(cmpl, resolved); err != nil {
		return LoopError, err
	}
	return LoopContinue, nil
}

func (x *Transmitter) cqProcess(s *Session) (LoopControl, error) {
	ev, err := x.CQ.ReadContext()
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
		return LoopError, fmt.Errorf("xfer: transmitter: completion with unrecognized context")
	}
	h.Xfc.Owner = OwnerProgram

	switch h.Xfc.Type {
	case XferVector:
		return x.processVectorRx(ev, h)
	case XferFragment, XferRDMAWrite:
		if peek := x.WrPosted.Peek(); peek == nil {
			return LoopError, fmt.Errorf("xfer: transmitter: no RDMA-write completions expected")
		} else if peek.Xfc.Place&PlaceFirst == 0 {
			return LoopError, fmt.Errorf("xfer: transmitter: expected first-place context at head")
		} else if peek != h {
			panic("xfer: transmitter: completion context does not match wrposted FIFO head")
		}
		x.processWriteCompletion(s)
		return LoopContinue, nil
	case XferProgress:
		return x.processProgressTx(ev, h)
	default:
		return LoopError, fmt.Errorf("xfer: transmitter: unexpected transfer context type %v", h.Xfc.Type)
	}
}

// splitTargets consumes up to total bytes from the front of targets,
// returning the targets actually used (the last possibly truncated) and
// the remainder (the possibly-truncated leftover of that same target plus
// everything after it), for carry-over into the next pass.
func splitTargets(targets []fi.RMATarget, maxSegs int, total uint64) (used, remaining []fi.RMATarget) {
	segs := targets
	if len(segs) > maxSegs {
		segs = segs[:maxSegs]
	}
	used = make([]fi.RMATarget, 0, len(segs))
	remain := total
	i := 0
	for ; i < len(segs) && remain > 0; i++ {
		t := segs[i]
		if t.Len > remain {
			used = append(used, fi.RMATarget{Addr: t.Addr, Len: remain, Key: t.Key})
			leftover := fi.RMATarget{Addr: t.Addr + remain, Len: t.Len - remain, Key: t.Key}
			rest := make([]fi.RMATarget, 0, 1+len(targets)-i-1)
			rest = append(rest, leftover)
			rest = append(rest, targets[i+1:]...)
			return used, rest
		}
		used = append(used, t)
		remain -= t.Len
	}
	return used, append([]fi.RMATarget{}, targets[i:]...)
}

// bufSplit allocates a fragment covering the next len bytes of parent
// starting at x.FragmentOffset, used when a payload buffer is longer than
// the RDMA targets currently available to write it into.
func (x *Transmitter) bufSplit(parent *BufHeader, length uintptr) (*BufHeader, error) {
	h := x.FragmentPool.Get()
	if h == nil {
		return nil, fmt.Errorf("xfer: transmitter: out of fragment headers")
	}
	f := h.Self.(*Fragment)
	f.Parent = parent
	h.RAddr = uint64(x.FragmentOffset)
	h.NUsed = length
	h.MR = parent.MR
	parent.Xfc.NChildren++
	return h, nil
}

// rmaMaxSegs bounds how many remote targets one RDMA write may name in a
// single fi_writemsg call when the provider's own rma_iov limit applies.
// Contiguous mode (-g) overrides this per-Transmitter to 1 via rmaMaxSegs
// on the struct.
const rmaMaxSegs = 12

// targetsWrite takes payload buffers off ReadyForCxn while their
// cumulative length stays under the RDMA targets currently advertised,
// fragmenting an oversize buffer only once the advertised targets number
// at least rmaMaxSegs, then issues one scatter/gather RDMA write spanning everything
// collected.
func (x *Transmitter) targetsWrite(s *Session) (LoopControl, error) {
	maxSegs := x.rmaMaxSegs
	if len(x.RIOVs) < maxSegs {
		maxSegs = len(x.RIOVs)
	}
	if maxSegs == 0 {
		return LoopContinue, nil
	}

	var maxBytes uint64
	for i := 0; i < maxSegs; i++ {
		maxBytes += x.RIOVs[i].Len
	}
	riovsMaxedOut := len(x.RIOVs) >= x.rmaMaxSegs

	var segments []fi.WriteSegment
	var firstH, lastH *BufHeader
	var total uint64

	for i := 0; i < maxSegs; i++ {
		head := s.ReadyForCxn.Peek()
		if head == nil || total >= maxBytes || x.WrPosted.Full() {
			break
		}

		oversize := uint64(head.NUsed)-uint64(x.FragmentOffset) > maxBytes-total
		if oversize && !riovsMaxedOut {
			break
		}

		if x.Config.reregister() && head.MR == nil {
			if err := registerBuf(x.domain, head, fi.MRAccessLocal, x.Keys.Next()); err != nil {
				return LoopError, err
			}
		}

		var length uintptr
		if oversize {
			length = uintptr(maxBytes - total)
		} else {
			length = head.NUsed - x.FragmentOffset
		}

		if x.FragmentOffset == 0 {
			head.Xfc.NChildren = 0
		}

		var h *BufHeader
		var err error
		if oversize {
			h, err = x.bufSplit(head, length)
			if err != nil {
				return LoopError, err
			}
		} else {
			s.ReadyForCxn.Get()
			h = head
		}
		if err != nil {
			return LoopError, err
		}

		x.WrPosted.Put(h)
		if firstH == nil {
			firstH = h
		}
		lastH = h

		h.Xfc.Owner = OwnerProgram
		h.Xfc.Place = 0

		offset := x.FragmentOffset
		if h.Xfc.Type == XferFragment {
			offset = uintptr(h.RAddr)
		}
		segments = append(segments, fi.WriteSegment{Region: head.MR, Offset: offset, Len: length})

		if oversize {
			x.FragmentOffset += length
		} else {
			x.FragmentOffset = 0
		}
		total += uint64(length)
	}

	if firstH == nil {
		return LoopContinue, nil
	}

	firstH.Xfc.Owner = OwnerNIC
	firstH.Xfc.Place = PlaceFirst
	lastH.Xfc.Place |= PlaceLast

	used, remaining := splitTargets(x.RIOVs, maxSegs, total)

	ctx, err := firstH.NewCompletionContext()
	if err != nil {
		return LoopError, err
	}
	if _, err := x.EP.PostWriteMsg(&fi.WriteMsgRequest{
		Segments: segments,
		Targets:  used,
		Address:  x.PeerAddr,
		Flags:    0,
		Context:  ctx,
	}); err != nil {
		ctx.Release()
		if m := x.metrics(); m != nil {
			m.WriteFailed(err, nil)
		}
		return LoopError, err
	}

	x.RIOVs = remaining
	return LoopContinue, nil
}

// progressUpdate enqueues a progress message reporting bytes written
// since the last report, or, once the source has reached EOF and every
// in-flight write has drained, the zero-nleftover message that closes the
// local half of the handshake.
func (x *Transmitter) progressUpdate(s *Session) {
	reachedEOF := s.Terminal.EOF() && s.ReadyForCxn.Empty() && x.WrPosted.Empty() && !x.EOF.Local

	if x.BytesProgress == 0 && !reachedEOF {
		return
	}
	if x.Progress.Ready.Full() {
		return
	}
	h := x.Progress.Pool.Get()
	if h == nil {
		return
	}
	pb := h.Self.(*ProgressBuf)

	h.Xfc.Owner = OwnerNIC
	pb.Msg.NFilled = x.BytesProgress
	if reachedEOF {
		pb.Msg.NLeftover = 0
	} else {
		pb.Msg.NLeftover = 1
	}
	pb.Encode()

	x.BytesProgress = 0
	x.Progress.Ready.Put(h)

	if reachedEOF {
		x.EOF.Local = true
	}
}

// Pass drives one step of the transmitter's state machine, matching the
// reference transmitter loop's ordering: completion processing, vector
// unloading, source-side trading, target writing, progress update and
// transmission, then a termination check once every queue has drained.
func (x *Transmitter) Pass(w *Worker, s *Session) (LoopControl, error) {
	if !x.Started {
		return x.start(w, s)
	}

	ctl, err := x.cqProcess(s)
	if err != nil {
		return LoopError, err
	}

	if ShutdownRequested() && !x.Cancelled {
		x.Cancel()
	}

	if x.Cancelled {
		if x.Progress.Posted.Empty() && x.Vec.Posted.Empty() && x.WrPosted.Empty() {
			return LoopEnd, ErrShutdownCancelled
		}
		return LoopContinue, nil
	}

	if err := x.vecbufUnload(); err != nil {
		return LoopError, err
	}

	srcCtl := s.Terminal.Trade(s.ReadyForTerminal, s.ReadyForCxn)
	if srcCtl == LoopError {
		return LoopError, fmt.Errorf("xfer: transmitter: source trade failed")
	}

	if ctl, err := x.targetsWrite(s); err != nil {
		return LoopError, err
	} else if ctl == LoopError {
		return LoopError, fmt.Errorf("xfer: transmitter: target write failed")
	}

	x.progressUpdate(s)

	if err := x.Progress.Transmit(x.EP, x.PeerAddr); err != nil {
		return LoopError, err
	}

	if !(srcCtl == LoopEnd && s.ReadyForCxn.Empty() && x.WrPosted.Empty() &&
		x.BytesProgress == 0 && x.EOF.Local) {
		return ctl, nil
	}

	for !x.EOF.Remote {
		h := x.Vec.Rcvd.Get()
		if h == nil {
			break
		}
		vb := h.Self.(*VectorBuf)
		if vb.Msg.NIOVs == 0 {
			x.EOF.Remote = true
		}
		deregisterBuf(h)
	}

	if x.EOF.Remote && x.Progress.Posted.Empty() {
		return LoopEnd, nil
	}
	return LoopContinue, nil
}
