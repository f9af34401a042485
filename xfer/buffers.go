package xfer

import (
	"github.com/hyoklee/fabtsuite/fi"
	"github.com/hyoklee/fabtsuite/wire"
)

// ByteBuf is a raw payload buffer: the unit posted for rxctl/txctl sends and
// receives and the unit an RDMA write's local iov entries are carved from.
// Payload is always Hdr.Raw; registration may repoint Hdr.Raw at a copy
// held in provider memory, so callers read the payload through Payload()
// rather than caching the slice returned at construction time.
type ByteBuf struct {
	Hdr BufHeader
}

// NewByteBuf allocates a ByteBuf with a paylen-byte payload.
func NewByteBuf(paylen int) *ByteBuf {
	b := &ByteBuf{}
	b.Hdr.Xfc.Type = XferRDMAWrite
	b.Hdr.NAllocated = uintptr(paylen)
	b.Hdr.Raw = make([]byte, paylen)
	b.Hdr.Self = b
	return b
}

// Payload returns the buffer's current backing bytes.
func (b *ByteBuf) Payload() []byte { return b.Hdr.Raw }

// Fragment is a bufhdr-sized slice of a parent ByteBuf's payload, used when
// an RDMA write must span more of a buffer than the provider's rma_iov
// limit allows in one message. It owns no payload of its own: Parent names
// the ByteBuf (or another Fragment's parent) that actually holds the bytes.
//
// The reference implementation sizes a fragment's nallocated field to
// sizeof(fragment_t)-sizeof(bufhdr_t), a stale leftover from before
// fragments stopped carrying an inline payload. A fragment never owns
// bytes, so NAllocated is zero here.
type Fragment struct {
	Hdr    BufHeader
	Parent *BufHeader
}

// NewFragment allocates a Fragment pointing at parent.
func NewFragment(parent *BufHeader) *Fragment {
	f := &Fragment{Parent: parent}
	f.Hdr.Xfc.Type = XferFragment
	f.Hdr.Self = f
	return f
}

// ProgressBuf carries one encoded wire.ProgressMsg.
type ProgressBuf struct {
	Hdr BufHeader
	Msg wire.ProgressMsg
}

// NewProgressBuf allocates a ProgressBuf with its wire encoding pre-sized.
func NewProgressBuf() *ProgressBuf {
	pb := &ProgressBuf{}
	pb.Hdr.Xfc.Type = XferProgress
	pb.Hdr.NAllocated = wire.ProgressMsgSize
	pb.Hdr.Raw = make([]byte, wire.ProgressMsgSize)
	pb.Hdr.Self = pb
	return pb
}

// Encode serializes Msg into the buffer's wire representation.
func (pb *ProgressBuf) Encode() {
	pb.Msg.Encode(pb.Hdr.Raw)
	pb.Hdr.NUsed = wire.ProgressMsgSize
}

// Decode parses the buffer's wire representation into Msg.
func (pb *ProgressBuf) Decode() error {
	m, err := wire.DecodeProgressMsg(pb.Hdr.Raw[:pb.Hdr.NUsed])
	if err != nil {
		return err
	}
	pb.Msg = m
	return nil
}

// VectorBuf carries one encoded wire.VectorMsg.
type VectorBuf struct {
	Hdr BufHeader
	Msg wire.VectorMsg
}

// NewVectorBuf allocates a VectorBuf sized for the maximum number of
// triples a single vector message may carry.
func NewVectorBuf() *VectorBuf {
	vb := &VectorBuf{}
	vb.Hdr.Xfc.Type = XferVector
	vb.Hdr.NAllocated = wire.MaxVectorMsgSize
	vb.Hdr.Raw = make([]byte, wire.MaxVectorMsgSize)
	vb.Hdr.Self = vb
	return vb
}

// Encode serializes Msg into the buffer's wire representation and records
// how many bytes that occupied in Hdr.NUsed.
func (vb *VectorBuf) Encode() {
	n := vb.Msg.EncodedLen()
	vb.Msg.Encode(vb.Hdr.Raw[:n])
	vb.Hdr.NUsed = uintptr(n)
}

// Decode parses the buffer's wire representation into Msg.
func (vb *VectorBuf) Decode() error {
	m, err := wire.DecodeVectorMsg(vb.Hdr.Raw[:vb.Hdr.NUsed])
	if err != nil {
		return err
	}
	vb.Msg = m
	return nil
}

// WellFormed reports whether vb's decoded message satisfies the
// well-formedness rule for vector advertisements: either it carries no
// triples (an EOF marker) or every triple names a non-zero length.
func (vb *VectorBuf) WellFormed() bool {
	if vb.Msg.NIOVs == 0 {
		return true
	}
	for i := uint32(0); i < vb.Msg.NIOVs; i++ {
		if vb.Msg.IOV[i].Len == 0 {
			return false
		}
	}
	return true
}

// registerBuf pins h's backing buffer as a memory region with the given
// access flags and key. Registration copies the buffer into provider
// memory, so h.Raw is repointed at the registered copy afterward; every
// reader of a buffer's bytes must go through Hdr.Raw (or an accessor built
// on it), never a slice captured before registration.
func registerBuf(domain *fi.Domain, h *BufHeader, access fi.MRAccessFlag, key uint64) error {
	mr, err := domain.RegisterMemoryWithOptions(h.Raw, &fi.MRRegisterOptions{
		Access:       access,
		RequestedKey: key,
	})
	if err != nil {
		return err
	}
	h.MR = mr
	h.Raw = mr.Bytes()
	return nil
}

// deregisterBuf releases h's memory region, if any.
func deregisterBuf(h *BufHeader) error {
	if h.MR == nil {
		return nil
	}
	err := h.MR.Close()
	h.MR = nil
	return err
}
