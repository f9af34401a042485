// Package wire defines the four fixed-layout messages exchanged between a
// receiver and a transmitter, and their encoding into the byte buffers that
// get registered as memory regions and posted directly to the fabric.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// NonceSize is the width of the initial message's handshake nonce.
	NonceSize = 16
	// AddrSize is the width of the provider address buffer embedded in
	// the initial and ack messages.
	AddrSize = 512
	// MaxVectorTriples bounds the number of RDMA targets one vector
	// message may advertise.
	MaxVectorTriples = 12

	// InitialMsgSize is the encoded size of InitialMsg.
	InitialMsgSize = NonceSize + 4 + 4 + 4 + AddrSize
	// AckMsgSize is the encoded size of AckMsg.
	AckMsgSize = 4 + AddrSize
	// VectorTripleSize is the encoded size of one (addr,len,key) triple.
	VectorTripleSize = 24
	// MaxVectorMsgSize is the encoded size of a vector message carrying
	// the maximum number of triples.
	MaxVectorMsgSize = 4 + MaxVectorTriples*VectorTripleSize
	// ProgressMsgSize is the fixed encoded size of ProgressMsg.
	ProgressMsgSize = 16
)

// ErrMalformed reports that a received message did not match its expected
// wire layout. Callers treat this as "malformed but recoverable" per the
// engine's error taxonomy: log and repost, no state change.
var ErrMalformed = errors.New("wire: malformed message")

// Nonce is an opaque handshake token. The engine does not interpret it; it
// exists on the wire for parity with the reference protocol.
type Nonce [NonceSize]byte

// InitialMsg is sent by the transmitter to announce itself and its
// provider address to the receiver.
type InitialMsg struct {
	Nonce    Nonce
	NSources uint32
	ID       uint32
	AddrLen  uint32
	Addr     [AddrSize]byte
}

// Encode writes m into buf, which must be at least InitialMsgSize bytes.
func (m *InitialMsg) Encode(buf []byte) {
	if len(buf) < InitialMsgSize {
		panic("wire: InitialMsg.Encode: buffer too small")
	}
	off := 0
	copy(buf[off:off+NonceSize], m.Nonce[:])
	off += NonceSize
	binary.BigEndian.PutUint32(buf[off:], m.NSources)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], m.ID)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], m.AddrLen)
	off += 4
	copy(buf[off:off+AddrSize], m.Addr[:])
}

// DecodeInitialMsg parses an InitialMsg from buf.
func DecodeInitialMsg(buf []byte) (InitialMsg, error) {
	var m InitialMsg
	if len(buf) != InitialMsgSize {
		return m, fmt.Errorf("%w: initial message is %d bytes, expected %d", ErrMalformed, len(buf), InitialMsgSize)
	}
	off := 0
	copy(m.Nonce[:], buf[off:off+NonceSize])
	off += NonceSize
	m.NSources = binary.BigEndian.Uint32(buf[off:])
	off += 4
	m.ID = binary.BigEndian.Uint32(buf[off:])
	off += 4
	m.AddrLen = binary.BigEndian.Uint32(buf[off:])
	off += 4
	copy(m.Addr[:], buf[off:off+AddrSize])
	return m, nil
}

// AckMsg is sent by the receiver once it has accepted the transmitter's
// initial message; it carries the receiver's own per-session address so
// the transmitter can replace its bootstrap peer address.
type AckMsg struct {
	AddrLen uint32
	Addr    [AddrSize]byte
}

// Encode writes m into buf, which must be at least AckMsgSize bytes.
func (m *AckMsg) Encode(buf []byte) {
	if len(buf) < AckMsgSize {
		panic("wire: AckMsg.Encode: buffer too small")
	}
	binary.BigEndian.PutUint32(buf, m.AddrLen)
	copy(buf[4:4+AddrSize], m.Addr[:])
}

// DecodeAckMsg parses an AckMsg from buf.
func DecodeAckMsg(buf []byte) (AckMsg, error) {
	var m AckMsg
	if len(buf) != AckMsgSize {
		return m, fmt.Errorf("%w: ack message is %d bytes, expected %d", ErrMalformed, len(buf), AckMsgSize)
	}
	m.AddrLen = binary.BigEndian.Uint32(buf)
	copy(m.Addr[:], buf[4:4+AddrSize])
	return m, nil
}

// VectorTriple names one RDMA target the receiver has advertised: a
// provider-relative offset, the length available there, and the
// registration key the transmitter must cite to write into it.
type VectorTriple struct {
	Addr uint64
	Len  uint64
	Key  uint64
}

// VectorMsg advertises up to MaxVectorTriples RDMA targets. A zero-triple
// message signals EOF on the advertising side.
type VectorMsg struct {
	NIOVs uint32
	IOV   [MaxVectorTriples]VectorTriple
}

// EncodedLen reports how many bytes m.Encode will produce.
func (m *VectorMsg) EncodedLen() int {
	return 4 + int(m.NIOVs)*VectorTripleSize
}

// Encode writes m into buf, which must be at least m.EncodedLen() bytes.
func (m *VectorMsg) Encode(buf []byte) {
	n := m.EncodedLen()
	if len(buf) < n {
		panic("wire: VectorMsg.Encode: buffer too small")
	}
	binary.BigEndian.PutUint32(buf, m.NIOVs)
	off := 4
	for i := 0; i < int(m.NIOVs); i++ {
		t := m.IOV[i]
		binary.BigEndian.PutUint64(buf[off:], t.Addr)
		binary.BigEndian.PutUint64(buf[off+8:], t.Len)
		binary.BigEndian.PutUint64(buf[off+16:], t.Key)
		off += VectorTripleSize
	}
}

// DecodeVectorMsg parses a VectorMsg from buf, enforcing the well-formedness
// rules from the component design: at least 4 header bytes, trailing bytes
// an exact multiple of one triple, niovs within the advertised bound, and
// enough trailing bytes for the niovs the header claims.
func DecodeVectorMsg(buf []byte) (VectorMsg, error) {
	var m VectorMsg
	if len(buf) < 4 {
		return m, fmt.Errorf("%w: vector message is %d bytes, expected at least 4", ErrMalformed, len(buf))
	}
	rest := buf[4:]
	if len(rest)%VectorTripleSize != 0 {
		return m, fmt.Errorf("%w: vector message did not end on a %d-byte boundary", ErrMalformed, VectorTripleSize)
	}
	niovs := binary.BigEndian.Uint32(buf)
	available := len(rest) / VectorTripleSize
	if available < int(niovs) {
		return m, fmt.Errorf("%w: vector message advertised %d triples but carried %d", ErrMalformed, niovs, available)
	}
	if niovs > MaxVectorTriples {
		return m, fmt.Errorf("%w: vector message advertised %d triples, limit is %d", ErrMalformed, niovs, MaxVectorTriples)
	}
	m.NIOVs = niovs
	off := 0
	for i := 0; i < int(niovs); i++ {
		m.IOV[i] = VectorTriple{
			Addr: binary.BigEndian.Uint64(rest[off:]),
			Len:  binary.BigEndian.Uint64(rest[off+8:]),
			Key:  binary.BigEndian.Uint64(rest[off+16:]),
		}
		off += VectorTripleSize
	}
	return m, nil
}

// ProgressMsg reports how many bytes the transmitter has written via RDMA
// since its last report, and whether more are still to come.
type ProgressMsg struct {
	NFilled   uint64
	NLeftover uint64
}

// Encode writes m into buf, which must be at least ProgressMsgSize bytes.
func (m *ProgressMsg) Encode(buf []byte) {
	if len(buf) < ProgressMsgSize {
		panic("wire: ProgressMsg.Encode: buffer too small")
	}
	binary.BigEndian.PutUint64(buf, m.NFilled)
	binary.BigEndian.PutUint64(buf[8:], m.NLeftover)
}

// DecodeProgressMsg parses a ProgressMsg from buf. Any size other than
// ProgressMsgSize is malformed.
func DecodeProgressMsg(buf []byte) (ProgressMsg, error) {
	var m ProgressMsg
	if len(buf) != ProgressMsgSize {
		return m, fmt.Errorf("%w: progress message is %d bytes, expected %d", ErrMalformed, len(buf), ProgressMsgSize)
	}
	m.NFilled = binary.BigEndian.Uint64(buf)
	m.NLeftover = binary.BigEndian.Uint64(buf[8:])
	return m, nil
}
