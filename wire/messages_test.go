package wire

import "testing"

func TestVectorMsgRoundTrip(t *testing.T) {
	var m VectorMsg
	m.NIOVs = 3
	m.IOV[0] = VectorTriple{Addr: 1, Len: 2, Key: 3}
	m.IOV[1] = VectorTriple{Addr: 4, Len: 5, Key: 6}
	m.IOV[2] = VectorTriple{Addr: 7, Len: 8, Key: 9}

	buf := make([]byte, m.EncodedLen())
	m.Encode(buf)

	got, err := DecodeVectorMsg(buf)
	if err != nil {
		t.Fatalf("DecodeVectorMsg: %v", err)
	}
	if got.NIOVs != m.NIOVs || got.IOV[0] != m.IOV[0] || got.IOV[2] != m.IOV[2] {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, m)
	}
}

func TestVectorMsgMaxTriplesAccepted(t *testing.T) {
	var m VectorMsg
	m.NIOVs = MaxVectorTriples
	for i := range m.IOV {
		m.IOV[i] = VectorTriple{Addr: uint64(i), Len: 1, Key: 1}
	}
	buf := make([]byte, m.EncodedLen())
	m.Encode(buf)
	if _, err := DecodeVectorMsg(buf); err != nil {
		t.Fatalf("12-triple vector message should be accepted: %v", err)
	}
}

func TestVectorMsgTooManyTriplesRejected(t *testing.T) {
	buf := make([]byte, 4+(MaxVectorTriples+1)*VectorTripleSize)
	// header claims one more triple than the limit allows.
	buf[3] = MaxVectorTriples + 1
	if _, err := DecodeVectorMsg(buf); err == nil {
		t.Fatalf("expected rejection of a 13-triple vector message")
	}
}

func TestVectorMsgTruncatedTrailerRejected(t *testing.T) {
	buf := make([]byte, 4+VectorTripleSize+1)
	if _, err := DecodeVectorMsg(buf); err == nil {
		t.Fatalf("expected rejection of a non-24-aligned trailer")
	}
}

func TestVectorMsgZeroTriplesIsEOF(t *testing.T) {
	var m VectorMsg
	buf := make([]byte, m.EncodedLen())
	m.Encode(buf)
	got, err := DecodeVectorMsg(buf)
	if err != nil {
		t.Fatalf("0-triple vector message should be accepted as EOF: %v", err)
	}
	if got.NIOVs != 0 {
		t.Fatalf("expected NIOVs == 0, got %d", got.NIOVs)
	}
}

func TestProgressMsgRoundTrip(t *testing.T) {
	m := ProgressMsg{NFilled: 1234, NLeftover: 1}
	buf := make([]byte, ProgressMsgSize)
	m.Encode(buf)

	got, err := DecodeProgressMsg(buf)
	if err != nil {
		t.Fatalf("DecodeProgressMsg: %v", err)
	}
	if got != m {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, m)
	}
}

func TestProgressMsgWrongSizeRejected(t *testing.T) {
	if _, err := DecodeProgressMsg(make([]byte, ProgressMsgSize-1)); err == nil {
		t.Fatalf("expected rejection of a short progress message")
	}
	if _, err := DecodeProgressMsg(make([]byte, ProgressMsgSize+1)); err == nil {
		t.Fatalf("expected rejection of an oversize progress message")
	}
}

func TestInitialAckRoundTrip(t *testing.T) {
	var in InitialMsg
	in.Nonce[0] = 0xAB
	in.NSources = 1
	in.ID = 0
	in.AddrLen = 6
	copy(in.Addr[:], []byte("peerat"))

	buf := make([]byte, InitialMsgSize)
	in.Encode(buf)
	got, err := DecodeInitialMsg(buf)
	if err != nil {
		t.Fatalf("DecodeInitialMsg: %v", err)
	}
	if got.NSources != 1 || got.ID != 0 || got.AddrLen != 6 {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	var ack AckMsg
	ack.AddrLen = 6
	copy(ack.Addr[:], []byte("peerat"))
	abuf := make([]byte, AckMsgSize)
	ack.Encode(abuf)
	gotAck, err := DecodeAckMsg(abuf)
	if err != nil {
		t.Fatalf("DecodeAckMsg: %v", err)
	}
	if gotAck.AddrLen != 6 {
		t.Fatalf("round trip mismatch: %+v", gotAck)
	}
}
