package xfer

import (
	"testing"

	"github.com/hyoklee/fabtsuite/fi"
)

func TestBufListReplenishAndDrain(t *testing.T) {
	bl := NewBufList(nil, nil, fi.MRAccessLocal, 8, false)
	ok, err := bl.Replenish()
	if err != nil {
		t.Fatalf("Replenish: %v", err)
	}
	if !ok {
		t.Fatalf("expected Replenish to report the pool non-empty")
	}
	if bl.nfull != 4 {
		t.Fatalf("expected half capacity (4) filled, got %d", bl.nfull)
	}

	var got []*BufHeader
	for h := bl.Get(); h != nil; h = bl.Get() {
		got = append(got, h)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 buffers drained, got %d", len(got))
	}
	if bl.Get() != nil {
		t.Fatalf("expected an empty pool to return nil")
	}
}

func TestBufListPutRespectsCapacity(t *testing.T) {
	bl := NewBufList(nil, nil, fi.MRAccessLocal, 2, false)
	a := &BufHeader{}
	b := &BufHeader{}
	c := &BufHeader{}
	if !bl.Put(a) || !bl.Put(b) {
		t.Fatalf("expected Put to succeed under capacity")
	}
	if bl.Put(c) {
		t.Fatalf("expected Put to fail once the pool is at capacity")
	}
}

func TestBufListSizeCycleRotates(t *testing.T) {
	bl := NewBufList(nil, nil, fi.MRAccessLocal, 8, false)
	var lens []int
	for i := 0; i < len(payloadSizeCycle)+1; i++ {
		lens = append(lens, bl.nextPayloadLen())
	}
	for i, want := range payloadSizeCycle {
		if lens[i] != want {
			t.Fatalf("nextPayloadLen()[%d] = %d, want %d", i, lens[i], want)
		}
	}
	if lens[len(payloadSizeCycle)] != payloadSizeCycle[0] {
		t.Fatalf("expected size cycle to wrap back to the first entry")
	}
}

func TestBufListStaticModeLeavesMRUntouched(t *testing.T) {
	bl := NewBufList(nil, nil, fi.MRAccessLocal, 4, false)
	h := &BufHeader{}
	bl.Put(h)
	got := bl.Get()
	if got != h {
		t.Fatalf("expected Get to return the same header pushed")
	}
	if got.MR != nil {
		t.Fatalf("expected static mode to leave a nil MR alone")
	}
}

func TestBufListReregisterModeSkipsWithoutDomain(t *testing.T) {
	bl := NewBufList(nil, nil, fi.MRAccessLocal, 4, true)
	h := &BufHeader{}
	bl.Put(h)
	got := bl.Get()
	if got != h {
		t.Fatalf("expected Get to return the same header pushed")
	}
	if got.MR != nil {
		t.Fatalf("expected Get without a domain to leave MR nil rather than panic")
	}
}

func TestBufListCloseDrainsPool(t *testing.T) {
	bl := NewBufList(nil, nil, fi.MRAccessLocal, 4, false)
	bl.Put(&BufHeader{})
	bl.Put(&BufHeader{})
	if err := bl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if bl.nfull != 0 {
		t.Fatalf("expected Close to empty the pool, nfull=%d", bl.nfull)
	}
	if bl.Get() != nil {
		t.Fatalf("expected pool to be empty after Close")
	}
}
