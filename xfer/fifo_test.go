package xfer

import "testing"

func TestNewFIFORejectsNonPowerOfTwo(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected NewFIFO(3) to panic")
		}
	}()
	NewFIFO(3)
}

func TestNewFIFORejectsZero(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected NewFIFO(0) to panic")
		}
	}()
	NewFIFO(0)
}

func TestFIFOPutGetOrder(t *testing.T) {
	f := NewFIFO(4)
	a, b, c := &BufHeader{}, &BufHeader{}, &BufHeader{}
	if !f.Put(a) || !f.Put(b) || !f.Put(c) {
		t.Fatalf("expected Put to succeed under capacity")
	}
	if got := f.Get(); got != a {
		t.Fatalf("expected FIFO order, got %p want %p", got, a)
	}
	if got := f.Get(); got != b {
		t.Fatalf("expected FIFO order, got %p want %p", got, b)
	}
	if got := f.Get(); got != c {
		t.Fatalf("expected FIFO order, got %p want %p", got, c)
	}
	if got := f.Get(); got != nil {
		t.Fatalf("expected an empty FIFO to return nil, got %p", got)
	}
}

// TestFIFOInsertionsRemovalsBound exercises invariant #1 (spec.md §8):
// 0 <= insertions - removals <= capacity, at every observable step across a
// wraparound of the underlying ring.
func TestFIFOInsertionsRemovalsBound(t *testing.T) {
	f := NewFIFO(2)
	check := func() {
		n := f.insertions - f.removals
		if n > f.indexMask+1 {
			t.Fatalf("invariant violated: insertions-removals=%d exceeds capacity %d", n, f.indexMask+1)
		}
	}

	for i := 0; i < 10; i++ {
		if !f.Put(&BufHeader{}) {
			t.Fatalf("Put unexpectedly failed at iteration %d", i)
		}
		check()
		if !f.Put(&BufHeader{}) {
			t.Fatalf("Put unexpectedly failed at iteration %d", i)
		}
		check()
		if f.Put(&BufHeader{}) {
			t.Fatalf("expected Put to fail once the FIFO is at capacity")
		}
		check()
		if f.Get() == nil {
			t.Fatalf("Get unexpectedly returned nil at iteration %d", i)
		}
		check()
		if f.Get() == nil {
			t.Fatalf("Get unexpectedly returned nil at iteration %d", i)
		}
		check()
	}
}

func TestFIFOFullAndEmpty(t *testing.T) {
	f := NewFIFO(2)
	if !f.Empty() {
		t.Fatalf("expected a fresh FIFO to be empty")
	}
	f.Put(&BufHeader{})
	if f.Empty() || f.Full() {
		t.Fatalf("expected a half-filled FIFO to be neither empty nor full")
	}
	f.Put(&BufHeader{})
	if !f.Full() {
		t.Fatalf("expected a filled FIFO to report full")
	}
	if f.Len() != 2 {
		t.Fatalf("expected Len() == 2, got %d", f.Len())
	}
}

func TestFIFOPeekDoesNotDequeue(t *testing.T) {
	f := NewFIFO(2)
	h := &BufHeader{}
	f.Put(h)
	if got := f.Peek(); got != h {
		t.Fatalf("expected Peek to return the head")
	}
	if f.Len() != 1 {
		t.Fatalf("expected Peek to leave the FIFO untouched, len=%d", f.Len())
	}
}

func TestFIFOCancelAllNilCancellerLeavesEntriesUntouched(t *testing.T) {
	f := NewFIFO(4)
	a := &BufHeader{}
	b := &BufHeader{}
	f.Put(a)
	f.Put(b)

	f.CancelAll(nil)
	if a.Xfc.Cancelled || b.Xfc.Cancelled {
		t.Fatalf("expected a nil EndpointCanceller to leave entries untouched")
	}
}
