package xfer

import (
	"testing"

	"github.com/hyoklee/fabtsuite/fi"
)

// fakeSender stubs Sender so Transmit's EAGAIN handling can be exercised
// without a real fabric endpoint.
type fakeSender struct {
	err   error
	calls int
}

func (s *fakeSender) PostSend(req *fi.SendRequest) (*fi.CompletionContext, error) {
	s.calls++
	return nil, s.err
}

func TestTxCtlTransmitEAGAINLeavesHeadReady(t *testing.T) {
	tc := NewTxCtl(4, 4)
	h := &BufHeader{}
	tc.Ready.Put(h)

	sender := &fakeSender{err: fi.ErrAgain}
	if err := tc.Transmit(sender, fi.Address(0)); err != nil {
		t.Fatalf("expected EAGAIN to be absorbed, got %v", err)
	}
	if sender.calls != 1 {
		t.Fatalf("expected exactly one PostSend attempt, got %d", sender.calls)
	}
	if got := tc.Ready.Peek(); got != h {
		t.Fatalf("expected the buffer to remain at the head of Ready for retry")
	}
	if !tc.Posted.Empty() {
		t.Fatalf("expected nothing to move to Posted on EAGAIN")
	}
}

func TestTxCtlTransmitOtherErrorIsFatal(t *testing.T) {
	tc := NewTxCtl(4, 4)
	h := &BufHeader{}
	tc.Ready.Put(h)

	sender := &fakeSender{err: fi.ErrInvalidHandle{}}
	if err := tc.Transmit(sender, fi.Address(0)); err == nil {
		t.Fatalf("expected a non-EAGAIN PostSend error to propagate")
	}
}

func TestTxCtlCompleteNoPostedIsError(t *testing.T) {
	tc := NewTxCtl(4, 4)
	if err := tc.Complete(&fi.CompletionEvent{Flags: desiredTxFlags}, &BufHeader{}); err == nil {
		t.Fatalf("expected an error when no send was posted")
	}
}

func TestTxCtlCompleteSuccess(t *testing.T) {
	tc := NewTxCtl(4, 4)
	h := &BufHeader{}
	tc.Posted.Put(h)

	if err := tc.Complete(&fi.CompletionEvent{Flags: desiredTxFlags}, h); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if tc.Pool.Len() != 1 {
		t.Fatalf("expected the completed buffer to return to the pool")
	}
}

func TestTxCtlCompletePanicsOnContextMismatch(t *testing.T) {
	tc := NewTxCtl(4, 4)
	h := &BufHeader{}
	tc.Posted.Put(h)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected Complete to panic when resolved != FIFO head")
		}
	}()
	tc.Complete(&fi.CompletionEvent{Flags: desiredTxFlags}, &BufHeader{})
}

func TestTxCtlCompletePanicsOnUnexpectedFlags(t *testing.T) {
	tc := NewTxCtl(4, 4)
	h := &BufHeader{}
	tc.Posted.Put(h)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected Complete to panic on unexpected flags")
		}
	}()
	tc.Complete(&fi.CompletionEvent{Flags: 0}, h)
}

func TestTxCtlCompleteToleratesUnexpectedFlagsWhenCancelled(t *testing.T) {
	tc := NewTxCtl(4, 4)
	h := &BufHeader{}
	h.Xfc.Cancelled = true
	tc.Posted.Put(h)

	if err := tc.Complete(&fi.CompletionEvent{Flags: 0}, h); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestTxCtlCompletePanicsOnPoolOverflow(t *testing.T) {
	tc := NewTxCtl(4, 1)
	tc.Pool.Put(&BufHeader{})
	h := &BufHeader{}
	tc.Posted.Put(h)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected Complete to panic when the buffer pool is full")
		}
	}()
	tc.Complete(&fi.CompletionEvent{Flags: desiredTxFlags}, h)
}
