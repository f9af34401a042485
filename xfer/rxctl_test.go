package xfer

import (
	"testing"

	"github.com/hyoklee/fabtsuite/fi"
)

func TestRxCtlCompleteEmptyPostedIsBenign(t *testing.T) {
	rc := NewRxCtl(4)
	h, err := rc.Complete(&fi.CompletionEvent{Flags: desiredRxFlags}, &BufHeader{})
	if err != nil || h != nil {
		t.Fatalf("expected (nil, nil) for an empty posted queue, got (%v, %v)", h, err)
	}
}

func TestRxCtlCompleteSuccess(t *testing.T) {
	rc := NewRxCtl(4)
	h := &BufHeader{}
	rc.Posted.Put(h)

	got, err := rc.Complete(&fi.CompletionEvent{Flags: desiredRxFlags, Len: 42}, h)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != h {
		t.Fatalf("expected Complete to return the posted header")
	}
	if got.NUsed != 42 {
		t.Fatalf("expected NUsed to be set from the completion length, got %d", got.NUsed)
	}
}

func TestRxCtlCompletePanicsOnContextMismatch(t *testing.T) {
	rc := NewRxCtl(4)
	h := &BufHeader{}
	rc.Posted.Put(h)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected Complete to panic when resolved != FIFO head")
		}
	}()
	rc.Complete(&fi.CompletionEvent{Flags: desiredRxFlags}, &BufHeader{})
}

func TestRxCtlCompletePanicsOnUnexpectedFlags(t *testing.T) {
	rc := NewRxCtl(4)
	h := &BufHeader{}
	rc.Posted.Put(h)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected Complete to panic on unexpected flags")
		}
	}()
	rc.Complete(&fi.CompletionEvent{Flags: 0}, h)
}

func TestRxCtlCompleteToleratesUnexpectedFlagsWhenCancelled(t *testing.T) {
	rc := NewRxCtl(4)
	h := &BufHeader{}
	h.Xfc.Cancelled = true
	rc.Posted.Put(h)

	got, err := rc.Complete(&fi.CompletionEvent{Flags: 0}, h)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != h {
		t.Fatalf("expected a cancelled completion to still resolve to its header")
	}
}
