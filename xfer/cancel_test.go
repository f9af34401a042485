package xfer

import "testing"

func TestShutdownRequested(t *testing.T) {
	shutdownRequested.Store(false)
	defer shutdownRequested.Store(false)

	if ShutdownRequested() {
		t.Fatalf("expected ShutdownRequested to be false before RequestShutdown")
	}
	RequestShutdown()
	if !ShutdownRequested() {
		t.Fatalf("expected ShutdownRequested to be true after RequestShutdown")
	}
}

func TestRequestShutdownIdempotent(t *testing.T) {
	shutdownRequested.Store(false)
	defer shutdownRequested.Store(false)

	RequestShutdown()
	RequestShutdown()
	if !ShutdownRequested() {
		t.Fatalf("expected ShutdownRequested to remain true")
	}
}
