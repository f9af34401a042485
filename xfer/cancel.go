package xfer

import "sync/atomic"

// shutdownRequested is the process-wide cancellation flag every session's
// per-pass loop polls, mirroring the reference implementation's
// signal-handler-set sig_atomic_t: a single global, set once by whatever
// installs SIGHUP/INT/QUIT/TERM handlers, observed by every receiver and
// transmitter on its next pass.
var shutdownRequested atomic.Bool

// RequestShutdown sets the global cancellation flag. Every live session
// observes it on its next Pass, cancels its outstanding control streams,
// and drains toward LoopEnd instead of waiting for its own EOF handshake.
func RequestShutdown() {
	shutdownRequested.Store(true)
}

// ShutdownRequested reports whether RequestShutdown has been called.
func ShutdownRequested() bool {
	return shutdownRequested.Load()
}
