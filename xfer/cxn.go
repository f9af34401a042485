package xfer

import "github.com/hyoklee/fabtsuite/fi"

// Connector is the behavior a worker drives on every pass over a session:
// make whatever progress the connection's role (receiver or transmitter)
// allows, and report whether to keep going, stop cleanly, or stop on
// error. Close releases the connection's fabric resources; Cancel aborts
// every operation the connection has outstanding so a worker can retire it
// promptly instead of waiting out each one's natural completion.
type Connector interface {
	Pass(w *Worker, s *Session) (LoopControl, error)
	Cancel()
	Close() error
}

// EOFState tracks the two directions of end-of-stream separately: Local is
// set once this side has finished sending its half of the close sequence,
// Remote once the peer's close has been observed.
type EOFState struct {
	Local  bool
	Remote bool
}

// Connection is the fabric state shared by a receiver and a transmitter
// connection: the bound endpoint, its event/completion queues and address
// vector, the resolved peer address, and a private key source for memory
// registration. Receiver and Transmitter embed it and add their own
// protocol state.
type Connection struct {
	EP        *fi.Endpoint
	EQ        *fi.EventQueue
	CQ        *fi.CompletionQueue
	AV        *fi.AddressVector
	PeerAddr  fi.Address
	Cancelled bool
	Started   bool
	EOF       EOFState
	Keys      KeySource
	Config    *Config
}

// NewConnection creates a Connection bound to an address vector and a
// configuration (logger, tracer, metrics); the endpoint, event queue, and
// completion queue are filled in once bring-up finishes enabling them. cfg
// may be nil, in which case logging, tracing, and metrics calls are no-ops.
func NewConnection(av *fi.AddressVector, cfg *Config) *Connection {
	return &Connection{AV: av, Config: cfg}
}

func (c *Connection) debugf(format string, args ...any)   { c.Config.debugf(format, args...) }
func (c *Connection) debugw(msg string, kv ...any)         { c.Config.debugw(msg, kv...) }
func (c *Connection) startSpan(name string, attrs ...TraceAttribute) Span {
	return c.Config.startSpan(name, attrs...)
}
func (c *Connection) metrics() MetricHook { return c.Config.metrics() }

// Cancel marks the connection cancelled. Concrete connection types
// override this via Connector.Cancel to additionally cancel outstanding
// rx/tx control operations; the embedded method just flips the flag so a
// worker checking Connection.Cancelled directly still observes it.
func (c *Connection) Cancel() { c.Cancelled = true }

// Close releases the connection's endpoint and queues.
func (c *Connection) Close() error {
	var first error
	if c.EP != nil {
		if err := c.EP.Close(); err != nil && first == nil {
			first = err
		}
		c.EP = nil
	}
	if c.CQ != nil {
		if err := c.CQ.Close(); err != nil && first == nil {
			first = err
		}
		c.CQ = nil
	}
	if c.EQ != nil {
		if err := c.EQ.Close(); err != nil && first == nil {
			first = err
		}
		c.EQ = nil
	}
	return first
}
