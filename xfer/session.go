package xfer

import "github.com/google/uuid"

// Session pairs one connection's fabric state with one terminal's
// byte-stream state, plus the two hand-off queues moving buffers between
// them: ReadyForCxn holds buffers the connection is about to post or has
// already posted for the terminal to fill or drain; ReadyForTerminal holds
// buffers the connection has finished with, ready for the terminal.
//
// The reference implementation identifies a session by its position within
// a fixed-size array. A session here is identified by a uuid.UUID instead,
// so logs, traces, and SessionError can name a session independent of
// wherever a worker happens to have parked it.
type Session struct {
	ID               uuid.UUID
	Cxn              Connector
	Terminal         Terminal
	ReadyForCxn      *FIFO
	ReadyForTerminal *FIFO
}

// NewSession creates a session wiring a connection to a terminal with
// depth-capacity hand-off queues, identified by a freshly generated UUID.
func NewSession(cxn Connector, terminal Terminal, depth int) *Session {
	return &Session{
		ID:               uuid.New(),
		Cxn:              cxn,
		Terminal:         terminal,
		ReadyForCxn:      NewFIFO(depth),
		ReadyForTerminal: NewFIFO(depth),
	}
}
