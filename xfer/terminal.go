package xfer

// LoopControl reports how a connection or terminal's inner loop step wants
// its caller to proceed.
type LoopControl int

const (
	// LoopContinue means the step made progress and should be called again.
	LoopContinue LoopControl = iota
	// LoopEnd means the step is done; no more progress will be made.
	LoopEnd
	// LoopError means the step hit an unrecoverable condition.
	LoopError
)

func (c LoopControl) String() string {
	switch c {
	case LoopContinue:
		return "continue"
	case LoopEnd:
		return "end"
	case LoopError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal is the program-side endpoint of a transfer: it either produces
// bytes to send (a Source) or consumes bytes received (a Sink). Trade
// moves buffers between the ready queue (payload buffers awaiting this
// terminal's attention) and the completed queue (buffers the terminal has
// finished with), filling or checking payloads as it goes.
type Terminal interface {
	Trade(ready, completed *FIFO) LoopControl
	EOF() bool
}

// referenceText is the fixed byte pattern a Source fills buffers with and
// a Sink verifies buffers against. It is cycled rather than generated
// randomly so a Source/Sink pair never needs to exchange the pattern
// itself — both sides compute it identically from idx alone.
const referenceText = "I am a string that is used to fill up fixed-size buffers.\n"

// Source produces a fixed-length, fixed-content byte stream by cycling
// referenceText into each buffer the connection hands it.
type Source struct {
	idx       uint64
	entireLen uint64
	eof       bool
}

// NewSource creates a Source that will produce entireLen bytes.
func NewSource(entireLen uint64) *Source {
	return &Source{entireLen: entireLen}
}

// EOF reports whether the source has produced its entire stream.
func (s *Source) EOF() bool { return s.eof }

// Trade fills buffers pulled from ready with the next slice of the
// reference stream and moves them to completed, until ready runs dry,
// completed fills up, or the whole stream has been produced.
func (s *Source) Trade(ready, completed *FIFO) LoopControl {
	if s.eof {
		return LoopEnd
	}

	txbuflen := uint64(len(referenceText))

	for {
		h := ready.Peek()
		if h == nil || completed.Full() {
			break
		}
		bb, ok := h.Self.(*ByteBuf)
		if !ok {
			return LoopError
		}

		if s.idx == s.entireLen {
			s.eof = true
			return LoopEnd
		}

		n := min64(s.entireLen-s.idx, uint64(h.NAllocated))
		h.NUsed = uintptr(n)
		payload := bb.Payload()
		for ofs := uint64(0); ofs < n; {
			txOfs := (s.idx + ofs) % txbuflen
			length := min64(n-ofs, txbuflen-txOfs)
			copy(payload[ofs:ofs+length], referenceText[txOfs:txOfs+length])
			ofs += length
		}

		ready.Get()
		completed.Put(h)
		s.idx += n
	}

	if s.idx != s.entireLen {
		return LoopContinue
	}
	s.eof = true
	return LoopEnd
}

// Sink consumes a fixed-length byte stream, verifying every received
// buffer against the reference pattern a matching Source would have
// produced.
type Sink struct {
	idx       uint64
	entireLen uint64
	eof       bool
}

// NewSink creates a Sink that expects to receive entireLen bytes.
func NewSink(entireLen uint64) *Sink {
	return &Sink{entireLen: entireLen}
}

// EOF reports whether the sink has received its entire expected stream.
func (s *Sink) EOF() bool { return s.eof }

// Trade verifies buffers pulled from ready against the reference stream
// and moves them to completed, until ready runs dry, completed fills up,
// or the whole stream has been received.
func (s *Sink) Trade(ready, completed *FIFO) LoopControl {
	if s.eof && !ready.Empty() {
		return LoopError
	}

	txbuflen := uint64(len(referenceText))

	for {
		h := ready.Peek()
		if h == nil || completed.Full() {
			break
		}
		bb, ok := h.Self.(*ByteBuf)
		if !ok {
			return LoopError
		}

		n := uint64(h.NUsed)
		if n+s.idx > s.entireLen {
			return LoopError
		}

		payload := bb.Payload()
		for ofs := uint64(0); ofs < n; {
			txOfs := (s.idx + ofs) % txbuflen
			length := min64(n-ofs, txbuflen-txOfs)
			if string(payload[ofs:ofs+length]) != referenceText[txOfs:txOfs+length] {
				return LoopError
			}
			ofs += length
		}

		ready.Get()
		completed.Put(h)
		s.idx += n
	}

	if s.idx != s.entireLen {
		return LoopContinue
	}
	s.eof = true
	return LoopEnd
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
