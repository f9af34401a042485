package fi

import (
	"unsafe"

	"github.com/hyoklee/fabtsuite/internal/capi"
)

// PollSetAttr mirrors capi.PollAttr for poll-set configuration.
type PollSetAttr struct {
	Flags uint64
}

// PollSet aggregates multiple completion queues behind a single waitable
// handle so a worker can drive progress on many sessions with one call
// before inspecting each queue individually.
type PollSet struct {
	handle *capi.PollSet
}

// OpenPollSet opens a poll-set on the domain.
func (d *Domain) OpenPollSet(attr *PollSetAttr) (*PollSet, error) {
	if d == nil || d.handle == nil {
		return nil, ErrInvalidHandle{"domain"}
	}

	var ca *capi.PollAttr
	var tmp capi.PollAttr
	if attr != nil {
		tmp = capi.PollAttr{Flags: attr.Flags}
		ca = &tmp
	}

	handle, err := d.handle.OpenPollSet(ca)
	if err != nil {
		return nil, err
	}
	return &PollSet{handle: handle}, nil
}

// Close releases the poll-set.
func (p *PollSet) Close() error {
	if p == nil || p.handle == nil {
		return nil
	}
	err := p.handle.Close()
	p.handle = nil
	return err
}

// Add registers a completion queue with the poll-set.
func (p *PollSet) Add(cq *CompletionQueue, flags uint64) error {
	if p == nil || p.handle == nil {
		return ErrInvalidHandle{"poll set"}
	}
	if cq == nil || cq.handle == nil {
		return ErrInvalidHandle{"completion queue"}
	}
	return p.handle.Add(cq.handle, flags)
}

// Del removes a completion queue from the poll-set.
func (p *PollSet) Del(cq *CompletionQueue, flags uint64) error {
	if p == nil || p.handle == nil {
		return ErrInvalidHandle{"poll set"}
	}
	if cq == nil || cq.handle == nil {
		return ErrInvalidHandle{"completion queue"}
	}
	return p.handle.Del(cq.handle, flags)
}

// Poll drives progress on every completion queue registered with the
// poll-set. The return value is informational: it reports how many
// contexts the provider touched, not which queues have completions
// ready. Callers must still read each CQ to retrieve completions.
func (p *PollSet) Poll(max int) (int, error) {
	if p == nil || p.handle == nil {
		return 0, ErrInvalidHandle{"poll set"}
	}
	if max <= 0 {
		max = 1
	}
	contexts := make([]unsafe.Pointer, max)
	return p.handle.Poll(contexts)
}
