//go:build cgo

package capi

import "unsafe"

/*
#cgo pkg-config: libfabric
#include <stdlib.h>
#include <rdma/fabric.h>
#include <rdma/fi_domain.h>
*/
import "C"

// PollSet wraps a libfabric fid_poll handle.
type PollSet struct {
	ptr *C.struct_fid_poll
}

// PollAttr configures poll-set creation.
type PollAttr struct {
	Flags uint64
}

// OpenPollSet opens a poll-set on the domain.
func (d *Domain) OpenPollSet(attr *PollAttr) (*PollSet, error) {
	if d == nil || d.ptr == nil {
		return nil, ErrUnavailable.WithOp("fi_poll_open")
	}

	var pa *C.struct_fi_poll_attr
	var tmp C.struct_fi_poll_attr
	if attr != nil {
		tmp.flags = C.uint64_t(attr.Flags)
		pa = &tmp
	}

	var ps *C.struct_fid_poll
	status := C.fi_poll_open(d.ptr, pa, &ps)
	if err := ErrorFromStatus(int(status), "fi_poll_open"); err != nil {
		return nil, err
	}
	return &PollSet{ptr: ps}, nil
}

// Close releases the poll-set.
func (p *PollSet) Close() error {
	if p == nil || p.ptr == nil {
		return nil
	}
	status := C.fi_close((*C.struct_fid)(unsafe.Pointer(p.ptr)))
	if err := ErrorFromStatus(int(status), "fi_close(pollset)"); err != nil {
		return err
	}
	p.ptr = nil
	return nil
}

// Add registers a completion queue's fid with the poll-set.
func (p *PollSet) Add(cq *CompletionQueue, flags uint64) error {
	if p == nil || p.ptr == nil {
		return ErrUnavailable.WithOp("fi_poll_add")
	}
	if cq == nil || cq.ptr == nil {
		return ErrUnavailable.WithOp("fi_poll_add")
	}
	status := C.fi_poll_add(p.ptr, (*C.struct_fid)(unsafe.Pointer(cq.ptr)), C.uint64_t(flags))
	return ErrorFromStatus(int(status), "fi_poll_add")
}

// Del removes a completion queue's fid from the poll-set.
func (p *PollSet) Del(cq *CompletionQueue, flags uint64) error {
	if p == nil || p.ptr == nil {
		return ErrUnavailable.WithOp("fi_poll_del")
	}
	if cq == nil || cq.ptr == nil {
		return ErrUnavailable.WithOp("fi_poll_del")
	}
	status := C.fi_poll_del(p.ptr, (*C.struct_fid)(unsafe.Pointer(cq.ptr)), C.uint64_t(flags))
	return ErrorFromStatus(int(status), "fi_poll_del")
}

// Poll drives the underlying progress engine for every CQ registered with
// the poll-set and reports how many contexts it touched. The returned
// contexts are opaque and only useful as a hint that progress occurred;
// callers still read the individual CQs to retrieve completions.
func (p *PollSet) Poll(contexts []unsafe.Pointer) (int, error) {
	if p == nil || p.ptr == nil {
		return 0, ErrUnavailable.WithOp("fi_poll")
	}
	if len(contexts) == 0 {
		return 0, nil
	}
	n := C.fi_poll(p.ptr, (*unsafe.Pointer)(unsafe.Pointer(&contexts[0])), C.int(len(contexts)))
	if n < 0 {
		return 0, ErrorFromStatus(int(n), "fi_poll")
	}
	return int(n), nil
}
