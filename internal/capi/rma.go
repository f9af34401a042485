//go:build cgo

package capi

import (
	"errors"
	"unsafe"
)

/*
#cgo pkg-config: libfabric
#include <stdlib.h>
#include <rdma/fi_rma.h>
*/
import "C"

// RMAIOV describes one remote memory target: a provider-assigned offset,
// a length, and the registration key the peer advertised for it.
type RMAIOV struct {
	Addr uint64
	Len  uint64
	Key  uint64
}

// Read posts an RMA read operation.
func (e *Endpoint) Read(buf unsafe.Pointer, length uintptr, desc unsafe.Pointer, srcAddr FIAddr, key uint64, addr uint64, context unsafe.Pointer) error {
	if e == nil || e.ptr == nil {
		return ErrUnavailable.WithOp("fi_read")
	}
	status := C.fi_read(e.ptr, buf, C.size_t(length), desc, C.fi_addr_t(srcAddr), C.uint64_t(addr), C.uint64_t(key), context)
	return ErrorFromStatus(int(status), "fi_read")
}

// Write posts an RMA write operation.
func (e *Endpoint) Write(buf unsafe.Pointer, length uintptr, desc unsafe.Pointer, destAddr FIAddr, key uint64, addr uint64, context unsafe.Pointer) error {
	if e == nil || e.ptr == nil {
		return ErrUnavailable.WithOp("fi_write")
	}
	status := C.fi_write(e.ptr, buf, C.size_t(length), desc, C.fi_addr_t(destAddr), C.uint64_t(addr), C.uint64_t(key), context)
	return ErrorFromStatus(int(status), "fi_write")
}

// WriteMsg posts a scatter/gather RMA write: local segments named by iov/desc
// land at the remote targets named by riov, in order, until one side is
// exhausted. Both slices must have the same total length; the caller is
// responsible for pre-truncating them to a common length before calling.
func (e *Endpoint) WriteMsg(iov []MRIOVec, desc []unsafe.Pointer, riov []RMAIOV, destAddr FIAddr, flags uint64, context unsafe.Pointer) error {
	if e == nil || e.ptr == nil {
		return ErrUnavailable.WithOp("fi_writemsg")
	}
	if len(iov) == 0 || len(iov) != len(desc) {
		return errors.New("fi_writemsg: iov/desc length mismatch")
	}
	if len(riov) == 0 {
		return errors.New("fi_writemsg: empty rma_iov")
	}

	niov := len(iov)
	ciov := C.malloc(C.size_t(niov) * C.size_t(unsafe.Sizeof(C.struct_iovec{})))
	if ciov == nil {
		return ErrNoMemory.WithOp("fi_writemsg")
	}
	defer C.free(ciov)
	iovSlice := (*[1 << 30]C.struct_iovec)(ciov)[:niov:niov]

	cdesc := C.malloc(C.size_t(niov) * C.size_t(unsafe.Sizeof(unsafe.Pointer(nil))))
	if cdesc == nil {
		return ErrNoMemory.WithOp("fi_writemsg")
	}
	defer C.free(cdesc)
	descSlice := (*[1 << 30]unsafe.Pointer)(cdesc)[:niov:niov]

	for i, seg := range iov {
		if seg.Base == nil || seg.Length == 0 {
			return errors.New("fi_writemsg: local segment requires base pointer and length")
		}
		iovSlice[i].iov_base = seg.Base
		iovSlice[i].iov_len = C.size_t(seg.Length)
		descSlice[i] = desc[i]
	}

	nriov := len(riov)
	crma := C.malloc(C.size_t(nriov) * C.size_t(unsafe.Sizeof(C.struct_fi_rma_iov{})))
	if crma == nil {
		return ErrNoMemory.WithOp("fi_writemsg")
	}
	defer C.free(crma)
	rmaSlice := (*[1 << 30]C.struct_fi_rma_iov)(crma)[:nriov:nriov]
	for i, r := range riov {
		rmaSlice[i].addr = C.uint64_t(r.Addr)
		rmaSlice[i].len = C.size_t(r.Len)
		rmaSlice[i].key = C.uint64_t(r.Key)
	}

	msg := C.struct_fi_msg_rma{
		msg_iov:   (*C.struct_iovec)(ciov),
		desc:      (*unsafe.Pointer)(cdesc),
		iov_count: C.size_t(niov),
		addr:      C.fi_addr_t(destAddr),
		rma_iov:   (*C.struct_fi_rma_iov)(crma),
		rma_iov_count: C.size_t(nriov),
		context:   context,
		data:      0,
	}

	status := C.fi_writemsg(e.ptr, &msg, C.uint64_t(flags))
	return ErrorFromStatus(int(status), "fi_writemsg")
}
