package fi

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/hyoklee/fabtsuite/internal/capi"
)

// RMARequest describes a remote memory access operation.
type RMARequest struct {
	Buffer  []byte
	Region  *MemoryRegion
	Key     uint64
	Offset  uint64
	Address Address
	Context *CompletionContext
	Flags   uint64
}

// PostRead posts an RMA read from the remote address into the local buffer or registered region.
func (e *Endpoint) PostRead(req *RMARequest) (*CompletionContext, error) {
	if e == nil || e.handle == nil {
		return nil, ErrInvalidHandle{"endpoint"}
	}
	if req == nil {
		return nil, errors.New("libfabric: nil RMA request")
	}

	ctx, err := ensureContext(req.Context)
	if err != nil {
		return nil, err
	}

	var buf unsafe.Pointer
	var desc unsafe.Pointer
	length := len(req.Buffer)

	if req.Region != nil {
		if err := ensureRegionAccess(req.Region, MRAccessLocal); err != nil {
			ctx.Release()
			return nil, err
		}
		buf = req.Region.buffer
		desc = req.Region.Descriptor()
		if length == 0 {
			length = int(req.Region.length)
		} else if uintptr(length) > req.Region.length {
			ctx.Release()
			return nil, fmt.Errorf("libfabric: read length exceeds registered region")
		}
		if len(req.Buffer) > 0 {
			ctx.setCopyBack(req.Buffer)
		}
	} else if length > 0 {
		var allocErr error
		buf, allocErr = ctx.ensureBuffer(uintptr(length))
		if allocErr != nil {
			ctx.Release()
			return nil, allocErr
		}
		ctx.setCopyBack(req.Buffer)
	} else {
		ctx.Release()
		return nil, errors.New("libfabric: RMA read requires buffer or region")
	}

	if err := e.handle.Read(buf, uintptr(length), desc, capi.FIAddr(req.Address), req.Key, req.Offset, ctx.Pointer()); err != nil {
		ctx.Release()
		return nil, err
	}
	return ctx, nil
}

// PostWrite posts an RMA write from the local buffer or region to the remote address.
func (e *Endpoint) PostWrite(req *RMARequest) (*CompletionContext, error) {
	if e == nil || e.handle == nil {
		return nil, ErrInvalidHandle{"endpoint"}
	}
	if req == nil {
		return nil, errors.New("libfabric: nil RMA request")
	}

	ctx, err := ensureContext(req.Context)
	if err != nil {
		return nil, err
	}

	var buf unsafe.Pointer
	var desc unsafe.Pointer
	length := len(req.Buffer)

	if req.Region != nil {
		if err := ensureRegionAccess(req.Region, MRAccessLocal); err != nil {
			ctx.Release()
			return nil, err
		}
		buf = req.Region.buffer
		desc = req.Region.Descriptor()
		if length == 0 {
			length = int(req.Region.length)
		} else if uintptr(length) > req.Region.length {
			ctx.Release()
			return nil, fmt.Errorf("libfabric: write length exceeds registered region")
		}
	} else if length > 0 {
		var allocErr error
		buf, allocErr = ctx.ensureBuffer(uintptr(length))
		if allocErr != nil {
			ctx.Release()
			return nil, allocErr
		}
		capi.Memcpy(buf, unsafe.Pointer(&req.Buffer[0]), uintptr(length))
	} else {
		ctx.Release()
		return nil, errors.New("libfabric: RMA write requires buffer or region")
	}

	if err := e.handle.Write(buf, uintptr(length), desc, capi.FIAddr(req.Address), req.Key, req.Offset, ctx.Pointer()); err != nil {
		ctx.Release()
		return nil, err
	}
	return ctx, nil
}

// RMATarget names one remote memory target for a scatter/gather write:
// a provider-assigned offset, a length, and the key the peer advertised.
type RMATarget struct {
	Addr uint64
	Len  uint64
	Key  uint64
}

// WriteSegment names one local, already-registered memory segment
// contributing to a scatter/gather RMA write.
type WriteSegment struct {
	Region *MemoryRegion
	Offset uintptr
	Len    uintptr
}

// WriteMsgRequest describes a scatter/gather RMA write spanning multiple
// local segments and landing at multiple remote targets, in order.
type WriteMsgRequest struct {
	Segments []WriteSegment
	Targets  []RMATarget
	Address  Address
	Flags    uint64
	Context  *CompletionContext
}

// PostWriteMsg posts a scatter/gather RMA write. The caller is responsible
// for ensuring the sum of segment lengths equals the sum of target lengths;
// callers needing to redistribute a short write across the next pass's
// arrays should do so themselves (see the transfer engine's write-fully
// helper) rather than relying on this call to do partial progress.
func (e *Endpoint) PostWriteMsg(req *WriteMsgRequest) (*CompletionContext, error) {
	if e == nil || e.handle == nil {
		return nil, ErrInvalidHandle{"endpoint"}
	}
	if req == nil || len(req.Segments) == 0 || len(req.Targets) == 0 {
		return nil, errors.New("libfabric: writemsg requires segments and targets")
	}

	ctx, err := ensureContext(req.Context)
	if err != nil {
		return nil, err
	}

	iov := make([]capi.MRIOVec, len(req.Segments))
	desc := make([]unsafe.Pointer, len(req.Segments))
	for i, seg := range req.Segments {
		if seg.Region == nil {
			ctx.Release()
			return nil, errors.New("libfabric: writemsg segment requires a registered region")
		}
		if err := ensureRegionAccess(seg.Region, MRAccessLocal); err != nil {
			ctx.Release()
			return nil, err
		}
		base := unsafe.Add(seg.Region.buffer, seg.Offset)
		iov[i] = capi.MRIOVec{Base: base, Length: seg.Len}
		desc[i] = seg.Region.Descriptor()
	}

	riov := make([]capi.RMAIOV, len(req.Targets))
	for i, t := range req.Targets {
		riov[i] = capi.RMAIOV{Addr: t.Addr, Len: t.Len, Key: t.Key}
	}

	if err := e.handle.WriteMsg(iov, desc, riov, capi.FIAddr(req.Address), req.Flags, ctx.Pointer()); err != nil {
		ctx.Release()
		return nil, err
	}
	return ctx, nil
}

// ReadSync posts a read and waits for completion.
func (e *Endpoint) ReadSync(req *RMARequest, cq *CompletionQueue, timeout time.Duration) error {
	if cq == nil {
		return errors.New("libfabric: completion queue required")
	}
	ctx, err := e.PostRead(req)
	if err != nil {
		return err
	}
	return waitForContext(cq, ctx, timeout)
}

// WriteSync posts a write and waits for completion.
func (e *Endpoint) WriteSync(req *RMARequest, cq *CompletionQueue, timeout time.Duration) error {
	if cq == nil {
		return errors.New("libfabric: completion queue required")
	}
	ctx, err := e.PostWrite(req)
	if err != nil {
		return err
	}
	return waitForContext(cq, ctx, timeout)
}

// ReadSyncContext posts a read and waits for completion with context cancellation support.
func (e *Endpoint) ReadSyncContext(ctx context.Context, req *RMARequest, cq *CompletionQueue, timeout time.Duration) error {
	if cq == nil {
		return errors.New("libfabric: completion queue required")
	}
	completion, err := e.PostRead(req)
	if err != nil {
		return err
	}
	return waitForContextWithContext(ctx, cq, completion, timeout)
}

// WriteSyncContext posts a write and waits for completion with context cancellation support.
func (e *Endpoint) WriteSyncContext(ctx context.Context, req *RMARequest, cq *CompletionQueue, timeout time.Duration) error {
	if cq == nil {
		return errors.New("libfabric: completion queue required")
	}
	completion, err := e.PostWrite(req)
	if err != nil {
		return err
	}
	return waitForContextWithContext(ctx, cq, completion, timeout)
}
