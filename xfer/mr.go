package xfer

import (
	"unsafe"

	"github.com/hyoklee/fabtsuite/fi"
)

// RegisteredSegment names one segment of a multi-registration: the local
// bytes it covers, the registration that owns it, and the provider-relative
// offset a peer would use to address it.
type RegisteredSegment struct {
	Base   []byte
	Region *fi.MemoryRegion
	RAddr  uint64
}

// RegisterSegmentsAll registers the segments in segs using at
// most maxSegs segments per registration, splitting into
// ceil(len(segs)/maxSegs) fi_mr_regv-style calls. If any call fails, every
// registration already made by this call is torn down before the error is
// returned.
func RegisterSegmentsAll(domain *fi.Domain, segs [][]byte, maxSegs int, access fi.MRAccessFlag, keys *KeySource) ([]RegisteredSegment, error) {
	if len(segs) == 0 {
		return nil, nil
	}
	if maxSegs < 1 {
		maxSegs = 1
	}

	out := make([]RegisteredSegment, len(segs))
	var regions []*fi.MemoryRegion

	for start := 0; start < len(segs); start += maxSegs {
		end := start + maxSegs
		if end > len(segs) {
			end = len(segs)
		}
		batch := segs[start:end]

		mrSegs := make([]fi.MRSegment, len(batch))
		for i, b := range batch {
			if len(b) == 0 {
				rollbackRegions(regions)
				return nil, errInvalidSegment
			}
			mrSegs[i] = fi.MRSegment{Pointer: unsafe.Pointer(&b[0]), Length: uintptr(len(b))}
		}

		region, err := domain.RegisterMemorySegments(mrSegs, &fi.MRRegisterOptions{
			Access:       access,
			RequestedKey: keys.Next(),
		})
		if err != nil {
			rollbackRegions(regions)
			return nil, err
		}
		regions = append(regions, region)

		var raddr uint64
		for i, b := range batch {
			out[start+i] = RegisteredSegment{Base: b, Region: region, RAddr: raddr}
			raddr += uint64(len(b))
		}
	}

	return out, nil
}

func rollbackRegions(regions []*fi.MemoryRegion) {
	for _, r := range regions {
		_ = r.Close()
	}
}
