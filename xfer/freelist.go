package xfer

import "github.com/hyoklee/fabtsuite/fi"

// payloadSizeCycle is the fixed rotation of payload sizes a BufList
// replenishes with: 23 -> 29 -> 31 -> 37 -> 23, a spread of small, mutually
// prime-ish sizes chosen so fragmenting tests exercise many different
// buffer boundaries rather than one uniform size.
var payloadSizeCycle = [...]int{23, 29, 31, 37}

// BufList is a LIFO pool of byte buffers, replenished in batches once it
// drops below half capacity.
type BufList struct {
	access     fi.MRAccessFlag
	nfull      int
	buf        []*BufHeader
	cyclePos   int
	keys       *KeySource
	domain     *fi.Domain
	reregister bool
}

// NewBufList creates a pool with room for n entries, registering new
// buffers for RDMA with the given access flags as it replenishes. In
// re-register mode, a buffer's memory region is instead released when it
// returns to the pool and re-created fresh each time it is handed back out.
func NewBufList(domain *fi.Domain, keys *KeySource, access fi.MRAccessFlag, n int, reregister bool) *BufList {
	return &BufList{
		access:     access,
		buf:        make([]*BufHeader, n),
		keys:       keys,
		domain:     domain,
		reregister: reregister,
	}
}

// Get pops the most recently pushed entry, or nil if the pool is empty. In
// re-register mode the entry's memory region is re-created here, matching
// the reference implementation registering a payload buffer's MR only once
// it re-enters the data plane.
func (bl *BufList) Get() *BufHeader {
	if bl.nfull == 0 {
		return nil
	}
	bl.nfull--
	h := bl.buf[bl.nfull]
	bl.buf[bl.nfull] = nil
	if bl.reregister && bl.domain != nil && bl.keys != nil && h.MR == nil {
		if err := registerBuf(bl.domain, h, bl.access, bl.keys.Next()); err != nil {
			return nil
		}
	}
	return h
}

// Put pushes h back onto the pool, returning false if the pool is at
// capacity. In re-register mode h's memory region is released first.
func (bl *BufList) Put(h *BufHeader) bool {
	if bl.nfull == len(bl.buf) {
		return false
	}
	if bl.reregister {
		_ = deregisterBuf(h)
	}
	bl.buf[bl.nfull] = h
	bl.nfull++
	return true
}

// nextPayloadLen advances the size cycle and returns the next length to
// allocate.
func (bl *BufList) nextPayloadLen() int {
	n := payloadSizeCycle[bl.cyclePos]
	bl.cyclePos = (bl.cyclePos + 1) % len(payloadSizeCycle)
	return n
}

// Replenish tops the pool back up once it has dropped below half capacity,
// allocating and registering fresh buffers along the size cycle. It
// returns true if the pool holds at least one entry afterward.
func (bl *BufList) Replenish() (bool, error) {
	half := len(bl.buf) / 2
	if bl.nfull >= half {
		return true, nil
	}
	want := half - bl.nfull
	i := bl.nfull
	for ; i < bl.nfull+want; i++ {
		b := NewByteBuf(bl.nextPayloadLen())
		if !bl.reregister && bl.domain != nil && bl.keys != nil {
			if err := registerBuf(bl.domain, &b.Hdr, bl.access, bl.keys.Next()); err != nil {
				break
			}
		}
		bl.buf[i] = &b.Hdr
	}
	bl.nfull = i
	return bl.nfull > 0, nil
}

// Close deregisters and discards every buffer still held by the pool.
func (bl *BufList) Close() error {
	var first error
	for i := 0; i < bl.nfull; i++ {
		if err := deregisterBuf(bl.buf[i]); err != nil && first == nil {
			first = err
		}
		bl.buf[i] = nil
	}
	bl.nfull = 0
	return first
}
