package xfer

import "sync/atomic"

// keyPool is the process-wide striping counter every KeySource draws
// blocks of keys from, so two workers registering memory concurrently
// never hand out the same provider key.
var keyPool atomic.Uint64

// KeySource hands out a private, monotonically increasing stream of MR
// registration keys to its owner, refilling from the shared pool in blocks
// of 256 whenever the local counter wraps to a block boundary.
type KeySource struct {
	nextKey uint64
}

// Next returns the next key in this source's stream.
func (s *KeySource) Next() uint64 {
	if s.nextKey%256 == 0 {
		s.nextKey = keyPool.Add(256) - 256
	}
	key := s.nextKey
	s.nextKey++
	return key
}
