package nonce

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultPoolCapacity is the number of concurrently-active nonce streams a
// device keeps warm. Chosen in SPEC_FULL.md as a conservative bound on how
// many keys a hardware wallet plausibly participates in at once.
const DefaultPoolCapacity = 4

// MinProvisioningEntropyBytes is the minimum size of the post-conditioned
// TRNG pool a device must draw from when provisioning new streams, fixed in
// SPEC_FULL.md at twice the specification's 1 KiB floor to leave margin for
// re-provisioning after a stream is evicted and later recreated.
const MinProvisioningEntropyBytes = 2048

// key identifies one stream within a device's pool.
type key struct {
	KeyID    string
	StreamID StreamID
}

// Pool holds a bounded number of live nonce streams, evicting the least
// recently used one when a new key's stream is needed and the pool is full.
type Pool struct {
	cache     *lru.Cache[key, *Stream]
	lastEvict *StreamID
}

// NewPool constructs a pool with the given capacity.
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultPoolCapacity
	}
	p := &Pool{}
	cache, err := lru.NewWithEvict[key, *Stream](capacity, func(k key, _ *Stream) {
		id := k.StreamID
		p.lastEvict = &id
	})
	if err != nil {
		// capacity is always a positive int by this point; NewWithEvict
		// only fails on a non-positive size.
		panic(err)
	}
	p.cache = cache
	return p
}

// Get returns the stream for (keyID, streamID) if resident in the pool.
func (p *Pool) Get(keyID string, streamID StreamID) (*Stream, bool) {
	return p.cache.Get(key{KeyID: keyID, StreamID: streamID})
}

// Put inserts or replaces a stream, evicting the least recently used entry
// first if the pool is at capacity. It returns the StreamID evicted, if any.
func (p *Pool) Put(keyID string, s *Stream) (evicted *StreamID) {
	p.lastEvict = nil
	p.cache.Add(key{KeyID: keyID, StreamID: s.ID}, s)
	return p.lastEvict
}

// Len reports how many streams are currently resident.
func (p *Pool) Len() int { return p.cache.Len() }
