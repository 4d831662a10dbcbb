package task

import (
	"crypto/rand"
	"encoding/binary"
	"sync/atomic"
)

// IDGenerator produces the 32-bit unsigned, monotonic, wrap-on-overflow task
// ids required by §3's invariants. Grounded on config.generateSecureToken's
// use of crypto/rand for a non-predictable starting point; uuid is
// deliberately not used here since the wire type is a fixed-width uint32,
// not a 128-bit value.
type IDGenerator struct {
	counter uint32
}

// NewIDGenerator seeds the counter from crypto/rand so restarts don't reuse
// the previous run's ids while memory-resident.
func NewIDGenerator() *IDGenerator {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return &IDGenerator{counter: 1}
	}
	seed := binary.BigEndian.Uint32(b[:])
	if seed == 0 {
		seed = 1
	}
	return &IDGenerator{counter: seed}
}

// Next returns the next id. On overflow the counter is reseeded from
// crypto/rand; 0 is never returned (it is reserved as "no id").
func (g *IDGenerator) Next() uint32 {
	for {
		id := atomic.AddUint32(&g.counter, 1)
		if id != 0 {
			return id
		}
		var b [4]byte
		if _, err := rand.Read(b[:]); err == nil {
			atomic.CompareAndSwapUint32(&g.counter, 0, binary.BigEndian.Uint32(b[:]))
		}
	}
}
