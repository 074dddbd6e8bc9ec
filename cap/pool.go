package cap

import (
	"fmt"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

// payload is the ring pool's DataInterface implementation backing
// every pooled segment buffer: header bytes plus up to PayloadMax of
// application data, reused across datagrams instead of allocated
// fresh on every send/receive.
type payload struct {
	bytes  []byte
	length int
}

// newPayload satisfies rp.RingPool's element constructor signature.
// It is called once per pool slot, never per Get, so the allocation
// it performs is amortized over the pool's lifetime.
func newPayload(params ...interface{}) rp.DataInterface {
	size := HeaderLen + PayloadMaxDefault
	if len(params) == 1 {
		if n, ok := params[0].(int); ok {
			size = HeaderLen + n
		}
	}
	return &payload{bytes: make([]byte, size)}
}

func (p *payload) Reset() {
	p.length = 0
}

func (p *payload) Copy(src []byte) error {
	if len(src) > len(p.bytes) {
		return fmt.Errorf("payload: source (%d bytes) exceeds buffer capacity (%d bytes)", len(src), len(p.bytes))
	}
	copy(p.bytes, src)
	p.length = len(src)
	return nil
}

func (p *payload) GetSlice() []byte {
	return p.bytes[:p.length]
}

// PrintContent satisfies rp.DataInterface for debugging pool state.
func (p *payload) PrintContent() {
	fmt.Printf("%x\n", p.bytes[:p.length])
}

// bufferPool wraps a ring pool of pooled segment buffers. A Socket's
// dispatch loop draws its inbound read buffer from it, and each
// Connection's sendSegment draws a scratch buffer per outbound segment.
type bufferPool struct {
	ring *rp.RingPool
}

// newBufferPool builds the pool a Socket draws its per-datagram
// buffers from, sized so every slot can hold a full PayloadMax
// segment plus header.
func newBufferPool(size, payloadMax int) *bufferPool {
	return &bufferPool{ring: rp.NewRingPool("cap: ", size, newPayload, payloadMax)}
}

// acquire pulls one buffer from the pool, fills it with src, and
// returns both the pooled element (to be released later) and the
// filled slice.
func (b *bufferPool) acquire(src []byte) (*rp.Element, []byte, error) {
	elem := b.ring.GetElement()
	data, ok := elem.Data.(*payload)
	if !ok {
		return nil, nil, fmt.Errorf("bufferPool: unexpected pool element type %T", elem.Data)
	}
	data.Reset()
	if len(src) > 0 {
		if err := data.Copy(src); err != nil {
			b.ring.ReturnElement(elem)
			return nil, nil, err
		}
	}
	return elem, data.GetSlice(), nil
}

// acquireScratch pulls one buffer from the pool without copying
// anything into it, returning the element alongside its full-capacity
// backing slice — for callers (like the segment codec) that encode
// directly into the buffer rather than filling it from an existing
// slice.
func (b *bufferPool) acquireScratch() (*rp.Element, []byte, error) {
	elem := b.ring.GetElement()
	data, ok := elem.Data.(*payload)
	if !ok {
		return nil, nil, fmt.Errorf("bufferPool: unexpected pool element type %T", elem.Data)
	}
	data.Reset()
	return elem, data.bytes, nil
}

// release returns a previously acquired element to the pool.
func (b *bufferPool) release(elem *rp.Element) {
	if elem != nil {
		b.ring.ReturnElement(elem)
	}
}
