// Package bytespool provides buffer pooling for the packet paths.
package bytespool

import (
	"sync"
)

// SlicePool pools []byte slices for packet operations. Sizes are powers of
// two from 256 to 4096 bytes, which covers the PPP MRU upper bound (2000)
// plus SSTP and HDLC framing.
type SlicePool struct {
	pools [5]sync.Pool
}

// Default is the global slice pool for packet buffers.
var Default = &SlicePool{
	pools: [5]sync.Pool{
		{New: func() any { b := make([]byte, 256); return &b }},
		{New: func() any { b := make([]byte, 512); return &b }},
		{New: func() any { b := make([]byte, 1024); return &b }},
		{New: func() any { b := make([]byte, 2048); return &b }},
		{New: func() any { b := make([]byte, 4096); return &b }},
	},
}

// Get gets a byte slice of at least size bytes from the pool. Returns a new
// slice if size exceeds pool capacity.
func (p *SlicePool) Get(size int) []byte {
	idx := p.poolIndex(size)
	if idx < 0 {
		return make([]byte, size)
	}
	buf := p.pools[idx].Get().(*[]byte)
	return (*buf)[:size]
}

// Put returns a slice to the pool. Only slices with exact power-of-2
// capacity are accepted.
func (p *SlicePool) Put(buf []byte) {
	if buf == nil {
		return
	}
	idx := p.poolIndexByCapacity(cap(buf))
	if idx < 0 {
		return
	}
	buf = buf[:cap(buf)]
	p.pools[idx].Put(&buf)
}

func (p *SlicePool) poolIndex(size int) int {
	switch {
	case size <= 256:
		return 0
	case size <= 512:
		return 1
	case size <= 1024:
		return 2
	case size <= 2048:
		return 3
	case size <= 4096:
		return 4
	default:
		return -1
	}
}

func (p *SlicePool) poolIndexByCapacity(cap int) int {
	switch cap {
	case 256:
		return 0
	case 512:
		return 1
	case 1024:
		return 2
	case 2048:
		return 3
	case 4096:
		return 4
	default:
		return -1
	}
}
