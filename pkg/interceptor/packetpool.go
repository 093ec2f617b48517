package interceptor

import (
	"slices"
	"sync"
)

// PacketPool hands out byte buffers from a set of size classes.
type PacketPool struct {
	sizes []int
	pools map[int]*sync.Pool // key: size
}

func NewPacketPool(size ...int) *PacketPool {
	pools := make(map[int]*sync.Pool)
	for _, s := range size {
		bufSize := s
		pools[bufSize] = &sync.Pool{
			New: func() interface{} {
				b := make([]byte, bufSize)
				return &b
			},
		}
	}

	sizes := slices.Clone(size)
	slices.Sort(sizes)
	return &PacketPool{sizes: slices.Compact(sizes), pools: pools}
}

// Get returns a buffer of at least size bytes from the smallest class that
// fits, and the pool to return it to. The pool is nil when no class fits.
func (p *PacketPool) Get(size int) (*[]byte, *sync.Pool) {
	for _, s := range p.sizes {
		if s >= size {
			pool := p.pools[s]
			return pool.Get().(*[]byte), pool
		}
	}
	b := make([]byte, size)
	return &b, nil
}

func (p *PacketPool) Put(b *[]byte, pool *sync.Pool) {
	if pool != nil {
		pool.Put(b)
	}
}
