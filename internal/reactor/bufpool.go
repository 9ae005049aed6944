package reactor

import (
	"sync"
	"sync/atomic"
)

// chunkPool hands out reusable byte slices sized exactly to one Buffer
// chunk, backed by a sync.Pool to cut GC pressure from connection churn.
// Adapted from a bucketed byte-slice pool design, narrowed to a single
// size since every chunk in a reactor Buffer is the same base chunk size.
type chunkPool struct {
	size  int
	limit int64
	inuse int64
	pool  sync.Pool
}

func newChunkPool(size int) *chunkPool {
	cp := &chunkPool{size: size, limit: 4096}
	cp.pool.New = func() any { return make([]byte, size) }
	return cp
}

func (cp *chunkPool) get() []byte {
	buf := cp.pool.Get().([]byte)
	atomic.AddInt64(&cp.inuse, 1)
	return buf[:cp.size]
}

func (cp *chunkPool) put(buf []byte) {
	if cap(buf) != cp.size {
		return
	}
	if cur := atomic.AddInt64(&cp.inuse, -1); cur >= cp.limit {
		return
	}
	cp.pool.Put(buf[:cp.size])
}

// defaultChunkPools caches one chunkPool per chunk size so Buffers created
// with the same base chunk size (the common case: every Buffer in a server
// shares config.ChunkSize) share one pool instead of each allocating a
// fresh sync.Pool.
var (
	defaultChunkPoolsMu sync.Mutex
	defaultChunkPools   = map[int]*chunkPool{}
)

func chunkPoolFor(size int) *chunkPool {
	defaultChunkPoolsMu.Lock()
	defer defaultChunkPoolsMu.Unlock()
	if cp, ok := defaultChunkPools[size]; ok {
		return cp
	}
	cp := newChunkPool(size)
	defaultChunkPools[size] = cp
	return cp
}
