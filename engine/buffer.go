package engine

import (
	"sync"
)

// DefaultBufferSize is the chunk size used to stream file content. Progress
// for a single file is reported once per chunk.
const DefaultBufferSize = 1 * 1024 * 1024

// BufferPool hands out reusable chunk buffers so concurrent jobs copying
// many files do not allocate one buffer per file.
type BufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool creates a pool of size-byte buffers. A non-positive size
// selects DefaultBufferSize.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	bp := &BufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

// Size returns the length of the buffers in the pool.
func (bp *BufferPool) Size() int {
	return bp.size
}

// Get returns a buffer of Size bytes. Return it with Put.
func (bp *BufferPool) Get() *[]byte {
	return bp.pool.Get().(*[]byte)
}

// Put returns b to the pool. Buffers of a different length are dropped.
func (bp *BufferPool) Put(b *[]byte) {
	if b == nil || len(*b) != bp.size {
		return
	}
	bp.pool.Put(b)
}
