package explain

import (
	"sync"
	"sync/atomic"
)

// Buffers recycles the float32 scratch space used by gradient computation
// and counts buffers that have been handed out but not returned.
type Buffers struct {
	pool        sync.Pool
	outstanding atomic.Int64
}

func NewBuffers() *Buffers {
	return &Buffers{}
}

// Outstanding is the number of buffers currently held by arenas.
func (b *Buffers) Outstanding() int64 {
	return b.outstanding.Load()
}

func (b *Buffers) get(n int) []float32 {
	b.outstanding.Add(1)
	if v, ok := b.pool.Get().(*[]float32); ok && cap(*v) >= n {
		buf := (*v)[:n]
		clear(buf)
		return buf
	}
	return make([]float32, n)
}

func (b *Buffers) put(buf []float32) {
	clear(buf)
	b.outstanding.Add(-1)
	b.pool.Put(&buf)
}

// Arena hands out buffers for a single explanation call. Release returns
// all of them; it must run on every exit path and may run more than once.
// An Arena is not safe for concurrent use.
type Arena struct {
	owner *Buffers
	bufs  [][]float32
}

func (b *Buffers) Arena() *Arena {
	return &Arena{owner: b}
}

// Get returns a zeroed buffer of length n owned by the arena.
func (a *Arena) Get(n int) []float32 {
	buf := a.owner.get(n)
	a.bufs = append(a.bufs, buf)
	return buf
}

// Release returns every buffer to the pool and forgets them.
func (a *Arena) Release() {
	for i, buf := range a.bufs {
		a.owner.put(buf)
		a.bufs[i] = nil
	}
	a.bufs = a.bufs[:0]
}
