package pool

import "sync"

// bucketSizes are the four fixed byte-buffer bucket sizes. Rent(n) returns
// the smallest bucket >= n; Return only accepts a buffer whose capacity
// equals one of these sizes.
var bucketSizes = [4]int{256, 1024, 4096, 16384}

type bufferBucket struct {
	mu            sync.Mutex
	free          [][]byte
	totalCreated  int64
	totalRented   int64
	totalReturned int64
}

// BufferPool maintains the four fixed-size byte-buffer buckets described in
// spec §4.1. Buffers larger than the biggest bucket are allocated fresh and
// never pooled.
type BufferPool struct {
	buckets [4]*bufferBucket
}

// NewBufferPool creates an empty buffer pool (all buckets start at zero
// available buffers; Rent allocates on demand).
func NewBufferPool() *BufferPool {
	bp := &BufferPool{}
	for i := range bp.buckets {
		bp.buckets[i] = &bufferBucket{}
	}
	return bp
}

// bucketIndexFor returns the index of the smallest bucket >= n, or -1 if n
// exceeds the largest bucket.
func bucketIndexFor(n int) int {
	for i, size := range bucketSizes {
		if n <= size {
			return i
		}
	}
	return -1
}

// Rent returns a buffer whose length and capacity are the smallest bucket
// size >= n, or a fresh unpooled allocation of length n for n larger than
// the largest bucket (16384).
func (bp *BufferPool) Rent(n int) []byte {
	idx := bucketIndexFor(n)
	if idx < 0 {
		return make([]byte, n)
	}

	b := bp.buckets[idx]
	size := bucketSizes[idx]

	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRented++
	free := len(b.free)
	if free == 0 {
		b.totalCreated++
		return make([]byte, size)
	}
	buf := b.free[free-1]
	b.free = b.free[:free-1]
	return buf[:size]
}

// Return places buf back into its bucket iff cap(buf) equals one of the
// four fixed bucket sizes. Buffers flowing through packet.Decode are
// re-sliced to the payload length (cap stays at the bucket size, len
// does not), so the bucket match must key on cap, not len. A buffer of
// any other capacity is silently discarded — not an error.
func (bp *BufferPool) Return(buf []byte) {
	size := cap(buf)
	idx := -1
	for i, s := range bucketSizes {
		if s == size {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	b := bp.buckets[idx]
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalReturned++
	b.free = append(b.free, buf)
}

// Stats returns the bookkeeping counters for the bucket holding size s (one
// of 256, 1024, 4096, 16384). Returns the zero Stats for any other size.
func (bp *BufferPool) Stats(size int) Stats {
	for i, s := range bucketSizes {
		if s != size {
			continue
		}
		b := bp.buckets[i]
		b.mu.Lock()
		defer b.mu.Unlock()
		return Stats{
			Available:     len(b.free),
			TotalCreated:  b.totalCreated,
			TotalRented:   b.totalRented,
			TotalReturned: b.totalReturned,
		}
	}
	return Stats{}
}

// BucketSizes returns the fixed bucket sizes in ascending order.
func BucketSizes() [4]int {
	return bucketSizes
}
