package pool

import "testing"

type resettableInt struct {
	v      int
	Reset_ func()
}

func (r *resettableInt) Reset() {
	r.v = 0
	if r.Reset_ != nil {
		r.Reset_()
	}
}

func TestTypedPoolRentReturnCounters(t *testing.T) {
	p := NewTypedPool(2, 4, func() *resettableInt { return &resettableInt{} })

	before := p.Stats()
	v := p.Rent()
	v.v = 42
	p.Return(v)
	after := p.Stats()

	if after.Available != before.Available {
		t.Errorf("available changed: before=%d after=%d", before.Available, after.Available)
	}
	if after.TotalRented != before.TotalRented+1 {
		t.Errorf("total_rented = %d, want %d", after.TotalRented, before.TotalRented+1)
	}
	if after.TotalReturned != before.TotalReturned+1 {
		t.Errorf("total_returned = %d, want %d", after.TotalReturned, before.TotalReturned+1)
	}
	if v.v != 0 {
		t.Errorf("returned element not reset, v=%d", v.v)
	}
}

func TestTypedPoolExhaustionAllocatesFresh(t *testing.T) {
	p := NewTypedPool(0, 10, func() *resettableInt { return &resettableInt{} })

	a := p.Rent()
	b := p.Rent()
	if a == b {
		t.Fatal("expected distinct elements on exhaustion")
	}
	stats := p.Stats()
	if stats.TotalCreated != 2 {
		t.Errorf("total_created = %d, want 2", stats.TotalCreated)
	}
}

func TestTypedPoolReturnDiscardsPastMaxSize(t *testing.T) {
	p := NewTypedPool(0, 1, func() *resettableInt { return &resettableInt{} })

	a := p.Rent()
	b := p.Rent()
	p.Return(a)
	p.Return(b)

	stats := p.Stats()
	if stats.Available != 1 {
		t.Errorf("available = %d, want 1 (max_size cap)", stats.Available)
	}
}

func TestPoolInvariantCreatedGEAvailable(t *testing.T) {
	p := NewTypedPool(3, 100, func() *resettableInt { return &resettableInt{} })
	for i := 0; i < 10; i++ {
		v := p.Rent()
		if i%2 == 0 {
			p.Return(v)
		}
	}
	stats := p.Stats()
	if stats.TotalCreated < int64(stats.Available) {
		t.Errorf("invariant violated: total_created=%d < available=%d", stats.TotalCreated, stats.Available)
	}
	if stats.TotalRented < stats.TotalReturned {
		t.Errorf("invariant violated: total_rented=%d < total_returned=%d", stats.TotalRented, stats.TotalReturned)
	}
}

func TestBufferPoolRentExactBucketSizes(t *testing.T) {
	bp := NewBufferPool()
	cases := []struct{ ask, want int }{
		{1, 256},
		{256, 256},
		{257, 1024},
		{1024, 1024},
		{4000, 4096},
		{16384, 16384},
	}
	for _, c := range cases {
		buf := bp.Rent(c.ask)
		if len(buf) != c.want {
			t.Errorf("Rent(%d) len = %d, want %d", c.ask, len(buf), c.want)
		}
	}
}

func TestBufferPoolRentOversizeUnpooled(t *testing.T) {
	bp := NewBufferPool()
	buf := bp.Rent(20000)
	if len(buf) != 20000 {
		t.Errorf("oversize Rent len = %d, want 20000", len(buf))
	}
	before := bp.Stats(16384)
	bp.Return(buf) // wrong size for any bucket: silent no-op
	after := bp.Stats(16384)
	if after != before {
		t.Error("oversize Return must not affect the largest bucket's stats")
	}
}

func TestBufferPoolReturnUnrecognizedSizeIsNoOp(t *testing.T) {
	bp := NewBufferPool()
	buf := make([]byte, 777)
	bp.Return(buf) // 777 matches no bucket
	for _, size := range BucketSizes() {
		s := bp.Stats(size)
		if s.TotalReturned != 0 {
			t.Errorf("bucket %d recorded a return it shouldn't have", size)
		}
	}
}

func TestBufferPoolRoundTripReusesBuffer(t *testing.T) {
	bp := NewBufferPool()
	buf := bp.Rent(1024)
	bp.Return(buf)
	before := bp.Stats(1024)
	buf2 := bp.Rent(1024)
	after := bp.Stats(1024)
	if after.TotalCreated != before.TotalCreated {
		t.Error("expected reuse of returned buffer, not a fresh allocation")
	}
	if &buf[0] != &buf2[0] {
		t.Error("expected Rent to hand back the exact buffer that was returned")
	}
}
