package heap

import "testing"

func TestBucketsAllocCarvesAndChains(t *testing.T) {
	p := newTestSmallPool(t, 1)
	sp := NewSmallObjectPool(p)
	b := NewBuckets(func() SmallObjectPool { return sp })

	addr, size := b.Alloc(10, None)
	if size != 16 {
		t.Fatalf("allocated size = %d, want 16", size)
	}
	if p.Tag(0) != TagBin16 {
		t.Fatalf("page 0 tag = %v, want TagBin16", p.Tag(0))
	}
	if addr < p.base || addr >= p.top {
		t.Fatalf("addr %#x outside pool", addr)
	}
}

func TestBucketsAllocAttachesFlags(t *testing.T) {
	p := newTestSmallPool(t, 1)
	sp := NewSmallObjectPool(p)
	b := NewBuckets(func() SmallObjectPool { return sp })

	addr, _ := b.Alloc(32, Finalize|NoScan)
	biti := p.bitIndex(addr)
	if got := p.GetBits(biti); got&(Finalize|NoScan) != Finalize|NoScan {
		t.Fatalf("GetBits(%d) = %v, want Finalize|NoScan set", biti, got)
	}
}

func TestBucketsAllocExhaustsOnePageThenRefills(t *testing.T) {
	p := newTestSmallPool(t, 2)
	sp := NewSmallObjectPool(p)
	b := NewBuckets(func() SmallObjectPool { return sp })

	slotsPerPage := PageSize / 2048
	seen := make(map[uintptr]bool)
	for i := 0; i < slotsPerPage+1; i++ {
		addr, size := b.Alloc(2048, None)
		if size != 2048 {
			t.Fatalf("allocated size = %d, want 2048", size)
		}
		if seen[addr] {
			t.Fatalf("address %#x handed out twice", addr)
		}
		seen[addr] = true
	}
	if p.Tag(0) != TagBin2048 || p.Tag(1) != TagBin2048 {
		t.Fatalf("expected both pages carved into TagBin2048, got %v %v", p.Tag(0), p.Tag(1))
	}
}

func TestBucketsRejectsOversizeRequest(t *testing.T) {
	p := newTestSmallPool(t, 1)
	sp := NewSmallObjectPool(p)
	b := NewBuckets(func() SmallObjectPool { return sp })

	defer func() {
		if recover() == nil {
			t.Fatalf("Alloc(2049) did not panic; caller must route it to the large path")
		}
	}()
	b.Alloc(2049, None)
}

func TestFreeListPushPopOrderingIsLIFO(t *testing.T) {
	p := newTestSmallPool(t, 1)
	var fl FreeList
	base := p.base
	slots := []uintptr{base, base + 16, base + 32}
	for _, s := range slots {
		fl.Free(p, s)
	}
	for i := len(slots) - 1; i >= 0; i-- {
		node, ok := fl.pop()
		if !ok || node != slots[i] {
			t.Fatalf("pop() = (%#x,%v), want (%#x,true)", node, ok, slots[i])
		}
	}
	if _, ok := fl.pop(); ok {
		t.Fatalf("pop() on empty list returned ok=true")
	}
}

func TestRefillSetsFreeBitsAndAllocClearsThem(t *testing.T) {
	p := newTestSmallPool(t, 1)
	sp := NewSmallObjectPool(p)
	b := NewBuckets(func() SmallObjectPool { return sp })

	slotsPerPage := PageSize / 2048 // 2 slots of 2048 bytes on one page
	addr, _ := b.Alloc(2048, None)  // carves the page, refill sets free_bits on every slot

	for i := 0; i < slotsPerPage; i++ {
		slot := p.base + uintptr(i*2048)
		want := slot != addr
		if got := p.freeBits.Test(p.bitIndex(slot)); got != want {
			t.Fatalf("free_bits(%#x) = %v, want %v", slot, got, want)
		}
	}
}

func TestReadFreeNodeExposesHost(t *testing.T) {
	p := newTestSmallPool(t, 1)
	var fl FreeList
	fl.Free(p, p.base)
	n := ReadFreeNode(p.base)
	if n.Host != p {
		t.Fatalf("FreeNode.Host = %p, want %p", n.Host, p)
	}
	if n.Next != 0 {
		t.Fatalf("FreeNode.Next = %#x, want 0", n.Next)
	}
}
