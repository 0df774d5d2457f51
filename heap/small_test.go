package heap

import "testing"

// Small alloc then a finalizing sweep flips free_bits and clears attrs.
func TestSmallAllocThenFreeBitSweep(t *testing.T) {
	p := newTestSmallPool(t, 4)
	sp := NewSmallObjectPool(p)

	addr, ok := sp.AllocPage(TagBin16)
	if !ok {
		t.Fatalf("AllocPage(TagBin16) failed")
	}
	if addr%16 != 0 {
		t.Fatalf("addr %#x is not 16-aligned", addr)
	}
	if p.PageOf(addr) != 0 {
		t.Fatalf("addr %#x is not in page 0", addr)
	}
	if p.Tag(0) != TagBin16 {
		t.Fatalf("Tag(0) = %v, want TagBin16", p.Tag(0))
	}
	if p.FreePages() != 3 {
		t.Fatalf("FreePages() = %d, want 3", p.FreePages())
	}
	if p.searchStart != 1 {
		t.Fatalf("search_start = %d, want 1", p.searchStart)
	}

	biti := p.bitIndex(addr)
	p.SetBits(biti, Finalize)

	rt := NewDummyRuntime()
	rt.Marked[addr] = true
	sp.RunFinalizers(rt, 0)

	if !p.freeBits.Test(biti) {
		t.Fatalf("free_bits not set for %#x after sweep", addr)
	}
	if got := p.GetBits(biti); got&(NoScan|Appendable|Finalize|StructFinal) != 0 {
		t.Fatalf("attrs not cleared for %#x after sweep: %v", addr, got)
	}
}

func TestAllocPageExhaustion(t *testing.T) {
	p := newTestSmallPool(t, 2)
	sp := NewSmallObjectPool(p)

	if _, ok := sp.AllocPage(TagBin16); !ok {
		t.Fatalf("first AllocPage failed")
	}
	if _, ok := sp.AllocPage(TagBin16); !ok {
		t.Fatalf("second AllocPage failed")
	}
	if _, ok := sp.AllocPage(TagBin16); ok {
		t.Fatalf("third AllocPage on an exhausted 2-page pool unexpectedly succeeded")
	}
}

func TestSmallGetInfoRoundsDownToSlot(t *testing.T) {
	p := newTestSmallPool(t, 1)
	sp := NewSmallObjectPool(p)
	pageAddr, _ := sp.AllocPage(TagBin64)

	interior := pageAddr + 64*3 + 10 // inside the 4th 64-byte slot
	info := sp.GetInfo(interior)

	wantBase := pageAddr + 64*3
	if info.Base != wantBase {
		t.Fatalf("GetInfo(interior).Base = %#x, want %#x", info.Base, wantBase)
	}
	if info.Size != 64 {
		t.Fatalf("GetInfo(interior).Size = %d, want 64", info.Size)
	}
	if !(info.Base <= interior && interior < info.Base+info.Size) {
		t.Fatalf("interior pointer %#x not within [%#x,%#x)", interior, info.Base, info.Base+info.Size)
	}
}

func TestSmallGetInfoEmptyForNonBinPage(t *testing.T) {
	p := newTestSmallPool(t, 1)
	sp := NewSmallObjectPool(p)
	info := sp.GetInfo(p.PageAddr(0)) // page still B_FREE
	if info.Base != 0 {
		t.Fatalf("GetInfo on a free page = %+v, want zero value", info)
	}
}

func TestSmallGetSize(t *testing.T) {
	p := newTestSmallPool(t, 1)
	sp := NewSmallObjectPool(p)
	addr, _ := sp.AllocPage(TagBin128)
	if got := sp.GetSize(addr); got != 128 {
		t.Fatalf("GetSize() = %d, want 128", got)
	}
}

// Bin-table boundary: requests round up to the next size class.
func TestBinTableBoundaries(t *testing.T) {
	cases := []struct {
		size int
		want PageTag
	}{
		{0, TagBin16},
		{16, TagBin16},
		{17, TagBin32},
		{2048, TagBin2048},
	}
	for _, c := range cases {
		if got := binTable[c.size]; got != c.want {
			t.Fatalf("binTable[%d] = %v, want %v", c.size, got, c.want)
		}
	}
}
