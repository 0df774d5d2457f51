package heap

import "github.com/mihails-strasuns/druntime/bitvector"

// SmallObjectPool is a Pool view specialized for fixed-size bin pages.
type SmallObjectPool struct {
	*Pool
}

// NewSmallObjectPool wraps an already-initialized small Pool.
func NewSmallObjectPool(p *Pool) SmallObjectPool {
	if p.isLarge {
		panic("heap: NewSmallObjectPool given a large-object pool")
	}
	return SmallObjectPool{p}
}

// AllocPage linearly scans from search_start for the first B_FREE page,
// tags it bin, decrements free_pages, advances search_start past it, and
// returns the page's base address. Returns (0, false) on exhaustion.
func (sp SmallObjectPool) AllocPage(bin PageTag) (uintptr, bool) {
	p := sp.Pool
	if !bin.IsBin() {
		panic("heap: AllocPage called with a non-bin tag")
	}
	for pn := p.searchStart; pn < p.npages; pn++ {
		if p.pageTable[pn] == TagFree {
			p.pageTable[pn] = bin
			p.freePages--
			p.searchStart = pn + 1
			return p.PageAddr(pn), true
		}
	}
	return 0, false
}

// GetSize returns the slot size for the bin page containing addr.
func (sp SmallObjectPool) GetSize(addr uintptr) int {
	p := sp.Pool
	pn := p.PageOf(addr)
	return binSizeOf(p.pageTable[pn])
}

// GetInfo resolves addr, including interior pointers, to its enclosing
// bin slot by rounding down to the bin boundary. Returns a zero BlkInfo
// if addr's page is not a bin page.
func (sp SmallObjectPool) GetInfo(addr uintptr) BlkInfo {
	p := sp.Pool
	if addr < p.base || addr >= p.top {
		return BlkInfo{}
	}
	pn := p.PageOf(addr)
	tag := p.pageTable[pn]
	if !tag.IsBin() {
		return BlkInfo{}
	}
	size := uintptr(binSizeOf(tag))
	pageBase := p.PageAddr(pn)
	offsetInPage := addr - pageBase
	slotBase := pageBase + (offsetInPage/size)*size
	biti := p.bitIndex(slotBase)
	return BlkInfo{
		Base: slotBase,
		Size: size,
		Attr: p.GetBits(biti),
	}
}

// RunFinalizers walks every bin page, and for each slot whose finals bit
// is set and that the runtime reports a pending finalizer for within
// segment, finalizes it and accumulates its bit into a page-local
// to_free bitmap that is flushed via FreePageBits once per page.
//
// This does not reclaim the page itself nor push freed slots onto any
// FreeList; a companion sweep routine external to this core does that
// using free_bits as its source of truth.
func (sp SmallObjectPool) RunFinalizers(rt Runtime, segment uintptr) {
	p := sp.Pool
	if p.finals == nil {
		return
	}
	slotsPerPage := PageSize >> shiftSmall

	for pn := 0; pn < p.npages; pn++ {
		tag := p.pageTable[pn]
		if !tag.IsBin() {
			continue
		}
		size := binSizeOf(tag)
		bitStride := size >> shiftSmall
		baseBit := pn * slotsPerPage
		pageBase := p.PageAddr(pn)

		toFree := bitvector.New(slotsPerPage)
		any := false

		for off := 0; off+size <= PageSize; off += size {
			slotBit := baseBit + off>>shiftSmall
			if !p.finals.Test(slotBit) {
				continue
			}
			slotAddr := pageBase + uintptr(off)
			visible := slotAddr
			if p.dbg.cfg.Sentinel {
				visible = SentinelAdd(slotAddr)
			}
			attr := p.GetBits(slotBit)
			if !rt.HasFinalizerInSegment(visible, uintptr(size), attr, segment) {
				continue
			}
			rt.FinalizeFromGC(visible, uintptr(size), attr)
			p.collectPrintf("heap: finalized small object at %#x (%d bytes)", visible, size)
			if p.dbg.log != nil {
				p.dbg.log.RecordFree(slotAddr)
			}

			toFree.Set(off >> shiftSmall)
			any = true

			if p.dbg.cfg.MemStomp {
				StompFree(slotAddr, uintptr(size))
			}
			_ = bitStride
		}

		if any {
			p.FreePageBits(pn, toFree)
		}
	}
}
