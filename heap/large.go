package heap

import "github.com/devlights/gomy/built_in"

// LargeObjectPool is a Pool view specialized for multi-page allocations.
// It embeds *Pool the way the teacher's ParentPageImpl embeds *Page: a
// thin typed wrapper dispatching to the shared struct, rather than a
// second copy of the bookkeeping.
type LargeObjectPool struct {
	*Pool
}

// NewLargeObjectPool wraps an already-initialized large Pool. p must have
// been created with Initialize(n, true, ...).
func NewLargeObjectPool(p *Pool) LargeObjectPool {
	if !p.isLarge {
		panic("heap: NewLargeObjectPool given a small-object pool")
	}
	return LargeObjectPool{p}
}

// AllocPages finds the lowest page index i such that pages [i, i+n) are
// all B_FREE. It does not mark the pages; the caller must do that and
// then call UpdateOffsets. Returns NOTFOUND if no run of n free pages
// exists.
func (lp LargeObjectPool) AllocPages(n int) int {
	p := lp.Pool
	if n <= 0 {
		panic("heap: AllocPages called with n<=0")
	}

	// Step 1: early-out.
	if p.largestFree < n || p.searchStart+n > p.npages {
		return NOTFOUND
	}

	// Step 2: normalize search_start.
	lp.normalizeSearchStart()
	if p.searchStart >= p.npages {
		return NOTFOUND
	}

	// Step 3: scan from search_start.
	largest := 0
	i := p.searchStart
	for i < p.npages {
		switch p.pageTable[i] {
		case TagFree:
			runStart := i
			run := 0
			for i < p.npages && p.pageTable[i] == TagFree {
				run++
				i++
				if run == n {
					return runStart
				}
			}
			largest = built_in.Max(largest, run)
		case TagPage:
			// Skip the entire run in O(1) via b_page_offsets.
			i += int(p.bPageOffsets[i])
		default: // TagPagePlus or a small-bin tag left behind by a misuse
			i++
		}
	}

	// Step 4: no fit found; tighten largest_free.
	p.largestFree = largest
	return NOTFOUND
}

// normalizeSearchStart: if search_start points into a B_PAGEPLUS, step
// back to the owning B_PAGE; then advance past any B_PAGE runs so that
// page_table[search_start] is B_FREE or past-the-end.
func (lp LargeObjectPool) normalizeSearchStart() {
	p := lp.Pool
	if p.searchStart >= p.npages {
		return
	}
	if p.pageTable[p.searchStart] == TagPagePlus {
		p.searchStart -= int(p.bPageOffsets[p.searchStart])
	}
	for p.searchStart < p.npages && p.pageTable[p.searchStart] == TagPage {
		p.searchStart += int(p.bPageOffsets[p.searchStart])
	}
}

// MarkRun tags pages [i, i+n) as a large run: page_table[i] = B_PAGE,
// page_table[i+1..i+n) = B_PAGEPLUS, and decrements free_pages for each
// page reserved. This is the "caller must mark the run" step, split out
// of AllocPages so callers that need to inspect the run first (e.g. to
// zero it) can do so between allocation and marking.
func (lp LargeObjectPool) MarkRun(i, n int) {
	p := lp.Pool
	p.pageTable[i] = TagPage
	for k := 1; k < n; k++ {
		p.pageTable[i+k] = TagPagePlus
	}
	p.freePages -= n
	lp.UpdateOffsets(i)
	if p.searchStart == i {
		p.searchStart = i + n
	}
}

// UpdateOffsets walks forward from a B_PAGE at index i, assigning each
// B_PAGEPLUS its distance back to i and writing b_page_offsets[i] to the
// run length.
func (lp LargeObjectPool) UpdateOffsets(i int) {
	p := lp.Pool
	n := 1
	for i+n < p.npages && p.pageTable[i+n] == TagPagePlus {
		p.bPageOffsets[i+n] = uintptr(n)
		n++
	}
	p.bPageOffsets[i] = uintptr(n)
}

// FreePages returns pages [pageNum, pageNum+count) to B_FREE, adjusting
// free_pages, search_start and largest_free.
func (lp LargeObjectPool) FreePages(pageNum, count int) {
	p := lp.Pool
	for k := 0; k < count; k++ {
		pn := pageNum + k
		if p.pageTable[pn] != TagFree {
			p.freePages++
		}
		p.pageTable[pn] = TagFree
	}
	p.searchStart = built_in.Min(p.searchStart, pageNum)
	// The freed run may merge with adjacent free pages into something
	// longer than count or the stale largestFree; free_pages is the only
	// upper bound cheap enough to recompute here without a full rescan.
	p.largestFree = p.freePages
}

// GetSize returns the byte size of the large allocation starting at addr.
// Precondition: addr is in the pool and points to a B_PAGE's start.
func (lp LargeObjectPool) GetSize(addr uintptr) uintptr {
	p := lp.Pool
	pn := p.PageOf(addr)
	if p.pageTable[pn] != TagPage {
		panic("heap: GetSize called on an address that is not a B_PAGE start")
	}
	return p.bPageOffsets[pn] * PageSize
}

// GetInfo resolves an arbitrary pointer, including interior pointers,
// to its enclosing large allocation. Returns a zero BlkInfo if addr is
// not inside an owned allocation.
func (lp LargeObjectPool) GetInfo(addr uintptr) BlkInfo {
	p := lp.Pool
	if addr < p.base || addr >= p.top {
		return BlkInfo{}
	}
	pn := p.PageOf(addr)
	switch p.pageTable[pn] {
	case TagPagePlus:
		pn -= int(p.bPageOffsets[pn])
	case TagPage:
		// already at the run start
	default:
		return BlkInfo{}
	}
	return BlkInfo{
		Base: p.PageAddr(pn),
		Size: p.bPageOffsets[pn] * PageSize,
		Attr: p.GetBits(pn),
	}
}

// RunFinalizers walks every B_PAGE in the pool, asks the runtime whether
// it has a pending finalizer for segment, and if so finalizes and frees
// the run. The sentinel offset is applied at the boundary between this
// package's internal addresses and the addresses handed to the runtime
// collaborator.
func (lp LargeObjectPool) RunFinalizers(rt Runtime, segment uintptr) {
	p := lp.Pool
	for pn := 0; pn < p.npages; pn++ {
		if p.pageTable[pn] != TagPage {
			continue
		}
		if p.finals == nil || !p.finals.Test(pn) {
			continue
		}
		base := p.PageAddr(pn)
		size := p.bPageOffsets[pn] * PageSize
		attr := p.GetBits(pn)

		visible := base
		if p.dbg.cfg.Sentinel {
			visible = SentinelAdd(base)
		}
		if !rt.HasFinalizerInSegment(visible, size, attr, segment) {
			continue
		}
		rt.FinalizeFromGC(visible, size, attr)
		p.collectPrintf("heap: finalized large object at %#x (%d bytes)", visible, size)

		p.ClearBits(pn, Finalize|StructFinal|NoScan|NoInterior|Appendable)
		p.searchStart = built_in.Min(p.searchStart, pn)
		runLen := 1
		for pn+runLen < p.npages && p.pageTable[pn+runLen] == TagPagePlus {
			runLen++
		}
		if p.dbg.cfg.MemStomp {
			StompFree(base, size)
		}
		lp.FreePages(pn, runLen)
	}
}
