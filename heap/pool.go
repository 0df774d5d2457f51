// Package heap implements the pool-and-bin allocator that underpins a
// conservative, non-moving, mark-and-sweep garbage collector's heap. It
// owns virtual-address regions, slices them into size classes, tracks
// per-object attributes via bitmaps, and coordinates sweep-time
// finalization. Root scanning, marking, and the decision of when to
// collect are external to this package.
package heap

import (
	"fmt"
	"unsafe"

	"github.com/mihails-strasuns/druntime/bitvector"
)

// Pool represents one contiguous virtual-address region of
// npages*PageSize bytes. Small and large pools share this layout;
// IsLarge selects which bookkeeping fields are meaningful, per the
// "boolean discriminator" option in the design notes.
type Pool struct {
	mem  []byte // backing storage, page-aligned
	base uintptr
	top  uintptr

	npages    int
	freePages int

	pageTable []PageTag
	isLarge   bool
	shift     uint // 4 (small) or 12 (large)

	mark       *bitvector.BitVector // always allocated
	noScan     *bitvector.BitVector // always allocated
	appendable *bitvector.BitVector // always allocated
	freeBits   *bitvector.BitVector // small pools only, always allocated there

	finals       *bitvector.BitVector // lazy
	structFinals *bitvector.BitVector // lazy
	noInterior   *bitvector.BitVector // lazy, large pools only

	searchStart int
	largestFree int // large pools only; meaningless for small pools

	bPageOffsets []uintptr // large pools only

	mapper PageMapper

	dbg debugState
}

// Initialize maps nPages*PageSize bytes through mapper, allocates the
// always-present bitmaps, and marks every page B_FREE.
func Initialize(nPages int, isLarge bool, mapper PageMapper) *Pool {
	if nPages <= 0 {
		panic(fmt.Sprintf("heap: Initialize called with nPages=%d", nPages))
	}
	if mapper == nil {
		mapper = DefaultPageMapper{}
	}

	size := nPages * PageSize
	mem, err := mapper.Map(size)
	if err != nil {
		onOutOfMemory(err)
	}

	p := &Pool{
		mem:       mem,
		base:      uintptr(unsafe.Pointer(&mem[0])),
		npages:    nPages,
		freePages: nPages,
		pageTable: make([]PageTag, nPages),
		isLarge:   isLarge,
		mapper:    mapper,
	}
	p.top = p.base + uintptr(size)

	if isLarge {
		p.shift = shiftLarge
		p.bPageOffsets = make([]uintptr, nPages)
		p.noInterior = nil // lazy
		p.largestFree = nPages
	} else {
		p.shift = shiftSmall
	}

	nBits := (nPages * PageSize) >> p.shift
	p.mark = bitvector.New(nBits)
	p.noScan = bitvector.New(nBits)
	p.appendable = bitvector.New(nBits)
	if !isLarge {
		p.freeBits = bitvector.New(nBits)
	}

	for i := range p.pageTable {
		p.pageTable[i] = TagFree
	}

	return p
}

// Destroy unmaps the pool's backing memory. Destruction while any live
// allocation references the pool is undefined.
func (p *Pool) Destroy() {
	if p.mapper != nil {
		if err := p.mapper.Unmap(p.mem); err != nil {
			onInvalidMemoryOperation(fmt.Sprintf("heap: unmap failed: %v", err))
		}
	}
	p.mem = nil
	p.pageTable = nil
	p.mark.Destroy()
	p.noScan.Destroy()
	p.appendable.Destroy()
	if p.freeBits != nil {
		p.freeBits.Destroy()
	}
	if p.finals != nil {
		p.finals.Destroy()
	}
	if p.structFinals != nil {
		p.structFinals.Destroy()
	}
	if p.noInterior != nil {
		p.noInterior.Destroy()
	}
}

// IsLarge reports whether p is a large-object pool.
func (p *Pool) IsLarge() bool { return p.isLarge }

// Base is the pool's half-open range start.
func (p *Pool) Base() uintptr { return p.base }

// Top is the pool's half-open range end.
func (p *Pool) Top() uintptr { return p.top }

// NPages is the total page count.
func (p *Pool) NPages() int { return p.npages }

// FreePages is the current count of B_FREE page-table entries.
func (p *Pool) FreePages() int { return p.freePages }

// Tag returns the page table entry for page pn.
func (p *Pool) Tag(pn int) PageTag { return p.pageTable[pn] }

// PageOf computes the page index owning address addr. Precondition:
// base <= addr < top.
func (p *Pool) PageOf(addr uintptr) int {
	if addr < p.base || addr >= p.top {
		panic(fmt.Sprintf("heap: PageOf(%#x) outside pool [%#x,%#x)", addr, p.base, p.top))
	}
	return int(addr-p.base) / PageSize
}

// PageAddr returns the base address of page pn.
func (p *Pool) PageAddr(pn int) uintptr {
	return p.base + uintptr(pn)*PageSize
}

// bitIndex computes biti for an offset already known to be within range,
// using the pool's divisor shift: biti = offset/16 for small pools,
// offset/PageSize for large pools.
func (p *Pool) bitIndex(addr uintptr) int {
	return int(addr-p.base) >> p.shift
}

// GetBits reads finals, struct_finals, no_scan, no_interior and appendable
// at biti, folding set bits into the returned mask. A lazily-unallocated
// bitmap reads as all zero.
func (p *Pool) GetBits(biti int) Attr {
	var mask Attr
	if p.finals.Test(biti) {
		mask |= Finalize
	}
	if p.structFinals.Test(biti) {
		mask |= StructFinal
	}
	if p.noScan.Test(biti) {
		mask |= NoScan
	}
	if p.isLarge && p.noInterior.Test(biti) {
		mask |= NoInterior
	}
	if p.appendable.Test(biti) {
		mask |= Appendable
	}
	return mask
}

// SetBits lazily allocates the bitmap backing any requested flag (sized to
// match mark) and then sets the corresponding bit. NoInterior is ignored
// on small-object pools.
func (p *Pool) SetBits(biti int, mask Attr) {
	if mask&Finalize != 0 {
		p.ensureFinals()
		p.finals.Set(biti)
	}
	if mask&StructFinal != 0 {
		p.ensureStructFinals()
		p.structFinals.Set(biti)
	}
	if mask&NoScan != 0 {
		p.noScan.Set(biti)
	}
	if mask&NoInterior != 0 && p.isLarge {
		p.ensureNoInterior()
		p.noInterior.Set(biti)
	}
	if mask&Appendable != 0 {
		p.appendable.Set(biti)
	}
}

// ClearBits clears the requested bits. A lazily-unallocated bitmap is a
// no-op.
func (p *Pool) ClearBits(biti int, mask Attr) {
	if mask&Finalize != 0 && p.finals != nil {
		p.finals.Clear(biti)
	}
	if mask&StructFinal != 0 && p.structFinals != nil {
		p.structFinals.Clear(biti)
	}
	if mask&NoScan != 0 {
		p.noScan.Clear(biti)
	}
	if mask&NoInterior != 0 && p.isLarge && p.noInterior != nil {
		p.noInterior.Clear(biti)
	}
	if mask&Appendable != 0 {
		p.appendable.Clear(biti)
	}
}

func (p *Pool) ensureFinals() {
	if p.finals == nil {
		p.finals = bitvector.New(p.mark.NBits())
	}
}

func (p *Pool) ensureStructFinals() {
	if p.structFinals == nil {
		p.structFinals = bitvector.New(p.mark.NBits())
	}
}

func (p *Pool) ensureNoInterior() {
	if p.noInterior == nil {
		p.noInterior = bitvector.New(p.mark.NBits())
	}
}

// FreePageBits is the page-bit sweep helper, small pools only.
// toFree is a bitmap covering one page's worth of 16-byte slots, indexed
// from 0 at the page's first slot. For every bit set in toFree this sets
// the corresponding free_bits bit and clears no_scan/appendable/finals/
// struct_finals, word at a time.
func (p *Pool) FreePageBits(pageNum int, toFree *bitvector.BitVector) {
	if p.isLarge {
		panic("heap: FreePageBits called on a large-object pool")
	}
	slotsPerPage := PageSize >> shiftSmall
	baseBit := pageNum * slotsPerPage
	nWords := toFree.NumWords()
	for wi := 0; wi < nWords; wi++ {
		w := toFree.Word(wi)
		if w == 0 {
			continue
		}
		destBit := baseBit + wi*bitvector.WordBits
		destWord, shift := bitvector.WordIndexAndShift(destBit)
		if shift == 0 {
			p.freeBits.OrWord(destWord, w)
			p.noScan.AndNotWord(destWord, w)
			p.appendable.AndNotWord(destWord, w)
			if p.finals != nil {
				p.finals.AndNotWord(destWord, w)
			}
			if p.structFinals != nil {
				p.structFinals.AndNotWord(destWord, w)
			}
			continue
		}
		// Slow path: destination bit offset isn't word-aligned relative
		// to toFree's own words; fall back to per-bit updates for this
		// word only. With PageSize 4096 a page spans 256 bits, so destBit
		// is always a multiple of 64 and this path is not taken.
		for b := 0; b < bitvector.WordBits; b++ {
			if w&(uint64(1)<<uint(b)) == 0 {
				continue
			}
			bit := destBit + b
			p.freeBits.Set(bit)
			p.noScan.Clear(bit)
			p.appendable.Clear(bit)
			if p.finals != nil {
				p.finals.Clear(bit)
			}
			if p.structFinals != nil {
				p.structFinals.Clear(bit)
			}
		}
	}
}
