package heap

import "unsafe"

// freeNodeLayout is the in-place (next, host) pair: it is never
// constructed in isolation but overlaid directly onto a reclaimed bin
// slot via unsafe.Pointer, the same raw-byte-packing idiom the teacher
// uses for its own on-page structures (bufmgr.go: PutID/GetID). It
// requires a bin size of at least two machine words (16 bytes on
// 64-bit) — binSizes' smallest entry is exactly that.
type freeNodeLayout struct {
	next uintptr // address of the next free node, 0 means nil
	host *Pool   // weak back-reference to the owning pool
}

func freeNodeAt(addr uintptr) *freeNodeLayout {
	return (*freeNodeLayout)(unsafe.Pointer(addr))
}

// FreeNode is the read-only view of a slot's in-place free-list header,
// for callers (e.g. sweep drivers) that want to inspect the list without
// mutating it.
type FreeNode struct {
	Next uintptr
	Host *Pool
}

// ReadFreeNode reads the FreeNode overlaid at addr. addr must currently
// be linked into some FreeList.
func ReadFreeNode(addr uintptr) FreeNode {
	n := freeNodeAt(addr)
	return FreeNode{Next: n.next, Host: n.host}
}

// FreeList is a singly-linked stack of FreeNodes threaded through
// reclaimed bin slots, one per small-bin class per Buckets instance.
type FreeList struct {
	head uintptr
}

// Empty reports whether the list has no nodes.
func (fl *FreeList) Empty() bool { return fl.head == 0 }

// Free pushes node onto the head of the list in O(1), writing node's
// in-place (next, host) pair and setting the slot's free_bits bit so
// that every slot reachable from a free list always has free_bits set.
// No validation that node actually belongs to a bin page is performed —
// that is enforced elsewhere.
func (fl *FreeList) Free(host *Pool, node uintptr) {
	n := freeNodeAt(node)
	n.next = fl.head
	n.host = host
	fl.head = node
	host.freeBits.Set(host.bitIndex(node))
}

// pop removes and returns the head node, clearing its free_bits bit
// since it is leaving the free list, or (0, false) if empty.
func (fl *FreeList) pop() (uintptr, bool) {
	if fl.head == 0 {
		return 0, false
	}
	node := fl.head
	n := freeNodeAt(node)
	fl.head = n.next
	n.host.freeBits.Clear(n.host.bitIndex(node))
	return node, true
}

// Buckets serves small allocations by bin class, carving fresh pages from
// a driver-supplied SmallObjectPool on demand.
type Buckets struct {
	lists [NumBins]FreeList
	// MoreMemory is called whenever a bin's free list is empty. It must
	// return a SmallObjectPool with at least one B_FREE page, or invoke
	// the out-of-memory upcall itself and not return.
	MoreMemory func() SmallObjectPool
}

// NewBuckets returns an empty Buckets bound to moreMemory.
func NewBuckets(moreMemory func() SmallObjectPool) *Buckets {
	return &Buckets{MoreMemory: moreMemory}
}

// Alloc serves requested bytes, rounding up to a bin class, attaching
// flags if non-zero, and returns the slot address and the bin's actual
// allocated size. requested must be <= 2048; larger requests are the
// large path's responsibility.
func (b *Buckets) Alloc(requested int, flags Attr) (addr uintptr, allocatedSize int) {
	if requested < 0 || requested > 2048 {
		panic("heap: Buckets.Alloc called with a request outside the small-bin range")
	}
	bin := binTable[requested]
	allocatedSize = binSizeOf(bin)
	idx := binIndexOf(bin)
	list := &b.lists[idx]

	if list.Empty() {
		b.refill(list, bin, allocatedSize)
	}

	node, ok := list.pop()
	if !ok {
		panic("heap: Buckets.Alloc refill left the free list empty")
	}

	host := freeNodeAt(node).host
	if flags != 0 {
		biti := host.bitIndex(node)
		host.SetBits(biti, flags)
	}
	if host.dbg.cfg.MemStomp {
		StompAlloc(node, uintptr(allocatedSize))
	}
	if host.dbg.log != nil {
		host.dbg.log.RecordAlloc(node, allocatedSize)
	}
	return node, allocatedSize
}

// refill carves a fresh page from MoreMemory into slots of size bytes and
// chains them onto list, the last slot's next being nil.
func (b *Buckets) refill(list *FreeList, bin PageTag, size int) {
	sp := b.MoreMemory()
	pageAddr, ok := sp.AllocPage(bin)
	if !ok {
		panic("heap: MoreMemory returned a pool with no free page")
	}
	host := sp.Pool
	slotsPerPage := PageSize / size
	for i := slotsPerPage - 1; i >= 0; i-- {
		slot := pageAddr + uintptr(i*size)
		list.Free(host, slot)
	}
}
