package heap

import (
	"bufio"
	"fmt"
	"io"
	"unsafe"

	"github.com/dsnet/golib/memfile"

	"github.com/mihails-strasuns/druntime/internal/corelog"
)

// DebugConfig carries the opt-in, no-op-otherwise debug toggles.
type DebugConfig struct {
	Sentinel      bool // canary words around each small allocation
	MemStomp      bool // write 0xF0 on alloc, 0xF3 on free
	CollectPrintf bool // log sweep actions
	Logging       bool // retain a parallel log of outstanding allocations
}

// debugState is the per-pool instantiation of DebugConfig plus whatever
// backing storage a given toggle needs. Grounded on the teacher's
// PoolAudit (bufmgr.go): a debug-only pass over live state that reports
// violations via a log sink rather than failing allocation itself.
type debugState struct {
	cfg DebugConfig
	log *AllocLog
}

// EnableDebug wires p's debug toggles. Safe to call once, right after
// Initialize; a pool with every toggle false behaves exactly as if this
// were never called.
func (p *Pool) EnableDebug(cfg DebugConfig) {
	p.dbg.cfg = cfg
	if cfg.Logging {
		p.dbg.log = NewAllocLog()
	}
}

// DebugLog returns the outstanding-allocation log's contents, or the
// empty string if the Logging toggle was never enabled.
func (p *Pool) DebugLog() string {
	if p.dbg.log == nil {
		return ""
	}
	return p.dbg.log.Dump()
}

const (
	sentinelCanary   = uint64(0xF0F0F0F0F0F0F0F0)
	sentinelPreSize  = 16 // 8-byte canary + 8-byte stored size
	sentinelPostSize = 8  // 8-byte canary
)

func loadU64(addr uintptr) uint64 {
	return *(*uint64)(unsafe.Pointer(addr))
}

func storeU64(addr uintptr, v uint64) {
	*(*uint64)(unsafe.Pointer(addr)) = v
}

// SentinelAdd converts an internal (pre-header) address into the
// runtime-visible address handed to the collaborator; the sentinel
// offset is applied at exactly this boundary.
func SentinelAdd(internal uintptr) uintptr {
	return internal + sentinelPreSize
}

// SentinelSub is SentinelAdd's inverse.
func SentinelSub(external uintptr) uintptr {
	return external - sentinelPreSize
}

// SentinelInit writes the pre- and post-canaries and the stored size
// around a freshly carved slot. internal is the pre-header address;
// usableSize is the size available to the caller between the two
// canaries.
func SentinelInit(internal uintptr, usableSize uintptr) {
	storeU64(internal, sentinelCanary)
	storeU64(internal+8, uint64(usableSize))
	storeU64(SentinelAdd(internal)+usableSize, sentinelCanary)
}

// SentinelSize reads back the size stored by SentinelInit, given the
// runtime-visible (post-header) address.
func SentinelSize(external uintptr) uintptr {
	return uintptr(loadU64(SentinelSub(external) + 8))
}

// SentinelPre returns the address of the pre-canary word.
func SentinelPre(external uintptr) uintptr {
	return SentinelSub(external)
}

// SentinelInvariant checks both canaries for external and triggers
// on_invalid_memory_operation if either has been overwritten.
func SentinelInvariant(external uintptr) {
	internal := SentinelSub(external)
	size := SentinelSize(external)
	if loadU64(internal) != sentinelCanary {
		onInvalidMemoryOperation(fmt.Sprintf("heap: sentinel corrupted before %#x", external))
		return
	}
	if loadU64(external+size) != sentinelCanary {
		onInvalidMemoryOperation(fmt.Sprintf("heap: sentinel corrupted after %#x (size %d)", external, size))
	}
}

// stompPattern fills [addr, addr+size) with b, the memstomp debug aid.
func stompPattern(addr uintptr, size uintptr, b byte) {
	buf := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
	for i := range buf {
		buf[i] = b
	}
}

// StompAlloc writes the 0xF0 alloc pattern.
func StompAlloc(addr uintptr, size uintptr) { stompPattern(addr, size, 0xF0) }

// StompFree writes the 0xF3 free pattern.
func StompFree(addr uintptr, size uintptr) { stompPattern(addr, size, 0xF3) }

// collectPrintf logs a sweep action when CollectPrintf is enabled for p.
func (p *Pool) collectPrintf(format string, args ...interface{}) {
	if p.dbg.cfg.CollectPrintf {
		corelog.Printf(format, args...)
	}
}

// AllocLog retains a parallel, in-memory log of outstanding allocations
// for the `logging` debug toggle. Backed by dsnet/golib/memfile instead
// of a real os.File: the core must never block, and an in-memory
// ReadWriteSeeker gives the same io.Writer surface the teacher's own
// page I/O expects without a syscall.
type AllocLog struct {
	f *memfile.File
	w *bufio.Writer
}

// NewAllocLog returns an empty AllocLog.
func NewAllocLog() *AllocLog {
	f := memfile.New(nil)
	return &AllocLog{f: f, w: bufio.NewWriter(f)}
}

// RecordAlloc appends an allocation event.
func (l *AllocLog) RecordAlloc(addr uintptr, size int) {
	fmt.Fprintf(l.w, "alloc %#x size=%d\n", addr, size)
}

// RecordFree appends a free event.
func (l *AllocLog) RecordFree(addr uintptr) {
	fmt.Fprintf(l.w, "free %#x\n", addr)
}

// Dump flushes and returns the full log contents, for driver-side leak
// diagnostics.
func (l *AllocLog) Dump() string {
	l.w.Flush()
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return ""
	}
	b, _ := io.ReadAll(l.f)
	return string(b)
}
