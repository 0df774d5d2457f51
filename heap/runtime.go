package heap

import (
	"fmt"
	"os"

	"github.com/ncw/directio"

	"github.com/mihails-strasuns/druntime/internal/corelog"
)

// Runtime is the set of upcalls the embedding GC runtime must provide.
// The heap core isolates this one external collaborator behind a small
// interface, the same shape the teacher uses for ParentBufMgr.
type Runtime interface {
	// HasFinalizerInSegment reports whether the object at p has a
	// finalizer whose code lives in segment.
	HasFinalizerInSegment(p uintptr, size uintptr, attr Attr, segment uintptr) bool
	// FinalizeFromGC invokes the object's finalizer. Must not allocate
	// managed memory and must not panic across this boundary.
	FinalizeFromGC(p uintptr, size uintptr, attr Attr)
}

// PageMapper provides page-aligned virtual-address reservations
// (os_map/os_unmap). The default implementation backs pools with
// directio-aligned buffers, giving the same page-alignment guarantee a
// real mmap would without calling into the OS mapper directly (see
// DESIGN.md).
type PageMapper interface {
	Map(size int) ([]byte, error)
	Unmap(mem []byte) error
}

// DefaultPageMapper allocates page-aligned memory via ncw/directio's
// AlignedBlock, which rounds to directio.AlignSize (a multiple of
// PageSize on every platform the teacher targets).
type DefaultPageMapper struct{}

func (DefaultPageMapper) Map(size int) ([]byte, error) {
	if size <= 0 || size%PageSize != 0 {
		return nil, fmt.Errorf("heap: map size %d is not a positive multiple of %d", size, PageSize)
	}
	block := directio.AlignedBlock(size)
	if block == nil {
		return nil, fmt.Errorf("heap: directio.AlignedBlock(%d) failed", size)
	}
	return block, nil
}

func (DefaultPageMapper) Unmap(mem []byte) error {
	// Aligned blocks are ordinary Go-managed byte slices; there is no
	// syscall to unwind. Dropping every reference lets the host Go
	// runtime's own GC reclaim it once this package no longer holds it
	// in any Pool field.
	return nil
}

// onOutOfMemoryFn is the abort-style upcall for unmanaged out-of-memory.
// It is a package variable, not a hardcoded os.Exit, so tests can
// substitute a panic-catching stand-in the way the teacher substitutes
// ParentBufMgrDummy for ParentBufMgr.
var onOutOfMemoryFn = func(err error) {
	corelog.Printf("heap: out of memory: %v", err)
	os.Exit(2)
}

func onOutOfMemory(err error) {
	onOutOfMemoryFn(err)
	panic("heap: onOutOfMemory upcall returned") // unreachable in production use
}

// onInvalidMemoryOperationFn is the abort-style upcall for
// sentinel/corruption detection.
var onInvalidMemoryOperationFn = func(msg string) {
	corelog.Printf("heap: invalid memory operation: %s", msg)
	panic(msg)
}

func onInvalidMemoryOperation(msg string) {
	onInvalidMemoryOperationFn(msg)
}
