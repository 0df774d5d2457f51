package heap

import (
	"testing"
	"unsafe"
)

// Sentinel round-trip: canaries survive init and a clean read-back.
func TestSentinelRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	internal := uintptr(unsafe.Pointer(&buf[0]))
	usableSize := uintptr(32)

	SentinelInit(internal, usableSize)
	external := SentinelAdd(internal)

	if got := SentinelSub(external); got != internal {
		t.Fatalf("SentinelSub(SentinelAdd(p)) = %#x, want %#x", got, internal)
	}
	if got := SentinelSize(external); got != usableSize {
		t.Fatalf("SentinelSize() = %d, want %d", got, usableSize)
	}

	SentinelInvariant(external) // must not panic: canaries intact
}

func TestSentinelInvariantCatchesCorruption(t *testing.T) {
	buf := make([]byte, 64)
	internal := uintptr(unsafe.Pointer(&buf[0]))
	SentinelInit(internal, 32)
	external := SentinelAdd(internal)

	// Corrupt the pre-canary.
	buf[0] ^= 0xFF

	defer func() {
		if recover() == nil {
			t.Fatalf("SentinelInvariant did not panic on a corrupted pre-canary")
		}
	}()
	SentinelInvariant(external)
}

func TestMemStompPatterns(t *testing.T) {
	buf := make([]byte, 16)
	addr := uintptr(unsafe.Pointer(&buf[0]))

	StompAlloc(addr, 16)
	for _, b := range buf {
		if b != 0xF0 {
			t.Fatalf("StompAlloc left byte %x, want 0xF0", b)
		}
	}
	StompFree(addr, 16)
	for _, b := range buf {
		if b != 0xF3 {
			t.Fatalf("StompFree left byte %x, want 0xF3", b)
		}
	}
}

func TestAllocLogRecordsOutstandingAllocations(t *testing.T) {
	log := NewAllocLog()
	log.RecordAlloc(0x1000, 16)
	log.RecordFree(0x1000)
	dump := log.Dump()
	if dump == "" {
		t.Fatalf("Dump() returned empty log")
	}
}

func TestDebugLogWiredThroughPool(t *testing.T) {
	p := newTestSmallPool(t, 1)
	if got := p.DebugLog(); got != "" {
		t.Fatalf("DebugLog() before EnableDebug = %q, want empty", got)
	}
	p.EnableDebug(DebugConfig{Logging: true})

	sp := NewSmallObjectPool(p)
	b := NewBuckets(func() SmallObjectPool { return sp })
	b.Alloc(16, None)

	if got := p.DebugLog(); got == "" {
		t.Fatalf("DebugLog() after an allocation is empty, want a recorded alloc line")
	}
}
