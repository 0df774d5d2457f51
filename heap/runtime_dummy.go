package heap

// DummyRuntime is a sample Runtime implementation that runs no real
// finalizer code, only records which addresses were finalized; the same role parent_buf_mgr_dummy.go plays for ParentBufMgr in the
// teacher: an in-memory stand-in used by tests, not a production
// component. Segment is ignored; Marked controls which addresses report
// a pending finalizer.
type DummyRuntime struct {
	Marked    map[uintptr]bool
	Finalized []uintptr
}

// NewDummyRuntime returns a DummyRuntime ready for use.
func NewDummyRuntime() *DummyRuntime {
	return &DummyRuntime{Marked: make(map[uintptr]bool)}
}

func (d *DummyRuntime) HasFinalizerInSegment(p uintptr, size uintptr, attr Attr, segment uintptr) bool {
	return d.Marked[p]
}

func (d *DummyRuntime) FinalizeFromGC(p uintptr, size uintptr, attr Attr) {
	d.Finalized = append(d.Finalized, p)
	delete(d.Marked, p)
}

// DummyPageMapper allocates plain Go byte slices instead of directio's
// O_DIRECT-aligned blocks, avoiding the platform-specific alignment
// requirements directio imposes so unit tests can run on any page size.
type DummyPageMapper struct{}

func (DummyPageMapper) Map(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func (DummyPageMapper) Unmap(mem []byte) error {
	return nil
}
