// Command heapdemo drives the heap core end to end: it stands in for the
// out-of-scope upper-level GC driver just enough to prove the
// wiring between Pool, Buckets, LargeObjectPool and SmallObjectPool.
package main

import (
	"flag"
	"fmt"

	"github.com/mihails-strasuns/druntime/heap"
)

func main() {
	pages := flag.Int("pages", 64, "pages in the small-object demo pool")
	largePages := flag.Int("large-pages", 16, "pages in the large-object demo pool")
	flag.Parse()

	mapper := heap.DummyPageMapper{}
	rt := heap.NewDummyRuntime()

	smallPool := heap.Initialize(*pages, false, mapper)
	smallPool.EnableDebug(heap.DebugConfig{CollectPrintf: true, Logging: true})
	sp := heap.NewSmallObjectPool(smallPool)

	buckets := heap.NewBuckets(func() heap.SmallObjectPool { return sp })

	addr, size := buckets.Alloc(24, heap.Finalize)
	fmt.Printf("small alloc: addr=%#x size=%d free_pages=%d\n", addr, size, smallPool.FreePages())

	rt.Marked[addr] = true
	sp.RunFinalizers(rt, 0)
	fmt.Printf("after sweep, allocation log:\n%s", smallPool.DebugLog())

	largePool := heap.Initialize(*largePages, true, mapper)
	lp := heap.NewLargeObjectPool(largePool)
	n := 3
	idx := lp.AllocPages(n)
	if idx == heap.NOTFOUND {
		fmt.Println("large alloc failed")
		return
	}
	lp.MarkRun(idx, n)
	base := largePool.PageAddr(idx)
	fmt.Printf("large alloc: base=%#x size=%d free_pages=%d\n", base, lp.GetSize(base), largePool.FreePages())

	lp.FreePages(idx, n)
	fmt.Printf("after free: free_pages=%d\n", largePool.FreePages())
}
