// Package corelog centralizes the ad hoc fmt.Println/errPrintf-style
// logging the teacher scatters across bufmgr.go (PoolAudit, Close) into
// one place so the heap core's collect_printf and logging debug toggles
// have a single sink to write through.
package corelog

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	mu  sync.Mutex
	out io.Writer = os.Stderr
)

// SetOutput redirects future log lines, mainly for tests that want to
// capture output instead of polluting stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// Printf writes one formatted, newline-terminated log line.
func Printf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, format+"\n", args...)
}
