package reactor

import (
	"bytes"
	"runtime"
	"strconv"
)

// goid extracts the calling goroutine's runtime ID by parsing the header
// line of runtime.Stack's output. EventLoop uses it to assert that
// loop-confined state is only ever touched from the loop's own goroutine;
// it is never used for anything correctness-load-bearing beyond that
// assertion (see EventLoop.assertInLoopGoroutine).
func goid() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	// "goroutine 123 [running]:"
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if idx := bytes.IndexByte(buf, ' '); idx >= 0 {
		buf = buf[:idx]
	}
	id, _ := strconv.ParseUint(string(buf), 10, 64)
	return id
}
