//go:build linux

package proctitle

import (
	"os"
	"unsafe"
)

// set overwrites argv[0..] in place with title, truncating or NUL-padding
// to fit the original argv allocation. This only changes what ps/top show;
// it does not resize the process's actual argument vector.
func set(title string) {
	argv0 := os.Args[0]
	available := 0
	for _, a := range os.Args {
		available += len(a) + 1
	}
	available--

	if available <= 0 {
		return
	}

	buf := make([]byte, available)
	n := copy(buf, title)
	for i := n; i < available; i++ {
		buf[i] = 0
	}

	base := unsafe.Pointer(unsafe.StringData(argv0))
	dst := unsafe.Slice((*byte)(base), available)
	copy(dst, buf)
}
