package wipe

import "runtime"

// Bytes zeroes b. Best effort only: copies made by the runtime are not reached.
//
//go:noinline
func Bytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}
