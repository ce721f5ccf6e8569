package security

import (
	"crypto/subtle"
	"runtime"
)

// ZeroBytes overwrites sensitive data such as unwrapped DEKs once they are no longer needed.
func ZeroBytes(data []byte) {
	if len(data) == 0 {
		return
	}
	for i := range data {
		data[i] = 0
	}
	// Keep the slice reachable until the writes above have happened
	runtime.KeepAlive(data)
}

// ConstantTimeEq compares two byte slices without leaking where they differ.
func ConstantTimeEq(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
