package keys

import (
	"crypto/subtle"
	"runtime"
)

// ZeroBytes overwrites b with zeros.
func ZeroBytes(b []byte) {
	subtle.XORBytes(b, b, b) // x ^ x = 0
	runtime.KeepAlive(b)
}
