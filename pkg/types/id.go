package types

import (
	"crypto/rand"
	"math/big"
)

const idLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewShortID returns an opaque token of ASCII letters. App and function ids
// are case-preserving; callers lowercase them for DNS and bucket names.
func NewShortID(length int) string {
	if length <= 0 {
		length = 8
	}
	buf := make([]byte, length)
	max := big.NewInt(int64(len(idLetters)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform entropy source is
			// broken; fall back to a fixed letter rather than panic.
			buf[i] = idLetters[0]
			continue
		}
		buf[i] = idLetters[n.Int64()]
	}
	return string(buf)
}
