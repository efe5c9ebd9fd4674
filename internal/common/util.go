package common

import (
	"crypto/rand"
)

// GenerateRandByteArray returns size bytes from crypto/rand. Keys, nonces
// and salts come from here; a failing system source is unrecoverable, so it
// panics.
func GenerateRandByteArray(size int) []byte {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// WipeByteArray zeroes b in place. Callers defer it on plaintext, key
// material and passphrases once they are done with them. A nil slice is a
// no-op.
func WipeByteArray(b []byte) {
	clear(b)
}
