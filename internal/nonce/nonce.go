// Package nonce generates the random identifiers used on the wire.
package nonce

import (
	"crypto/rand"
)

const (
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// Length is the length of every generated identifier.
	Length = 16
)

// pick maps a random byte onto the alphabet. Bytes above the largest
// multiple of the alphabet size are rejected, otherwise the low
// characters would come up more often than the rest.
func pick(b byte) (byte, bool) {
	const limit = 256 - 256%len(alphabet)
	if int(b) >= limit {
		return 0, false
	}
	return alphabet[int(b)%len(alphabet)], true
}

// Generate returns a 16-character alphanumeric identifier, drawn
// uniformly.
func Generate() string {
	out := make([]byte, 0, Length)
	var buf [Length]byte

	for {
		rand.Read(buf[:]) //nolint:errcheck

		for _, b := range buf {
			if ch, ok := pick(b); ok {
				out = append(out, ch)
				if len(out) == Length {
					return string(out)
				}
			}
		}
	}
}
