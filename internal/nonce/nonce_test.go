package nonce

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	seen := make(map[string]struct{})

	for i := 0; i < 100; i++ {
		id := Generate()
		require.Regexp(t, "^[A-Za-z0-9]{16}$", id)

		_, ok := seen[id]
		require.False(t, ok)
		seen[id] = struct{}{}
	}
}

func TestPickUniform(t *testing.T) {
	counts := make(map[byte]int)
	rejected := 0

	for i := 0; i < 256; i++ {
		ch, ok := pick(byte(i))
		if !ok {
			rejected = rejected + 1
			continue
		}
		counts[ch]++
	}

	// 256 = 4 * 62 + 8: every character must be reachable from
	// exactly 4 byte values, with the 8 remainder bytes rejected
	require.Equal(t, 8, rejected)
	require.Len(t, counts, len(alphabet))
	for _, n := range counts {
		require.Equal(t, 4, n)
	}
}
