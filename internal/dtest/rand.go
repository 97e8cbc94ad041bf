package dtest

import (
	"crypto/sha256"
	"math/rand/v2"
	"testing"
)

// RandomDataForTest returns sz pseudorandom bytes
// seeded from the test name, so a failing run is reproducible.
func RandomDataForTest(t testing.TB, sz int) []byte {
	// Sha256 output is exactly the ChaCha8 seed size,
	// and it accepts test names of any length.
	seed := sha256.Sum256([]byte(t.Name()))
	chacha := rand.NewChaCha8(seed)

	out := make([]byte, sz)
	if _, err := chacha.Read(out); err != nil {
		panic(err)
	}
	return out
}

// RandomChunksForTest returns n chunks of chunkSize pseudorandom bytes,
// all views into a single backing array from [RandomDataForTest].
func RandomChunksForTest(t testing.TB, n, chunkSize int) [][]byte {
	data := RandomDataForTest(t, n*chunkSize)

	out := make([][]byte, n)
	for i := range out {
		out[i] = data[i*chunkSize : (i+1)*chunkSize : (i+1)*chunkSize]
	}
	return out
}
