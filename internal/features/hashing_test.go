package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashBucketKnownValues(t *testing.T) {
	// MurmurHash3 x86/32 of "" at seed 0 is 0: bucket 0, positive sign.
	// Empty tokens come up constantly (images whose headers failed to
	// parse), so this bucket is load-bearing.
	bucket, sign := hashBucket("", 16)
	assert.Equal(t, 0, bucket)
	assert.Equal(t, 1.0, sign)

	// "foo" hashes to -156908512 as a signed 32-bit value.
	bucket, sign = hashBucket("foo", 10)
	assert.Equal(t, 2, bucket)
	assert.Equal(t, -1.0, sign)
}

func TestHashBucketRange(t *testing.T) {
	tokens := []string{"", "a", "foo", "KERNEL32.dll", ".text", "MEM_EXECUTE", "ordinal7", "\x00\xff"}
	for _, k := range []int{1, 10, 50, 256, 1024} {
		for _, tok := range tokens {
			bucket, sign := hashBucket(tok, k)
			assert.GreaterOrEqual(t, bucket, 0)
			assert.Less(t, bucket, k)
			assert.Contains(t, []float64{-1, 1}, sign)
		}
	}
}

func TestHashStrings(t *testing.T) {
	assert.Equal(t, make([]float32, 8), hashStrings(8, nil))
	assert.Equal(t, make([]float32, 8), hashStrings(8, []string{}))

	// The empty token lands in bucket 0 with weight +1.
	v := hashStrings(8, []string{""})
	assert.Equal(t, float32(1), v[0])
	for _, x := range v[1:] {
		assert.Zero(t, x)
	}

	// Weights accumulate per repetition.
	one := hashStrings(64, []string{"GetProcAddress"})
	two := hashStrings(64, []string{"GetProcAddress", "GetProcAddress"})
	for i := range one {
		assert.Equal(t, 2*one[i], two[i])
	}

	// Order never matters.
	a := hashStrings(64, []string{"alpha", "beta", "gamma"})
	b := hashStrings(64, []string{"gamma", "alpha", "beta"})
	assert.Equal(t, a, b)

	// A single token contributes exactly one unit of weight.
	var total float32
	for _, x := range hashStrings(64, []string{"LoadLibraryA"}) {
		if x < 0 {
			x = -x
		}
		total += x
	}
	assert.Equal(t, float32(1), total)
}

func TestHashPairs(t *testing.T) {
	v := hashPairs(8, []pair{{token: "", weight: 7.5}})
	assert.Equal(t, float32(7.5), v[0])

	// Same token: weights add with a consistent sign.
	v = hashPairs(8, []pair{{token: "", weight: 2}, {token: "", weight: 3}})
	assert.Equal(t, float32(5), v[0])

	assert.Equal(t, make([]float32, 50), hashPairs(50, nil))
}

func TestHashChars(t *testing.T) {
	assert.Equal(t, make([]float32, 50), hashChars(50, ""))

	// Per-character hashing: "aa" weighs twice "a".
	one := hashChars(50, "a")
	two := hashChars(50, "aa")
	for i := range one {
		assert.Equal(t, 2*one[i], two[i])
	}

	// ".text" spreads five single-character tokens.
	var total float32
	for _, x := range hashChars(50, ".text") {
		if x < 0 {
			x = -x
		}
		total += x
	}
	assert.LessOrEqual(t, total, float32(5))
	assert.Greater(t, total, float32(0))
}

func TestToFloat32(t *testing.T) {
	assert.Equal(t, []float32{1.5, -2, 0}, toFloat32([]float64{1.5, -2, 0}))
	assert.Equal(t, []float32{}, toFloat32([]float64{}))
}
