package features

import "github.com/spaolacci/murmur3"

// The hashing trick used throughout the vector stage. Tokens are folded
// into k buckets with MurmurHash3 x86/32 at seed 0, interpreted as a
// signed 32-bit value: the bucket is |h| mod k and the accumulated weight
// carries h's sign. This is the same digest the reference models were
// trained against, so neither the seed nor the sign rule is tunable.

// pair is a weighted token.
type pair struct {
	token  string
	weight float64
}

// hashBucket maps one token to its bucket and sign. k must be positive.
func hashBucket(token string, k int) (int, float64) {
	h := int32(murmur3.Sum32WithSeed([]byte(token), 0))
	if h < 0 {
		// -int64 avoids the int32 overflow on math.MinInt32.
		return int(uint32(-int64(h)) % uint32(k)), -1
	}
	return int(uint32(h) % uint32(k)), 1
}

// hashStrings folds tokens into k buckets, accumulating ±1 per token.
func hashStrings(k int, tokens []string) []float32 {
	acc := make([]float64, k)
	for _, tok := range tokens {
		i, sign := hashBucket(tok, k)
		acc[i] += sign
	}
	return toFloat32(acc)
}

// hashPairs folds weighted tokens into k buckets, accumulating ±weight in
// input order.
func hashPairs(k int, pairs []pair) []float32 {
	acc := make([]float64, k)
	for _, p := range pairs {
		i, sign := hashBucket(p.token, k)
		acc[i] += sign * p.weight
	}
	return toFloat32(acc)
}

// hashChars folds every character of s as its own token.
func hashChars(k int, s string) []float32 {
	tokens := make([]string, 0, len(s))
	for _, r := range s {
		tokens = append(tokens, string(r))
	}
	return hashStrings(k, tokens)
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
