package features

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/cmikke97/pefeats/internal/pefile"
)

// ByteHistogram counts raw byte values over the whole input.
type ByteHistogram struct{}

// Name implements FeatureType.
func (ByteHistogram) Name() string { return "histogram" }

// Dim implements FeatureType.
func (ByteHistogram) Dim() int { return 256 }

// RawFeatures returns the 256 byte-value counts.
func (ByteHistogram) RawFeatures(data []byte, _ *pefile.File) interface{} {
	counts := make([]int64, 256)
	for _, b := range data {
		counts[b]++
	}
	return counts
}

// ProcessRawFeatures normalizes the counts into a distribution.
func (h ByteHistogram) ProcessRawFeatures(raw json.RawMessage) ([]float32, error) {
	var counts []int64
	if err := json.Unmarshal(raw, &counts); err != nil {
		return nil, fmt.Errorf("histogram: %w", err)
	}
	if len(counts) != h.Dim() {
		return nil, fmt.Errorf("histogram: expected %d counts, got %d", h.Dim(), len(counts))
	}
	return normalizeCounts(counts), nil
}

// ByteEntropyHistogram accumulates the joint distribution of (window
// entropy, coarse byte value) over sliding windows: 16 entropy rows of 16
// byte bins, flattened row-major.
type ByteEntropyHistogram struct {
	Window int
	Step   int
}

// NewByteEntropyHistogram returns the histogram with the calibrated
// window geometry.
func NewByteEntropyHistogram() ByteEntropyHistogram {
	return ByteEntropyHistogram{Window: 2048, Step: 1024}
}

// Name implements FeatureType.
func (ByteEntropyHistogram) Name() string { return "byteentropy" }

// Dim implements FeatureType.
func (ByteEntropyHistogram) Dim() int { return 256 }

// RawFeatures returns the 256 accumulated counts. Buffers shorter than
// one window are treated as a single window.
func (be ByteEntropyHistogram) RawFeatures(data []byte, _ *pefile.File) interface{} {
	counts := make([]int64, 256)
	if len(data) < be.Window {
		be.accumulate(counts, data)
		return counts
	}
	for off := 0; off+be.Window <= len(data); off += be.Step {
		be.accumulate(counts, data[off:off+be.Window])
	}
	return counts
}

// accumulate adds the block's coarse byte counts into the row selected by
// the block's entropy. Probabilities always divide by the window length,
// so short blocks register as low entropy.
func (be ByteEntropyHistogram) accumulate(counts []int64, block []byte) {
	var c [16]int64
	for _, b := range block {
		c[b>>4]++
	}
	h := 0.0
	for _, n := range c {
		if n == 0 {
			continue
		}
		p := float64(n) / float64(be.Window)
		h -= p * math.Log2(p)
	}
	h *= 2 // the coarse bins halve the information content

	row := int(h * 2)
	if row > 15 {
		row = 15
	}
	for i, n := range c {
		counts[row*16+i] += n
	}
}

// ProcessRawFeatures normalizes the counts into a distribution.
func (be ByteEntropyHistogram) ProcessRawFeatures(raw json.RawMessage) ([]float32, error) {
	var counts []int64
	if err := json.Unmarshal(raw, &counts); err != nil {
		return nil, fmt.Errorf("byteentropy: %w", err)
	}
	if len(counts) != be.Dim() {
		return nil, fmt.Errorf("byteentropy: expected %d counts, got %d", be.Dim(), len(counts))
	}
	return normalizeCounts(counts), nil
}

// normalizeCounts scales counts into a probability distribution. A zero
// total yields all zeros, never NaN.
func normalizeCounts(counts []int64) []float32 {
	out := make([]float32, len(counts))
	var total int64
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return out
	}
	for i, c := range counts {
		out[i] = float32(float64(c) / float64(total))
	}
	return out
}
