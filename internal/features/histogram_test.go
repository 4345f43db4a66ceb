package features

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// marshalRaw round-trips an extractor's raw output through JSON the way a
// record on disk would be.
func marshalRaw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestByteHistogramRaw(t *testing.T) {
	h := ByteHistogram{}

	counts, ok := h.RawFeatures(nil, nil).([]int64)
	require.True(t, ok)
	require.Len(t, counts, 256)
	for _, c := range counts {
		assert.Zero(t, c)
	}

	counts = h.RawFeatures([]byte{0, 0, 1, 255}, nil).([]int64)
	assert.Equal(t, int64(2), counts[0])
	assert.Equal(t, int64(1), counts[1])
	assert.Equal(t, int64(1), counts[255])
}

func TestByteHistogramVector(t *testing.T) {
	h := ByteHistogram{}

	vec, err := h.ProcessRawFeatures(marshalRaw(t, h.RawFeatures([]byte{7, 7, 7, 9}, nil)))
	require.NoError(t, err)
	require.Len(t, vec, 256)
	assert.Equal(t, float32(0.75), vec[7])
	assert.Equal(t, float32(0.25), vec[9])

	var sum float32
	for _, v := range vec {
		sum += v
	}
	assert.InDelta(t, 1.0, float64(sum), 1e-6)

	// All-zero input concentrates the distribution in bin zero.
	vec, err = h.ProcessRawFeatures(marshalRaw(t, h.RawFeatures(make([]byte, 10), nil)))
	require.NoError(t, err)
	assert.Equal(t, float32(1), vec[0])

	// Empty input normalizes to all zeros, not NaN.
	vec, err = h.ProcessRawFeatures(marshalRaw(t, h.RawFeatures(nil, nil)))
	require.NoError(t, err)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestByteHistogramBadRaw(t *testing.T) {
	h := ByteHistogram{}

	_, err := h.ProcessRawFeatures(json.RawMessage(`[1, 2, 3]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 256 counts")

	_, err = h.ProcessRawFeatures(json.RawMessage(`"nope"`))
	assert.Error(t, err)
}

func TestByteEntropySingleShortBlock(t *testing.T) {
	be := NewByteEntropyHistogram()

	// Inputs below one window are a single block whose probabilities still
	// divide by the window size, so they land in the lowest entropy row.
	counts := be.RawFeatures(make([]byte, 16), nil).([]int64)
	assert.Equal(t, int64(16), counts[0])
	var total int64
	for _, c := range counts {
		total += c
	}
	assert.Equal(t, int64(16), total)

	vec, err := be.ProcessRawFeatures(marshalRaw(t, counts))
	require.NoError(t, err)
	assert.Equal(t, float32(1), vec[0])
}

func TestByteEntropyWindowWalk(t *testing.T) {
	be := NewByteEntropyHistogram()

	sum := func(counts []int64) int64 {
		var total int64
		for _, c := range counts {
			total += c
		}
		return total
	}

	// Exactly one window.
	counts := be.RawFeatures(make([]byte, 2048), nil).([]int64)
	assert.Equal(t, int64(2048), sum(counts))

	// 3072 bytes: windows at offsets 0 and 1024.
	counts = be.RawFeatures(make([]byte, 3072), nil).([]int64)
	assert.Equal(t, int64(4096), sum(counts))

	// One byte short of a window falls back to the single-block path.
	counts = be.RawFeatures(make([]byte, 2047), nil).([]int64)
	assert.Equal(t, int64(2047), sum(counts))

	counts = be.RawFeatures(nil, nil).([]int64)
	assert.Equal(t, int64(0), sum(counts))
}

func TestByteEntropyTopRow(t *testing.T) {
	be := NewByteEntropyHistogram()

	// A window cycling every byte value fills the coarse bins evenly:
	// maximum entropy, clamped into row 15.
	data := make([]byte, 2048)
	for i := range data {
		data[i] = byte(i)
	}
	counts := be.RawFeatures(data, nil).([]int64)
	for i := 0; i < 16; i++ {
		assert.Equal(t, int64(128), counts[15*16+i])
	}

	vec, err := be.ProcessRawFeatures(marshalRaw(t, counts))
	require.NoError(t, err)
	assert.InDelta(t, 0.0625, float64(vec[255]), 1e-6)
}

func TestByteEntropyBadRaw(t *testing.T) {
	be := NewByteEntropyHistogram()

	_, err := be.ProcessRawFeatures(json.RawMessage(`[]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "byteentropy")

	_, err = be.ProcessRawFeatures(json.RawMessage(`{}`))
	assert.Error(t, err)
}
