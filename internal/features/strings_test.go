package features

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stringsFixture = []byte("MZ\x90\x00hello world\x00abc\x00C:\\Windows\x01https://example.com\x02HKEY_LOCAL_MACHINE\x03hi")

func TestStringExtractorRaw(t *testing.T) {
	s, ok := StringExtractor{}.RawFeatures(stringsFixture, nil).(stringsSummary)
	require.True(t, ok)

	// Captured runs: "hello world", "C:\Windows", "https://example.com",
	// "HKEY_LOCAL_MACHINE". "abc" and "hi" are below the five-char minimum.
	assert.Equal(t, int64(4), s.NumStrings)
	assert.Equal(t, int64(58), s.Printables)
	assert.InDelta(t, 14.5, s.AvLength, 1e-9)
	assert.Equal(t, int64(1), s.Paths)
	assert.Equal(t, int64(1), s.URLs)
	assert.Equal(t, int64(1), s.Registry)
	assert.Equal(t, int64(1), s.MZ)

	require.Len(t, s.PrintableDist, 96)
	assert.Equal(t, int64(2), s.PrintableDist['h'-0x20])
	assert.Greater(t, s.Entropy, 0.0)
}

func TestStringExtractorVector(t *testing.T) {
	se := StringExtractor{}

	vec, err := se.ProcessRawFeatures(marshalRaw(t, se.RawFeatures(stringsFixture, nil)))
	require.NoError(t, err)
	require.Len(t, vec, 104)

	assert.Equal(t, float32(4), vec[0])
	assert.Equal(t, float32(14.5), vec[1])
	assert.Equal(t, float32(58), vec[2])
	assert.InDelta(t, 2.0/58.0, float64(vec[3+'h'-0x20]), 1e-6)
	assert.Equal(t, float32(1), vec[100]) // paths
	assert.Equal(t, float32(1), vec[101]) // urls
	assert.Equal(t, float32(1), vec[102]) // registry
	assert.Equal(t, float32(1), vec[103]) // MZ

	// The distribution block is normalized by the printable total.
	var sum float64
	for _, v := range vec[3:99] {
		sum += float64(v)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestStringExtractorNoStrings(t *testing.T) {
	se := StringExtractor{}

	s := se.RawFeatures([]byte{0, 1, 2, 3}, nil).(stringsSummary)
	assert.Zero(t, s.NumStrings)
	assert.Zero(t, s.Printables)
	require.Len(t, s.PrintableDist, 96)

	vec, err := se.ProcessRawFeatures(marshalRaw(t, s))
	require.NoError(t, err)
	require.Len(t, vec, 104)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestStringExtractorIncludesDEL(t *testing.T) {
	// 0x7f is part of the printable alphabet and extends runs.
	s := StringExtractor{}.RawFeatures([]byte("abcd\x7f"), nil).(stringsSummary)
	assert.Equal(t, int64(1), s.NumStrings)
	assert.Equal(t, int64(5), s.Printables)
	assert.Equal(t, int64(1), s.PrintableDist[95])
}

func TestStringPatternsCaseInsensitive(t *testing.T) {
	s := StringExtractor{}.RawFeatures([]byte("c:\\tmp C:\\Windows HTTP://a https://b"), nil).(stringsSummary)
	assert.Equal(t, int64(2), s.Paths)
	assert.Equal(t, int64(2), s.URLs)
}

func TestStringExtractorBadRaw(t *testing.T) {
	_, err := StringExtractor{}.ProcessRawFeatures(json.RawMessage(`{"printabledist": [1, 2]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 96 printable bins")
}
