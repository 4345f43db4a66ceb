package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmikke97/pefeats/internal/pefile"
	"github.com/cmikke97/pefeats/internal/pefile/pefiletest"
)

func TestSectionInfoRaw(t *testing.T) {
	bin, err := pefile.Parse(pefiletest.Minimal().Build())
	require.NoError(t, err)

	s := SectionInfo{}.RawFeatures(nil, bin).(sectionTableSummary)
	assert.Equal(t, ".text", s.Entry)
	require.Len(t, s.Sections, 1)

	sec := s.Sections[0]
	assert.Equal(t, ".text", sec.Name)
	assert.Equal(t, int64(4), sec.Size)
	assert.InDelta(t, 0.8113, sec.Entropy, 0.0001)
	assert.Contains(t, sec.Props, "MEM_EXECUTE")
	assert.Contains(t, sec.Props, "MEM_READ")
}

func TestSectionInfoUnparsed(t *testing.T) {
	s := SectionInfo{}.RawFeatures(nil, nil).(sectionTableSummary)
	assert.Empty(t, s.Entry)
	require.NotNil(t, s.Sections)
	assert.Empty(t, s.Sections)

	vec, err := SectionInfo{}.ProcessRawFeatures(marshalRaw(t, s))
	require.NoError(t, err)
	require.Len(t, vec, 255)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestSectionInfoVector(t *testing.T) {
	s := sectionTableSummary{
		Entry: ".text",
		Sections: []sectionSummary{
			{Name: ".text", Size: 512, Entropy: 6.2, VSize: 500, Props: []string{"CNT_CODE", "MEM_EXECUTE", "MEM_READ"}},
			{Name: "", Size: 0, Entropy: 0, VSize: 64, Props: []string{"MEM_READ", "MEM_WRITE"}},
			{Name: ".rsrc", Size: 128, Entropy: 3.1, VSize: 128, Props: []string{"MEM_READ"}},
		},
	}

	vec, err := SectionInfo{}.ProcessRawFeatures(marshalRaw(t, s))
	require.NoError(t, err)
	require.Len(t, vec, 255)

	assert.Equal(t, float32(3), vec[0]) // section count
	assert.Equal(t, float32(1), vec[1]) // zero raw size
	assert.Equal(t, float32(1), vec[2]) // unnamed
	assert.Equal(t, float32(1), vec[3]) // read+execute
	assert.Equal(t, float32(1), vec[4]) // writable

	l1 := func(block []float32) float64 {
		var total float64
		for _, v := range block {
			if v < 0 {
				v = -v
			}
			total += float64(v)
		}
		return total
	}

	// (name, size) weights: bounded by the size sum, nonzero.
	assert.LessOrEqual(t, l1(vec[5:55]), 640.0)
	assert.Greater(t, l1(vec[5:55]), 0.0)
	// Entry name hashed per character: five tokens for ".text".
	assert.Greater(t, l1(vec[155:205]), 0.0)
	assert.LessOrEqual(t, l1(vec[155:205]), 5.0)
	// Entry-section properties: only the ".text" props participate.
	assert.Greater(t, l1(vec[205:255]), 0.0)
	assert.LessOrEqual(t, l1(vec[205:255]), 3.0)
}

func TestSectionInfoEntryFallback(t *testing.T) {
	// An entry point that maps to no section falls back to the first
	// executable section.
	img := pefiletest.Image{
		EntryPoint: 0x99999,
		Sections: []pefiletest.Section{
			{Name: ".data", Characteristics: pefiletest.DataCharacteristics, Data: make([]byte, 16)},
			{Name: ".code", Characteristics: pefiletest.TextCharacteristics, Data: []byte{0xc3}},
		},
	}
	bin, err := pefile.Parse(img.Build())
	require.NoError(t, err)
	require.Nil(t, bin.EntrySection())

	s := SectionInfo{}.RawFeatures(nil, bin).(sectionTableSummary)
	assert.Equal(t, ".code", s.Entry)
}

func TestSectionInfoBadRaw(t *testing.T) {
	_, err := SectionInfo{}.ProcessRawFeatures([]byte(`[]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "section")
}
