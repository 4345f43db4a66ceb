package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmikke97/pefeats/internal/pefile"
	"github.com/cmikke97/pefeats/internal/pefile/pefiletest"
)

func TestGeneralFileInfoUnparsed(t *testing.T) {
	g := GeneralFileInfo{}

	// Without a parsed image only the file size is known.
	s := g.RawFeatures(make([]byte, 123), nil).(generalSummary)
	assert.Equal(t, int64(123), s.Size)
	assert.Zero(t, s.VSize)
	assert.Zero(t, s.Imports)

	vec, err := g.ProcessRawFeatures(marshalRaw(t, s))
	require.NoError(t, err)
	assert.Equal(t, []float32{123, 0, 0, 0, 0, 0, 0, 0, 0, 0}, vec)
}

func TestGeneralFileInfoParsed(t *testing.T) {
	img := pefiletest.Image{
		Sections: []pefiletest.Section{
			{Name: ".text", Characteristics: pefiletest.TextCharacteristics, Data: []byte{0xc3}},
		},
		Imports: []pefiletest.Import{
			{Library: "kernel32.dll", Names: []string{"ExitProcess", "CreateFileA"}},
		},
		Exports:     []string{"Run"},
		CoffSymbols: 4,
	}
	data := img.Build()
	bin, err := pefile.Parse(data)
	require.NoError(t, err)

	s := GeneralFileInfo{}.RawFeatures(data, bin).(generalSummary)
	assert.Equal(t, int64(len(data)), s.Size)
	assert.Greater(t, s.VSize, int64(0))
	assert.Equal(t, int64(1), s.Exports)
	assert.Equal(t, int64(2), s.Imports)
	assert.Equal(t, int64(4), s.Symbols)
	assert.Zero(t, s.HasDebug)
	assert.Zero(t, s.HasSignature)

	vec, err := GeneralFileInfo{}.ProcessRawFeatures(marshalRaw(t, s))
	require.NoError(t, err)
	require.Len(t, vec, 10)
	assert.Equal(t, float32(len(data)), vec[0])
	assert.Equal(t, float32(1), vec[3]) // exports
	assert.Equal(t, float32(2), vec[4]) // imports
	assert.Equal(t, float32(4), vec[9]) // symbols
}

func TestGeneralFileInfoBadRaw(t *testing.T) {
	_, err := GeneralFileInfo{}.ProcessRawFeatures([]byte(`[1, 2]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "general")
}
