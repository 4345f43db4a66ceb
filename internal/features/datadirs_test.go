package features

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmikke97/pefeats/internal/pefile"
	"github.com/cmikke97/pefeats/internal/pefile/pefiletest"
)

func TestDataDirectoriesRaw(t *testing.T) {
	img := pefiletest.Minimal()
	img.ExtraDirs = map[int]pefiletest.Dir{
		5: {VirtualAddress: 0x5000, Size: 0x40}, // base relocations
	}
	bin, err := pefile.Parse(img.Build())
	require.NoError(t, err)

	dirs := DataDirectories{}.RawFeatures(nil, bin).([]dataDirSummary)

	// All sixteen slots appear in header order, empty ones included.
	require.Len(t, dirs, 16)
	assert.Equal(t, "EXPORT_TABLE", dirs[0].Name)
	assert.Zero(t, dirs[0].Size)
	assert.Equal(t, "BASE_RELOCATION_TABLE", dirs[5].Name)
	assert.Equal(t, int64(0x40), dirs[5].Size)
	assert.Equal(t, int64(0x5000), dirs[5].VirtualAddress)
	assert.Equal(t, "NONE", dirs[15].Name)
}

func TestDataDirectoriesUnparsed(t *testing.T) {
	dirs := DataDirectories{}.RawFeatures(nil, nil).([]dataDirSummary)
	require.NotNil(t, dirs)
	assert.Empty(t, dirs)
	assert.Equal(t, "[]", string(marshalRaw(t, dirs)))

	vec, err := DataDirectories{}.ProcessRawFeatures(marshalRaw(t, dirs))
	require.NoError(t, err)
	require.Len(t, vec, 30)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestDataDirectoriesVector(t *testing.T) {
	dirs := []dataDirSummary{
		{Name: "EXPORT_TABLE", Size: 100, VirtualAddress: 0x1000},
		{Name: "IMPORT_TABLE", Size: 200, VirtualAddress: 0x2000},
	}

	vec, err := DataDirectories{}.ProcessRawFeatures(marshalRaw(t, dirs))
	require.NoError(t, err)
	require.Len(t, vec, 30)

	assert.Equal(t, float32(100), vec[0])
	assert.Equal(t, float32(0x1000), vec[1])
	assert.Equal(t, float32(200), vec[2])
	assert.Equal(t, float32(0x2000), vec[3])
	for _, v := range vec[4:] {
		assert.Zero(t, v)
	}
}

func TestDataDirectoriesExtraSlotsIgnored(t *testing.T) {
	// A sixteenth slot (or more) has no vector position.
	dirs := make([]dataDirSummary, 20)
	for i := range dirs {
		dirs[i] = dataDirSummary{Size: int64(i + 1), VirtualAddress: int64(i + 1)}
	}

	vec, err := DataDirectories{}.ProcessRawFeatures(marshalRaw(t, dirs))
	require.NoError(t, err)
	require.Len(t, vec, 30)
	assert.Equal(t, float32(15), vec[28])
	assert.Equal(t, float32(15), vec[29])
}

func TestDataDirectoriesBadRaw(t *testing.T) {
	_, err := DataDirectories{}.ProcessRawFeatures(json.RawMessage(`"x"`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "datadirectories")
}
