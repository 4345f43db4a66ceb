package pefile

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmikke97/pefeats/internal/pefile/pefiletest"
)

func TestParseImports(t *testing.T) {
	img := pefiletest.Image{
		Sections: []pefiletest.Section{
			{Name: ".text", Characteristics: pefiletest.TextCharacteristics, Data: []byte{0xc3}},
		},
		Imports: []pefiletest.Import{
			{Library: "KERNEL32.dll", Names: []string{"CreateFileW", "ReadFile"}, Ordinals: []uint16{17}},
			{Library: "user32.dll", Names: []string{"MessageBoxA"}},
			{Library: "empty.dll"},
		},
	}

	f, err := Parse(img.Build())
	require.NoError(t, err)
	require.Len(t, f.Imports, 3)

	k32 := f.Imports[0]
	assert.Equal(t, "KERNEL32.dll", k32.Name)
	require.Len(t, k32.Entries, 3)
	assert.Equal(t, "CreateFileW", k32.Entries[0].Name)
	assert.False(t, k32.Entries[0].ByOrdinal)
	assert.Equal(t, "ReadFile", k32.Entries[1].Name)
	assert.True(t, k32.Entries[2].ByOrdinal)
	assert.Equal(t, uint16(17), k32.Entries[2].Ordinal)

	u32 := f.Imports[1]
	assert.Equal(t, "user32.dll", u32.Name)
	require.Len(t, u32.Entries, 1)
	assert.Equal(t, "MessageBoxA", u32.Entries[0].Name)

	// A descriptor with an empty lookup table still names its library.
	assert.Equal(t, "empty.dll", f.Imports[2].Name)
	assert.Empty(t, f.Imports[2].Entries)

	assert.Equal(t, 4, f.ImportedFunctionCount())
}

func TestParseImports64(t *testing.T) {
	img := pefiletest.Image{
		Is64: true,
		Sections: []pefiletest.Section{
			{Name: ".text", Characteristics: pefiletest.TextCharacteristics, Data: []byte{0xc3}},
		},
		Imports: []pefiletest.Import{
			{Library: "ntdll.dll", Names: []string{"NtClose"}, Ordinals: []uint16{2, 3}},
		},
	}

	f, err := Parse(img.Build())
	require.NoError(t, err)
	require.Len(t, f.Imports, 1)

	entries := f.Imports[0].Entries
	require.Len(t, entries, 3)
	assert.Equal(t, "NtClose", entries[0].Name)
	assert.True(t, entries[1].ByOrdinal)
	assert.Equal(t, uint16(2), entries[1].Ordinal)
	assert.True(t, entries[2].ByOrdinal)
	assert.Equal(t, uint16(3), entries[2].Ordinal)
}

func TestParseExports(t *testing.T) {
	img := pefiletest.Image{
		Sections: []pefiletest.Section{
			{Name: ".text", Characteristics: pefiletest.TextCharacteristics, Data: []byte{0xc3}},
		},
		Exports: []string{"DllMain", "PluginInit", "PluginShutdown"},
	}

	f, err := Parse(img.Build())
	require.NoError(t, err)
	assert.Equal(t, []string{"DllMain", "PluginInit", "PluginShutdown"}, f.Exports)
}

func TestParseImportLibCap(t *testing.T) {
	img := pefiletest.Image{
		Sections: []pefiletest.Section{
			{Name: ".text", Characteristics: pefiletest.TextCharacteristics, Data: []byte{0xc3}},
		},
	}
	for i := 0; i < MaxImportLibs+100; i++ {
		img.Imports = append(img.Imports, pefiletest.Import{Library: fmt.Sprintf("lib%04d.dll", i)})
	}

	f, err := Parse(img.Build())
	require.NoError(t, err)

	require.Len(t, f.Imports, MaxImportLibs)
	assert.Equal(t, "lib0000.dll", f.Imports[0].Name)
	assert.Equal(t, "lib1023.dll", f.Imports[MaxImportLibs-1].Name)
}

func TestParseImportSymbolCap(t *testing.T) {
	first := make([]uint16, MaxImportSymbols-10)
	for i := range first {
		first[i] = uint16(i + 1)
	}
	img := pefiletest.Image{
		Sections: []pefiletest.Section{
			{Name: ".text", Characteristics: pefiletest.TextCharacteristics, Data: []byte{0xc3}},
		},
		Imports: []pefiletest.Import{
			{Library: "huge.dll", Ordinals: first},
			{Library: "rest.dll", Ordinals: make([]uint16, 100)},
		},
	}

	f, err := Parse(img.Build())
	require.NoError(t, err)
	require.Len(t, f.Imports, 2)

	// The symbol bound spans libraries: the second table only gets what
	// the first one left over.
	assert.Len(t, f.Imports[0].Entries, MaxImportSymbols-10)
	assert.Len(t, f.Imports[1].Entries, 10)
	assert.Equal(t, MaxImportSymbols, f.ImportedFunctionCount())
}

func TestParseExportCap(t *testing.T) {
	// A name-pointer table larger than the cap, every slot aimed at the
	// same readable name.
	const declared = MaxExportSymbols + 5000
	base := uint32(0x1000)
	content := make([]byte, exportDirSize+declared*4+4)
	nameRVA := base + uint32(exportDirSize+declared*4)
	copy(content[exportDirSize+declared*4:], "exp\x00")
	binary.LittleEndian.PutUint32(content[24:], declared)           // NumberOfNames
	binary.LittleEndian.PutUint32(content[32:], base+exportDirSize) // AddressOfNames
	for i := 0; i < declared; i++ {
		binary.LittleEndian.PutUint32(content[exportDirSize+i*4:], nameRVA)
	}

	img := pefiletest.Image{
		Sections: []pefiletest.Section{
			{Name: ".edata", Characteristics: pefiletest.RDataCharacteristics, Data: content},
		},
		ExtraDirs: map[int]pefiletest.Dir{0: {VirtualAddress: base, Size: uint32(len(content))}},
	}

	f, err := Parse(img.Build())
	require.NoError(t, err)
	assert.Len(t, f.Exports, MaxExportSymbols)
	assert.Equal(t, "exp", f.Exports[0])
}

func TestParseExportsBadNamePointer(t *testing.T) {
	img := pefiletest.Image{
		Sections: []pefiletest.Section{
			{Name: ".text", Characteristics: pefiletest.TextCharacteristics, Data: []byte{0xc3}},
		},
		Exports: []string{"alpha", "beta"},
	}
	data := img.Build()

	clean, err := Parse(data)
	require.NoError(t, err)
	var edata *Section
	for _, s := range clean.Sections {
		if s.Name == ".edata" {
			edata = s
		}
	}
	require.NotNil(t, edata)

	// Claim far more names than the table holds; the walk keeps the two
	// real ones and stops at the first slot that maps nowhere.
	binary.LittleEndian.PutUint32(data[edata.PointerToRawData+24:], 1<<20)

	f, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, f.Exports)
}

func TestCorruptDirectoriesIgnored(t *testing.T) {
	// Directory entries pointing at unmapped RVAs degrade to empty tables,
	// never to a parse error.
	img := pefiletest.Minimal()
	img.ExtraDirs = map[int]pefiletest.Dir{
		0: {VirtualAddress: 0x88000, Size: 40},
		1: {VirtualAddress: 0x99000, Size: 40},
	}

	f, err := Parse(img.Build())
	require.NoError(t, err)
	assert.Empty(t, f.Imports)
	assert.Empty(t, f.Exports)
}
