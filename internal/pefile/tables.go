package pefile

import (
	"bytes"
	"encoding/binary"
	"math"
)

// importDescriptor is the on-disk IMAGE_IMPORT_DESCRIPTOR layout.
type importDescriptor struct {
	OriginalFirstThunk uint32
	TimeDateStamp      uint32
	ForwarderChain     uint32
	NameRVA            uint32
	FirstThunk         uint32
}

// exportDirectory is the on-disk IMAGE_EXPORT_DIRECTORY layout.
type exportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	NameRVA               uint32
	OrdinalBase           uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

// parseImports walks the import directory. The walk stops at the first
// all-zero descriptor, at MaxImportLibs descriptors, or at the first
// descriptor that cannot be mapped; unreadable library names skip only
// their own descriptor.
func (f *File) parseImports() {
	dir := f.dataDir(DirImport)
	if dir.VirtualAddress == 0 {
		return
	}
	total := 0
	for i := 0; i < MaxImportLibs; i++ {
		descRVA := uint64(dir.VirtualAddress) + uint64(i)*importDescSize
		if descRVA > math.MaxUint32 {
			break
		}
		raw, ok := f.bytesAt(uint32(descRVA), importDescSize)
		if !ok {
			break
		}
		var desc importDescriptor
		if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &desc); err != nil {
			break
		}
		if desc.OriginalFirstThunk == 0 && desc.NameRVA == 0 && desc.FirstThunk == 0 {
			break
		}
		name, ok := f.cstringAtRVA(desc.NameRVA, MaxNameLength)
		if !ok {
			continue
		}
		lib := ImportedLibrary{Name: name}
		lib.Entries, total = f.parseThunks(desc, total)
		f.Imports = append(f.Imports, lib)
	}
}

// parseThunks walks one import lookup table. The bound on total imported
// symbols is shared across all libraries.
func (f *File) parseThunks(desc importDescriptor, total int) ([]ImportEntry, int) {
	thunks := desc.OriginalFirstThunk
	if thunks == 0 {
		thunks = desc.FirstThunk
	}
	entrySize := uint64(4)
	ordinalFlag := uint64(1) << 31
	if f.Is64 {
		entrySize = 8
		ordinalFlag = uint64(1) << 63
	}

	var entries []ImportEntry
	for i := 0; total < MaxImportSymbols; i++ {
		rva := uint64(thunks) + uint64(i)*entrySize
		if rva > math.MaxUint32 {
			break
		}
		var val uint64
		var ok bool
		if f.Is64 {
			val, ok = f.u64At(uint32(rva))
		} else {
			var v uint32
			v, ok = f.u32At(uint32(rva))
			val = uint64(v)
		}
		if !ok || val == 0 {
			break
		}
		var entry ImportEntry
		if val&ordinalFlag != 0 {
			entry = ImportEntry{Ordinal: uint16(val & 0xffff), ByOrdinal: true}
		} else {
			// Hint/name entry: a 2-byte hint precedes the symbol name.
			nameRVA := uint64(val&0x7fffffff) + 2
			if nameRVA > math.MaxUint32 {
				break
			}
			name, ok := f.cstringAtRVA(uint32(nameRVA), MaxNameLength)
			if !ok {
				break
			}
			entry = ImportEntry{Name: name}
		}
		entries = append(entries, entry)
		total++
	}
	return entries, total
}

// parseExports collects the export name-pointer table.
func (f *File) parseExports() {
	dir := f.dataDir(DirExport)
	if dir.VirtualAddress == 0 {
		return
	}
	raw, ok := f.bytesAt(dir.VirtualAddress, exportDirSize)
	if !ok {
		return
	}
	var ed exportDirectory
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &ed); err != nil {
		return
	}
	n := int(ed.NumberOfNames)
	if n > MaxExportSymbols {
		n = MaxExportSymbols
	}
	for i := 0; i < n; i++ {
		slot := uint64(ed.AddressOfNames) + uint64(i)*4
		if slot > math.MaxUint32 {
			break
		}
		nameRVA, ok := f.u32At(uint32(slot))
		if !ok {
			break
		}
		name, ok := f.cstringAtRVA(nameRVA, MaxNameLength)
		if !ok {
			break
		}
		f.Exports = append(f.Exports, name)
	}
}
