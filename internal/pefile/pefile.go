// Package pefile parses Windows Portable Executable images from memory.
//
// The parser is built for untrusted input: every read is bounds-checked
// against the source buffer, structure counts are capped, and malformed
// mid-file tables degrade to whatever could be collected instead of
// failing the whole image. Parse never panics and performs no I/O; total
// work is proportional to the size of the input buffer.
package pefile

import "math"

// Version identifies the parser revision. Consumers that hash parser
// output (enum spellings, section names, table walks) calibrate against a
// specific revision and compare it at setup time.
const Version = "1.0.0"

// Caps applied while walking hostile inputs. Structures beyond these
// limits are truncated, not rejected.
const (
	MaxSections      = 96
	MaxImportLibs    = 1024
	MaxImportSymbols = 65536
	MaxExportSymbols = 65536
	MaxNameLength    = 10000
	MaxDataDirs      = 16
)

// Data directory indexes in optional-header order (winnt.h).
const (
	DirExport = iota
	DirImport
	DirResource
	DirException
	DirCertificate
	DirBaseReloc
	DirDebug
	DirArchitecture
	DirGlobalPtr
	DirTLS
	DirLoadConfig
	DirBoundImport
	DirIAT
	DirDelayImport
	DirCLRRuntime
)

// Section characteristics bits used by the summary helpers.
const (
	scnMemExecute = 0x20000000
	scnMemRead    = 0x40000000
	scnMemWrite   = 0x80000000
)

// FileHeader is the COFF file header.
type FileHeader struct {
	Machine              uint16 `json:"machine"`
	NumberOfSections     uint16 `json:"number_of_sections"`
	TimeDateStamp        uint32 `json:"timestamp"`
	PointerToSymbolTable uint32 `json:"pointer_to_symbol_table"`
	NumberOfSymbols      uint32 `json:"number_of_symbols"`
	SizeOfOptionalHeader uint16 `json:"size_of_optional_header"`
	Characteristics      uint16 `json:"characteristics"`
}

// OptionalHeader merges the PE32 and PE32+ layouts. Fields that are
// 32-bit in PE32 are widened to 64 bits; BaseOfData is zero for PE32+.
type OptionalHeader struct {
	Magic                       uint16 `json:"magic"`
	MajorLinkerVersion          uint8  `json:"major_linker_version"`
	MinorLinkerVersion          uint8  `json:"minor_linker_version"`
	SizeOfCode                  uint32 `json:"sizeof_code"`
	SizeOfInitializedData       uint32 `json:"sizeof_initialized_data"`
	SizeOfUninitializedData     uint32 `json:"sizeof_uninitialized_data"`
	AddressOfEntryPoint         uint32 `json:"address_of_entrypoint"`
	BaseOfCode                  uint32 `json:"base_of_code"`
	BaseOfData                  uint32 `json:"base_of_data"`
	ImageBase                   uint64 `json:"image_base"`
	SectionAlignment            uint32 `json:"section_alignment"`
	FileAlignment               uint32 `json:"file_alignment"`
	MajorOperatingSystemVersion uint16 `json:"major_operating_system_version"`
	MinorOperatingSystemVersion uint16 `json:"minor_operating_system_version"`
	MajorImageVersion           uint16 `json:"major_image_version"`
	MinorImageVersion           uint16 `json:"minor_image_version"`
	MajorSubsystemVersion       uint16 `json:"major_subsystem_version"`
	MinorSubsystemVersion       uint16 `json:"minor_subsystem_version"`
	Win32VersionValue           uint32 `json:"win32_version_value"`
	SizeOfImage                 uint32 `json:"sizeof_image"`
	SizeOfHeaders               uint32 `json:"sizeof_headers"`
	CheckSum                    uint32 `json:"checksum"`
	Subsystem                   uint16 `json:"subsystem"`
	DllCharacteristics          uint16 `json:"dll_characteristics"`
	SizeOfStackReserve          uint64 `json:"sizeof_stack_reserve"`
	SizeOfStackCommit           uint64 `json:"sizeof_stack_commit"`
	SizeOfHeapReserve           uint64 `json:"sizeof_heap_reserve"`
	SizeOfHeapCommit            uint64 `json:"sizeof_heap_commit"`
	LoaderFlags                 uint32 `json:"loader_flags"`
	NumberOfRvaAndSizes         uint32 `json:"number_of_rva_and_sizes"`
}

// DataDirectory is one optional-header data-directory slot. For the
// certificate table the VirtualAddress field holds a file offset, exactly
// as stored in the header.
type DataDirectory struct {
	Index          int    `json:"index"`
	VirtualAddress uint32 `json:"virtual_address"`
	Size           uint32 `json:"size"`
}

// Section is one section-table entry plus a view of its raw content.
type Section struct {
	Name             string  `json:"name"`
	VirtualSize      uint32  `json:"virtual_size"`
	VirtualAddress   uint32  `json:"virtual_address"`
	SizeOfRawData    uint32  `json:"size_of_raw_data"`
	PointerToRawData uint32  `json:"pointer_to_raw_data"`
	Characteristics  uint32  `json:"characteristics"`
	Entropy          float64 `json:"entropy"`

	// Data is a sub-slice of the parsed buffer, clamped to the bytes that
	// physically exist. It may be shorter than SizeOfRawData.
	Data []byte `json:"-"`
}

// ImportEntry is a single imported symbol: a name or an ordinal.
type ImportEntry struct {
	Name      string `json:"name,omitempty"`
	Ordinal   uint16 `json:"ordinal,omitempty"`
	ByOrdinal bool   `json:"by_ordinal,omitempty"`
}

// ImportedLibrary groups the imported symbols of one DLL. Libraries
// appear in import-descriptor order and may repeat.
type ImportedLibrary struct {
	Name    string        `json:"name"`
	Entries []ImportEntry `json:"entries"`
}

// File is the parsed structural view of a PE image. It shares the buffer
// handed to Parse and must not outlive it. The input is never mutated.
type File struct {
	FileHeader     FileHeader        `json:"file_header"`
	OptionalHeader OptionalHeader    `json:"optional_header"`
	Is64           bool              `json:"is_64"`
	DataDirs       []DataDirectory   `json:"data_directories"`
	Sections       []*Section        `json:"sections"`
	Imports        []ImportedLibrary `json:"imports"`
	Exports        []string          `json:"exports"`

	data []byte
}

// Contains reports whether rva falls inside the section's virtual extent.
// The extent uses the larger of VirtualSize and SizeOfRawData, the rule
// the loader applies to sections with a zero virtual size.
func (s *Section) Contains(rva uint32) bool {
	size := s.VirtualSize
	if s.SizeOfRawData > size {
		size = s.SizeOfRawData
	}
	return rva >= s.VirtualAddress && uint64(rva) < uint64(s.VirtualAddress)+uint64(size)
}

// Executable reports the MEM_EXECUTE characteristic.
func (s *Section) Executable() bool { return s.Characteristics&scnMemExecute != 0 }

// Readable reports the MEM_READ characteristic.
func (s *Section) Readable() bool { return s.Characteristics&scnMemRead != 0 }

// Writable reports the MEM_WRITE characteristic.
func (s *Section) Writable() bool { return s.Characteristics&scnMemWrite != 0 }

// EntrySection returns the section containing the entry-point RVA, or nil
// when the entry point is zero or maps to no section.
func (f *File) EntrySection() *Section {
	rva := f.OptionalHeader.AddressOfEntryPoint
	if rva == 0 {
		return nil
	}
	for _, s := range f.Sections {
		if s.Contains(rva) {
			return s
		}
	}
	return nil
}

// VirtualSize returns the mapped image size: the furthest section end,
// rounded up to the section alignment. Images without sections fall back
// to SizeOfImage.
func (f *File) VirtualSize() uint64 {
	var size uint64
	for _, s := range f.Sections {
		if end := uint64(s.VirtualAddress) + uint64(s.VirtualSize); end > size {
			size = end
		}
	}
	if size == 0 {
		return uint64(f.OptionalHeader.SizeOfImage)
	}
	return alignUp(size, uint64(f.OptionalHeader.SectionAlignment))
}

// alignUp rounds v up to a multiple of align. Zero or non-power-of-two
// alignments leave v unchanged.
func alignUp(v, align uint64) uint64 {
	if align == 0 || align&(align-1) != 0 {
		return v
	}
	if v > math.MaxUint64-(align-1) {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// dataDir returns the directory at idx, or a zero entry when the table is
// shorter than idx.
func (f *File) dataDir(idx int) DataDirectory {
	if idx >= 0 && idx < len(f.DataDirs) {
		return f.DataDirs[idx]
	}
	return DataDirectory{Index: idx}
}

func (f *File) dirPresent(idx int) bool {
	d := f.dataDir(idx)
	return d.VirtualAddress != 0 && d.Size != 0
}

// HasDebug reports whether the debug directory is populated.
func (f *File) HasDebug() bool { return f.dirPresent(DirDebug) }

// HasRelocations reports whether a base-relocation table is present.
func (f *File) HasRelocations() bool { return f.dirPresent(DirBaseReloc) }

// HasResources reports whether a resource tree is present.
func (f *File) HasResources() bool { return f.dirPresent(DirResource) }

// HasSignature reports whether an authenticode certificate table is
// attached.
func (f *File) HasSignature() bool { return f.dirPresent(DirCertificate) }

// HasTLS reports whether a TLS directory is present.
func (f *File) HasTLS() bool { return f.dirPresent(DirTLS) }

// SymbolCount returns the COFF symbol count declared by the header,
// clamped to the symbol table that physically fits in the buffer.
func (f *File) SymbolCount() int {
	n := int64(f.FileHeader.NumberOfSymbols)
	off := int64(f.FileHeader.PointerToSymbolTable)
	if n == 0 || off <= 0 || off >= int64(len(f.data)) {
		return 0
	}
	if avail := (int64(len(f.data)) - off) / symbolRecordSize; n > avail {
		n = avail
	}
	return int(n)
}

// ImportedFunctionCount returns the total number of imported symbols
// across all libraries.
func (f *File) ImportedFunctionCount() int {
	total := 0
	for _, lib := range f.Imports {
		total += len(lib.Entries)
	}
	return total
}
