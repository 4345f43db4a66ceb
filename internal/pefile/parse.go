package pefile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrFormat reports input that cannot be parsed as a PE image.
var ErrFormat = errors.New("pefile: not a valid PE image")

const (
	dosMagic    = 0x5a4d     // "MZ"
	peSignature = 0x00004550 // "PE\0\0"

	magicPE32     = 0x10b
	magicPE32Plus = 0x20b

	dosHeaderSize     = 64
	peOffsetLocation  = 0x3c
	coffHeaderSize    = 20
	optHeader32Size   = 96 // fixed fields, before the data directories
	optHeader64Size   = 112
	sectionHeaderSize = 40
	symbolRecordSize  = 18
	importDescSize    = 20
	exportDirSize     = 40
)

// optionalHeader32 is the on-disk PE32 optional-header layout.
type optionalHeader32 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	BaseOfData                  uint32
	ImageBase                   uint32
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint32
	SizeOfStackCommit           uint32
	SizeOfHeapReserve           uint32
	SizeOfHeapCommit            uint32
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
}

// optionalHeader64 is the on-disk PE32+ optional-header layout.
type optionalHeader64 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	ImageBase                   uint64
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint64
	SizeOfStackCommit           uint64
	SizeOfHeapReserve           uint64
	SizeOfHeapCommit            uint64
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
}

// sectionHeader is the on-disk section-table entry.
type sectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

// Parse reads a PE image from data. The returned File shares the buffer:
// section Data fields are sub-slices of data and stay valid only as long
// as data does. Corrupt mid-file tables (imports, exports, sections past
// the end of the buffer) degrade to whatever was collected; a missing or
// truncated header chain returns an error wrapping ErrFormat.
func Parse(data []byte) (f *File, err error) {
	defer func() {
		// Any internal indexing fault on hostile input is reported as a
		// parse error, never a crash.
		if r := recover(); r != nil {
			f = nil
			err = fmt.Errorf("%w: internal fault: %v", ErrFormat, r)
		}
	}()

	if len(data) < dosHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is smaller than a DOS header", ErrFormat, len(data))
	}
	if binary.LittleEndian.Uint16(data[0:2]) != dosMagic {
		return nil, fmt.Errorf("%w: missing MZ signature", ErrFormat)
	}
	peOff := int64(binary.LittleEndian.Uint32(data[peOffsetLocation:]))
	if peOff < 0 || peOff+4+coffHeaderSize > int64(len(data)) {
		return nil, fmt.Errorf("%w: e_lfanew 0x%x points outside the file", ErrFormat, peOff)
	}
	if binary.LittleEndian.Uint32(data[peOff:]) != peSignature {
		return nil, fmt.Errorf("%w: missing PE signature", ErrFormat)
	}

	f = &File{data: data}
	if err := binary.Read(bytes.NewReader(data[peOff+4:]), binary.LittleEndian, &f.FileHeader); err != nil {
		return nil, fmt.Errorf("%w: short COFF header", ErrFormat)
	}

	optOff := peOff + 4 + coffHeaderSize
	if err := f.parseOptionalHeader(optOff); err != nil {
		return nil, err
	}
	f.parseSections(optOff + int64(f.FileHeader.SizeOfOptionalHeader))
	f.parseImports()
	f.parseExports()
	return f, nil
}

func (f *File) parseOptionalHeader(off int64) error {
	declared := int64(f.FileHeader.SizeOfOptionalHeader)
	if declared < 2 || off+2 > int64(len(f.data)) {
		return fmt.Errorf("%w: missing optional header", ErrFormat)
	}

	magic := binary.LittleEndian.Uint16(f.data[off:])
	var fixed int64
	switch magic {
	case magicPE32:
		fixed = optHeader32Size
	case magicPE32Plus:
		fixed = optHeader64Size
		f.Is64 = true
	default:
		return fmt.Errorf("%w: unknown optional header magic 0x%x", ErrFormat, magic)
	}
	if declared < fixed || off+fixed > int64(len(f.data)) {
		return fmt.Errorf("%w: optional header truncated", ErrFormat)
	}

	r := bytes.NewReader(f.data[off : off+fixed])
	if f.Is64 {
		var oh optionalHeader64
		if err := binary.Read(r, binary.LittleEndian, &oh); err != nil {
			return fmt.Errorf("%w: optional header truncated", ErrFormat)
		}
		f.OptionalHeader = oh.general()
	} else {
		var oh optionalHeader32
		if err := binary.Read(r, binary.LittleEndian, &oh); err != nil {
			return fmt.Errorf("%w: optional header truncated", ErrFormat)
		}
		f.OptionalHeader = oh.general()
	}

	f.parseDataDirs(off+fixed, off+declared)
	return nil
}

func (oh optionalHeader32) general() OptionalHeader {
	return OptionalHeader{
		Magic:                       oh.Magic,
		MajorLinkerVersion:          oh.MajorLinkerVersion,
		MinorLinkerVersion:          oh.MinorLinkerVersion,
		SizeOfCode:                  oh.SizeOfCode,
		SizeOfInitializedData:       oh.SizeOfInitializedData,
		SizeOfUninitializedData:     oh.SizeOfUninitializedData,
		AddressOfEntryPoint:         oh.AddressOfEntryPoint,
		BaseOfCode:                  oh.BaseOfCode,
		BaseOfData:                  oh.BaseOfData,
		ImageBase:                   uint64(oh.ImageBase),
		SectionAlignment:            oh.SectionAlignment,
		FileAlignment:               oh.FileAlignment,
		MajorOperatingSystemVersion: oh.MajorOperatingSystemVersion,
		MinorOperatingSystemVersion: oh.MinorOperatingSystemVersion,
		MajorImageVersion:           oh.MajorImageVersion,
		MinorImageVersion:           oh.MinorImageVersion,
		MajorSubsystemVersion:       oh.MajorSubsystemVersion,
		MinorSubsystemVersion:       oh.MinorSubsystemVersion,
		Win32VersionValue:           oh.Win32VersionValue,
		SizeOfImage:                 oh.SizeOfImage,
		SizeOfHeaders:               oh.SizeOfHeaders,
		CheckSum:                    oh.CheckSum,
		Subsystem:                   oh.Subsystem,
		DllCharacteristics:          oh.DllCharacteristics,
		SizeOfStackReserve:          uint64(oh.SizeOfStackReserve),
		SizeOfStackCommit:           uint64(oh.SizeOfStackCommit),
		SizeOfHeapReserve:           uint64(oh.SizeOfHeapReserve),
		SizeOfHeapCommit:            uint64(oh.SizeOfHeapCommit),
		LoaderFlags:                 oh.LoaderFlags,
		NumberOfRvaAndSizes:         oh.NumberOfRvaAndSizes,
	}
}

func (oh optionalHeader64) general() OptionalHeader {
	return OptionalHeader{
		Magic:                       oh.Magic,
		MajorLinkerVersion:          oh.MajorLinkerVersion,
		MinorLinkerVersion:          oh.MinorLinkerVersion,
		SizeOfCode:                  oh.SizeOfCode,
		SizeOfInitializedData:       oh.SizeOfInitializedData,
		SizeOfUninitializedData:     oh.SizeOfUninitializedData,
		AddressOfEntryPoint:         oh.AddressOfEntryPoint,
		BaseOfCode:                  oh.BaseOfCode,
		ImageBase:                   oh.ImageBase,
		SectionAlignment:            oh.SectionAlignment,
		FileAlignment:               oh.FileAlignment,
		MajorOperatingSystemVersion: oh.MajorOperatingSystemVersion,
		MinorOperatingSystemVersion: oh.MinorOperatingSystemVersion,
		MajorImageVersion:           oh.MajorImageVersion,
		MinorImageVersion:           oh.MinorImageVersion,
		MajorSubsystemVersion:       oh.MajorSubsystemVersion,
		MinorSubsystemVersion:       oh.MinorSubsystemVersion,
		Win32VersionValue:           oh.Win32VersionValue,
		SizeOfImage:                 oh.SizeOfImage,
		SizeOfHeaders:               oh.SizeOfHeaders,
		CheckSum:                    oh.CheckSum,
		Subsystem:                   oh.Subsystem,
		DllCharacteristics:          oh.DllCharacteristics,
		SizeOfStackReserve:          oh.SizeOfStackReserve,
		SizeOfStackCommit:           oh.SizeOfStackCommit,
		SizeOfHeapReserve:           oh.SizeOfHeapReserve,
		SizeOfHeapCommit:            oh.SizeOfHeapCommit,
		LoaderFlags:                 oh.LoaderFlags,
		NumberOfRvaAndSizes:         oh.NumberOfRvaAndSizes,
	}
}

// parseDataDirs reads the directory table between the fixed optional
// header fields and the end of the declared optional header.
func (f *File) parseDataDirs(start, declaredEnd int64) {
	n := int(f.OptionalHeader.NumberOfRvaAndSizes)
	if n > MaxDataDirs {
		n = MaxDataDirs
	}
	end := declaredEnd
	if int64(len(f.data)) < end {
		end = int64(len(f.data))
	}
	for i, pos := 0, start; i < n && pos+8 <= end; i, pos = i+1, pos+8 {
		f.DataDirs = append(f.DataDirs, DataDirectory{
			Index:          i,
			VirtualAddress: binary.LittleEndian.Uint32(f.data[pos:]),
			Size:           binary.LittleEndian.Uint32(f.data[pos+4:]),
		})
	}
}

// parseSections reads the section table, keeping the headers that
// physically fit in the buffer.
func (f *File) parseSections(off int64) {
	n := int(f.FileHeader.NumberOfSections)
	if n > MaxSections {
		n = MaxSections
	}
	for i := 0; i < n; i++ {
		pos := off + int64(i)*sectionHeaderSize
		if pos < 0 || pos+sectionHeaderSize > int64(len(f.data)) {
			break
		}
		var sh sectionHeader
		if err := binary.Read(bytes.NewReader(f.data[pos:pos+sectionHeaderSize]), binary.LittleEndian, &sh); err != nil {
			break
		}
		s := &Section{
			Name:             f.sectionName(sh.Name),
			VirtualSize:      sh.VirtualSize,
			VirtualAddress:   sh.VirtualAddress,
			SizeOfRawData:    sh.SizeOfRawData,
			PointerToRawData: sh.PointerToRawData,
			Characteristics:  sh.Characteristics,
		}
		s.Data = f.sliceAt(int64(sh.PointerToRawData), int64(sh.SizeOfRawData))
		s.Entropy = shannonEntropy(s.Data)
		f.Sections = append(f.Sections, s)
	}
}

// sectionName decodes a section name, resolving "/N" references into the
// COFF string table.
func (f *File) sectionName(raw [8]byte) string {
	name := string(bytes.TrimRight(raw[:], "\x00"))
	if strings.HasPrefix(name, "/") {
		if n, err := strconv.Atoi(name[1:]); err == nil && n >= 0 {
			if long, ok := f.stringTableAt(int64(n)); ok {
				return long
			}
		}
	}
	return name
}

// stringTableAt reads a NUL-terminated name at offset n inside the COFF
// string table, which follows the symbol table.
func (f *File) stringTableAt(n int64) (string, bool) {
	ptr := int64(f.FileHeader.PointerToSymbolTable)
	if ptr == 0 {
		return "", false
	}
	base := ptr + int64(f.FileHeader.NumberOfSymbols)*symbolRecordSize
	return f.cstringAt(base+n, MaxNameLength)
}

// sliceAt returns the sub-slice [off, off+n) clamped to the buffer. A
// zero offset means no raw data (uninitialized sections).
func (f *File) sliceAt(off, n int64) []byte {
	if off <= 0 || n <= 0 || off >= int64(len(f.data)) {
		return nil
	}
	end := off + n
	if end > int64(len(f.data)) {
		end = int64(len(f.data))
	}
	return f.data[off:end:end]
}

// cstringAt reads a NUL-terminated string at a file offset, capped at max
// bytes. Strings running into the end of the buffer are returned as-is.
func (f *File) cstringAt(off int64, max int) (string, bool) {
	if off < 0 || off >= int64(len(f.data)) {
		return "", false
	}
	end := off + int64(max)
	if end > int64(len(f.data)) {
		end = int64(len(f.data))
	}
	b := f.data[off:end]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b), true
}

// offsetOf maps an RVA to a file offset through the section table. RVAs
// inside the header region, below the first section, map one-to-one.
func (f *File) offsetOf(rva uint32) (int64, bool) {
	if rva == 0 {
		return 0, false
	}
	for _, s := range f.Sections {
		if !s.Contains(rva) {
			continue
		}
		off := int64(rva) - int64(s.VirtualAddress) + int64(s.PointerToRawData)
		if off <= 0 || off >= int64(len(f.data)) {
			return 0, false
		}
		return off, true
	}
	if rva < f.OptionalHeader.SizeOfHeaders && int64(rva) < int64(len(f.data)) {
		return int64(rva), true
	}
	return 0, false
}

func (f *File) cstringAtRVA(rva uint32, max int) (string, bool) {
	off, ok := f.offsetOf(rva)
	if !ok {
		return "", false
	}
	return f.cstringAt(off, max)
}

// bytesAt returns exactly n bytes at an RVA, or nothing.
func (f *File) bytesAt(rva uint32, n int) ([]byte, bool) {
	off, ok := f.offsetOf(rva)
	if !ok {
		return nil, false
	}
	end := off + int64(n)
	if end > int64(len(f.data)) {
		return nil, false
	}
	return f.data[off:end:end], true
}

func (f *File) u32At(rva uint32) (uint32, bool) {
	b, ok := f.bytesAt(rva, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

func (f *File) u64At(rva uint32) (uint64, bool) {
	b, ok := f.bytesAt(rva, 8)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

// shannonEntropy computes the byte-level Shannon entropy of b in bits per
// byte (0 through 8).
func shannonEntropy(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}
	var counts [256]int
	for _, c := range b {
		counts[c]++
	}
	total := float64(len(b))
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
