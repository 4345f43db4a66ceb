// Package pefiletest assembles small but structurally valid PE images in
// memory, so parser and feature tests can work from deterministic bytes
// instead of binary fixtures on disk.
package pefiletest

import "encoding/binary"

// Section describes one section to place in the image. A zero
// VirtualSize defaults to the data length.
type Section struct {
	Name            string
	VirtualSize     uint32
	Characteristics uint32
	Data            []byte
}

// Import names one library and the symbols imported from it.
type Import struct {
	Library  string
	Names    []string
	Ordinals []uint16
}

// Dir overrides one data-directory slot.
type Dir struct {
	VirtualAddress uint32
	Size           uint32
}

// Image describes a synthetic PE. Zero values produce a minimal console
// executable; Imports and Exports synthesize .idata/.edata sections and
// wire the matching directory slots.
type Image struct {
	Is64               bool
	Machine            uint16
	TimeDateStamp      uint32
	Characteristics    uint16
	Subsystem          uint16
	DLLCharacteristics uint16
	ImageVersion       [2]uint16
	EntryPoint         uint32
	CoffSymbols        int
	Sections           []Section
	Imports            []Import
	Exports            []string
	ExtraDirs          map[int]Dir
}

// Common section characteristics for test images.
const (
	TextCharacteristics  = 0x60000020 // CNT_CODE | MEM_EXECUTE | MEM_READ
	DataCharacteristics  = 0xc0000040 // CNT_INITIALIZED_DATA | MEM_READ | MEM_WRITE
	RDataCharacteristics = 0x40000040 // CNT_INITIALIZED_DATA | MEM_READ
)

const (
	fileAlign = 0x200
	sectAlign = 0x1000
	peOffset  = 0x80
)

type placedSection struct {
	Section
	va      uint32
	rawPtr  uint32
	rawSize uint32
}

// Minimal returns a one-section console executable, the smallest image
// the parser accepts end to end.
func Minimal() Image {
	return Image{
		Sections: []Section{{
			Name:            ".text",
			Characteristics: TextCharacteristics,
			Data:            []byte{0xc3, 0x90, 0x90, 0x90},
		}},
	}
}

// Build lays the image out and returns its bytes.
func (img Image) Build() []byte {
	if img.Machine == 0 {
		if img.Is64 {
			img.Machine = 0x8664
		} else {
			img.Machine = 0x14c
		}
	}
	if img.Characteristics == 0 {
		img.Characteristics = 0x0002 // EXECUTABLE_IMAGE
		if !img.Is64 {
			img.Characteristics |= 0x0100
		}
	}
	if img.Subsystem == 0 {
		img.Subsystem = 3 // WINDOWS_CUI
	}

	// Place user sections in virtual memory first; synthesized table
	// sections need to know their own base RVA before their bytes exist.
	sections := make([]placedSection, 0, len(img.Sections)+2)
	va := uint32(sectAlign)
	for _, s := range img.Sections {
		if s.VirtualSize == 0 {
			s.VirtualSize = uint32(len(s.Data))
		}
		sections = append(sections, placedSection{Section: s, va: va})
		va += alignUp(maxU32(s.VirtualSize, uint32(len(s.Data)), 1), sectAlign)
	}

	dirs := make(map[int]Dir, len(img.ExtraDirs)+2)
	for idx, d := range img.ExtraDirs {
		dirs[idx] = d
	}
	if len(img.Imports) > 0 {
		content, dirSize := buildImportTable(va, img.Imports, img.Is64)
		sections = append(sections, placedSection{
			Section: Section{Name: ".idata", VirtualSize: uint32(len(content)), Characteristics: DataCharacteristics, Data: content},
			va:      va,
		})
		dirs[1] = Dir{VirtualAddress: va, Size: dirSize}
		va += alignUp(uint32(len(content)), sectAlign)
	}
	if len(img.Exports) > 0 {
		content := buildExportTable(va, img.Exports)
		sections = append(sections, placedSection{
			Section: Section{Name: ".edata", VirtualSize: uint32(len(content)), Characteristics: RDataCharacteristics, Data: content},
			va:      va,
		})
		dirs[0] = Dir{VirtualAddress: va, Size: uint32(len(content))}
		va += alignUp(uint32(len(content)), sectAlign)
	}

	entry := img.EntryPoint
	if entry == 0 {
		for _, s := range sections {
			if s.Characteristics&0x20000000 != 0 {
				entry = s.va
				break
			}
		}
	}

	optSize := 96 + 16*8
	if img.Is64 {
		optSize = 112 + 16*8
	}
	headerEnd := uint32(peOffset + 4 + 20 + optSize + 40*len(sections))
	sizeOfHeaders := alignUp(headerEnd, fileAlign)

	// File layout: headers, then raw section data in order.
	off := sizeOfHeaders
	for i := range sections {
		if len(sections[i].Data) == 0 {
			continue
		}
		sections[i].rawPtr = off
		sections[i].rawSize = uint32(len(sections[i].Data))
		off += alignUp(sections[i].rawSize, fileAlign)
	}
	symPtr := uint32(0)
	if img.CoffSymbols > 0 {
		symPtr = off
		off += uint32(img.CoffSymbols) * 18
	}

	buf := make([]byte, off)
	buf[0] = 'M'
	buf[1] = 'Z'
	put32(buf, 0x3c, peOffset)
	copy(buf[peOffset:], "PE\x00\x00")

	// COFF header.
	pos := uint32(peOffset + 4)
	put16(buf, pos, img.Machine)
	put16(buf, pos+2, uint16(len(sections)))
	put32(buf, pos+4, img.TimeDateStamp)
	put32(buf, pos+8, symPtr)
	put32(buf, pos+12, uint32(img.CoffSymbols))
	put16(buf, pos+16, uint16(optSize))
	put16(buf, pos+18, img.Characteristics)

	sizeOfImage := alignUp(va, sectAlign)
	img.writeOptionalHeader(buf, pos+20, sections, sizeOfHeaders, sizeOfImage, entry, dirs)

	// Section table.
	pos = pos + 20 + uint32(optSize)
	for _, s := range sections {
		var name [8]byte
		copy(name[:], s.Name)
		copy(buf[pos:], name[:])
		put32(buf, pos+8, s.VirtualSize)
		put32(buf, pos+12, s.va)
		put32(buf, pos+16, s.rawSize)
		put32(buf, pos+20, s.rawPtr)
		put32(buf, pos+36, s.Characteristics)
		pos += 40
		if s.rawPtr != 0 {
			copy(buf[s.rawPtr:], s.Data)
		}
	}
	return buf
}

func (img Image) writeOptionalHeader(buf []byte, pos uint32, sections []placedSection, sizeOfHeaders, sizeOfImage, entry uint32, dirs map[int]Dir) {
	var sizeOfCode, baseOfCode uint32
	for _, s := range sections {
		if s.Characteristics&0x20000000 != 0 {
			sizeOfCode += s.rawSize
			if baseOfCode == 0 {
				baseOfCode = s.va
			}
		}
	}

	magic := uint16(0x10b)
	if img.Is64 {
		magic = 0x20b
	}
	put16(buf, pos, magic)
	buf[pos+2] = 14 // linker major
	buf[pos+3] = 0
	put32(buf, pos+4, sizeOfCode)
	put32(buf, pos+16, entry)
	put32(buf, pos+20, baseOfCode)

	var dirBase uint32
	if img.Is64 {
		put64(buf, pos+24, 0x140000000)
		put32(buf, pos+32, sectAlign)
		put32(buf, pos+36, fileAlign)
		put16(buf, pos+40, 6) // os major
		put16(buf, pos+44, img.ImageVersion[0])
		put16(buf, pos+46, img.ImageVersion[1])
		put16(buf, pos+48, 6) // subsystem major
		put32(buf, pos+56, sizeOfImage)
		put32(buf, pos+60, sizeOfHeaders)
		put16(buf, pos+68, img.Subsystem)
		put16(buf, pos+70, img.DLLCharacteristics)
		put64(buf, pos+72, 0x100000) // stack reserve
		put64(buf, pos+88, 0x100000) // heap reserve
		put64(buf, pos+96, 0x1000)   // heap commit
		put32(buf, pos+108, 16)      // NumberOfRvaAndSizes
		dirBase = pos + 112
	} else {
		put32(buf, pos+24, 0) // BaseOfData
		put32(buf, pos+28, 0x400000)
		put32(buf, pos+32, sectAlign)
		put32(buf, pos+36, fileAlign)
		put16(buf, pos+40, 6)
		put16(buf, pos+44, img.ImageVersion[0])
		put16(buf, pos+46, img.ImageVersion[1])
		put16(buf, pos+48, 6)
		put32(buf, pos+56, sizeOfImage)
		put32(buf, pos+60, sizeOfHeaders)
		put16(buf, pos+68, img.Subsystem)
		put16(buf, pos+70, img.DLLCharacteristics)
		put32(buf, pos+72, 0x100000)
		put32(buf, pos+80, 0x100000)
		put32(buf, pos+84, 0x1000)
		put32(buf, pos+92, 16)
		dirBase = pos + 96
	}
	for idx, d := range dirs {
		put32(buf, dirBase+uint32(idx)*8, d.VirtualAddress)
		put32(buf, dirBase+uint32(idx)*8+4, d.Size)
	}
}

// buildImportTable lays out descriptors, library names, lookup tables and
// hint/name blobs relative to base. It returns the section content and
// the directory size (the descriptor array).
func buildImportTable(base uint32, imports []Import, is64 bool) ([]byte, uint32) {
	ptrSize := uint32(4)
	ordinalFlag := uint64(1) << 31
	if is64 {
		ptrSize = 8
		ordinalFlag = uint64(1) << 63
	}

	descBytes := uint32(len(imports)+1) * 20
	content := make([]byte, descBytes)

	appendBlob := func(b []byte) uint32 {
		rva := base + uint32(len(content))
		content = append(content, b...)
		return rva
	}

	for i, imp := range imports {
		nameRVA := appendBlob(append([]byte(imp.Library), 0))

		thunks := make([]uint64, 0, len(imp.Names)+len(imp.Ordinals)+1)
		for _, n := range imp.Names {
			blob := make([]byte, 2+len(n)+1) // hint, name, NUL
			copy(blob[2:], n)
			thunks = append(thunks, uint64(appendBlob(blob)))
		}
		for _, ord := range imp.Ordinals {
			thunks = append(thunks, ordinalFlag|uint64(ord))
		}
		thunks = append(thunks, 0)

		thunkBytes := make([]byte, uint32(len(thunks))*ptrSize)
		for j, t := range thunks {
			if is64 {
				binary.LittleEndian.PutUint64(thunkBytes[uint32(j)*8:], t)
			} else {
				binary.LittleEndian.PutUint32(thunkBytes[uint32(j)*4:], uint32(t))
			}
		}
		thunkRVA := appendBlob(thunkBytes)

		desc := uint32(i) * 20
		put32(content, desc, thunkRVA)    // OriginalFirstThunk
		put32(content, desc+12, nameRVA)  // Name
		put32(content, desc+16, thunkRVA) // FirstThunk
	}
	return content, descBytes
}

// buildExportTable lays out an export directory with a name-pointer table
// relative to base.
func buildExportTable(base uint32, exports []string) []byte {
	n := uint32(len(exports))
	content := make([]byte, 40+n*4+n*4+n*2)

	funcsRVA := base + 40
	namesRVA := funcsRVA + n*4
	ordsRVA := namesRVA + n*4

	appendName := func(s string) uint32 {
		rva := base + uint32(len(content))
		content = append(content, append([]byte(s), 0)...)
		return rva
	}

	dllName := appendName("test.dll")
	for i, name := range exports {
		nameRVA := appendName(name)
		put32(content, 40+n*4+uint32(i)*4, nameRVA)
		binary.LittleEndian.PutUint16(content[40+n*8+uint32(i)*2:], uint16(i))
		put32(content, 40+uint32(i)*4, base) // function RVA, unused by tests
	}
	put32(content, 12, dllName)
	put32(content, 16, 1) // ordinal base
	put32(content, 20, n) // NumberOfFunctions
	put32(content, 24, n) // NumberOfNames
	put32(content, 28, funcsRVA)
	put32(content, 32, namesRVA)
	put32(content, 36, ordsRVA)
	return content
}

func put16(b []byte, off uint32, v uint16) { binary.LittleEndian.PutUint16(b[off:], v) }
func put32(b []byte, off uint32, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }
func put64(b []byte, off uint32, v uint64) { binary.LittleEndian.PutUint64(b[off:], v) }

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}

func maxU32(vals ...uint32) uint32 {
	m := uint32(0)
	for _, v := range vals {
		if v > m {
			m = v
		}
	}
	return m
}
