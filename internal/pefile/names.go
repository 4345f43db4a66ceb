package pefile

// Symbolic names follow the LIEF spellings. They are part of the parser's
// versioned contract: downstream feature hashers were calibrated against
// exactly these strings, so renaming one is a Version bump.

var machineNames = map[uint16]string{
	0x0000: "UNKNOWN",
	0x01d3: "AM33",
	0x8664: "AMD64",
	0x01c0: "ARM",
	0x01c4: "ARMNT",
	0xaa64: "ARM64",
	0x0ebc: "EBC",
	0x014c: "I386",
	0x0200: "IA64",
	0x9041: "M32R",
	0x0266: "MIPS16",
	0x0366: "MIPSFPU",
	0x0466: "MIPSFPU16",
	0x01f0: "POWERPC",
	0x01f1: "POWERPCFP",
	0x0166: "R4000",
	0x5032: "RISCV32",
	0x5064: "RISCV64",
	0x5128: "RISCV128",
	0x01a2: "SH3",
	0x01a3: "SH3DSP",
	0x01a6: "SH4",
	0x01a8: "SH5",
	0x01c2: "THUMB",
	0x0169: "WCEMIPSV2",
}

var subsystemNames = map[uint16]string{
	0:  "UNKNOWN",
	1:  "NATIVE",
	2:  "WINDOWS_GUI",
	3:  "WINDOWS_CUI",
	5:  "OS2_CUI",
	7:  "POSIX_CUI",
	8:  "NATIVE_WINDOWS",
	9:  "WINDOWS_CE_GUI",
	10: "EFI_APPLICATION",
	11: "EFI_BOOT_SERVICE_DRIVER",
	12: "EFI_RUNTIME_DRIVER",
	13: "EFI_ROM",
	14: "XBOX",
	16: "WINDOWS_BOOT_APPLICATION",
}

type flagName struct {
	bit  uint32
	name string
}

var coffCharacteristicNames = []flagName{
	{0x0001, "RELOCS_STRIPPED"},
	{0x0002, "EXECUTABLE_IMAGE"},
	{0x0004, "LINE_NUMS_STRIPPED"},
	{0x0008, "LOCAL_SYMS_STRIPPED"},
	{0x0010, "AGGRESSIVE_WS_TRIM"},
	{0x0020, "LARGE_ADDRESS_AWARE"},
	{0x0080, "BYTES_REVERSED_LO"},
	{0x0100, "NEED_32BIT_MACHINE"},
	{0x0200, "DEBUG_STRIPPED"},
	{0x0400, "REMOVABLE_RUN_FROM_SWAP"},
	{0x0800, "NET_RUN_FROM_SWAP"},
	{0x1000, "SYSTEM"},
	{0x2000, "DLL"},
	{0x4000, "UP_SYSTEM_ONLY"},
	{0x8000, "BYTES_REVERSED_HI"},
}

var dllCharacteristicNames = []flagName{
	{0x0020, "HIGH_ENTROPY_VA"},
	{0x0040, "DYNAMIC_BASE"},
	{0x0080, "FORCE_INTEGRITY"},
	{0x0100, "NX_COMPAT"},
	{0x0200, "NO_ISOLATION"},
	{0x0400, "NO_SEH"},
	{0x0800, "NO_BIND"},
	{0x1000, "APPCONTAINER"},
	{0x2000, "WDM_DRIVER"},
	{0x4000, "GUARD_CF"},
	{0x8000, "TERMINAL_SERVER_AWARE"},
}

// sectionCharacteristicNames lists the single-bit section flags. The
// ALIGN_* values share a four-bit field and are deliberately absent.
var sectionCharacteristicNames = []flagName{
	{0x00000008, "TYPE_NO_PAD"},
	{0x00000020, "CNT_CODE"},
	{0x00000040, "CNT_INITIALIZED_DATA"},
	{0x00000080, "CNT_UNINITIALIZED_DATA"},
	{0x00000100, "LNK_OTHER"},
	{0x00000200, "LNK_INFO"},
	{0x00000800, "LNK_REMOVE"},
	{0x00001000, "LNK_COMDAT"},
	{0x00008000, "GPREL"},
	{0x00020000, "MEM_PURGEABLE"},
	{0x00040000, "MEM_LOCKED"},
	{0x00080000, "MEM_PRELOAD"},
	{0x01000000, "LNK_NRELOC_OVFL"},
	{0x02000000, "MEM_DISCARDABLE"},
	{0x04000000, "MEM_NOT_CACHED"},
	{0x08000000, "MEM_NOT_PAGED"},
	{0x10000000, "MEM_SHARED"},
	{0x20000000, "MEM_EXECUTE"},
	{0x40000000, "MEM_READ"},
	{0x80000000, "MEM_WRITE"},
}

var dataDirectoryNames = [...]string{
	"EXPORT_TABLE",
	"IMPORT_TABLE",
	"RESOURCE_TABLE",
	"EXCEPTION_TABLE",
	"CERTIFICATE_TABLE",
	"BASE_RELOCATION_TABLE",
	"DEBUG",
	"ARCHITECTURE",
	"GLOBAL_PTR",
	"TLS_TABLE",
	"LOAD_CONFIG_TABLE",
	"BOUND_IMPORT",
	"IAT",
	"DELAY_IMPORT_DESCRIPTOR",
	"CLR_RUNTIME_HEADER",
}

// flagNames expands a bit field into its set flag names, in ascending bit
// order. The result is never nil.
func flagNames(v uint32, table []flagName) []string {
	names := []string{}
	for _, fn := range table {
		if v&fn.bit != 0 {
			names = append(names, fn.name)
		}
	}
	return names
}

// MachineName returns the symbolic name of the COFF machine field;
// unrecognized values report UNKNOWN.
func (f *File) MachineName() string {
	if n, ok := machineNames[f.FileHeader.Machine]; ok {
		return n
	}
	return "UNKNOWN"
}

// SubsystemName returns the symbolic subsystem name; unrecognized values
// report UNKNOWN.
func (f *File) SubsystemName() string {
	if n, ok := subsystemNames[f.OptionalHeader.Subsystem]; ok {
		return n
	}
	return "UNKNOWN"
}

// MagicName returns "PE32" or "PE32_PLUS".
func (f *File) MagicName() string {
	if f.Is64 {
		return "PE32_PLUS"
	}
	return "PE32"
}

// CharacteristicNames returns the set COFF characteristic flags.
func (f *File) CharacteristicNames() []string {
	return flagNames(uint32(f.FileHeader.Characteristics), coffCharacteristicNames)
}

// DLLCharacteristicNames returns the set DLL characteristic flags.
func (f *File) DLLCharacteristicNames() []string {
	return flagNames(uint32(f.OptionalHeader.DllCharacteristics), dllCharacteristicNames)
}

// PropNames returns the section's characteristic flag names.
func (s *Section) PropNames() []string {
	return flagNames(s.Characteristics, sectionCharacteristicNames)
}

// Name returns the directory slot's symbolic name; the reserved sixteenth
// slot reports NONE.
func (d DataDirectory) Name() string {
	if d.Index >= 0 && d.Index < len(dataDirectoryNames) {
		return dataDirectoryNames[d.Index]
	}
	return "NONE"
}
