package features

import (
	"encoding/json"
	"fmt"

	"github.com/cmikke97/pefeats/internal/pefile"
)

// HeaderFileInfo covers the COFF and optional headers. Enumerated fields
// (machine, subsystem, characteristic flags, magic) are kept as their
// symbolic names in the raw form and feature-hashed in the vector form.
type HeaderFileInfo struct{}

// Name implements FeatureType.
func (HeaderFileInfo) Name() string { return "header" }

// Dim implements FeatureType.
func (HeaderFileInfo) Dim() int { return 62 }

type coffSummary struct {
	Timestamp       int64    `json:"timestamp"`
	Machine         string   `json:"machine"`
	Characteristics []string `json:"characteristics"`
}

type optionalSummary struct {
	Subsystem             string   `json:"subsystem"`
	DLLCharacteristics    []string `json:"dll_characteristics"`
	Magic                 string   `json:"magic"`
	MajorImageVersion     int64    `json:"major_image_version"`
	MinorImageVersion     int64    `json:"minor_image_version"`
	MajorLinkerVersion    int64    `json:"major_linker_version"`
	MinorLinkerVersion    int64    `json:"minor_linker_version"`
	MajorOSVersion        int64    `json:"major_operating_system_version"`
	MinorOSVersion        int64    `json:"minor_operating_system_version"`
	MajorSubsystemVersion int64    `json:"major_subsystem_version"`
	MinorSubsystemVersion int64    `json:"minor_subsystem_version"`
	SizeofCode            int64    `json:"sizeof_code"`
	SizeofHeaders         int64    `json:"sizeof_headers"`
	SizeofHeapCommit      int64    `json:"sizeof_heap_commit"`
}

type headerSummary struct {
	COFF     coffSummary     `json:"coff"`
	Optional optionalSummary `json:"optional"`
}

// RawFeatures returns empty names and zero numerics when the image did
// not parse; the empty strings still participate in hashing downstream.
func (HeaderFileInfo) RawFeatures(_ []byte, bin *pefile.File) interface{} {
	s := headerSummary{
		COFF:     coffSummary{Characteristics: []string{}},
		Optional: optionalSummary{DLLCharacteristics: []string{}},
	}
	if bin == nil {
		return s
	}
	s.COFF.Timestamp = int64(bin.FileHeader.TimeDateStamp)
	s.COFF.Machine = bin.MachineName()
	s.COFF.Characteristics = bin.CharacteristicNames()

	opt := bin.OptionalHeader
	s.Optional.Subsystem = bin.SubsystemName()
	s.Optional.DLLCharacteristics = bin.DLLCharacteristicNames()
	s.Optional.Magic = bin.MagicName()
	s.Optional.MajorImageVersion = int64(opt.MajorImageVersion)
	s.Optional.MinorImageVersion = int64(opt.MinorImageVersion)
	s.Optional.MajorLinkerVersion = int64(opt.MajorLinkerVersion)
	s.Optional.MinorLinkerVersion = int64(opt.MinorLinkerVersion)
	s.Optional.MajorOSVersion = int64(opt.MajorOperatingSystemVersion)
	s.Optional.MinorOSVersion = int64(opt.MinorOperatingSystemVersion)
	s.Optional.MajorSubsystemVersion = int64(opt.MajorSubsystemVersion)
	s.Optional.MinorSubsystemVersion = int64(opt.MinorSubsystemVersion)
	s.Optional.SizeofCode = int64(opt.SizeOfCode)
	s.Optional.SizeofHeaders = int64(opt.SizeOfHeaders)
	s.Optional.SizeofHeapCommit = int64(opt.SizeOfHeapCommit)
	return s
}

// ProcessRawFeatures hashes each enumerated field into 10 buckets and
// appends the version and size numerics.
func (h HeaderFileInfo) ProcessRawFeatures(raw json.RawMessage) ([]float32, error) {
	var s headerSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	out := make([]float32, 0, h.Dim())
	out = append(out, float32(s.COFF.Timestamp))
	out = append(out, hashStrings(10, []string{s.COFF.Machine})...)
	out = append(out, hashStrings(10, s.COFF.Characteristics)...)
	out = append(out, hashStrings(10, []string{s.Optional.Subsystem})...)
	out = append(out, hashStrings(10, s.Optional.DLLCharacteristics)...)
	out = append(out, hashStrings(10, []string{s.Optional.Magic})...)
	out = append(out,
		float32(s.Optional.MajorImageVersion),
		float32(s.Optional.MinorImageVersion),
		float32(s.Optional.MajorLinkerVersion),
		float32(s.Optional.MinorLinkerVersion),
		float32(s.Optional.MajorOSVersion),
		float32(s.Optional.MinorOSVersion),
		float32(s.Optional.MajorSubsystemVersion),
		float32(s.Optional.MinorSubsystemVersion),
		float32(s.Optional.SizeofCode),
		float32(s.Optional.SizeofHeaders),
		float32(s.Optional.SizeofHeapCommit),
	)
	return out, nil
}
