package features

import (
	"encoding/json"
	"fmt"

	"github.com/cmikke97/pefeats/internal/pefile"
)

// SectionInfo summarizes the section table and the section hosting the
// entry point.
type SectionInfo struct{}

// Name implements FeatureType.
func (SectionInfo) Name() string { return "section" }

// Dim implements FeatureType.
func (SectionInfo) Dim() int { return 255 }

type sectionSummary struct {
	Name    string   `json:"name"`
	Size    int64    `json:"size"`
	Entropy float64  `json:"entropy"`
	VSize   int64    `json:"vsize"`
	Props   []string `json:"props"`
}

type sectionTableSummary struct {
	Entry    string           `json:"entry"`
	Sections []sectionSummary `json:"sections"`
}

// entrySectionName resolves the section the entry point falls in. When
// the entry point maps to no section, the first executable section
// stands in.
func entrySectionName(bin *pefile.File) string {
	if s := bin.EntrySection(); s != nil {
		return s.Name
	}
	for _, s := range bin.Sections {
		if s.Executable() {
			return s.Name
		}
	}
	return ""
}

// RawFeatures implements FeatureType.
func (SectionInfo) RawFeatures(_ []byte, bin *pefile.File) interface{} {
	s := sectionTableSummary{Sections: []sectionSummary{}}
	if bin == nil {
		return s
	}
	s.Entry = entrySectionName(bin)
	for _, sec := range bin.Sections {
		s.Sections = append(s.Sections, sectionSummary{
			Name:    sec.Name,
			Size:    int64(sec.SizeOfRawData),
			Entropy: sec.Entropy,
			VSize:   int64(sec.VirtualSize),
			Props:   sec.PropNames(),
		})
	}
	return s
}

// ProcessRawFeatures lays out five table-level counters followed by the
// hashed (name, size), (name, entropy) and (name, vsize) pairs, the
// hashed entry-section name and the hashed properties of every section
// sharing that name.
func (si SectionInfo) ProcessRawFeatures(raw json.RawMessage) ([]float32, error) {
	var s sectionTableSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("section: %w", err)
	}

	var zeroSize, nameless, readExec, writable int64
	sizePairs := make([]pair, 0, len(s.Sections))
	entropyPairs := make([]pair, 0, len(s.Sections))
	vsizePairs := make([]pair, 0, len(s.Sections))
	var entryProps []string
	for _, sec := range s.Sections {
		if sec.Size == 0 {
			zeroSize++
		}
		if sec.Name == "" {
			nameless++
		}
		if hasProp(sec.Props, "MEM_READ") && hasProp(sec.Props, "MEM_EXECUTE") {
			readExec++
		}
		if hasProp(sec.Props, "MEM_WRITE") {
			writable++
		}
		sizePairs = append(sizePairs, pair{sec.Name, float64(sec.Size)})
		entropyPairs = append(entropyPairs, pair{sec.Name, sec.Entropy})
		vsizePairs = append(vsizePairs, pair{sec.Name, float64(sec.VSize)})
		if sec.Name == s.Entry {
			entryProps = append(entryProps, sec.Props...)
		}
	}

	out := make([]float32, 0, si.Dim())
	out = append(out,
		float32(len(s.Sections)),
		float32(zeroSize),
		float32(nameless),
		float32(readExec),
		float32(writable),
	)
	out = append(out, hashPairs(50, sizePairs)...)
	out = append(out, hashPairs(50, entropyPairs)...)
	out = append(out, hashPairs(50, vsizePairs)...)
	out = append(out, hashChars(50, s.Entry)...)
	out = append(out, hashStrings(50, entryProps)...)
	return out, nil
}

func hasProp(props []string, name string) bool {
	for _, p := range props {
		if p == name {
			return true
		}
	}
	return false
}
