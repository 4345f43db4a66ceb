package features

import (
	"encoding/json"
	"fmt"

	"github.com/cmikke97/pefeats/internal/pefile"
)

// GeneralFileInfo captures coarse size and presence indicators of the
// image.
type GeneralFileInfo struct{}

// Name implements FeatureType.
func (GeneralFileInfo) Name() string { return "general" }

// Dim implements FeatureType.
func (GeneralFileInfo) Dim() int { return 10 }

type generalSummary struct {
	Size           int64 `json:"size"`
	VSize          int64 `json:"vsize"`
	HasDebug       int64 `json:"has_debug"`
	Exports        int64 `json:"exports"`
	Imports        int64 `json:"imports"`
	HasRelocations int64 `json:"has_relocations"`
	HasResources   int64 `json:"has_resources"`
	HasSignature   int64 `json:"has_signature"`
	HasTLS         int64 `json:"has_tls"`
	Symbols        int64 `json:"symbols"`
}

func boolToCount(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// RawFeatures reports zeros for everything but the file size when the
// image did not parse.
func (GeneralFileInfo) RawFeatures(data []byte, bin *pefile.File) interface{} {
	s := generalSummary{Size: int64(len(data))}
	if bin == nil {
		return s
	}
	s.VSize = int64(bin.VirtualSize())
	s.HasDebug = boolToCount(bin.HasDebug())
	s.Exports = int64(len(bin.Exports))
	s.Imports = int64(bin.ImportedFunctionCount())
	s.HasRelocations = boolToCount(bin.HasRelocations())
	s.HasResources = boolToCount(bin.HasResources())
	s.HasSignature = boolToCount(bin.HasSignature())
	s.HasTLS = boolToCount(bin.HasTLS())
	s.Symbols = int64(bin.SymbolCount())
	return s
}

// ProcessRawFeatures implements FeatureType.
func (g GeneralFileInfo) ProcessRawFeatures(raw json.RawMessage) ([]float32, error) {
	var s generalSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("general: %w", err)
	}
	return []float32{
		float32(s.Size),
		float32(s.VSize),
		float32(s.HasDebug),
		float32(s.Exports),
		float32(s.Imports),
		float32(s.HasRelocations),
		float32(s.HasResources),
		float32(s.HasSignature),
		float32(s.HasTLS),
		float32(s.Symbols),
	}, nil
}
