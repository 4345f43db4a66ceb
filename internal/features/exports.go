package features

import (
	"encoding/json"
	"fmt"

	"github.com/cmikke97/pefeats/internal/pefile"
)

// ExportsInfo covers the exported symbol names.
type ExportsInfo struct{}

// Name implements FeatureType.
func (ExportsInfo) Name() string { return "exports" }

// Dim implements FeatureType.
func (ExportsInfo) Dim() int { return 128 }

// RawFeatures lists the exported names, each clipped to the shared name
// cap.
func (ExportsInfo) RawFeatures(_ []byte, bin *pefile.File) interface{} {
	exports := []string{}
	if bin == nil {
		return exports
	}
	for _, name := range bin.Exports {
		exports = append(exports, clipTo(name, pefile.MaxNameLength))
	}
	return exports
}

// ProcessRawFeatures hashes the export names into 128 buckets.
func (ExportsInfo) ProcessRawFeatures(raw json.RawMessage) ([]float32, error) {
	var exports []string
	if err := json.Unmarshal(raw, &exports); err != nil {
		return nil, fmt.Errorf("exports: %w", err)
	}
	return hashStrings(128, exports), nil
}
