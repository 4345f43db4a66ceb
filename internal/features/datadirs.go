package features

import (
	"encoding/json"
	"fmt"

	"github.com/cmikke97/pefeats/internal/pefile"
)

// dataDirectorySlots is how many directory slots the vector reserves
// room for: the fifteen named entries of the optional header.
const dataDirectorySlots = 15

// DataDirectories covers the optional-header data-directory table.
type DataDirectories struct{}

// Name implements FeatureType.
func (DataDirectories) Name() string { return "datadirectories" }

// Dim implements FeatureType.
func (DataDirectories) Dim() int { return 2 * dataDirectorySlots }

type dataDirSummary struct {
	Name           string `json:"name"`
	Size           int64  `json:"size"`
	VirtualAddress int64  `json:"virtual_address"`
}

// RawFeatures lists the directory slots in header order, including empty
// ones, so vector positions stay aligned with slot indexes.
func (DataDirectories) RawFeatures(_ []byte, bin *pefile.File) interface{} {
	dirs := []dataDirSummary{}
	if bin == nil {
		return dirs
	}
	for _, d := range bin.DataDirs {
		dirs = append(dirs, dataDirSummary{
			Name:           d.Name(),
			Size:           int64(d.Size),
			VirtualAddress: int64(d.VirtualAddress),
		})
	}
	return dirs
}

// ProcessRawFeatures writes size and address of the i-th slot at
// positions 2i and 2i+1; slots past the table stay zero.
func (dd DataDirectories) ProcessRawFeatures(raw json.RawMessage) ([]float32, error) {
	var dirs []dataDirSummary
	if err := json.Unmarshal(raw, &dirs); err != nil {
		return nil, fmt.Errorf("datadirectories: %w", err)
	}
	out := make([]float32, dd.Dim())
	for i := 0; i < dataDirectorySlots && i < len(dirs); i++ {
		out[2*i] = float32(dirs[i].Size)
		out[2*i+1] = float32(dirs[i].VirtualAddress)
	}
	return out, nil
}
