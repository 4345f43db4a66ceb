package features

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cmikke97/pefeats/internal/pefile"
)

// ImportsInfo covers the import table: which libraries the image names
// and which symbols it pulls from them.
type ImportsInfo struct{}

// Name implements FeatureType.
func (ImportsInfo) Name() string { return "imports" }

// Dim implements FeatureType.
func (ImportsInfo) Dim() int { return 1280 }

// RawFeatures maps each imported library to its symbol list. A library
// gets a key even when none of its thunks could be read, and duplicate
// descriptors for one library extend the same list. Ordinal imports are
// spelled "ordinal<N>".
func (ImportsInfo) RawFeatures(_ []byte, bin *pefile.File) interface{} {
	imports := map[string][]string{}
	if bin == nil {
		return imports
	}
	for _, lib := range bin.Imports {
		if _, ok := imports[lib.Name]; !ok {
			imports[lib.Name] = []string{}
		}
		for _, entry := range lib.Entries {
			name := clipTo(entry.Name, pefile.MaxNameLength)
			if entry.ByOrdinal {
				name = "ordinal" + strconv.Itoa(int(entry.Ordinal))
			}
			imports[lib.Name] = append(imports[lib.Name], name)
		}
	}
	return imports
}

// ProcessRawFeatures hashes the unique lowercased library names into 256
// buckets and every "library:symbol" string into 1024 more.
func (ImportsInfo) ProcessRawFeatures(raw json.RawMessage) ([]float32, error) {
	var imports map[string][]string
	if err := json.Unmarshal(raw, &imports); err != nil {
		return nil, fmt.Errorf("imports: %w", err)
	}
	keys := make([]string, 0, len(imports))
	for name := range imports {
		keys = append(keys, name)
	}
	sort.Strings(keys)

	seen := make(map[string]bool, len(keys))
	var libraries, qualified []string
	for _, key := range keys {
		lower := strings.ToLower(key)
		if !seen[lower] {
			seen[lower] = true
			libraries = append(libraries, lower)
		}
		for _, entry := range imports[key] {
			qualified = append(qualified, lower+":"+entry)
		}
	}

	out := make([]float32, 0, 1280)
	out = append(out, hashStrings(256, libraries)...)
	out = append(out, hashStrings(1024, qualified)...)
	return out, nil
}
