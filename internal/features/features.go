// Package features turns Windows PE images into fixed-length numeric
// vectors for machine-learning models.
//
// Extraction runs in two stages so datasets can be stored and
// re-vectorized without keeping the binaries around. RawFeatures
// summarizes the bytes of one image into a JSON-able RawRecord and never
// fails: when the image does not parse, every member falls back to its
// documented default summary. ProcessRawFeatures turns a record back
// into the numeric vector and is the only stage that can error, on
// missing or undecodable record sections. FeatureVector composes the
// two, so a vector computed directly and one computed from a stored
// record are identical by construction.
package features

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cmikke97/pefeats/internal/pefile"
)

// FeatureType is one member of the feature vector. Implementations are
// stateless and safe for concurrent use.
type FeatureType interface {
	// Name keys the member's section inside raw records.
	Name() string

	// Dim is the number of vector slots the member fills.
	Dim() int

	// RawFeatures summarizes one image into a JSON-able value. bin is nil
	// when the image did not parse; the member must still return its
	// documented default summary.
	RawFeatures(data []byte, bin *pefile.File) interface{}

	// ProcessRawFeatures converts a marshaled summary back into exactly
	// Dim values.
	ProcessRawFeatures(raw json.RawMessage) ([]float32, error)
}

// RawRecord is the stored form of one extracted image: one section per
// feature member plus the sha256 of the input bytes. Records marshal to
// a single JSON object, one per line in dataset files.
type RawRecord map[string]json.RawMessage

// SHA256 returns the content hash recorded at extraction time, or ""
// when the record carries none.
func (r RawRecord) SHA256() string {
	raw, ok := r["sha256"]
	if !ok {
		return ""
	}
	var digest string
	if err := json.Unmarshal(raw, &digest); err != nil {
		return ""
	}
	return digest
}

// parserBaseline records the pefile revision each feature version was
// calibrated against. The parser's enum spellings and table-walk rules
// feed the feature hasher, so a parser change can shift vectors without
// any change in this package. The literals are deliberately not
// pefile.Version: bumping the parser trips the warning below until the
// calibration is redone.
var parserBaseline = map[int]string{
	1: "1.0.0",
	2: "1.0.0",
}

var parserDriftOnce sync.Once

func warnOnParserDrift(version int) {
	baseline, ok := parserBaseline[version]
	if !ok || baseline == pefile.Version {
		return
	}
	parserDriftOnce.Do(func() {
		logrus.Warnf("feature version %d was calibrated against pefile %s but the parser is %s; vectors may not match models trained on earlier extractions",
			version, baseline, pefile.Version)
	})
}

// featureRegistry fixes each feature version's members in vector order.
// Both lists are spelled out in full rather than built from one another,
// so the ordering and total dimension of a version are frozen once it
// ships: version 2 restates the version 1 members and adds the
// data-directory table at the end. The registry is never mutated.
var featureRegistry = map[int][]FeatureType{
	1: {
		ByteHistogram{},
		NewByteEntropyHistogram(),
		StringExtractor{},
		GeneralFileInfo{},
		HeaderFileInfo{},
		SectionInfo{},
		ImportsInfo{},
		ExportsInfo{},
	},
	2: {
		ByteHistogram{},
		NewByteEntropyHistogram(),
		StringExtractor{},
		GeneralFileInfo{},
		HeaderFileInfo{},
		SectionInfo{},
		ImportsInfo{},
		ExportsInfo{},
		DataDirectories{},
	},
}

// Extractor assembles the feature vector of one feature version. It is
// stateless after construction and safe for concurrent use.
type Extractor struct {
	version int
	members []FeatureType
	dim     int
}

// New creates an extractor with every member of the given feature
// version.
func New(version int) (*Extractor, error) {
	return NewSelected(version, nil)
}

// NewSelected creates an extractor restricted to the named members. The
// vector keeps registry order no matter how names is ordered; a nil or
// empty list selects everything. Unknown names and unknown versions are
// errors.
func NewSelected(version int, names []string) (*Extractor, error) {
	registered, ok := featureRegistry[version]
	if !ok {
		return nil, fmt.Errorf("unsupported feature version %d", version)
	}
	members := make([]FeatureType, len(registered))
	copy(members, registered)
	if len(names) > 0 {
		want := make(map[string]bool, len(names))
		for _, name := range names {
			want[name] = true
		}
		selected := make([]FeatureType, 0, len(names))
		for _, m := range members {
			if want[m.Name()] {
				selected = append(selected, m)
				delete(want, m.Name())
			}
		}
		if len(want) > 0 {
			unknown := make([]string, 0, len(want))
			for name := range want {
				unknown = append(unknown, name)
			}
			sort.Strings(unknown)
			return nil, fmt.Errorf("unknown feature name(s) for version %d: %s",
				version, strings.Join(unknown, ", "))
		}
		members = selected
	}

	ex := &Extractor{version: version, members: members}
	for _, m := range members {
		ex.dim += m.Dim()
	}
	warnOnParserDrift(version)
	return ex, nil
}

// Version returns the feature version the extractor was built for.
func (e *Extractor) Version() int { return e.version }

// Dim returns the total vector length.
func (e *Extractor) Dim() int { return e.dim }

// FeatureNames lists the member names in vector order.
func (e *Extractor) FeatureNames() []string {
	names := make([]string, len(e.members))
	for i, m := range e.members {
		names[i] = m.Name()
	}
	return names
}

// RawFeatures extracts the raw record of one image. It never fails:
// images that do not parse as PE produce each member's default summary,
// and the byte-level members still see the real content.
func (e *Extractor) RawFeatures(data []byte) RawRecord {
	// A parse failure is not an error at this stage, it is a property of
	// the sample.
	bin, _ := pefile.Parse(data)

	digest := sha256.Sum256(data)
	rec := make(RawRecord, len(e.members)+1)
	rec["sha256"] = mustMarshal(hex.EncodeToString(digest[:]))
	for _, m := range e.members {
		rec[m.Name()] = mustMarshal(m.RawFeatures(data, bin))
	}
	return rec
}

// mustMarshal marshals a member summary. The summary types in this
// package marshal without error; the fallback keeps the record
// well-formed JSON if that ever changes.
func mustMarshal(v interface{}) json.RawMessage {
	msg, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return msg
}

// ProcessRawFeatures rebuilds the numeric vector from a raw record. A
// missing or undecodable member section is the only failure mode.
func (e *Extractor) ProcessRawFeatures(rec RawRecord) ([]float32, error) {
	out := make([]float32, 0, e.dim)
	for _, m := range e.members {
		raw, ok := rec[m.Name()]
		if !ok {
			return nil, fmt.Errorf("record has no %q section", m.Name())
		}
		vec, err := m.ProcessRawFeatures(raw)
		if err != nil {
			return nil, err
		}
		if len(vec) != m.Dim() {
			return nil, fmt.Errorf("%s produced %d values, want %d", m.Name(), len(vec), m.Dim())
		}
		out = append(out, vec...)
	}
	return out, nil
}

// FeatureVector extracts and vectorizes one image in a single step.
func (e *Extractor) FeatureVector(data []byte) ([]float32, error) {
	return e.ProcessRawFeatures(e.RawFeatures(data))
}

// clipTo truncates s to at most max bytes.
func clipTo(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
