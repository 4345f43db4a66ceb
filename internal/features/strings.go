package features

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"

	"github.com/cmikke97/pefeats/internal/pefile"
)

var (
	// Printable runs of five or more characters; 0x7f is part of the
	// 96-character alphabet the distribution below is built over.
	printableRun = regexp.MustCompile(`[\x20-\x7f]{5,}`)
	pathPattern  = regexp.MustCompile(`(?i)c:\\`)
	urlPattern   = regexp.MustCompile(`(?i)https?://`)
)

// StringExtractor summarizes the printable strings of the input without
// retaining any of them.
type StringExtractor struct{}

// Name implements FeatureType.
func (StringExtractor) Name() string { return "strings" }

// Dim implements FeatureType.
func (StringExtractor) Dim() int { return 104 }

type stringsSummary struct {
	NumStrings    int64   `json:"numstrings"`
	AvLength      float64 `json:"avlength"`
	PrintableDist []int64 `json:"printabledist"`
	Printables    int64   `json:"printables"`
	Entropy       float64 `json:"entropy"`
	Paths         int64   `json:"paths"`
	URLs          int64   `json:"urls"`
	Registry      int64   `json:"registry"`
	MZ            int64   `json:"MZ"`
}

// RawFeatures scans the raw bytes; the parsed structure is not consulted.
func (StringExtractor) RawFeatures(data []byte, _ *pefile.File) interface{} {
	s := stringsSummary{
		PrintableDist: make([]int64, 96),
		Paths:         int64(len(pathPattern.FindAll(data, -1))),
		URLs:          int64(len(urlPattern.FindAll(data, -1))),
		Registry:      int64(bytes.Count(data, []byte("HKEY_"))),
		MZ:            int64(bytes.Count(data, []byte("MZ"))),
	}
	runs := printableRun.FindAll(data, -1)
	s.NumStrings = int64(len(runs))
	if len(runs) == 0 {
		return s
	}
	for _, run := range runs {
		s.Printables += int64(len(run))
		for _, b := range run {
			s.PrintableDist[b-0x20]++
		}
	}
	s.AvLength = float64(s.Printables) / float64(s.NumStrings)
	s.Entropy = distributionEntropy(s.PrintableDist, s.Printables)
	return s
}

// distributionEntropy is the Shannon entropy of a count histogram.
func distributionEntropy(counts []int64, total int64) float64 {
	if total <= 0 {
		return 0
	}
	e := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		e -= p * math.Log2(p)
	}
	return e
}

// ProcessRawFeatures lays the summary out as [numstrings, avlength,
// printables, printabledist/printables, entropy, paths, urls, registry,
// MZ].
func (se StringExtractor) ProcessRawFeatures(raw json.RawMessage) ([]float32, error) {
	var s stringsSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("strings: %w", err)
	}
	if len(s.PrintableDist) != 96 {
		return nil, fmt.Errorf("strings: expected 96 printable bins, got %d", len(s.PrintableDist))
	}
	divisor := float64(s.Printables)
	if divisor <= 0 {
		divisor = 1
	}
	out := make([]float32, 0, se.Dim())
	out = append(out, float32(s.NumStrings), float32(s.AvLength), float32(s.Printables))
	for _, c := range s.PrintableDist {
		out = append(out, float32(float64(c)/divisor))
	}
	out = append(out, float32(s.Entropy), float32(s.Paths), float32(s.URLs), float32(s.Registry), float32(s.MZ))
	return out, nil
}
