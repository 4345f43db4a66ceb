package main

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/h2non/filetype"
	"github.com/spf13/cobra"

	"github.com/cmikke97/pefeats/internal/features"
	"github.com/cmikke97/pefeats/internal/pefile"
	"github.com/cmikke97/pefeats/internal/utils"
)

// maxRecordBytes bounds one JSONL record line; records from string-heavy
// binaries can run to megabytes.
const maxRecordBytes = 64 * 1024 * 1024

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pefeats",
		Short: "PE feature vector extractor for malware-classification models",
		Long: `pefeats turns Windows PE binaries into the fixed-length numeric feature
vectors consumed by static malware-classification models.

The tool implements a two-stage pipeline:
- extract parses binaries and writes raw feature records as JSON lines,
  one self-contained object per input file
- vectorize replays stored records into packed float32 or CSV matrices
  without needing the original binaries

Parsing is safe on hostile input: malformed or truncated PE files never
crash extraction and still produce full-dimension vectors.`,
		Version: utils.GetVersionString(),
	}

	// Add subcommands
	cmd.AddCommand(newExtractCmd())
	cmd.AddCommand(newVectorizeCmd())
	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newExtractCmd() *cobra.Command {
	var (
		outputFile     string
		featureVersion int
		featureNames   []string
		workers        int
		skipNonPE      bool
		configFile     string
		verbose        bool
	)

	cmd := &cobra.Command{
		Use:   "extract <binary> [binary...]",
		Short: "Extract raw feature records from PE binaries",
		Long: `Extract raw feature records from one or more PE binaries.

Each input file produces one JSON object holding the per-feature
summaries and the sha256 of the file content. Records are written one
per line in input order, ready for the vectorize command.

Malformed or non-PE input does not fail extraction: the record carries
each feature's documented defaults, and the byte-level features
(histogram, byteentropy, strings) still reflect the real content. Use
--skip-non-pe to skip files without an MZ signature instead.

Exit codes:
  0 - All files extracted
  1 - An input file could not be read or the configuration is invalid`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(args, outputFile, featureVersion, featureNames, workers, skipNonPE, configFile, verbose)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file path (default: stdout)")
	cmd.Flags().IntVar(&featureVersion, "feature-version", 0, "Feature version to extract, 1 or 2 (default: from config)")
	cmd.Flags().StringSliceVar(&featureNames, "features", nil, "Comma-separated subset of feature names (default: all)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Number of concurrent extraction workers (default: from config)")
	cmd.Flags().BoolVar(&skipNonPE, "skip-non-pe", false, "Skip files that are not PE images instead of emitting default records")
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	return cmd
}

func newVectorizeCmd() *cobra.Command {
	var (
		inputFile      string
		outputFile     string
		format         string
		featureVersion int
		featureNames   []string
		configFile     string
		verbose        bool
	)

	cmd := &cobra.Command{
		Use:   "vectorize",
		Short: "Convert raw feature records into numeric vectors",
		Long: `Convert raw feature records back into numeric feature vectors.

The vectorize command replays records produced by extract without
needing the original binaries, so stored datasets can be re-vectorized
at any time. Input is one JSON record per line.

Output formats:
- f32le: packed little-endian float32 rows (dimension x 4 bytes per
  record), loadable as a memory-mapped matrix
- csv: one decimal row per record

A record that is missing a feature section, or whose sections do not
decode, fails the run with an error naming the offending line.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVectorize(inputFile, outputFile, format, featureVersion, featureNames, configFile, verbose)
		},
	}

	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input JSONL file (default: stdin)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file path (default: stdout)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format, f32le or csv (default: from config)")
	cmd.Flags().IntVar(&featureVersion, "feature-version", 0, "Feature version the records were extracted with (default: from config)")
	cmd.Flags().StringSliceVar(&featureNames, "features", nil, "Feature subset the records were extracted with (default: all)")
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	return cmd
}

func newInspectCmd() *cobra.Command {
	var (
		pretty     bool
		configFile string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <binary>",
		Short: "Parse one PE binary and print its structural summary",
		Long: `Parse a single PE binary and print its structural summary as JSON.

The summary covers the COFF and optional headers with symbolic flag
names, the section table with per-section entropy, import and export
counts, and the populated data directories. It is the parser's view of
the file, useful for debugging unexpected feature values.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0], pretty, configFile, verbose)
		},
	}

	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the JSON output")
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pefeats version %s\n", utils.Version)
			fmt.Printf("Commit: %s\n", utils.Commit)
			fmt.Printf("Built: %s\n", utils.Date)
			fmt.Printf("Parser: %s\n", pefile.Version)
		},
	}
}

// loadConfigAndLogger applies the shared --config/--verbose handling of
// all subcommands.
func loadConfigAndLogger(configFile string, verbose bool) (*utils.Config, *utils.Logger, error) {
	var config *utils.Config
	var err error

	if configFile != "" {
		config, err = utils.LoadConfigFromFile(configFile)
	} else {
		config, err = utils.LoadDefaultConfig()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	loggerConfig := utils.LoggerConfig{
		Level:  utils.LogLevel(config.LogLevel),
		Format: utils.LogFormat(config.LogFormat),
	}
	if verbose {
		loggerConfig.Level = utils.LogLevelDebug
	}
	return config, utils.NewLogger(loggerConfig), nil
}

// extractResult carries one file's outcome back to the in-order emit
// loop.
type extractResult struct {
	record features.RawRecord
	skip   bool
	err    error
}

func extractOne(extractor *features.Extractor, path string, skipNonPE bool) extractResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return extractResult{err: err}
	}
	if skipNonPE && !filetype.Is(data, "exe") {
		return extractResult{skip: true}
	}
	return extractResult{record: extractor.RawFeatures(data)}
}

// runExtract extracts raw feature records from the given binaries
func runExtract(paths []string, outputFile string, featureVersion int, featureNames []string, workers int, skipNonPE bool, configFile string, verbose bool) error {
	config, logger, err := loadConfigAndLogger(configFile, verbose)
	if err != nil {
		return err
	}

	// Fall back to configured settings where flags were not given
	if featureVersion == 0 {
		featureVersion = config.Extract.FeatureVersion
	}
	if len(featureNames) == 0 {
		featureNames = config.Extract.Features
	}
	if workers == 0 {
		workers = config.Extract.Workers
	}
	if workers < 1 {
		workers = 1
	}
	if !skipNonPE {
		skipNonPE = config.Extract.SkipNonPE
	}

	extractor, err := features.NewSelected(featureVersion, featureNames)
	if err != nil {
		return fmt.Errorf("failed to create extractor: %w", err)
	}

	out := os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	logger.WithComponent("extract").Infof("Extracting version %d features from %d file(s) with %d worker(s)",
		featureVersion, len(paths), workers)

	// Fan the files out to the workers; results land at the file's input
	// index so output order matches input order.
	results := make([]extractResult, len(paths))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = extractOne(extractor, paths[i], skipNonPE)
			}
		}()
	}
	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	writer := bufio.NewWriter(out)
	written := 0
	skipped := 0
	for i, res := range results {
		if res.err != nil {
			return fmt.Errorf("failed to extract %s: %w", paths[i], res.err)
		}
		if res.skip {
			logger.WithComponent("extract").Warnf("Skipping non-PE file: %s", paths[i])
			skipped++
			continue
		}
		line, err := json.Marshal(res.record)
		if err != nil {
			return fmt.Errorf("failed to encode record for %s: %w", paths[i], err)
		}
		line = append(line, '\n')
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
		written++
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	logger.WithComponent("extract").Infof("Extracted %d record(s), skipped %d", written, skipped)
	return nil
}

// runVectorize converts a stream of raw feature records into vectors
func runVectorize(inputFile, outputFile, format string, featureVersion int, featureNames []string, configFile string, verbose bool) error {
	config, logger, err := loadConfigAndLogger(configFile, verbose)
	if err != nil {
		return err
	}

	if featureVersion == 0 {
		featureVersion = config.Extract.FeatureVersion
	}
	if len(featureNames) == 0 {
		featureNames = config.Extract.Features
	}
	if format == "" {
		format = config.Vectorize.Format
	}

	extractor, err := features.NewSelected(featureVersion, featureNames)
	if err != nil {
		return fmt.Errorf("failed to create extractor: %w", err)
	}

	in := os.Stdin
	if inputFile != "" {
		f, err := os.Open(inputFile)
		if err != nil {
			return fmt.Errorf("failed to open input file: %w", err)
		}
		defer f.Close()
		in = f
	}
	out := os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	writer := bufio.NewWriter(out)
	var csvWriter *csv.Writer
	var write func(vec []float32) error
	switch format {
	case "f32le":
		write = func(vec []float32) error {
			return binary.Write(writer, binary.LittleEndian, vec)
		}
	case "csv":
		csvWriter = csv.NewWriter(writer)
		write = func(vec []float32) error {
			row := make([]string, len(vec))
			for i, v := range vec {
				row[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
			}
			return csvWriter.Write(row)
		}
	default:
		return fmt.Errorf("unsupported vector format: %s (valid: f32le, csv)", format)
	}

	logger.WithComponent("vectorize").Infof("Vectorizing version %d records into %d-dimensional %s rows",
		featureVersion, extractor.Dim(), format)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxRecordBytes)

	lineNo := 0
	count := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec features.RawRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("line %d: failed to decode record: %w", lineNo, err)
		}
		vec, err := extractor.ProcessRawFeatures(rec)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := write(vec); err != nil {
			return fmt.Errorf("line %d: failed to write vector: %w", lineNo, err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read records: %w", err)
	}

	if csvWriter != nil {
		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			return fmt.Errorf("failed to flush output: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	logger.WithComponent("vectorize").Infof("Vectorized %d record(s)", count)
	return nil
}

// inspectReport is the structural summary printed by the inspect command
type inspectReport struct {
	File               string             `json:"file"`
	Size               int64              `json:"size"`
	SHA256             string             `json:"sha256"`
	Format             string             `json:"format"`
	Machine            string             `json:"machine"`
	Subsystem          string             `json:"subsystem"`
	Timestamp          uint32             `json:"timestamp"`
	Characteristics    []string           `json:"characteristics"`
	DLLCharacteristics []string           `json:"dll_characteristics"`
	EntryPoint         uint32             `json:"entry_point"`
	EntrySection       string             `json:"entry_section,omitempty"`
	VirtualSize        uint64             `json:"virtual_size"`
	Symbols            int                `json:"symbols"`
	ImportedLibraries  int                `json:"imported_libraries"`
	ImportedFunctions  int                `json:"imported_functions"`
	ExportedFunctions  int                `json:"exported_functions"`
	Sections           []inspectSection   `json:"sections"`
	DataDirectories    []inspectDirectory `json:"data_directories"`
}

type inspectSection struct {
	Name           string   `json:"name"`
	VirtualAddress uint32   `json:"virtual_address"`
	VirtualSize    uint32   `json:"virtual_size"`
	RawSize        uint32   `json:"raw_size"`
	Entropy        float64  `json:"entropy"`
	Props          []string `json:"props"`
}

type inspectDirectory struct {
	Name           string `json:"name"`
	VirtualAddress uint32 `json:"virtual_address"`
	Size           uint32 `json:"size"`
}

func buildInspectReport(path string, data []byte, bin *pefile.File) inspectReport {
	digest := sha256.Sum256(data)
	report := inspectReport{
		File:               path,
		Size:               int64(len(data)),
		SHA256:             hex.EncodeToString(digest[:]),
		Format:             bin.MagicName(),
		Machine:            bin.MachineName(),
		Subsystem:          bin.SubsystemName(),
		Timestamp:          bin.FileHeader.TimeDateStamp,
		Characteristics:    bin.CharacteristicNames(),
		DLLCharacteristics: bin.DLLCharacteristicNames(),
		EntryPoint:         bin.OptionalHeader.AddressOfEntryPoint,
		VirtualSize:        bin.VirtualSize(),
		Symbols:            bin.SymbolCount(),
		ImportedLibraries:  len(bin.Imports),
		ImportedFunctions:  bin.ImportedFunctionCount(),
		ExportedFunctions:  len(bin.Exports),
		Sections:           []inspectSection{},
		DataDirectories:    []inspectDirectory{},
	}
	if s := bin.EntrySection(); s != nil {
		report.EntrySection = s.Name
	}
	for _, s := range bin.Sections {
		report.Sections = append(report.Sections, inspectSection{
			Name:           s.Name,
			VirtualAddress: s.VirtualAddress,
			VirtualSize:    s.VirtualSize,
			RawSize:        s.SizeOfRawData,
			Entropy:        s.Entropy,
			Props:          s.PropNames(),
		})
	}
	for _, d := range bin.DataDirs {
		if d.VirtualAddress == 0 && d.Size == 0 {
			continue
		}
		report.DataDirectories = append(report.DataDirectories, inspectDirectory{
			Name:           d.Name(),
			VirtualAddress: d.VirtualAddress,
			Size:           d.Size,
		})
	}
	return report
}

// runInspect parses one binary and prints its structural summary
func runInspect(path string, pretty bool, configFile string, verbose bool) error {
	_, logger, err := loadConfigAndLogger(configFile, verbose)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("binary file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	logger.WithComponent("inspect").Debugf("Parsing %s (%d bytes)", path, len(data))

	bin, err := pefile.Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	encoder := json.NewEncoder(os.Stdout)
	if pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(buildInspectReport(path, data, bin))
}
