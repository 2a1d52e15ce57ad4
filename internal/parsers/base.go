// Package parsers loads the files an operator hands to the command line:
// bank notification emails (.eml), JSON ingest records and CSV exports of
// payment requests.
//
// Example usage:
//
//	files, err := parsers.LoadFiles(ctx, []string{"inbox/"}, parsers.DefaultMessageConfig())
//
//	parser, err := parsers.NewRequestParser(parsers.DefaultRequestParserConfig())
//	requests, stats, err := parser.ParseFile(ctx, "requests.csv")
//
// CSV handling copes with the variations found in merchant exports:
//   - header names matched case-insensitively, with aliases
//   - amounts with currency symbols and thousands separators
//   - several date layouts
//   - Latin-1 encoded files
package parsers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// ParseError describes one rejected CSV record
type ParseError struct {
	Line    int
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("line %d (%s=%q): %s: %v", e.Line, e.Field, e.Value, e.Message, e.Err)
	}
	return fmt.Sprintf("line %d (%s=%q): %s", e.Line, e.Field, e.Value, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	HasHeader        bool
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:        true,
		Delimiter:        ',',
		Comment:          '#',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     64 * 1024,
	}
}

// BaseParser provides the CSV plumbing shared by the record parsers
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	return &BaseParser{
		config: config,
		logger: logger.WithComponent("csv_parser"),
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	LineNumber int
	Headers    []string
	HeaderMap  map[string]int
	ctx        context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{HeaderMap: make(map[string]int), ctx: ctx}
}

// columnIndex returns the index of a column by name, or -1 if not found.
// Names are compared case-insensitively.
func (pc *ParseContext) columnIndex(name string) int {
	if index, ok := pc.HeaderMap[strings.ToLower(strings.TrimSpace(name))]; ok {
		return index
	}
	return -1
}

// OpenFile reads a CSV file into a reader. Files that are not valid UTF-8 are
// decoded as Windows-1252, the usual encoding of spreadsheet exports.
func (bp *BaseParser) OpenFile(path string) (*csv.Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.InputError(errors.CodeUnreadableFile, path, err)
	}
	return bp.NewReader(bytes.NewReader(data), path)
}

// NewReader wraps r in a configured csv.Reader
func (bp *BaseParser) NewReader(r io.Reader, name string) (*csv.Reader, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(4096)
	var src io.Reader = br
	if !utf8.Valid(trimPartialRune(head)) {
		bp.logger.WithField("file", name).Warn("file is not UTF-8, decoding as Windows-1252")
		src = transform.NewReader(br, charmap.Windows1252.NewDecoder())
	}

	reader := csv.NewReader(src)
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
	return reader, nil
}

// trimPartialRune drops a rune cut in half by the peek window
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		if r, _ := utf8.DecodeLastRune(b); r != utf8.RuneError {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}

// ReadHeaders reads the header row and checks the required columns exist
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, pc *ParseContext, required []string) error {
	if !bp.config.HasHeader {
		pc.Headers = append([]string(nil), required...)
		bp.buildHeaderMap(pc)
		return nil
	}

	headers, err := reader.Read()
	if err == io.EOF {
		return errors.ValidationError(errors.CodeMissingField, "headers", "empty file", nil).
			WithSuggestion("the file needs a header row and at least one record")
	}
	if err != nil {
		return errors.InputError(errors.CodeUnreadableFile, "headers", err)
	}

	pc.LineNumber++
	pc.Headers = make([]string, len(headers))
	for i, h := range headers {
		pc.Headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	bp.buildHeaderMap(pc)

	var missing []string
	for _, h := range required {
		if pc.columnIndex(h) == -1 {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		return errors.ValidationError(errors.CodeMissingField, "headers", strings.Join(missing, ", "), nil).
			WithSuggestion(fmt.Sprintf("add the columns %s or map them with column aliases", strings.Join(missing, ", ")))
	}
	return nil
}

func (bp *BaseParser) buildHeaderMap(pc *ParseContext) {
	pc.HeaderMap = make(map[string]int, len(pc.Headers))
	for i, h := range pc.Headers {
		pc.HeaderMap[strings.ToLower(h)] = i
	}
}

// ReadRecord returns the next non-empty record, or io.EOF
func (bp *BaseParser) ReadRecord(reader *csv.Reader, pc *ParseContext) ([]string, error) {
	for {
		if err := pc.ctx.Err(); err != nil {
			return nil, err
		}

		record, err := reader.Read()
		if err != nil {
			return nil, err
		}
		pc.LineNumber++

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}
		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					return nil, &ParseError{
						Line:    pc.LineNumber,
						Field:   fieldName(pc, i),
						Value:   field[:32] + "...",
						Message: fmt.Sprintf("field exceeds %d bytes", bp.config.MaxFieldSize),
					}
				}
			}
		}
		return record, nil
	}
}

func fieldName(pc *ParseContext, i int) string {
	if i < len(pc.Headers) {
		return pc.Headers[i]
	}
	return fmt.Sprintf("column_%d", i+1)
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// GetFieldValue returns the trimmed value of a named column. A column missing
// from the header or the record yields an empty string.
func (bp *BaseParser) GetFieldValue(record []string, pc *ParseContext, name string) string {
	index := pc.columnIndex(name)
	if index == -1 || index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	TotalLines    int
	RecordsParsed int
	RecordsValid  int
	ErrorCount    int
	Errors        []*ParseError
}

// NewParseStats creates a new ParseStats instance
func NewParseStats() *ParseStats {
	return &ParseStats{Errors: make([]*ParseError, 0)}
}

// AddError records a rejected record
func (ps *ParseStats) AddError(err *ParseError) {
	ps.Errors = append(ps.Errors, err)
	ps.ErrorCount++
}

// HasErrors returns true if any record was rejected
func (ps *ParseStats) HasErrors() bool {
	return ps.ErrorCount > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid), %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.ErrorCount)
}

// GetSampleErrors returns up to maxSamples error messages
func (ps *ParseStats) GetSampleErrors(maxSamples int) []string {
	limit := len(ps.Errors)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}
	samples := make([]string, 0, limit)
	for _, e := range ps.Errors[:limit] {
		samples = append(samples, e.Error())
	}
	return samples
}
