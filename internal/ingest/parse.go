package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"boardhealth/internal/classify"
	"boardhealth/internal/config"
	"boardhealth/internal/store"
)

var (
	ErrMissingHeader = errors.New("csv has no header row")
	ErrMissingColumn = errors.New("classification column not in header")
)

// Options control how a CSV dump is turned into detail rows.
type Options struct {
	ClassColumn   string
	IgnoreColumns []string
	RowCap        int
	ProgressEvery int
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		ClassColumn:   cfg.ClassColumn,
		IgnoreColumns: cfg.IgnoreColumns,
		RowCap:        cfg.RowCap,
		ProgressEvery: cfg.ProgressEvery,
	}
}

// Parsed is the outcome of classifying a CSV dump before it is stored.
type Parsed struct {
	Rows      []store.NewDetail
	Read      int
	Skipped   int
	Truncated int
}

// Parse reads a header row followed by data rows and stages one detail row
// per data row whose classification column holds a finite number. Only the
// first opts.RowCap data rows are considered.
func Parse(r io.Reader, opts Options, cls classify.Classifier, log *zap.Logger) (Parsed, error) {
	var out Parsed
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	header, err := readNonBlank(reader)
	if errors.Is(err, io.EOF) {
		return out, ErrMissingHeader
	}
	if err != nil {
		return out, fmt.Errorf("read header: %w", err)
	}
	header = trimAll(header)
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	classIdx := -1
	for i, h := range header {
		if h == opts.ClassColumn {
			classIdx = i
			break
		}
	}
	if classIdx < 0 {
		return out, fmt.Errorf("%w: %q", ErrMissingColumn, opts.ClassColumn)
	}
	keep := detailColumns(header, classIdx, opts.IgnoreColumns)

	for {
		record, err := readNonBlank(reader)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("read row %d: %w", out.Read+1, err)
		}
		if opts.RowCap > 0 && out.Read >= opts.RowCap {
			out.Truncated = 1 + countRemaining(reader)
			break
		}
		out.Read++
		rowIdx := out.Read

		raw := field(record, classIdx)
		value, ok := parseReading(raw)
		if !ok {
			out.Skipped++
			log.Warn("skipping row with non-numeric reading",
				zap.Int("row", rowIdx),
				zap.String("column", opts.ClassColumn),
				zap.String("value", raw))
		} else {
			out.Rows = append(out.Rows, store.NewDetail{
				Details: buildDetails(header, record, keep),
				Value:   strconv.FormatFloat(value, 'f', -1, 64),
				Status:  cls.Classify(value).String(),
			})
		}

		if opts.ProgressEvery > 0 && rowIdx%opts.ProgressEvery == 0 {
			log.Info("ingest progress", zap.Int("processed", rowIdx), zap.Int("staged", len(out.Rows)))
		}
	}
	if out.Truncated > 0 {
		log.Debug("rows beyond cap dropped", zap.Int("cap", opts.RowCap), zap.Int("dropped", out.Truncated))
	}
	return out, nil
}

// readNonBlank returns the next record that has at least one non-blank field.
func readNonBlank(reader *csv.Reader) ([]string, error) {
	for {
		record, err := reader.Read()
		if err != nil {
			return nil, err
		}
		for _, f := range record {
			if strings.TrimSpace(f) != "" {
				return record, nil
			}
		}
	}
}

// countRemaining counts the non-blank records left, stopping quietly at the
// first malformed one.
func countRemaining(reader *csv.Reader) int {
	n := 0
	for {
		if _, err := readNonBlank(reader); err != nil {
			return n
		}
		n++
	}
}

func parseReading(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func detailColumns(header []string, classIdx int, ignore []string) []int {
	skip := make(map[string]struct{}, len(ignore))
	for _, name := range ignore {
		skip[strings.TrimSpace(name)] = struct{}{}
	}
	skip[header[classIdx]] = struct{}{}
	keep := make([]int, 0, len(header))
	for i, h := range header {
		if _, ok := skip[h]; ok {
			continue
		}
		keep = append(keep, i)
	}
	return keep
}

func buildDetails(header, record []string, keep []int) string {
	var b strings.Builder
	for n, i := range keep {
		if n > 0 {
			b.WriteString(", ")
		}
		b.WriteString(header[i])
		b.WriteString(": ")
		b.WriteString(field(record, i))
	}
	return b.String()
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}
