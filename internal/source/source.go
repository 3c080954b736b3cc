// Package source reads the spreadsheet export that drives a load run.
//
// The whole file is parsed into memory before any row is returned, so no
// remote call can start while a later row is still being read.
package source

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/franz/gigbase-loader/internal/graphql"
)

// Column names the loader reads
const (
	ColumnPlayed     = "played"
	ColumnTitle      = "title"
	ColumnRecordings = "recordings"
	ColumnDrumKit    = "drumkit"
	ColumnKey        = "key"
)

// RequiredColumns must appear in the header row
var RequiredColumns = []string{ColumnPlayed, ColumnTitle, ColumnDrumKit, ColumnKey}

// Options controls parsing
type Options struct {
	// Delimiter separates CSV fields. Defaults to ','.
	Delimiter rune

	// Sheet selects the XLSX sheet. Defaults to the first sheet.
	Sheet string
}

// Row is one data row mapped by the header's column names
type Row struct {
	// Num is the 1-based data row number (the header is row 0)
	Num int

	columns []string
	values  map[string]string
}

// NewRow builds a row from parallel column and value slices. Missing
// trailing values are treated as empty strings. Columns with a blank name
// are dropped along with their values.
func NewRow(num int, columns, values []string) Row {
	r := Row{Num: num, values: make(map[string]string, len(columns))}
	for i, col := range columns {
		if col == "" {
			continue
		}
		r.columns = append(r.columns, col)
		if i < len(values) {
			r.values[col] = values[i]
		} else {
			r.values[col] = ""
		}
	}
	return r
}

// Get returns the raw value of a column, or "" when absent
func (r Row) Get(column string) string {
	return r.values[column]
}

// Has reports whether the row's header includes column
func (r Row) Has(column string) bool {
	_, ok := r.values[column]
	return ok
}

// Columns returns the header column names in file order
func (r Row) Columns() []string {
	return r.columns
}

// MarshalJSON renders the row as an object whose keys follow the header order
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := marshalString(col)
		if err != nil {
			return nil, err
		}
		v, err := marshalString(r.values[col])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalString encodes s as a JSON string without HTML escaping
func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Read parses the file at path completely. The format is chosen by
// extension: .xlsx is read as a workbook, everything else as delimited text.
func Read(path string, opts *Options) ([]Row, error) {
	if opts == nil {
		opts = &Options{}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return readWorkbook(path, opts)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, graphql.Wrap(graphql.IOFailure, "read source", err)
		}
		defer f.Close()
		return ReadCSV(f, opts)
	}
}

// ReadCSV parses delimited text with a header row
func ReadCSV(r io.Reader, opts *Options) ([]Row, error) {
	if opts == nil {
		opts = &Options{}
	}

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, graphql.Wrap(graphql.InvalidInput, "parse source", err)
	}

	return buildRows(records)
}

func readWorkbook(path string, opts *Options) ([]Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, graphql.Wrap(graphql.IOFailure, "read source", err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, graphql.Errorf(graphql.InvalidInput, "parse source", "workbook %s has no sheets", path)
		}
		sheet = sheets[0]
	}

	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, graphql.Wrap(graphql.InvalidInput, "parse source", fmt.Errorf("sheet %q: %w", sheet, err))
	}

	return buildRows(records)
}

func buildRows(records [][]string) ([]Row, error) {
	if len(records) == 0 {
		return nil, graphql.Errorf(graphql.InvalidInput, "parse source", "missing header row")
	}

	header := make([]string, len(records[0]))
	seen := make(map[string]bool, len(header))
	for i, col := range records[0] {
		col = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
		// Blank header cells (unused trailing columns) are ignored
		if col == "" {
			continue
		}
		if seen[col] {
			return nil, graphql.Errorf(graphql.InvalidInput, "parse source", "duplicate column %q", col)
		}
		seen[col] = true
		header[i] = col
	}

	var missing []string
	for _, col := range RequiredColumns {
		if !seen[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, graphql.Errorf(graphql.InvalidInput, "parse source", "missing required columns: %s", strings.Join(missing, ", "))
	}

	rows := make([]Row, 0, len(records)-1)
	for i, rec := range records[1:] {
		if isBlank(rec) {
			continue
		}
		rows = append(rows, NewRow(i+1, header, rec))
	}

	return rows, nil
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
