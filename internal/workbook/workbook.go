// Package workbook checks upload files before they are forwarded to the
// cohort API and reads or writes the spreadsheet exports.
package workbook

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/cohortview/internal/cohort"
)

// SampleHeader is the column every uploaded sheet must carry.
const SampleHeader = "Sample"

// ExportFilename is the name the API's export is saved under.
const ExportFilename = "cohort_data.xlsx"

// ContentTypeXLSX is the MIME type of exports.
const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrMissingSample   = errors.New("missing sample column")
	ErrEmptyFile       = errors.New("empty file")
	ErrNoFile          = errors.New("no file provided")
	ErrTooLarge        = errors.New("file too large")
)

// Kind is an accepted upload format.
type Kind string

const (
	KindCSV  Kind = "csv"
	KindXLSX Kind = "xlsx"
)

// KindOf returns the upload format for filename, judged by extension.
func KindOf(filename string) (Kind, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return KindCSV, nil
	case ".xlsx":
		return KindXLSX, nil
	case "":
		return "", fmt.Errorf("%s: %w: no extension", filename, ErrUnsupportedType)
	default:
		return "", fmt.Errorf("%s: %w: %s", filename, ErrUnsupportedType, filepath.Ext(filename))
	}
}

// Sheet summarizes one sheet (or the single table of a CSV file).
type Sheet struct {
	Name      string
	Columns   []string
	Rows      int // data rows, excluding the header
	HasSample bool
}

// Summary describes a checked file.
type Summary struct {
	Kind   Kind
	Sheets []Sheet
}

// Rows returns the data row count across all sheets.
func (s Summary) Rows() int {
	n := 0
	for _, sh := range s.Sheets {
		n += sh.Rows
	}
	return n
}

// Validate checks an upload: the extension must be .csv or .xlsx, the file
// must have data rows, and a Sample column must be present (in every CSV, in
// at least one sheet of a workbook).
func Validate(filename string, data []byte) (Summary, error) {
	kind, err := KindOf(filename)
	if err != nil {
		return Summary{}, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Summary{}, fmt.Errorf("%s: %w", filename, ErrEmptyFile)
	}

	var sum Summary
	switch kind {
	case KindCSV:
		sum, err = inspectCSV(data)
	case KindXLSX:
		sum, err = Inspect(data)
	}
	if err != nil {
		return Summary{}, fmt.Errorf("%s: %w", filename, err)
	}

	if sum.Rows() == 0 {
		return sum, fmt.Errorf("%s: %w", filename, ErrEmptyFile)
	}
	for _, sh := range sum.Sheets {
		if sh.HasSample {
			return sum, nil
		}
	}
	return sum, fmt.Errorf("%s: %w %q", filename, ErrMissingSample, SampleHeader)
}

func inspectCSV(data []byte) (Summary, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return Summary{}, ErrEmptyFile
	}
	if err != nil {
		return Summary{}, fmt.Errorf("invalid csv: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	sheet := Sheet{Name: "csv", Columns: trimAll(header), HasSample: hasSample(header)}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Summary{}, fmt.Errorf("invalid csv: %w", err)
		}
		if !blank(rec) {
			sheet.Rows++
		}
	}
	return Summary{Kind: KindCSV, Sheets: []Sheet{sheet}}, nil
}

// Inspect summarizes an .xlsx workbook: sheet names, headers and data rows.
func Inspect(data []byte) (Summary, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return Summary{}, fmt.Errorf("invalid workbook: %w", err)
	}
	defer f.Close()

	sum := Summary{Kind: KindXLSX}
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return Summary{}, fmt.Errorf("invalid workbook: sheet %q: %w", name, err)
		}
		sheet := Sheet{Name: name}
		if len(rows) > 0 {
			sheet.Columns = trimAll(rows[0])
			sheet.HasSample = hasSample(rows[0])
			for _, row := range rows[1:] {
				if !blank(row) {
					sheet.Rows++
				}
			}
		}
		sum.Sheets = append(sum.Sheets, sheet)
	}
	return sum, nil
}

// Build writes merged rows to a single-sheet workbook, one column per
// projected column, using the display formatting of the browser table.
func Build(columns []string, rows []cohort.MergedRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "cohort"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("build workbook: %w", err)
	}

	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, fmt.Errorf("build workbook: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, col); err != nil {
			return nil, fmt.Errorf("build workbook: %w", err)
		}
	}
	for r, row := range rows {
		for i, col := range columns {
			v, ok := row.Value(col)
			if !ok {
				v = cohort.NotAvailable
			}
			cell, err := excelize.CoordinatesToCellName(i+1, r+2)
			if err != nil {
				return nil, fmt.Errorf("build workbook: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, cellValue(v)); err != nil {
				return nil, fmt.Errorf("build workbook: %w", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("build workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// cellValue keeps numbers numeric and formats everything else as text.
func cellValue(v any) any {
	switch val := v.(type) {
	case float64, int, int64, bool:
		return val
	default:
		return cohort.FormatValue(val)
	}
}

func hasSample(header []string) bool {
	for _, h := range header {
		if strings.TrimSpace(h) == SampleHeader {
			return true
		}
	}
	return false
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

func blank(rec []string) bool {
	for _, s := range rec {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}
