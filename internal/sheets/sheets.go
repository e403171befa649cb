// Package sheets converts between spreadsheet files and batch grids.
//
// Imports accept .xlsx and .csv files whose first three columns hold Q0,
// Alpha and K. A leading header row is detected and skipped. Exports write
// the solved grid plus a report sheet with one line per solved row.
package sheets

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"pmaxtools/internal/batch"
	"pmaxtools/internal/demand"
)

// Format identifies a supported spreadsheet file type
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// Sheet names used in exported workbooks
const (
	GridSheet   = "Pmax"
	ReportSheet = "Report"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither xlsx nor csv
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")
	// ErrEmptySheet is returned when a file holds no rows at all
	ErrEmptySheet = errors.New("spreadsheet has no rows")
)

// DetectFormat picks the format from a file name's extension
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
}

// Import reads a grid from r, using name to choose the format
func Import(r io.Reader, name string) (batch.Grid, error) {
	format, err := DetectFormat(name)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatCSV:
		return ReadCSV(r)
	default:
		return ReadXLSX(r)
	}
}

// ReadCSV reads a grid from CSV. Rows may have any number of fields.
func ReadCSV(r io.Reader) (batch.Grid, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return toGrid(rows)
}

// ReadXLSX reads a grid from the first sheet of a workbook
func ReadXLSX(r io.Reader) (batch.Grid, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrEmptySheet)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return toGrid(rows)
}

// toGrid normalizes raw rows into NumColumns-wide grid rows. Trailing empty
// rows are dropped; empty rows in between are kept as blank rows.
func toGrid(rows [][]string) (batch.Grid, error) {
	if len(rows) > 0 && isHeader(rows[0]) {
		rows = rows[1:]
	}
	for len(rows) > 0 && batch.IsBlankRow(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	if len(rows) == 0 {
		return nil, ErrEmptySheet
	}

	grid := batch.NewBlankGrid(len(rows))
	for i, row := range rows {
		for j := 0; j < len(row) && j < batch.NumColumns; j++ {
			grid[i][j] = strings.TrimSpace(row[j])
		}
	}
	return grid, nil
}

func isHeader(row []string) bool {
	if len(row) == 0 {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(row[0]), batch.ColumnNames[batch.ColQ0])
}

// WriteWorkbook writes the completed sheet and its report to w as xlsx
func WriteWorkbook(w io.Writer, c batch.Completion) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), GridSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := writeGrid(f, c.Sheet); err != nil {
		return err
	}

	if _, err := f.NewSheet(ReportSheet); err != nil {
		return fmt.Errorf("failed to create report sheet: %w", err)
	}
	if err := writeReport(f, c.Reports()); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeGrid(f *excelize.File, sheet batch.Grid) error {
	header := make([]interface{}, batch.NumColumns)
	for i, name := range batch.ColumnNames {
		header[i] = name
	}
	if err := f.SetSheetRow(GridSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, row := range sheet {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(GridSheet, cell, &cells); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	return nil
}

var reportHeader = []interface{}{
	"Row", "Analytical Pmax", "Approximate Pmax", "ΔQ (log)", "ΔP (log)", "Slope", "Omax", "Method", "Note",
}

func writeReport(f *excelize.File, entries []demand.ReportEntry) error {
	if err := f.SetSheetRow(ReportSheet, "A1", &reportHeader); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}
	for i, e := range entries {
		cells := []interface{}{
			e.Row,
			demand.FormatValue(e.Analytic),
			demand.FormatValue(e.Approximate),
			demand.FormatValue(e.QuantityDelta),
			demand.FormatValue(e.PriceDelta),
			e.SlopeText(),
			demand.FormatValue(e.Omax),
			string(e.Method),
			e.Rationale,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(ReportSheet, cell, &cells); err != nil {
			return fmt.Errorf("failed to write report row %d: %w", e.Row, err)
		}
	}
	return nil
}

// WriteCSV writes the completed sheet, with a header row, as CSV
func WriteCSV(w io.Writer, sheet batch.Grid) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(batch.ColumnNames[:]); err != nil {
		return err
	}
	for _, row := range sheet {
		out := make([]string, batch.NumColumns)
		copy(out, row)
		if err := cw.Write(out); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
