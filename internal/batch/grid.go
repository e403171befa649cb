package batch

import (
	"math"
	"strconv"
	"strings"

	"pmaxtools/internal/demand"
)

// Column positions in the row grid. The order is fixed.
const (
	ColQ0 = iota
	ColAlpha
	ColK
	ColAnalytic
	ColApproximate

	NumColumns
)

// ColumnNames are the headers shown above the grid
var ColumnNames = [NumColumns]string{"Q0", "Alpha", "K", "Analytical", "Approximate"}

// Grid is the spreadsheet-like wire shape: rows of string cells
type Grid [][]string

// Clone returns a deep copy of the grid
func (g Grid) Clone() Grid {
	if g == nil {
		return nil
	}
	out := make(Grid, len(g))
	for i, row := range g {
		if row == nil {
			continue
		}
		out[i] = append([]string(nil), row...)
	}
	return out
}

// NewBlankGrid returns n empty rows of NumColumns cells
func NewBlankGrid(n int) Grid {
	g := make(Grid, n)
	for i := range g {
		g[i] = make([]string, NumColumns)
	}
	return g
}

// Row is a grid row parsed once at ingestion
type Row struct {
	Index  int
	Blank  bool
	Params demand.Params
	Err    error
}

// Computable reports whether the row can be passed to the solver
func (r Row) Computable() bool {
	return !r.Blank && r.Err == nil
}

// IsBlankRow reports whether a row's first cell is empty or whitespace
func IsBlankRow(cells []string) bool {
	return len(cells) == 0 || strings.TrimSpace(cells[ColQ0]) == ""
}

// ParseRow parses the three input cells of a row
func ParseRow(index int, cells []string) Row {
	row := Row{Index: index}
	if IsBlankRow(cells) {
		row.Blank = true
		return row
	}

	values := [3]float64{}
	for col := ColQ0; col <= ColK; col++ {
		raw := ""
		if col < len(cells) {
			raw = strings.TrimSpace(cells[col])
		}
		if raw == "" {
			row.Err = &ParseError{Row: index, Column: ColumnNames[col]}
			return row
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			row.Err = &ParseError{Row: index, Column: ColumnNames[col], Value: raw, Cause: err}
			return row
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			row.Err = &ParseError{Row: index, Column: ColumnNames[col], Value: raw, Cause: ErrNonFinite}
			return row
		}
		values[col] = v
	}

	row.Params = demand.Params{Q0: values[ColQ0], Alpha: values[ColAlpha], K: values[ColK]}
	return row
}

// ParseGrid parses every row of the grid, preserving order
func ParseGrid(g Grid) []Row {
	rows := make([]Row, len(g))
	for i, cells := range g {
		rows[i] = ParseRow(i, cells)
	}
	return rows
}

// setOutputs writes both output cells, widening a short row first
func setOutputs(g Grid, index int, analytic, approximate string) {
	for len(g[index]) < NumColumns {
		g[index] = append(g[index], "")
	}
	g[index][ColAnalytic] = analytic
	g[index][ColApproximate] = approximate
}

// ExampleGrid returns ten fitted rows sharing K = 5.31159 followed by five
// blank rows.
func ExampleGrid() Grid {
	fitted := [][2]string{
		{"4.1849", "0.00518467"},
		{"6.20081", "0.00315093"},
		{"3.91589", "0.00290809"},
		{"6.19246", "0.00259647"},
		{"6.50739", "0.00252394"},
		{"8.32759", "0.00294164"},
		{"7.14605", "0.00245646"},
		{"10.8495", "0.00260554"},
		{"5.69435", "0.00250289"},
		{"4.92234", "0.00239768"},
	}

	g := NewBlankGrid(len(fitted) + 5)
	for i, f := range fitted {
		g[i][ColQ0] = f[0]
		g[i][ColAlpha] = f[1]
		g[i][ColK] = "5.31159"
	}
	return g
}
