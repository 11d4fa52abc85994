// Package export serializes tabular data to CSV and XLSX.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

const (
	ContentTypeCSV  = "text/csv; charset=utf-8"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

const (
	minColWidth = 10
	maxColWidth = 50
)

var ErrNoSheets = errors.New("export: workbook needs at least one sheet")

// Table is one sheet of output. Every row should have len(Columns) cells;
// short rows are padded with empty cells.
type Table struct {
	Sheet   string
	Columns []string
	Rows    [][]string
}

// WriteCSV writes t as RFC 4180 CSV with a header row.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("export csv: write header: %w", err)
	}
	for _, row := range t.Rows {
		if err := cw.Write(pad(row, len(t.Columns))); err != nil {
			return fmt.Errorf("export csv: write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes every table as its own sheet, in order. The header row is
// bold, filled and frozen.
func WriteXLSX(w io.Writer, tables ...Table) error {
	if len(tables) == 0 {
		return ErrNoSheets
	}

	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	})
	if err != nil {
		return fmt.Errorf("export xlsx: header style: %w", err)
	}

	for i, t := range tables {
		name := t.Sheet
		if name == "" {
			name = fmt.Sprintf("Sheet%d", i+1)
		}
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return fmt.Errorf("export xlsx: rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("export xlsx: create sheet %s: %w", name, err)
		}
		if err := writeSheet(f, name, t, headerStyle); err != nil {
			return err
		}
	}
	f.SetActiveSheet(0)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("export xlsx: write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, t Table, headerStyle int) error {
	for col, header := range t.Columns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("export xlsx: header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("export xlsx: set header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("export xlsx: style header %s: %w", cell, err)
		}
	}

	for r, row := range t.Rows {
		row = pad(row, len(t.Columns))
		for col, value := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, r+2)
			if err != nil {
				return fmt.Errorf("export xlsx: data cell: %w", err)
			}
			if err := f.SetCellStr(sheet, cell, value); err != nil {
				return fmt.Errorf("export xlsx: set %s: %w", cell, err)
			}
		}
	}

	for col, width := range ColumnWidths(t) {
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("export xlsx: column name: %w", err)
		}
		if err := f.SetColWidth(sheet, name, name, width); err != nil {
			return fmt.Errorf("export xlsx: column width: %w", err)
		}
	}

	if len(t.Columns) > 0 {
		if err := f.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return fmt.Errorf("export xlsx: freeze header: %w", err)
		}
	}
	return nil
}

// ColumnWidths sizes each column to its longest cell, clamped to a readable
// range.
func ColumnWidths(t Table) []float64 {
	widths := make([]float64, len(t.Columns))
	for i, h := range t.Columns {
		widths[i] = float64(utf8.RuneCountInString(h))
	}
	for _, row := range t.Rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if n := float64(utf8.RuneCountInString(row[i])); n > widths[i] {
				widths[i] = n
			}
		}
	}
	for i, w := range widths {
		w += 2
		if w < minColWidth {
			w = minColWidth
		}
		if w > maxColWidth {
			w = maxColWidth
		}
		widths[i] = w
	}
	return widths
}

func pad(row []string, n int) []string {
	if len(row) >= n {
		return row
	}
	out := make([]string, n)
	copy(out, row)
	return out
}
