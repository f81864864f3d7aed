package hydro

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// maxSheetName is Excel's limit on sheet name length.
const maxSheetName = 31

// SheetName derives a worksheet name from a results file name.
func SheetName(fileName string) string {
	name := strings.TrimSuffix(fileName, ".csv")
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	return name
}

// WriteWorkbook exports result tables to one .xlsx file, a sheet per table in
// argument order. Numeric cells are stored as numbers.
func WriteWorkbook(path string, tables []ResultTable) error {
	if len(tables) == 0 {
		return fmt.Errorf("no result tables to export")
	}
	f := excelize.NewFile()
	defer f.Close()

	seen := make(map[string]bool, len(tables))
	for i, t := range tables {
		sheet := SheetName(t.FileName())
		if seen[sheet] {
			return fmt.Errorf("duplicate sheet %q", sheet)
		}
		seen[sheet] = true
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
		records := t.Records()
		var textCols map[int]bool
		if len(records) > 0 {
			textCols = textColumns(records[0])
		}
		for r, rec := range records {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				return err
			}
			row := make([]interface{}, len(rec))
			for c, v := range rec {
				row[c] = sheetValue(v, r == 0 || textCols[c])
			}
			if err := f.SetSheetRow(sheet, cell, &row); err != nil {
				return fmt.Errorf("sheet %s row %d: %w", sheet, r+1, err)
			}
		}
	}
	f.SetActiveSheet(0)
	return f.SaveAs(path)
}

// textColumns marks identifier columns that stay text whatever they hold.
func textColumns(header []string) map[int]bool {
	out := make(map[int]bool)
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "item", "date":
			out[i] = true
		}
	}
	return out
}

func sheetValue(v string, text bool) interface{} {
	if text || v == "" {
		return v
	}
	// Item keys such as "001" stay text.
	if len(v) > 1 && v[0] == '0' && v[1] != '.' {
		return v
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

// csvTable is a results file read back from disk for export.
type csvTable struct {
	name    string
	records [][]string
}

func (t csvTable) FileName() string    { return t.name }
func (t csvTable) Records() [][]string { return t.records }
