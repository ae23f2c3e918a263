package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ParseXLSX reads the first sheet of an XLSX workbook.
func ParseXLSX(b []byte) (Table, error) {
	f, err := xlsx.OpenBinary(b)
	if err != nil {
		return Table{}, eris.Wrap(err, "fetcher: open xlsx")
	}
	return sheetTable(f)
}

// ReadXLSXFile reads the first sheet of an XLSX file on disk.
func ReadXLSXFile(path string) (Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return Table{}, eris.Wrapf(err, "fetcher: open xlsx %s", path)
	}
	return sheetTable(f)
}

func sheetTable(f *xlsx.File) (Table, error) {
	if len(f.Sheets) == 0 {
		return Table{}, eris.New("fetcher: workbook has no sheets")
	}
	sheet := f.Sheets[0]
	records := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if row == nil {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		records = append(records, trimRecord(cells))
	}
	return tableFrom(records), nil
}
