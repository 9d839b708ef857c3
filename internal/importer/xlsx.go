package importer

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// rowsFromXLSX extracts header and data records from the first sheet of an
// XLSX payload. Fully empty rows are skipped so trailing formatting rows do
// not stage as invalid data.
func rowsFromXLSX(data []byte) ([]string, [][]string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, nil, eris.Wrap(err, "xlsx: open workbook")
	}
	if len(f.Sheets) == 0 {
		return nil, nil, eris.New("xlsx: workbook has no sheets")
	}

	var (
		header  []string
		records [][]string
	)
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		empty := true
		for j, cell := range row.Cells {
			cells[j] = cell.String()
			if strings.TrimSpace(cells[j]) != "" {
				empty = false
			}
		}
		if empty {
			continue
		}
		if header == nil {
			header = cells
			continue
		}
		records = append(records, cells)
	}
	if header == nil {
		return nil, nil, eris.New("xlsx: sheet has no header row")
	}
	return header, records, nil
}
