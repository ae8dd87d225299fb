package importer

import (
	"bytes"

	"github.com/xuri/excelize/v2"

	"github.com/layercake/layercake/pkg/apperr"
	"github.com/layercake/layercake/pkg/model"
)

// ImportXLSX parses an XLSX workbook where one sheet holds one dataset:
// first row is the header, sheet name is the dataset name. sheetName
// selects which sheet to import; dataType distinguishes node vs edge
// rows the same way ImportCSV does.
func ImportXLSX(data []byte, sheetName string, dataType model.DataType) (Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return Result{}, apperr.Validationf("failed to open XLSX: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return Result{}, apperr.Validationf("sheet %q not found: %v", sheetName, err)
	}
	if len(rows) == 0 {
		return Result{}, apperr.Validationf("sheet %q has no header row", sheetName)
	}
	header := rows[0]

	var out Result
	for _, row := range rows[1:] {
		if isBlankRow(row) {
			continue
		}
		switch dataType {
		case model.DataTypeEdges:
			out.Edges = append(out.Edges, rowToEdge(header, row))
		default:
			out.Nodes = append(out.Nodes, rowToNode(header, row))
		}
	}
	if err := out.verify(); err != nil {
		return Result{}, err
	}
	return out, nil
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}
