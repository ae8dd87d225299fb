package importer

import (
	"bytes"
	"encoding/csv"
	"io"

	"github.com/layercake/layercake/pkg/apperr"
	"github.com/layercake/layercake/pkg/model"
)

// ImportCSV parses CSV/TSV bytes: header row required, recognised
// node/edge columns mapped to typed fields, everything else becomes an
// attribute. dataType selects whether rows are nodes or edges;
// delimiter is ',' for CSV and '\t' for TSV.
func ImportCSV(data []byte, dataType model.DataType, delimiter rune) (Result, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delimiter
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return Result{}, apperr.Validationf("CSV/TSV input has no header row")
	}
	if err != nil {
		return Result{}, apperr.Validationf("failed to read CSV/TSV header: %v", err)
	}

	var out Result
	rowNum := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, apperr.Validationf("failed to read row %d: %v", rowNum, err)
		}
		rowNum++

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

// UnrecognisedNodeColumns/UnrecognisedEdgeColumns report which header
// columns will be treated as attributes, useful for import previews.
func UnrecognisedNodeColumns(header []string) []string {
	return unrecognised(header, recognisedNodeColumns)
}

func UnrecognisedEdgeColumns(header []string) []string {
	return unrecognised(header, recognisedEdgeColumns)
}

func unrecognised(header []string, known map[string]bool) []string {
	var out []string
	for _, h := range header {
		if !known[h] {
			out = append(out, h)
		}
	}
	return out
}
