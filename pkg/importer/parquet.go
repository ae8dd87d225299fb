package importer

import (
	"bytes"

	"github.com/parquet-go/parquet-go"

	"github.com/layercake/layercake/pkg/apperr"
	"github.com/layercake/layercake/pkg/model"
)

// parquetNodeRow/parquetEdgeRow cover the recognised columns only;
// arbitrary attribute columns are not supported for Parquet imports,
// unlike CSV/XLSX/JSON, since column sets for Parquet are fixed by
// schema rather than discovered at read time.
type parquetNodeRow struct {
	ID          string  `parquet:"id"`
	Label       string  `parquet:"label"`
	Layer       string  `parquet:"layer"`
	IsPartition bool    `parquet:"is_partition"`
	BelongsTo   string  `parquet:"belongs_to"`
	Weight      float64 `parquet:"weight"`
	Comment     string  `parquet:"comment"`
}

type parquetEdgeRow struct {
	ID      string  `parquet:"id"`
	Source  string  `parquet:"source"`
	Target  string  `parquet:"target"`
	Label   string  `parquet:"label"`
	Layer   string  `parquet:"layer"`
	Weight  float64 `parquet:"weight"`
	Comment string  `parquet:"comment"`
}

// ImportParquet reads a Parquet file of node or edge rows.
func ImportParquet(data []byte, dataType model.DataType) (Result, error) {
	var out Result
	reader := bytes.NewReader(data)

	switch dataType {
	case model.DataTypeEdges:
		rows, err := parquet.Read[parquetEdgeRow](reader, int64(len(data)))
		if err != nil {
			return Result{}, apperr.Validationf("failed to read Parquet edges: %v", err)
		}
		for _, r := range rows {
			out.Edges = append(out.Edges, &model.GraphDataEdge{
				ExternalID: r.ID, Source: r.Source, Target: r.Target, Label: r.Label,
				Layer: r.Layer, Weight: r.Weight, Comment: r.Comment,
			})
		}
	default:
		rows, err := parquet.Read[parquetNodeRow](reader, int64(len(data)))
		if err != nil {
			return Result{}, apperr.Validationf("failed to read Parquet nodes: %v", err)
		}
		for _, r := range rows {
			out.Nodes = append(out.Nodes, &model.GraphDataNode{
				ExternalID: r.ID, Label: r.Label, Layer: r.Layer, IsPartition: r.IsPartition,
				BelongsTo: r.BelongsTo, Weight: r.Weight, Comment: r.Comment,
			})
		}
	}
	if err := out.verify(); err != nil {
		return Result{}, err
	}
	return out, nil
}
