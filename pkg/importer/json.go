package importer

import (
	"encoding/json"

	"github.com/layercake/layercake/pkg/apperr"
	"github.com/layercake/layercake/pkg/model"
)

// jsonDoc mirrors the top-level {nodes, edges, layers} object JSON
// dataset imports carry.
type jsonDoc struct {
	Nodes  []jsonNode  `json:"nodes"`
	Edges  []jsonEdge  `json:"edges"`
	Layers []jsonLayer `json:"layers"`
}

type jsonNode struct {
	ID          string         `json:"id"`
	Label       string         `json:"label"`
	Layer       string         `json:"layer"`
	IsPartition bool           `json:"is_partition"`
	BelongsTo   string         `json:"belongs_to"`
	Weight      float64        `json:"weight"`
	Comment     string         `json:"comment"`
	Attributes  map[string]any `json:"attributes"`
}

type jsonEdge struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Label      string         `json:"label"`
	Layer      string         `json:"layer"`
	Weight     float64        `json:"weight"`
	Comment    string         `json:"comment"`
	Attributes map[string]any `json:"attributes"`
}

type jsonLayer struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	BackgroundColor string `json:"background_color"`
	TextColor       string `json:"text_color"`
	BorderColor     string `json:"border_color"`
}

// JSONResult extends Result with the optional layers object.
type JSONResult struct {
	Result
	Layers []*model.ProjectLayer
}

// ImportJSON parses a top-level {nodes, edges, layers} document.
func ImportJSON(data []byte) (JSONResult, error) {
	var doc jsonDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return JSONResult{}, apperr.Validationf("invalid JSON dataset: %v", err)
	}

	var out JSONResult
	for _, n := range doc.Nodes {
		out.Nodes = append(out.Nodes, &model.GraphDataNode{
			ExternalID: n.ID, Label: n.Label, Layer: n.Layer, IsPartition: n.IsPartition,
			BelongsTo: n.BelongsTo, Weight: n.Weight, Comment: n.Comment, Attributes: n.Attributes,
		})
	}
	for _, e := range doc.Edges {
		out.Edges = append(out.Edges, &model.GraphDataEdge{
			ExternalID: e.ID, Source: e.Source, Target: e.Target, Label: e.Label,
			Layer: e.Layer, Weight: e.Weight, Comment: e.Comment, Attributes: e.Attributes,
		})
	}
	for _, l := range doc.Layers {
		out.Layers = append(out.Layers, &model.ProjectLayer{
			LayerID: l.ID, Name: l.Name, BackgroundColor: l.BackgroundColor,
			TextColor: l.TextColor, BorderColor: l.BorderColor, Enabled: true,
		})
	}
	if err := out.Result.verify(); err != nil {
		return JSONResult{}, err
	}
	return out, nil
}
