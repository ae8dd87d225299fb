// Package importer ingests dataset files (CSV/TSV, JSON, XLSX, ODS,
// Parquet) into GraphData children. Column headers map recognised
// names onto typed fields in any order; unrecognised columns become
// attributes.
package importer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/layercake/layercake/pkg/apperr"
	"github.com/layercake/layercake/pkg/model"
)

// recognisedNodeColumns/recognisedEdgeColumns list the header names
// that map to typed GraphDataNode/GraphDataEdge fields; everything
// else becomes an attribute.
var recognisedNodeColumns = map[string]bool{
	"id": true, "label": true, "layer": true, "is_partition": true,
	"belongs_to": true, "weight": true, "comment": true,
}

var recognisedEdgeColumns = map[string]bool{
	"id": true, "source": true, "target": true, "label": true,
	"layer": true, "weight": true, "comment": true,
}

// Result is the parsed output of importing one dataset sheet/file.
type Result struct {
	Nodes []*model.GraphDataNode
	Edges []*model.GraphDataEdge
}

// verify runs the whole-column id checks over a parsed result: every id
// must be a valid word and unique within its column, and every edge
// endpoint must itself be a valid id. Failures are collected and
// reported together rather than aborting at the first bad row.
func (r Result) verify() error {
	ids := make([]string, len(r.Nodes))
	for i, n := range r.Nodes {
		ids[i] = n.ExternalID
	}
	if err := verifyIDColumn(ids); err != nil {
		return err
	}
	ids = make([]string, len(r.Edges))
	for i, e := range r.Edges {
		ids[i] = e.ExternalID
	}
	if err := verifyIDColumn(ids); err != nil {
		return err
	}
	var badEndpoints []string
	for _, e := range r.Edges {
		if !isValidID(e.Source) || !isValidID(e.Target) {
			badEndpoints = append(badEndpoints, e.ExternalID)
		}
	}
	if len(badEndpoints) > 0 {
		return apperr.Validationf("edges with missing or invalid source/target: %q", badEndpoints)
	}
	return nil
}

func verifyIDColumn(ids []string) error {
	seen := make(map[string]bool, len(ids))
	var invalid, duplicates []string
	for _, id := range ids {
		switch {
		case !isValidID(id):
			invalid = append(invalid, id)
		case seen[id]:
			duplicates = append(duplicates, id)
		default:
			seen[id] = true
		}
	}
	if len(invalid) > 0 {
		return apperr.Validationf("missing or invalid ids found in 'id' column: %q", invalid)
	}
	if len(duplicates) > 0 {
		return apperr.Validationf("duplicate ids found in 'id' column: %q", duplicates)
	}
	return nil
}

// isValidID rejects empty, "null", "None" and "NaN" id values and any
// id carrying a character outside letters, digits and underscore.
func isValidID(v string) bool {
	v = strings.TrimSpace(v)
	switch v {
	case "", "null", "None", "NaN":
		return false
	}
	for _, r := range v {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}

func rowToNode(header []string, row []string) *model.GraphDataNode {
	n := &model.GraphDataNode{Attributes: map[string]any{}}
	for i, col := range header {
		if i >= len(row) {
			continue
		}
		v := row[i]
		switch col {
		case "id":
			n.ExternalID = v
		case "label":
			n.Label = v
		case "layer":
			n.Layer = v
		case "is_partition":
			n.IsPartition = v == "true" || v == "1"
		case "belongs_to":
			n.BelongsTo = v
		case "weight":
			n.Weight = parseFloatOr(v, 0)
		case "comment":
			n.Comment = v
		default:
			if v != "" {
				n.Attributes[col] = v
			}
		}
	}
	return n
}

func rowToEdge(header []string, row []string) *model.GraphDataEdge {
	e := &model.GraphDataEdge{Attributes: map[string]any{}}
	for i, col := range header {
		if i >= len(row) {
			continue
		}
		v := row[i]
		switch col {
		case "id":
			e.ExternalID = v
		case "source":
			e.Source = v
		case "target":
			e.Target = v
		case "label":
			e.Label = v
		case "layer":
			e.Layer = v
		case "weight":
			e.Weight = parseFloatOr(v, 0)
		case "comment":
			e.Comment = v
		default:
			if v != "" {
				e.Attributes[col] = v
			}
		}
	}
	return e
}

func parseFloatOr(v string, def float64) float64 {
	var f float64
	if _, err := fmt.Sscanf(v, "%g", &f); err != nil {
		return def
	}
	return f
}
