// Package layer implements the layer resolver: dataset-scoped lookup,
// falling back to project-wide, then a single alias hop, then a
// synthesised placeholder. Resolution is total: every referenced layer
// id yields a palette entry.
package layer

import (
	"context"
	"sort"
	"strconv"

	"github.com/layercake/layercake/pkg/log"
	"github.com/layercake/layercake/pkg/model"
	"github.com/layercake/layercake/pkg/store"
)

// Placeholder colors for unresolved layers.
const (
	PlaceholderBackground = "#f7f7f8"
	PlaceholderText       = "#0f172a"
	PlaceholderBorder     = "#1f2933"
)

// Resolver resolves the palette for a computed GraphData's distinct
// layer values.
type Resolver struct {
	store store.Store
	log   log.Logger
}

// New builds a Resolver over st. A nil logger falls back to the
// package default logger.
func New(st store.Store, logger log.Logger) *Resolver {
	return &Resolver{store: st, log: log.OrDefault(logger)}
}

// Resolve returns the palette for every distinct layer value across
// graphID's nodes and edges, sorted by layer_id.
func (r *Resolver) Resolve(ctx context.Context, graphID int64) ([]*model.ProjectLayer, error) {
	gd, err := r.store.GetGraphData(ctx, graphID)
	if err != nil {
		return nil, err
	}
	nodes, err := r.store.GraphDataNodes(ctx, graphID)
	if err != nil {
		return nil, err
	}
	edges, err := r.store.GraphDataEdges(ctx, graphID)
	if err != nil {
		return nil, err
	}

	layerIDs := make(map[string]bool)
	for _, n := range nodes {
		if n.Layer != "" {
			layerIDs[n.Layer] = true
		}
	}
	for _, e := range edges {
		if e.Layer != "" {
			layerIDs[e.Layer] = true
		}
	}

	projectLayers, err := r.store.ProjectLayers(ctx, gd.ProjectID)
	if err != nil {
		return nil, err
	}
	aliases, err := r.store.LayerAliases(ctx, gd.ProjectID)
	if err != nil {
		return nil, err
	}
	aliasByFrom := make(map[string]*model.LayerAlias, len(aliases))
	for _, a := range aliases {
		aliasByFrom[a.FromLayerID] = a
	}
	byKey := make(map[string]*model.ProjectLayer, len(projectLayers))
	for _, pl := range projectLayers {
		byKey[key(pl.LayerID, pl.SourceDatasetID)] = pl
	}
	byID := make(map[int64]*model.ProjectLayer, len(projectLayers))
	for _, pl := range projectLayers {
		byID[pl.ID] = pl
	}

	ids := make([]string, 0, len(layerIDs))
	for id := range layerIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	visitedAliasFrom := make(map[string]bool)
	out := make([]*model.ProjectLayer, 0, len(ids))
	for _, id := range ids {
		resolved := r.resolveOne(id, gd.SourceDatasetID, byKey, byID, aliasByFrom, visitedAliasFrom)
		out = append(out, resolved)
	}
	return out, nil
}

func key(layerID string, sourceDatasetID int64) string {
	return layerID + "\x00" + sourceDatasetIDKey(sourceDatasetID)
}

func sourceDatasetIDKey(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

// resolveOne walks: dataset-scoped -> project-wide -> one alias hop ->
// placeholder. An alias hit yields a copy of the target layer keyed by
// the referenced layerID. The single-hop cap means alias cycles cannot
// loop; when a chain is cut short the break is logged.
func (r *Resolver) resolveOne(
	layerID string,
	sourceDatasetID int64,
	byKey map[string]*model.ProjectLayer,
	byID map[int64]*model.ProjectLayer,
	aliasByFrom map[string]*model.LayerAlias,
	visited map[string]bool,
) *model.ProjectLayer {
	if pl, ok := byKey[key(layerID, sourceDatasetID)]; ok {
		return pl
	}
	if pl, ok := byKey[key(layerID, 0)]; ok {
		return pl
	}
	if !visited[layerID] {
		visited[layerID] = true
		if a, ok := aliasByFrom[layerID]; ok {
			if pl, ok := byID[a.ToProjectLayer]; ok {
				if _, chained := aliasByFrom[pl.LayerID]; chained {
					r.log.Warn("layer alias chain at %q broken after one hop (%q is itself aliased)", layerID, pl.LayerID)
				}
				aliased := *pl
				aliased.LayerID = layerID
				return &aliased
			}
		}
	}
	return &model.ProjectLayer{
		LayerID:         layerID,
		Name:            layerID,
		BackgroundColor: PlaceholderBackground,
		TextColor:       PlaceholderText,
		BorderColor:     PlaceholderBorder,
		Placeholder:     true,
	}
}
