package layer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/layercake/layercake/pkg/model"
	"github.com/layercake/layercake/pkg/store/memory"
)

func TestResolveFallsBackToProjectWideThenAliasThenPlaceholder(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	defer st.Close()

	proj, err := st.CreateProject(ctx, &model.Project{Name: "demo"})
	require.NoError(t, err)
	gd, err := st.CreateGraphData(ctx, &model.GraphData{ProjectID: proj.ID, SourceType: model.SourceComputed})
	require.NoError(t, err)
	require.NoError(t, st.ReplaceChildren(ctx, gd.ID,
		[]*model.GraphDataNode{{ExternalID: "a", Layer: "people"}, {ExternalID: "b", Layer: "legacy"}, {ExternalID: "c", Layer: "unknown"}},
		nil))

	_, err = st.UpsertProjectLayer(ctx, &model.ProjectLayer{ProjectID: proj.ID, LayerID: "people", Name: "People", BackgroundColor: "#ffffff"})
	require.NoError(t, err)
	orgs, err := st.UpsertProjectLayer(ctx, &model.ProjectLayer{ProjectID: proj.ID, LayerID: "organizations", Name: "Orgs", BackgroundColor: "#aaaaaa"})
	require.NoError(t, err)
	_, err = st.UpsertLayerAlias(ctx, &model.LayerAlias{ProjectID: proj.ID, FromLayerID: "legacy", ToProjectLayer: orgs.ID})
	require.NoError(t, err)

	r := New(st, nil)
	palette, err := r.Resolve(ctx, gd.ID)
	require.NoError(t, err)
	require.Len(t, palette, 3)

	byID := make(map[string]*model.ProjectLayer, 3)
	for _, p := range palette {
		byID[p.LayerID] = p
	}
	require.Equal(t, "#ffffff", byID["people"].BackgroundColor)
	require.Equal(t, "Orgs", byID["legacy"].Name)
	require.True(t, byID["unknown"].Placeholder)
	require.Equal(t, PlaceholderBackground, byID["unknown"].BackgroundColor)

	// sorted by layer_id ascending
	require.Equal(t, "legacy", palette[0].LayerID)
	require.Equal(t, "people", palette[1].LayerID)
	require.Equal(t, "unknown", palette[2].LayerID)
}

func TestResolvePrefersDatasetScopedOverProjectWide(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	defer st.Close()

	proj, err := st.CreateProject(ctx, &model.Project{Name: "demo"})
	require.NoError(t, err)

	dataset, err := st.CreateGraphData(ctx, &model.GraphData{ProjectID: proj.ID, SourceType: model.SourceDataset})
	require.NoError(t, err)

	computed, err := st.CreateGraphData(ctx, &model.GraphData{
		ProjectID: proj.ID, SourceType: model.SourceComputed, SourceDatasetID: dataset.ID,
	})
	require.NoError(t, err)
	require.NoError(t, st.ReplaceChildren(ctx, computed.ID,
		[]*model.GraphDataNode{{ExternalID: "a", Layer: "people"}}, nil))

	_, err = st.UpsertProjectLayer(ctx, &model.ProjectLayer{ProjectID: proj.ID, LayerID: "people", Name: "People", BackgroundColor: "#ffffff"})
	require.NoError(t, err)
	_, err = st.UpsertProjectLayer(ctx, &model.ProjectLayer{
		ProjectID: proj.ID, LayerID: "people", SourceDatasetID: dataset.ID, Name: "People (scoped)", BackgroundColor: "#111111",
	})
	require.NoError(t, err)

	r := New(st, nil)
	palette, err := r.Resolve(ctx, computed.ID)
	require.NoError(t, err)
	require.Len(t, palette, 1)
	require.Equal(t, "People (scoped)", palette[0].Name)
	require.Equal(t, "#111111", palette[0].BackgroundColor)
}
