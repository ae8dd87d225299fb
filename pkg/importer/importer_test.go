package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layercake/layercake/pkg/model"
)

func TestImportCSVNodesMapsRecognisedAndExtraColumns(t *testing.T) {
	data := []byte("id,label,layer,extra\na,Alpha,people,hello\n")
	res, err := ImportCSV(data, model.DataTypeNodes, ',')
	require.NoError(t, err)
	require.Len(t, res.Nodes, 1)
	n := res.Nodes[0]
	assert.Equal(t, "a", n.ExternalID)
	assert.Equal(t, "Alpha", n.Label)
	assert.Equal(t, "people", n.Layer)
	assert.Equal(t, "hello", n.Attributes["extra"])
}

func TestImportCSVRejectsInvalidID(t *testing.T) {
	data := []byte("id,label\n,Alpha\n")
	_, err := ImportCSV(data, model.DataTypeNodes, ',')
	require.Error(t, err)
}

func TestImportCSVRejectsDuplicateIDs(t *testing.T) {
	data := []byte("id,label\na,Alpha\na,AlphaAgain\n")
	_, err := ImportCSV(data, model.DataTypeNodes, ',')
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate ids")
	assert.Contains(t, err.Error(), `"a"`)
}

func TestImportCSVRejectsNonWordIDs(t *testing.T) {
	data := []byte("id,label\nsvc-auth,Alpha\n")
	_, err := ImportCSV(data, model.DataTypeNodes, ',')
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing or invalid ids")

	data = []byte("id,label\nsvc_auth,Alpha\n")
	res, err := ImportCSV(data, model.DataTypeNodes, ',')
	require.NoError(t, err)
	require.Len(t, res.Nodes, 1)
}

func TestImportTSVEdges(t *testing.T) {
	data := []byte("id\tsource\ttarget\tweight\ne1\ta\tb\t2.5\n")
	res, err := ImportCSV(data, model.DataTypeEdges, '\t')
	require.NoError(t, err)
	require.Len(t, res.Edges, 1)
	assert.Equal(t, "a", res.Edges[0].Source)
	assert.Equal(t, 2.5, res.Edges[0].Weight)
}

func TestImportJSONParsesNodesEdgesLayers(t *testing.T) {
	data := []byte(`{
		"nodes": [{"id": "a", "label": "Alpha"}],
		"edges": [{"id": "e1", "source": "a", "target": "a"}],
		"layers": [{"id": "people", "name": "People"}]
	}`)
	res, err := ImportJSON(data)
	require.NoError(t, err)
	require.Len(t, res.Nodes, 1)
	require.Len(t, res.Edges, 1)
	require.Len(t, res.Layers, 1)
	assert.Equal(t, "People", res.Layers[0].Name)
}

func TestImportJSONRejectsInvalidEdgeEndpoint(t *testing.T) {
	data := []byte(`{"nodes": [], "edges": [{"id": "e1", "source": "", "target": "b"}]}`)
	_, err := ImportJSON(data)
	require.Error(t, err)
}
