package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcrt-io/rcrt/pkg/models"
	"github.com/rcrt-io/rcrt/pkg/store"
	"github.com/rcrt-io/rcrt/test/util"
)

// unitVec returns an 8-dim unit vector pointing along the given axis.
func unitVec(axis int) []float32 {
	v := make([]float32, 8)
	v[axis] = 1
	return v
}

func TestVectorSearchOrdersBySimilarity(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	tdb := util.SetupTestDatabase(t, 8)
	ctx := context.Background()
	_, agent := seedTenant(t, tdb.Store)

	seed := func(title string, vec []float32) *models.Breadcrumb {
		t.Helper()
		bc, _, err := tdb.Store.CreateBreadcrumb(ctx, agent, models.CreateBreadcrumbRequest{
			Title:   title,
			Context: map[string]any{"t": title},
		}, "")
		require.NoError(t, err)
		if vec != nil {
			require.NoError(t, tdb.Store.UpdateEmbedding(ctx, bc.ID, vec))
		}
		return bc
	}

	near := seed("near", []float32{0.9, 0.1, 0, 0, 0, 0, 0, 0})
	far := seed("far", unitVec(7))
	seed("unembedded", nil)

	results, err := tdb.Store.VectorSearch(ctx, agent, unitVec(0), store.SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, near.ID, results[0].Breadcrumb.ID)
	assert.Equal(t, far.ID, results[1].Breadcrumb.ID)
	assert.Greater(t, results[0].Score, results[1].Score)

	// A threshold prunes the orthogonal record.
	results, err = tdb.Store.VectorSearch(ctx, agent, unitVec(0), store.SearchOptions{
		Limit:     10,
		Threshold: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, near.ID, results[0].Breadcrumb.ID)
}

func TestVectorSearchRejectsWrongDimension(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	tdb := util.SetupTestDatabase(t, 8)
	ctx := context.Background()
	_, agent := seedTenant(t, tdb.Store)

	_, err := tdb.Store.VectorSearch(ctx, agent, []float32{1, 2, 3}, store.SearchOptions{})
	assert.Error(t, err)
}

func TestHybridSearchBlendsKeywordOverlap(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	tdb := util.SetupTestDatabase(t, 8)
	ctx := context.Background()
	_, agent := seedTenant(t, tdb.Store)

	// Two records equally distant from the query vector; only one
	// carries the entity keywords the query mentions.
	seed := func(title string, vec []float32, keywords []string) *models.Breadcrumb {
		t.Helper()
		bc, _, err := tdb.Store.CreateBreadcrumb(ctx, agent, models.CreateBreadcrumbRequest{
			Title:   title,
			Context: map[string]any{"t": title},
		}, "")
		require.NoError(t, err)
		require.NoError(t, tdb.Store.UpdateEmbedding(ctx, bc.ID, vec))
		if keywords != nil {
			require.NoError(t, tdb.Store.UpdateEntityKeywords(ctx, bc.ID, keywords))
		}
		return bc
	}

	tagged := seed("tagged", unitVec(1), []string{"payments-api", "invoice"})
	plain := seed("plain", unitVec(2), nil)

	results, err := tdb.Store.HybridSearch(ctx, agent, unitVec(0),
		[]string{"payments-api"}, store.SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, tagged.ID, results[0].Breadcrumb.ID)
	assert.Equal(t, plain.ID, results[1].Breadcrumb.ID)
	assert.Greater(t, results[0].KeywordScore, results[1].KeywordScore)
}
