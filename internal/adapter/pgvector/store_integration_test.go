package pgvector_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confluenceqa/internal/adapter/pgvector"
	"confluenceqa/internal/pipeline"
	"confluenceqa/internal/testutils"
)

func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	store := pgvector.NewStore(suite.DB)
	ctx := context.Background()

	entries := []pipeline.Entry{
		{
			Vector:   []float32{1, 0, 0},
			Text:     "To make a space public, open space settings and enable anonymous access.",
			Metadata: map[string]string{"source": "https://wiki/spaces/RD/pages/1", "title": "Space visibility"},
		},
		{
			Vector:   []float32{0, 1, 0},
			Text:     "Blog posts live under the space sidebar.",
			Metadata: map[string]string{"source": "https://wiki/spaces/RD/pages/2", "title": "Blogging"},
		},
	}
	require.NoError(t, store.Upsert(ctx, entries))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, err := store.SimilaritySearch(ctx, []float32{0.9, 0.1, 0}, 4)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Space visibility", results[0].Metadata["title"], "closest vector ranks first")
	assert.Greater(t, results[0].Score, results[1].Score)

	// Re-ingestion appends rather than deduplicates.
	require.NoError(t, store.Upsert(ctx, entries[:1]))
	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
