package embedindex_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ctxmem/engine/internal/embedindex"
)

func TestCosineSimilarityIdentical(t *testing.T) {
	v := []float32{1, 0, 0}
	require.InDelta(t, 1.0, embedindex.CosineSimilarity(v, v), 1e-6)
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	require.InDelta(t, 0.0, embedindex.CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
}

func TestCosineSimilarityLengthMismatch(t *testing.T) {
	require.Equal(t, float32(0), embedindex.CosineSimilarity([]float32{1, 2}, []float32{1}))
}

func TestIndexTypeLinearBeforeBuild(t *testing.T) {
	idx := embedindex.New(3, embedindex.DefaultParams())
	idx.Add(1, []float32{1, 0, 0})
	require.Equal(t, "Linear", idx.IndexType())
}

func TestIndexTypeHNSWAfterBuild(t *testing.T) {
	idx := embedindex.New(3, embedindex.DefaultParams())
	idx.Add(1, []float32{1, 0, 0})
	idx.Build()
	require.Equal(t, "HNSW", idx.IndexType())
}

func TestSearchFindsNearestAfterBuild(t *testing.T) {
	idx := embedindex.New(3, embedindex.DefaultParams())
	idx.Add(1, []float32{1, 0, 0})
	idx.Add(2, []float32{0, 1, 0})
	idx.Add(3, []float32{0.9, 0.1, 0})
	idx.Build()

	matches := idx.Search([]float32{1, 0, 0}, 2, 0.5)
	require.NotEmpty(t, matches)
	require.Equal(t, int64(1), matches[0].MessageID)
}

func TestSearchLinearFallbackBeforeBuild(t *testing.T) {
	idx := embedindex.New(3, embedindex.DefaultParams())
	idx.Add(1, []float32{1, 0, 0})
	idx.Add(2, []float32{-1, 0, 0})

	matches := idx.Search([]float32{1, 0, 0}, 5, 0.9)
	require.Len(t, matches, 1)
	require.Equal(t, int64(1), matches[0].MessageID)
}

func TestStatsReportsCountAndDimension(t *testing.T) {
	idx := embedindex.New(0, embedindex.DefaultParams())
	idx.Add(1, []float32{1, 2, 3})
	idx.Add(2, []float32{4, 5, 6})
	count, dim, typ := idx.Stats()
	require.Equal(t, 2, count)
	require.Equal(t, 3, dim)
	require.Equal(t, "Linear", typ)
}
