package search_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbitalbio/spacebio/internal/embeddings"
	"github.com/orbitalbio/spacebio/internal/search"
	"github.com/orbitalbio/spacebio/internal/storage"
)

func embedded(id int64, views int64, vec []float32) *storage.EmbeddedArticle {
	return &storage.EmbeddedArticle{
		Article:   &storage.Article{ID: id, ViewsCount: views},
		Embedding: embeddings.Serialize(vec),
	}
}

func TestRankBySimilarityOrder(t *testing.T) {
	query := []float32{1, 0, 0}
	candidates := []*storage.EmbeddedArticle{
		embedded(1, 0, []float32{0, 1, 0}),
		embedded(2, 0, []float32{1, 0.1, 0}),
		embedded(3, 0, []float32{0.5, 0.5, 0}),
	}

	results := search.RankBySimilarity(query, candidates, 10)
	require.Len(t, results, 3)
	require.EqualValues(t, 2, results[0].Article.ID)
	require.EqualValues(t, 3, results[1].Article.ID)
	require.EqualValues(t, 1, results[2].Article.ID)
	require.Greater(t, results[0].Score, results[1].Score)
}

func TestRankBySimilarityLimit(t *testing.T) {
	query := []float32{1, 0}
	candidates := []*storage.EmbeddedArticle{
		embedded(1, 0, []float32{1, 0}),
		embedded(2, 0, []float32{0.9, 0.1}),
		embedded(3, 0, []float32{0.8, 0.2}),
	}

	results := search.RankBySimilarity(query, candidates, 2)
	require.Len(t, results, 2)
}

func TestRankBySimilaritySkipsMalformed(t *testing.T) {
	query := []float32{1, 0}
	candidates := []*storage.EmbeddedArticle{
		{Article: &storage.Article{ID: 1}, Embedding: []byte{1, 2, 3}},
		embedded(2, 0, []float32{1, 0}),
	}

	results := search.RankBySimilarity(query, candidates, 10)
	require.Len(t, results, 1)
	require.EqualValues(t, 2, results[0].Article.ID)
}

func TestRankBySimilarityViewTieBreak(t *testing.T) {
	query := []float32{1, 0}
	candidates := []*storage.EmbeddedArticle{
		embedded(1, 2, []float32{1, 0}),
		embedded(2, 9, []float32{2, 0}), // same direction, same similarity
	}

	results := search.RankBySimilarity(query, candidates, 10)
	require.Len(t, results, 2)
	require.EqualValues(t, 2, results[0].Article.ID)
}
