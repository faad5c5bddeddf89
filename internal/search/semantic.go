package search

import (
	"sort"

	"github.com/orbitalbio/spacebio/internal/embeddings"
	"github.com/orbitalbio/spacebio/internal/storage"
)

// RankBySimilarity scores every embedded article against the query
// vector by cosine similarity and returns the top limit results,
// highest first. Candidates with malformed or missing vectors are
// skipped.
func RankBySimilarity(queryVec []float32, candidates []*storage.EmbeddedArticle, limit int) []Result {
	type scored struct {
		article *storage.Article
		score   float32
	}

	scores := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		vec := embeddings.Deserialize(c.Embedding)
		if vec == nil {
			continue
		}
		scores = append(scores, scored{
			article: c.Article,
			score:   embeddings.CosineSimilarity(queryVec, vec),
		})
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		// Equal similarity: prefer the more viewed article
		return scores[i].article.ViewsCount > scores[j].article.ViewsCount
	})

	results := make([]Result, 0, limit)
	for i := 0; i < len(scores) && i < limit; i++ {
		results = append(results, Result{
			Article: scores[i].article,
			Score:   float64(scores[i].score),
		})
	}

	return results
}
