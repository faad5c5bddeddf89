package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/orbitalbio/spacebio/internal/embeddings"
	"github.com/orbitalbio/spacebio/internal/storage"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeKeyword  Mode = "keyword"
	ModeSemantic Mode = "semantic"
)

// Result is one retrieved article with its relevance score.
type Result struct {
	Article *storage.Article `json:"article"`
	Score   float64          `json:"score"`
}

// Retriever answers queries against the article corpus in keyword or
// semantic mode. Semantic mode degrades to keyword mode when no
// embeddings exist yet or no embedder is configured.
type Retriever struct {
	db       *storage.DB
	idx      *Index
	embedder embeddings.Embedder
	log      *slog.Logger
}

// NewRetriever wires the retrieval component. idx and embedder may be
// nil; the retriever degrades accordingly.
func NewRetriever(db *storage.DB, idx *Index, embedder embeddings.Embedder, log *slog.Logger) *Retriever {
	return &Retriever{db: db, idx: idx, embedder: embedder, log: log}
}

// Retrieve returns up to limit articles ordered most relevant first,
// along with the mode actually used. Every call logs one search_queries
// row with that mode and the result count.
func (r *Retriever) Retrieve(ctx context.Context, query string, mode Mode, year, limit int) ([]Result, Mode, error) {
	if limit <= 0 {
		limit = 20
	}

	// Year filtering happens after ranking, so over-fetch to keep the
	// result set full when most top hits fall outside the year.
	fetchLimit := limit
	if year > 0 {
		fetchLimit = limit * 5
	}

	used := mode
	var results []Result
	var err error

	switch mode {
	case ModeSemantic:
		results, used, err = r.semantic(ctx, query, fetchLimit)
	case ModeKeyword, "":
		used = ModeKeyword
		results, err = r.keyword(query, fetchLimit)
	default:
		return nil, mode, fmt.Errorf("unknown search mode %q", mode)
	}
	if err != nil {
		return nil, used, err
	}

	if year > 0 {
		filtered := results[:0]
		for _, res := range results {
			if res.Article.PublicationYear == year {
				filtered = append(filtered, res)
			}
		}
		results = filtered
		if len(results) > limit {
			results = results[:limit]
		}
	}

	if err := r.db.LogSearch(query, string(used), len(results)); err != nil {
		r.log.Warn("log search query", slog.Any("err", err))
	}

	return results, used, nil
}

func (r *Retriever) semantic(ctx context.Context, query string, limit int) ([]Result, Mode, error) {
	if r.embedder == nil {
		r.log.Debug("semantic search unavailable, falling back to keyword")
		results, err := r.keyword(query, limit)
		return results, ModeKeyword, err
	}

	count, err := r.db.CountEmbeddings()
	if err != nil {
		return nil, ModeSemantic, fmt.Errorf("count embeddings: %w", err)
	}
	if count == 0 {
		r.log.Debug("no embeddings stored, falling back to keyword")
		results, err := r.keyword(query, limit)
		return results, ModeKeyword, err
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, ModeSemantic, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := r.db.ListEmbedded()
	if err != nil {
		return nil, ModeSemantic, fmt.Errorf("list embedded articles: %w", err)
	}

	return RankBySimilarity(queryVec, candidates, limit), ModeSemantic, nil
}

func (r *Retriever) keyword(query string, limit int) ([]Result, error) {
	if r.idx != nil {
		if n, err := r.idx.Count(); err == nil && n > 0 {
			return r.keywordIndexed(query, limit)
		}
	}

	// Index missing or empty: substring match straight from the store
	articles, err := r.db.SearchLike(query, limit)
	if err != nil {
		return nil, fmt.Errorf("substring search: %w", err)
	}

	results := make([]Result, 0, len(articles))
	for _, a := range articles {
		results = append(results, Result{Article: a})
	}
	return results, nil
}

func (r *Retriever) keywordIndexed(query string, limit int) ([]Result, error) {
	hits, err := r.idx.Search(query, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		a, err := r.db.GetArticle(hit.ArticleID)
		if err != nil {
			return nil, fmt.Errorf("hydrate article %d: %w", hit.ArticleID, err)
		}
		if a == nil {
			// Indexed but since removed from the store
			continue
		}
		results = append(results, Result{Article: a, Score: hit.Score})
	}

	// Ties broken by descending view count
	for i := 1; i < len(results); i++ {
		j := i
		for j > 0 && results[j-1].Score == results[j].Score &&
			results[j-1].Article.ViewsCount < results[j].Article.ViewsCount {
			results[j-1], results[j] = results[j], results[j-1]
			j--
		}
	}

	return results, nil
}
