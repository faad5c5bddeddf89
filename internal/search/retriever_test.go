package search_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbitalbio/spacebio/internal/embeddings"
	"github.com/orbitalbio/spacebio/internal/search"
	"github.com/orbitalbio/spacebio/internal/storage"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

// stubEmbedder maps known texts to fixed vectors.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if vec, ok := s.vectors[text]; ok {
		return vec, nil
	}
	return []float32{0, 0, 1}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		vec, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (s *stubEmbedder) Health(context.Context) error { return nil }

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRetrieveKeywordSubstring(t *testing.T) {
	db := openTestDB(t)
	_, err := db.InsertArticle(&storage.Article{
		Title: "Microgravity and muscle atrophy", URL: "https://example.org/1",
	})
	require.NoError(t, err)
	_, err = db.InsertArticle(&storage.Article{
		Title: "Bone density countermeasures", URL: "https://example.org/2",
	})
	require.NoError(t, err)

	r := search.NewRetriever(db, nil, nil, testLog)

	results, used, err := r.Retrieve(context.Background(), "microgravity bone", search.ModeKeyword, 0, 20)
	require.NoError(t, err)
	require.Equal(t, search.ModeKeyword, used)
	require.Len(t, results, 2)
}

func TestRetrieveUnknownMode(t *testing.T) {
	db := openTestDB(t)
	r := search.NewRetriever(db, nil, nil, testLog)

	_, _, err := r.Retrieve(context.Background(), "bone", "fuzzy", 0, 20)
	require.Error(t, err)
}

func TestRetrieveSemanticFallsBackWithoutEmbedder(t *testing.T) {
	db := openTestDB(t)
	_, err := db.InsertArticle(&storage.Article{
		Title: "Radiation shielding biology", URL: "https://example.org/1",
	})
	require.NoError(t, err)

	r := search.NewRetriever(db, nil, nil, testLog)

	results, used, err := r.Retrieve(context.Background(), "radiation", search.ModeSemantic, 0, 20)
	require.NoError(t, err)
	require.Equal(t, search.ModeKeyword, used)
	require.Len(t, results, 1)
}

func TestRetrieveSemanticFallsBackWithoutEmbeddings(t *testing.T) {
	db := openTestDB(t)
	_, err := db.InsertArticle(&storage.Article{
		Title: "Radiation shielding biology", URL: "https://example.org/1",
	})
	require.NoError(t, err)

	r := search.NewRetriever(db, nil, &stubEmbedder{}, testLog)

	results, used, err := r.Retrieve(context.Background(), "radiation", search.ModeSemantic, 0, 20)
	require.NoError(t, err)
	require.Equal(t, search.ModeKeyword, used)
	require.Len(t, results, 1)
}

func TestRetrieveSemanticRanks(t *testing.T) {
	db := openTestDB(t)

	boneID, err := db.InsertArticle(&storage.Article{
		Title: "Bone loss in orbit", URL: "https://example.org/1",
	})
	require.NoError(t, err)
	plantID, err := db.InsertArticle(&storage.Article{
		Title: "Plant growth in space", URL: "https://example.org/2",
	})
	require.NoError(t, err)

	require.NoError(t, db.SetEmbedding(boneID, embeddings.Serialize([]float32{1, 0, 0})))
	require.NoError(t, db.SetEmbedding(plantID, embeddings.Serialize([]float32{0, 1, 0})))

	embedder := &stubEmbedder{vectors: map[string][]float32{
		"bone loss": {0.9, 0.1, 0},
	}}
	r := search.NewRetriever(db, nil, embedder, testLog)

	results, used, err := r.Retrieve(context.Background(), "bone loss", search.ModeSemantic, 0, 20)
	require.NoError(t, err)
	require.Equal(t, search.ModeSemantic, used)
	require.Len(t, results, 2)
	require.Equal(t, boneID, results[0].Article.ID)
	require.Greater(t, results[0].Score, results[1].Score)
}

func TestRetrieveYearFilter(t *testing.T) {
	db := openTestDB(t)

	_, err := db.InsertArticle(&storage.Article{
		Title: "Muscle atrophy 2019", URL: "https://example.org/1", PublicationYear: 2019,
	})
	require.NoError(t, err)
	_, err = db.InsertArticle(&storage.Article{
		Title: "Muscle atrophy 2021", URL: "https://example.org/2", PublicationYear: 2021,
	})
	require.NoError(t, err)

	r := search.NewRetriever(db, nil, nil, testLog)

	results, _, err := r.Retrieve(context.Background(), "muscle", search.ModeKeyword, 2021, 20)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 2021, results[0].Article.PublicationYear)
}

func TestRetrieveYearFilterBeyondTopHits(t *testing.T) {
	db := openTestDB(t)

	// Higher-viewed off-year article would monopolize a top-1 fetch
	popular, err := db.InsertArticle(&storage.Article{
		Title: "Bone loss overview", URL: "https://example.org/1", PublicationYear: 2021,
	})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.IncrementViews(popular))
	}
	_, err = db.InsertArticle(&storage.Article{
		Title: "Bone loss early findings", URL: "https://example.org/2", PublicationYear: 2015,
	})
	require.NoError(t, err)

	r := search.NewRetriever(db, nil, nil, testLog)

	results, _, err := r.Retrieve(context.Background(), "bone", search.ModeKeyword, 2015, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 2015, results[0].Article.PublicationYear)
}

func TestRetrieveLogsQuery(t *testing.T) {
	db := openTestDB(t)
	r := search.NewRetriever(db, nil, nil, testLog)

	_, used, err := r.Retrieve(context.Background(), "osteoporosis", search.ModeSemantic, 0, 20)
	require.NoError(t, err)
	require.Equal(t, search.ModeKeyword, used) // no embedder configured

	top, err := db.TopQueries(10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	require.Equal(t, "osteoporosis", top[0].QueryText)
}

func TestIndexSearchAndRebuild(t *testing.T) {
	db := openTestDB(t)

	boneID, err := db.InsertArticle(&storage.Article{
		Title: "Bone density countermeasures in microgravity", URL: "https://example.org/1",
	})
	require.NoError(t, err)
	_, err = db.InsertArticle(&storage.Article{
		Title: "Plant transcriptome responses", URL: "https://example.org/2",
	})
	require.NoError(t, err)

	idx, err := search.Open(filepath.Join(t.TempDir(), "bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	require.NoError(t, idx.Rebuild(db, nil))

	count, err := idx.Count()
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	hits, err := idx.Search("bone", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, boneID, hits[0].ArticleID)

	r := search.NewRetriever(db, idx, nil, testLog)
	results, used, err := r.Retrieve(context.Background(), "bone", search.ModeKeyword, 0, 20)
	require.NoError(t, err)
	require.Equal(t, search.ModeKeyword, used)
	require.Len(t, results, 1)
	require.Equal(t, "Bone density countermeasures in microgravity", results[0].Article.Title)
	require.Positive(t, results[0].Score)
}
