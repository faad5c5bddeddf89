package search

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/orbitalbio/spacebio/internal/storage"
)

// Index wraps a Bleve keyword index over the article corpus.
type Index struct {
	index bleve.Index
}

// IndexedArticle represents an article in the search index
type IndexedArticle struct {
	ID       string
	Title    string
	Abstract string
	Authors  string
	Content  string
	Year     int
}

// Hit is one keyword match: article id plus relevance score.
type Hit struct {
	ArticleID int64
	Score     float64
}

// Open opens or creates a Bleve index
func Open(path string) (*Index, error) {
	var idx bleve.Index
	var err error

	idx, err = bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		indexMapping := buildIndexMapping()
		idx, err = bleve.New(path, indexMapping)
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	return &Index{index: idx}, nil
}

// buildIndexMapping creates the index mapping for article fields
func buildIndexMapping() mapping.IndexMapping {
	textFieldMapping := bleve.NewTextFieldMapping()

	titleFieldMapping := bleve.NewTextFieldMapping()
	titleFieldMapping.Analyzer = "en" // English analyzer for better stemming

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("ID", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("Title", titleFieldMapping)
	docMapping.AddFieldMappingsAt("Abstract", textFieldMapping)
	docMapping.AddFieldMappingsAt("Authors", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("Content", textFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("_default", docMapping)

	return indexMapping
}

// Close closes the index
func (i *Index) Close() error {
	return i.index.Close()
}

// IndexArticle adds or updates an article in the index
func (i *Index) IndexArticle(a *storage.Article) error {
	return i.index.Index(strconv.FormatInt(a.ID, 10), toIndexed(a))
}

// Delete removes an article from the index
func (i *Index) Delete(articleID int64) error {
	return i.index.Delete(strconv.FormatInt(articleID, 10))
}

// Search performs a keyword search and returns scored article ids.
// The query string supports quotes, boolean operators and fuzzy ~.
func (i *Index) Search(queryStr string, limit int) ([]Hit, error) {
	query := bleve.NewQueryStringQuery(queryStr)
	search := bleve.NewSearchRequestOptions(query, limit, 0, false)

	results, err := i.index.Search(search)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	hits := make([]Hit, 0, len(results.Hits))
	for _, hit := range results.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue // not one of ours
		}
		hits = append(hits, Hit{ArticleID: id, Score: hit.Score})
	}

	return hits, nil
}

// Rebuild reindexes every article from the store in a single batch.
func (i *Index) Rebuild(db *storage.DB, progress func(current, total int)) error {
	articles, err := db.ListArticles()
	if err != nil {
		return fmt.Errorf("list articles: %w", err)
	}

	batch := i.index.NewBatch()
	for n, a := range articles {
		if err := batch.Index(strconv.FormatInt(a.ID, 10), toIndexed(a)); err != nil {
			return fmt.Errorf("batch index %d: %w", a.ID, err)
		}
		if progress != nil {
			progress(n+1, len(articles))
		}
	}

	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	return nil
}

// Count returns the number of articles in the index
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}

func toIndexed(a *storage.Article) *IndexedArticle {
	return &IndexedArticle{
		ID:       strconv.FormatInt(a.ID, 10),
		Title:    a.Title,
		Abstract: a.Abstract,
		Authors:  strings.Join(a.Authors, ", "),
		Content:  a.Content,
		Year:     a.PublicationYear,
	}
}
