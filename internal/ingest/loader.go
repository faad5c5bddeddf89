// Package ingest holds the offline jobs: the one-time CSV corpus
// import, the full-text scraper and the re-runnable batch embedding
// job.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/orbitalbio/spacebio/internal/search"
	"github.com/orbitalbio/spacebio/internal/storage"
)

// LoadStats holds CSV import statistics.
type LoadStats struct {
	TotalRows int
	Imported  int
	Skipped   int
	Errors    int
	Duration  time.Duration
}

// Loader imports the publication corpus from CSV into the store and
// the keyword index.
type Loader struct {
	db  *storage.DB
	idx *search.Index
	log *slog.Logger
}

// NewLoader creates a CSV loader. idx may be nil to skip indexing.
func NewLoader(db *storage.DB, idx *search.Index, log *slog.Logger) *Loader {
	return &Loader{db: db, idx: idx, log: log}
}

// LoadCSV imports articles from the given file. Required columns are
// Title and Link; Abstract, Authors (semicolon separated) and Year are
// optional. Rows whose PMC id is already present are skipped, which
// makes a re-run a no-op. With replace set, the corpus is cleared
// first.
func (l *Loader) LoadCSV(path string, replace bool) (*LoadStats, error) {
	start := time.Now()
	stats := &LoadStats{}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	if replace {
		if err := l.db.DeleteAllArticles(); err != nil {
			return nil, fmt.Errorf("clear articles: %w", err)
		}
		l.log.Warn("cleared existing articles")
	}

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := headerIndex(header)
	if _, ok := cols["title"]; !ok {
		return nil, fmt.Errorf("csv is missing a Title column")
	}
	if _, ok := cols["link"]; !ok {
		return nil, fmt.Errorf("csv is missing a Link column")
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			stats.Errors++
			l.log.Warn("skipping malformed row", slog.Any("err", err))
			continue
		}
		stats.TotalRows++

		article := rowToArticle(record, cols)
		if article.Title == "" || article.URL == "" {
			stats.Errors++
			continue
		}

		if article.PMCID != "" {
			existing, err := l.db.GetArticleByPMCID(article.PMCID)
			if err != nil {
				return nil, fmt.Errorf("look up %s: %w", article.PMCID, err)
			}
			if existing != nil {
				stats.Skipped++
				continue
			}
		}

		if _, err := l.db.InsertArticle(article); err != nil {
			stats.Errors++
			l.log.Warn("insert failed",
				slog.String("title", article.Title), slog.Any("err", err))
			continue
		}

		if l.idx != nil {
			if err := l.idx.IndexArticle(article); err != nil {
				stats.Errors++
				l.log.Warn("index failed",
					slog.Int64("id", article.ID), slog.Any("err", err))
				continue
			}
		}

		stats.Imported++
		if stats.Imported%50 == 0 {
			l.log.Info("import progress", slog.Int("imported", stats.Imported))
		}
	}

	stats.Duration = time.Since(start)
	l.log.Info("import complete",
		slog.Int("imported", stats.Imported),
		slog.Int("skipped", stats.Skipped),
		slog.Int("errors", stats.Errors),
		slog.Duration("duration", stats.Duration))

	return stats, nil
}

func headerIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimPrefix(name, "\ufeff") // strip BOM
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return cols
}

func rowToArticle(record []string, cols map[string]int) *storage.Article {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	url := field("link")
	article := &storage.Article{
		Title:    field("title"),
		Abstract: field("abstract"),
		URL:      url,
		PMCID:    ExtractPMCID(url),
		Authors:  []string{},
		Keywords: []string{},
	}

	if raw := field("authors"); raw != "" {
		for _, a := range strings.Split(raw, ";") {
			if a = strings.TrimSpace(a); a != "" {
				article.Authors = append(article.Authors, a)
			}
		}
	}
	if raw := field("year"); raw != "" {
		if year, err := strconv.Atoi(raw); err == nil {
			article.PublicationYear = year
		}
	}

	return article
}

// ExtractPMCID pulls the PMC identifier out of a PMC article URL,
// e.g. https://www.ncbi.nlm.nih.gov/pmc/articles/PMC4136787/ ->
// PMC4136787. Returns "" when the URL has no PMC segment.
func ExtractPMCID(url string) string {
	for _, segment := range strings.Split(strings.TrimRight(url, "/"), "/") {
		if strings.HasPrefix(segment, "PMC") && len(segment) > 3 {
			return segment
		}
	}
	return ""
}
