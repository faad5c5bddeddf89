package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/orbitalbio/spacebio/internal/search"
	"github.com/orbitalbio/spacebio/internal/storage"
)

const (
	// maxContentChars caps the stored full text per article.
	maxContentChars = 50000

	// minParagraphChars filters out navigation and footer crumbs.
	minParagraphChars = 40

	// scrapeRequestsPerSecond keeps the crawl polite towards PMC.
	scrapeRequestsPerSecond = 1.0
)

// ScrapeStats holds full-text fetch statistics.
type ScrapeStats struct {
	Total    int
	Fetched  int
	Skipped  int
	Failed   int
	Duration time.Duration
}

// Scraper fetches article full text from the publication pages and
// stores it for indexing and embedding. Idempotent: only articles
// without content are fetched.
type Scraper struct {
	db      *storage.DB
	idx     *search.Index
	client  *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewScraper creates a full-text scraper. idx may be nil to skip
// reindexing fetched articles.
func NewScraper(db *storage.DB, idx *search.Index, log *slog.Logger) *Scraper {
	return &Scraper{
		db:  db,
		idx: idx,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(scrapeRequestsPerSecond), 1),
		log:     log,
	}
}

// Run fetches full text for every article that has none yet.
func (s *Scraper) Run(ctx context.Context) (*ScrapeStats, error) {
	start := time.Now()

	articles, err := s.db.ListWithoutContent()
	if err != nil {
		return nil, fmt.Errorf("list articles without content: %w", err)
	}

	stats := &ScrapeStats{Total: len(articles)}
	s.log.Info("fetching article content", slog.Int("count", len(articles)))

	for _, a := range articles {
		if err := s.limiter.Wait(ctx); err != nil {
			return stats, err
		}

		content, err := s.fetch(ctx, a.URL)
		if err != nil {
			stats.Failed++
			s.log.Warn("content fetch failed",
				slog.Int64("id", a.ID),
				slog.String("url", a.URL),
				slog.Any("err", err))
			continue
		}
		if content == "" {
			stats.Skipped++
			continue
		}

		if err := s.db.SetContent(a.ID, content); err != nil {
			stats.Failed++
			s.log.Warn("store content failed",
				slog.Int64("id", a.ID), slog.Any("err", err))
			continue
		}

		a.Content = content
		if s.idx != nil {
			if err := s.idx.IndexArticle(a); err != nil {
				s.log.Warn("reindex failed",
					slog.Int64("id", a.ID), slog.Any("err", err))
			}
		}

		stats.Fetched++
		if stats.Fetched%25 == 0 {
			s.log.Info("fetch progress",
				slog.Int("fetched", stats.Fetched),
				slog.Int("total", stats.Total))
		}
	}

	stats.Duration = time.Since(start)
	s.log.Info("content fetch complete",
		slog.Int("fetched", stats.Fetched),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed),
		slog.Duration("duration", stats.Duration))

	return stats, nil
}

func (s *Scraper) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "spacebio/1.0 (research corpus indexer)")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	return ExtractParagraphs(resp.Body)
}

// ExtractParagraphs pulls the readable body text out of an article
// page: the joined text of its <p> elements, short fragments dropped,
// capped at maxContentChars.
func ExtractParagraphs(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var paragraphs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "p" {
			text := nodeText(n)
			if len(text) >= minParagraphChars {
				paragraphs = append(paragraphs, text)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	joined := strings.Join(paragraphs, "\n\n")
	if len(joined) > maxContentChars {
		joined = joined[:maxContentChars]
	}
	return joined, nil
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
