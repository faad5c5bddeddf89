package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/orbitalbio/spacebio/internal/embeddings"
	"github.com/orbitalbio/spacebio/internal/storage"
)

// embedConcurrency bounds parallel provider calls during the batch job.
const embedConcurrency = 5

// EmbedStats holds batch embedding statistics.
type EmbedStats struct {
	Total     int
	Generated int
	Failed    int
	Duration  time.Duration
}

// EmbedJob generates vectors for articles that do not have one yet.
// The job is idempotent: a re-run only touches missing vectors, and a
// full recompute is just a fresh run after clearing the table.
type EmbedJob struct {
	db       *storage.DB
	embedder embeddings.Embedder
	log      *slog.Logger
}

// NewEmbedJob creates a batch embedding job.
func NewEmbedJob(db *storage.DB, embedder embeddings.Embedder, log *slog.Logger) *EmbedJob {
	return &EmbedJob{db: db, embedder: embedder, log: log}
}

// Run embeds every article missing a vector.
func (j *EmbedJob) Run(ctx context.Context) (*EmbedStats, error) {
	start := time.Now()

	articles, err := j.db.ListUnembedded()
	if err != nil {
		return nil, fmt.Errorf("list unembedded articles: %w", err)
	}

	stats := &EmbedStats{Total: len(articles)}
	j.log.Info("embedding articles", slog.Int("count", len(articles)))

	articleChan := make(chan *storage.Article, len(articles))
	for _, a := range articles {
		articleChan <- a
	}
	close(articleChan)

	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := 0; i < embedConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range articleChan {
				if ctx.Err() != nil {
					return
				}
				if err := j.embedArticle(ctx, a); err != nil {
					j.log.Warn("embedding failed",
						slog.Int64("id", a.ID),
						slog.String("title", a.Title),
						slog.Any("err", err))
					mu.Lock()
					stats.Failed++
					mu.Unlock()
					continue
				}
				mu.Lock()
				stats.Generated++
				if stats.Generated%100 == 0 {
					j.log.Info("embedding progress",
						slog.Int("generated", stats.Generated),
						slog.Int("total", stats.Total))
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start)
	j.log.Info("embedding complete",
		slog.Int("generated", stats.Generated),
		slog.Int("failed", stats.Failed),
		slog.Duration("duration", stats.Duration))

	return stats, nil
}

func (j *EmbedJob) embedArticle(ctx context.Context, a *storage.Article) error {
	// Title carries most of the signal; abstract and scraped full
	// text refine it. The client truncates oversized input.
	text := a.Title
	if a.Abstract != "" {
		text += "\n\n" + a.Abstract
	}
	if a.Content != "" {
		text += "\n\n" + a.Content
	}

	vec, err := j.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	if err := j.db.SetEmbedding(a.ID, embeddings.Serialize(vec)); err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}

	return nil
}
