// Package synthesis implements the research synthesis and literature
// review workflows: a linear pipeline of topic gating, source
// retrieval and conditioned generation.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/orbitalbio/spacebio/internal/ai"
	"github.com/orbitalbio/spacebio/internal/search"
	"github.com/orbitalbio/spacebio/internal/storage"
)

var (
	// ErrOffTopic rejects a request outside the space-biology domain.
	ErrOffTopic = errors.New("topic is outside the space biology domain")

	// ErrNoSources rejects a request with no matching source articles.
	// Generation never runs without at least MinSources real matches.
	ErrNoSources = errors.New("no matching source articles found")

	// ErrInvalidRequest flags malformed request parameters.
	ErrInvalidRequest = errors.New("invalid request")
)

// MinSources is the minimum number of matching source articles required
// before generation runs.
const MinSources = 1

// retrievalLimit is how many candidate sources a synthesis request
// pulls from the corpus.
const retrievalLimit = 5

// minSimilarity is the relevance floor for semantic source matches.
// Cosine ranking is unthresholded top-K, so without a floor any
// non-empty corpus produces "matches" for arbitrary topics.
const minSimilarity = 0.3

var (
	validTypes   = map[string]bool{"review": true, "research": true, "protocol": true}
	validLengths = map[string]bool{"short": true, "medium": true, "long": true}
	validStyles  = map[string]bool{"academic": true, "executive": true, "technical": true}
)

// Request describes one synthesis request.
type Request struct {
	Topic       string `json:"topic"`
	ArticleType string `json:"type"`
	Length      string `json:"length"`
	Style       string `json:"style"`
}

// ReviewRequest describes one literature review request.
type ReviewRequest struct {
	Topic       string `json:"topic"`
	YearFrom    int    `json:"year_from"`
	YearTo      int    `json:"year_to"`
	MaxArticles int    `json:"max_articles"`
}

// SourceRef identifies one source article used by a review.
type SourceRef struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Year  int    `json:"year,omitempty"`
}

// Review is a structured literature review. Not persisted.
type Review struct {
	Topic   string      `json:"topic"`
	Content string      `json:"content"`
	Sources []SourceRef `json:"sources"`
}

// Generator runs the synthesis workflow.
type Generator struct {
	db        *storage.DB
	retriever *search.Retriever
	gateway   *ai.Gateway
	guard     *ai.Guard
	log       *slog.Logger

	maxTokens   int
	temperature float64
}

// NewGenerator wires the synthesis workflow.
func NewGenerator(db *storage.DB, retriever *search.Retriever, gateway *ai.Gateway,
	guard *ai.Guard, log *slog.Logger, maxTokens int, temperature float64) *Generator {
	return &Generator{
		db:          db,
		retriever:   retriever,
		gateway:     gateway,
		guard:       guard,
		log:         log,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Generate runs the linear synthesis pipeline. Failures at validation,
// gating or retrieval are terminal and happen before any generation
// call.
func (g *Generator) Generate(ctx context.Context, req Request) (*storage.GeneratedArticle, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	if !g.guard.Allow(ctx, req.Topic) {
		return nil, ErrOffTopic
	}

	sources, used, err := g.retriever.Retrieve(ctx, req.Topic, search.ModeSemantic, 0, retrievalLimit)
	if err != nil {
		return nil, fmt.Errorf("retrieve sources: %w", err)
	}
	sources = relevantSources(sources, used)
	if len(sources) < MinSources {
		return nil, ErrNoSources
	}

	sourceLines := make([]string, 0, len(sources))
	for _, src := range sources {
		sourceLines = append(sourceLines, ai.SourceLine(src.Article.Title, src.Article.Abstract))
	}

	start := time.Now()
	content, err := g.gateway.Complete(ctx, ai.Request{
		Messages:    ai.SynthesisPrompt(req.Topic, req.ArticleType, req.Length, req.Style, sourceLines),
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("generate article: %w", err)
	}
	elapsed := time.Since(start)

	title, body := ai.ParseTitle(content)
	if title == "" {
		title = req.Topic
		body = content
	}

	generated := &storage.GeneratedArticle{
		Title:             title,
		Content:           body,
		Topic:             req.Topic,
		ArticleType:       req.ArticleType,
		Length:            req.Length,
		Style:             req.Style,
		SourceCount:       len(sources),
		GenerationSeconds: elapsed.Seconds(),
	}
	if _, err := g.db.InsertGenerated(generated); err != nil {
		return nil, fmt.Errorf("save generated article: %w", err)
	}

	g.log.Info("article generated",
		slog.String("topic", req.Topic),
		slog.Int("sources", len(sources)),
		slog.Duration("elapsed", elapsed))

	return generated, nil
}

// GenerateReview produces a structured literature review over sources
// within the requested year range. Same gating and no-sources rules as
// Generate; the result is not persisted.
func (g *Generator) GenerateReview(ctx context.Context, req ReviewRequest) (*Review, error) {
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidRequest)
	}
	if req.YearFrom > 0 && req.YearTo > 0 && req.YearFrom > req.YearTo {
		return nil, fmt.Errorf("%w: year range is inverted", ErrInvalidRequest)
	}
	if req.MaxArticles <= 0 {
		req.MaxArticles = 10
	}

	if !g.guard.Allow(ctx, req.Topic) {
		return nil, ErrOffTopic
	}

	candidates, used, err := g.retriever.Retrieve(ctx, req.Topic, search.ModeSemantic, 0, req.MaxArticles*2)
	if err != nil {
		return nil, fmt.Errorf("retrieve sources: %w", err)
	}
	candidates = relevantSources(candidates, used)

	var sources []search.Result
	for _, c := range candidates {
		year := c.Article.PublicationYear
		if req.YearFrom > 0 && year > 0 && year < req.YearFrom {
			continue
		}
		if req.YearTo > 0 && year > 0 && year > req.YearTo {
			continue
		}
		sources = append(sources, c)
		if len(sources) >= req.MaxArticles {
			break
		}
	}

	if len(sources) < MinSources {
		return nil, ErrNoSources
	}

	sourceLines := make([]string, 0, len(sources))
	refs := make([]SourceRef, 0, len(sources))
	for _, src := range sources {
		sourceLines = append(sourceLines, ai.SourceLine(src.Article.Title, src.Article.Abstract))
		refs = append(refs, SourceRef{
			ID:    src.Article.ID,
			Title: src.Article.Title,
			Year:  src.Article.PublicationYear,
		})
	}

	content, err := g.gateway.Complete(ctx, ai.Request{
		Messages:    ai.ReviewPrompt(req.Topic, req.YearFrom, req.YearTo, sourceLines),
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("generate review: %w", err)
	}

	return &Review{Topic: req.Topic, Content: content, Sources: refs}, nil
}

// relevantSources drops semantic matches below the similarity floor.
// Keyword results pass through: their scores are not cosine values.
func relevantSources(results []search.Result, used search.Mode) []search.Result {
	if used != search.ModeSemantic {
		return results
	}
	kept := results[:0]
	for _, res := range results {
		if res.Score >= minSimilarity {
			kept = append(kept, res)
		}
	}
	return kept
}

func (r *Request) normalize() error {
	r.Topic = strings.TrimSpace(r.Topic)
	if r.Topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidRequest)
	}

	if r.ArticleType == "" {
		r.ArticleType = "review"
	}
	if r.Length == "" {
		r.Length = "medium"
	}
	if r.Style == "" {
		r.Style = "academic"
	}

	if !validTypes[r.ArticleType] {
		return fmt.Errorf("%w: unknown article type %q", ErrInvalidRequest, r.ArticleType)
	}
	if !validLengths[r.Length] {
		return fmt.Errorf("%w: unknown length %q", ErrInvalidRequest, r.Length)
	}
	if !validStyles[r.Style] {
		return fmt.Errorf("%w: unknown style %q", ErrInvalidRequest, r.Style)
	}
	return nil
}
