// Package web exposes the HTTP JSON API over the portal's services.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/orbitalbio/spacebio/internal/ai"
	"github.com/orbitalbio/spacebio/internal/assistant"
	"github.com/orbitalbio/spacebio/internal/embeddings"
	"github.com/orbitalbio/spacebio/internal/search"
	"github.com/orbitalbio/spacebio/internal/storage"
	"github.com/orbitalbio/spacebio/internal/synthesis"
)

// Server wires the HTTP API to the portal services.
type Server struct {
	db        *storage.DB
	idx       *search.Index
	retriever *search.Retriever
	chat      *assistant.Service
	generator *synthesis.Generator
	gateway   *ai.Gateway
	log       *slog.Logger

	maxTokensSummary int
	temperature      float64
}

// NewServer creates the API server. idx may be nil when the keyword
// index has not been built.
func NewServer(db *storage.DB, idx *search.Index, retriever *search.Retriever,
	chat *assistant.Service, generator *synthesis.Generator, gateway *ai.Gateway,
	log *slog.Logger, maxTokensSummary int, temperature float64) *Server {
	return &Server{
		db:               db,
		idx:              idx,
		retriever:        retriever,
		chat:             chat,
		generator:        generator,
		gateway:          gateway,
		log:              log,
		maxTokensSummary: maxTokensSummary,
		temperature:      temperature,
	}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/api/search", s.handleSearch)
	r.Get("/api/articles/{id}", s.handleArticleDetail)
	r.Post("/api/articles/{id}/summary", s.handleSummary)
	r.Post("/api/chat/message", s.handleChatMessage)
	r.Post("/api/generate", s.handleGenerate)
	r.Post("/api/review", s.handleReview)
	r.Get("/api/analytics", s.handleAnalytics)

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

type articleJSON struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	Abstract string   `json:"abstract,omitempty"`
	Authors  []string `json:"authors,omitempty"`
	PMCID    string   `json:"pmc_id,omitempty"`
	URL      string   `json:"url"`
	Year     int      `json:"year,omitempty"`
	Views    int64    `json:"views"`
	Score    float64  `json:"score,omitempty"`
}

func toArticleJSON(a *storage.Article, score float64) articleJSON {
	return articleJSON{
		ID:       a.ID,
		Title:    a.Title,
		Abstract: a.Abstract,
		Authors:  a.Authors,
		PMCID:    a.PMCID,
		URL:      a.URL,
		Year:     a.PublicationYear,
		Views:    a.ViewsCount,
		Score:    score,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	articleCount, _ := s.db.CountArticles()
	embeddingCount, _ := s.db.CountEmbeddings()

	var indexCount uint64
	if s.idx != nil {
		indexCount, _ = s.idx.Count()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"articles":   articleCount,
		"embeddings": embeddingCount,
		"indexed":    indexCount,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query parameter q is required"})
		return
	}

	mode := search.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = search.ModeKeyword
	}

	year := 0
	if raw := r.URL.Query().Get("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "year must be an integer"})
			return
		}
		year = parsed
	}

	limit := clampInt(r.URL.Query().Get("limit"), 20, 100)

	results, used, err := s.retriever.Retrieve(r.Context(), query, mode, year, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]articleJSON, 0, len(results))
	for _, res := range results {
		out = append(out, toArticleJSON(res.Article, res.Score))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"mode":    used,
		"count":   len(out),
		"results": out,
	})
}

func (s *Server) handleArticleDetail(w http.ResponseWriter, r *http.Request) {
	article, ok := s.loadArticle(w, r)
	if !ok {
		return
	}

	if err := s.db.IncrementViews(article.ID); err != nil {
		s.log.Warn("increment views", slog.Any("err", err))
	} else {
		article.ViewsCount++
	}

	similar := s.similarArticles(article, 5)

	writeJSON(w, http.StatusOK, map[string]any{
		"article": toArticleJSON(article, 0),
		"similar": similar,
	})
}

// similarArticles ranks the rest of the embedded corpus against this
// article's stored vector. Empty when the article has no embedding.
func (s *Server) similarArticles(article *storage.Article, limit int) []articleJSON {
	blob, err := s.db.GetEmbedding(article.ID)
	if err != nil || blob == nil {
		return []articleJSON{}
	}
	vec := embeddings.Deserialize(blob)
	if vec == nil {
		return []articleJSON{}
	}

	candidates, err := s.db.ListEmbedded()
	if err != nil {
		s.log.Warn("list embedded", slog.Any("err", err))
		return []articleJSON{}
	}

	ranked := search.RankBySimilarity(vec, candidates, limit+1)
	out := make([]articleJSON, 0, limit)
	for _, res := range ranked {
		if res.Article.ID == article.ID {
			continue
		}
		out = append(out, toArticleJSON(res.Article, res.Score))
		if len(out) >= limit {
			break
		}
	}
	return out
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	article, ok := s.loadArticle(w, r)
	if !ok {
		return
	}

	var req struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Type == "" {
		req.Type = ai.SummaryConcise
	}
	if req.Type != ai.SummaryConcise && req.Type != ai.SummaryDetailed {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "type must be concise or detailed"})
		return
	}

	text := article.Abstract
	if text == "" {
		text = article.Title
	}

	summary, err := s.gateway.Complete(r.Context(), ai.Request{
		Messages:    ai.SummaryPrompt(text, req.Type),
		MaxTokens:   s.maxTokensSummary,
		Temperature: s.temperature,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"article_id": article.ID,
		"type":       req.Type,
		"summary":    summary,
	})
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message   string `json:"message"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
		return
	}

	reply, err := s.chat.Message(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req synthesis.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	generated, err := s.generator.Generate(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"article": generated,
	})
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req synthesis.ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	review, err := s.generator.GenerateReview(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, review)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	articleCount, err := s.db.CountArticles()
	if err != nil {
		s.writeError(w, err)
		return
	}
	embeddingCount, _ := s.db.CountEmbeddings()
	sessionCount, _ := s.db.CountSessions()
	searchCount, _ := s.db.CountSearches()

	topQueries, err := s.db.TopQueries(10)
	if err != nil {
		s.writeError(w, err)
		return
	}
	recentGenerations, err := s.db.RecentGenerated(10)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"totals": map[string]int{
			"articles":   articleCount,
			"embeddings": embeddingCount,
			"sessions":   sessionCount,
			"searches":   searchCount,
		},
		"top_queries":        topQueries,
		"recent_generations": recentGenerations,
	})
}

func (s *Server) loadArticle(w http.ResponseWriter, r *http.Request) (*storage.Article, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid article id"})
		return nil, false
	}

	article, err := s.db.GetArticle(id)
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	if article == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "article not found"})
		return nil, false
	}
	return article, true
}

// writeError maps service errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, synthesis.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, assistant.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, synthesis.ErrOffTopic), errors.Is(err, synthesis.ErrNoSources):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.Is(err, ai.ErrProviderUnavailable):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		s.log.Error("internal error", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
