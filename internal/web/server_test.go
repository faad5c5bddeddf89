package web_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbitalbio/spacebio/internal/ai"
	"github.com/orbitalbio/spacebio/internal/assistant"
	"github.com/orbitalbio/spacebio/internal/search"
	"github.com/orbitalbio/spacebio/internal/storage"
	"github.com/orbitalbio/spacebio/internal/synthesis"
	"github.com/orbitalbio/spacebio/internal/web"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubProvider struct {
	reply string
	err   error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Complete(context.Context, ai.Request) (string, error) {
	return p.reply, p.err
}

type fixture struct {
	handler http.Handler
	db      *storage.DB
}

func newFixture(t *testing.T, provider ai.Provider) *fixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	retriever := search.NewRetriever(db, nil, nil, testLog)
	gateway := ai.NewGateway(testLog, provider)
	guard := ai.NewGuard(nil, testLog)
	chat := assistant.NewService(db, retriever, gateway, guard, testLog, 1000, 0.7)
	generator := synthesis.NewGenerator(db, retriever, gateway, guard, testLog, 3000, 0.7)

	server := web.NewServer(db, nil, retriever, chat, generator, gateway, testLog, 500, 0.7)
	return &fixture{handler: server.Handler(), db: db}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}

func seedArticle(t *testing.T, db *storage.DB, title string, year int) int64 {
	t.Helper()
	id, err := db.InsertArticle(&storage.Article{
		Title:           title,
		Abstract:        "Abstract for " + title,
		URL:             "https://example.org/" + title,
		PublicationYear: year,
	})
	require.NoError(t, err)
	return id
}

func TestHealth(t *testing.T) {
	f := newFixture(t, &stubProvider{reply: "ok"})
	seedArticle(t, f.db, "Bone loss", 2019)

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decode(t, rec, &body)
	require.Equal(t, "ok", body["status"])
	require.EqualValues(t, 1, body["articles"])
}

func TestSearchRequiresQuery(t *testing.T) {
	f := newFixture(t, &stubProvider{reply: "ok"})

	rec := f.do(t, http.MethodGet, "/api/search", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchKeyword(t *testing.T) {
	f := newFixture(t, &stubProvider{reply: "ok"})
	seedArticle(t, f.db, "Microgravity bone loss", 2019)
	seedArticle(t, f.db, "Plant growth studies", 2021)

	rec := f.do(t, http.MethodGet, "/api/search?q=bone", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Query   string `json:"query"`
		Mode    string `json:"mode"`
		Count   int    `json:"count"`
		Results []struct {
			Title string `json:"title"`
		} `json:"results"`
	}
	decode(t, rec, &body)
	require.Equal(t, "bone", body.Query)
	require.Equal(t, "keyword", body.Mode)
	require.Equal(t, 1, body.Count)
	require.Equal(t, "Microgravity bone loss", body.Results[0].Title)
}

func TestSearchYearFilter(t *testing.T) {
	f := newFixture(t, &stubProvider{reply: "ok"})
	seedArticle(t, f.db, "Bone loss early", 2015)
	seedArticle(t, f.db, "Bone loss late", 2021)

	rec := f.do(t, http.MethodGet, "/api/search?q=bone&year=2021", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int `json:"count"`
	}
	decode(t, rec, &body)
	require.Equal(t, 1, body.Count)

	rec = f.do(t, http.MethodGet, "/api/search?q=bone&year=banana", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArticleDetail(t *testing.T) {
	f := newFixture(t, &stubProvider{reply: "ok"})
	id := seedArticle(t, f.db, "Bone loss", 2019)

	rec := f.do(t, http.MethodGet, "/api/articles/"+itoa(id), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Article struct {
			ID    int64 `json:"id"`
			Views int64 `json:"views"`
		} `json:"article"`
	}
	decode(t, rec, &body)
	require.Equal(t, id, body.Article.ID)
	require.EqualValues(t, 1, body.Article.Views)

	// Second visit bumps the counter again
	rec = f.do(t, http.MethodGet, "/api/articles/"+itoa(id), "")
	decode(t, rec, &body)
	require.EqualValues(t, 2, body.Article.Views)
}

func TestArticleDetailNotFound(t *testing.T) {
	f := newFixture(t, &stubProvider{reply: "ok"})

	rec := f.do(t, http.MethodGet, "/api/articles/999", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/articles/banana", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummary(t *testing.T) {
	f := newFixture(t, &stubProvider{reply: "A short summary."})
	id := seedArticle(t, f.db, "Bone loss", 2019)

	rec := f.do(t, http.MethodPost, "/api/articles/"+itoa(id)+"/summary", `{"type":"concise"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Type    string `json:"type"`
		Summary string `json:"summary"`
	}
	decode(t, rec, &body)
	require.Equal(t, "concise", body.Type)
	require.Equal(t, "A short summary.", body.Summary)

	rec = f.do(t, http.MethodPost, "/api/articles/"+itoa(id)+"/summary", `{"type":"haiku"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummaryProviderDown(t *testing.T) {
	f := newFixture(t, &stubProvider{err: errors.New("down")})
	id := seedArticle(t, f.db, "Bone loss", 2019)

	rec := f.do(t, http.MethodPost, "/api/articles/"+itoa(id)+"/summary", `{}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestChatMessage(t *testing.T) {
	f := newFixture(t, &stubProvider{reply: "Bone loss accelerates in orbit."})

	rec := f.do(t, http.MethodPost, "/api/chat/message", `{"message":"bone loss in space?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		SessionID string `json:"session_id"`
		Response  string `json:"response"`
		OffTopic  bool   `json:"off_topic"`
	}
	decode(t, rec, &body)
	require.NotEmpty(t, body.SessionID)
	require.Equal(t, "Bone loss accelerates in orbit.", body.Response)
	require.False(t, body.OffTopic)
}

func TestChatMessageValidation(t *testing.T) {
	f := newFixture(t, &stubProvider{reply: "ok"})

	rec := f.do(t, http.MethodPost, "/api/chat/message", `{"message":"  "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/chat/message", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/chat/message",
		`{"message":"bone loss","session_id":"no-such-session"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateOffTopic(t *testing.T) {
	f := newFixture(t, &stubProvider{reply: "x"})

	rec := f.do(t, http.MethodPost, "/api/generate", `{"topic":"best pizza in Rome"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGenerateNoSources(t *testing.T) {
	f := newFixture(t, &stubProvider{reply: "x"})

	rec := f.do(t, http.MethodPost, "/api/generate", `{"topic":"Cooking pasta in zero gravity"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGenerate(t *testing.T) {
	f := newFixture(t, &stubProvider{reply: "# Review Title\n\nBody."})
	seedArticle(t, f.db, "Microgravity bone loss", 2019)

	rec := f.do(t, http.MethodPost, "/api/generate", `{"topic":"bone loss"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Article struct {
			Title       string `json:"title"`
			SourceCount int    `json:"source_count"`
		} `json:"article"`
	}
	decode(t, rec, &body)
	require.Equal(t, "Review Title", body.Article.Title)
	require.Equal(t, 1, body.Article.SourceCount)
}

func TestReview(t *testing.T) {
	f := newFixture(t, &stubProvider{reply: "Review content"})
	seedArticle(t, f.db, "Microgravity bone loss", 2019)

	rec := f.do(t, http.MethodPost, "/api/review", `{"topic":"bone loss"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Content string `json:"content"`
		Sources []struct {
			Title string `json:"title"`
		} `json:"sources"`
	}
	decode(t, rec, &body)
	require.Equal(t, "Review content", body.Content)
	require.Len(t, body.Sources, 1)
}

func TestAnalytics(t *testing.T) {
	f := newFixture(t, &stubProvider{reply: "ok"})
	seedArticle(t, f.db, "Bone loss", 2019)

	f.do(t, http.MethodGet, "/api/search?q=bone", "")
	f.do(t, http.MethodGet, "/api/search?q=bone", "")
	f.do(t, http.MethodGet, "/api/search?q=plant", "")

	rec := f.do(t, http.MethodGet, "/api/analytics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Totals struct {
			Articles int `json:"articles"`
			Searches int `json:"searches"`
		} `json:"totals"`
		TopQueries []struct {
			QueryText string `json:"query_text"`
			Count     int    `json:"count"`
		} `json:"top_queries"`
	}
	decode(t, rec, &body)
	require.Equal(t, 1, body.Totals.Articles)
	require.Equal(t, 3, body.Totals.Searches)
	require.Len(t, body.TopQueries, 2)
	require.Equal(t, "bone", body.TopQueries[0].QueryText)
	require.Equal(t, 2, body.TopQueries[0].Count)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
