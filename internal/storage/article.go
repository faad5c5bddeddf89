package storage

import "time"

// Article is one publication from the space-biology corpus. Fields are
// immutable after import except ViewsCount.
type Article struct {
	ID              int64     `db:"id"`
	Title           string    `db:"title"`
	Abstract        string    `db:"abstract"`
	PMCID           string    `db:"pmc_id"`
	URL             string    `db:"url"`
	Authors         []string  `db:"authors"`  // JSON array
	Keywords        []string  `db:"keywords"` // JSON array
	Content         string    `db:"content"`
	PublicationYear int       `db:"publication_year"` // 0 if unknown
	ViewsCount      int64     `db:"views_count"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// Message is one role-tagged entry in a chat transcript.
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatSession is an append-only conversation transcript keyed by a
// client-visible session id.
type ChatSession struct {
	SessionID string    `db:"session_id"`
	Messages  []Message `db:"messages"` // JSON array
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Recent returns at most the limit most recent messages.
func (s *ChatSession) Recent(limit int) []Message {
	if limit <= 0 || len(s.Messages) <= limit {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-limit:]
}

// GeneratedArticle records the output of one synthesis request.
// Write-once.
type GeneratedArticle struct {
	ID                int64     `db:"id" json:"id"`
	Title             string    `db:"title" json:"title"`
	Content           string    `db:"content" json:"content"`
	Topic             string    `db:"topic" json:"topic"`
	ArticleType       string    `db:"article_type" json:"type"`  // review, research, protocol
	Length            string    `db:"length" json:"length"`      // short, medium, long
	Style             string    `db:"style" json:"style"`        // academic, executive, technical
	SourceCount       int       `db:"source_count" json:"source_count"`
	GenerationSeconds float64   `db:"generation_seconds" json:"generation_seconds"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// SearchQuery is one analytics log row, write-only from the
// application's perspective.
type SearchQuery struct {
	ID           int64     `db:"id"`
	QueryText    string    `db:"query_text"`
	Mode         string    `db:"mode"` // keyword or semantic
	ResultsCount int       `db:"results_count"`
	CreatedAt    time.Time `db:"created_at"`
}

// QueryCount is an aggregated analytics row.
type QueryCount struct {
	QueryText string `json:"query_text"`
	Count     int    `json:"count"`
}
