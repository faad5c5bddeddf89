package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// GetSession retrieves a chat session by id. Returns (nil, nil) when
// the id is unknown.
func (d *DB) GetSession(sessionID string) (*ChatSession, error) {
	s := &ChatSession{}
	var messages string
	err := d.db.QueryRow(`
	SELECT session_id, messages, created_at, updated_at
	FROM chat_sessions WHERE session_id = ?`, sessionID).Scan(
		&s.SessionID, &messages, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(messages), &s.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	return s, nil
}

// PutSession inserts or updates a chat session transcript.
func (d *DB) PutSession(s *ChatSession) error {
	messages, err := json.Marshal(s.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	_, err = d.db.Exec(`
	INSERT INTO chat_sessions (session_id, messages, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		messages = excluded.messages,
		updated_at = excluded.updated_at`,
		s.SessionID, string(messages), s.CreatedAt, s.UpdatedAt,
	)
	return err
}

// CountSessions returns the total number of chat sessions.
func (d *DB) CountSessions() (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM chat_sessions").Scan(&count)
	return count, err
}

// InsertGenerated records one synthesis output. Write-once.
func (d *DB) InsertGenerated(g *GeneratedArticle) (int64, error) {
	now := time.Now().UTC()
	res, err := d.db.Exec(`
	INSERT INTO generated_articles (
		title, content, topic, article_type, length, style,
		source_count, generation_seconds, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.Title, g.Content, g.Topic, g.ArticleType, g.Length, g.Style,
		g.SourceCount, g.GenerationSeconds, now,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	g.ID = id
	g.CreatedAt = now
	return id, nil
}

// RecentGenerated returns the most recent synthesis records.
func (d *DB) RecentGenerated(limit int) ([]*GeneratedArticle, error) {
	rows, err := d.db.Query(`
	SELECT id, title, content, topic, article_type, length, style,
	       source_count, generation_seconds, created_at
	FROM generated_articles
	ORDER BY created_at DESC, id DESC
	LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*GeneratedArticle
	for rows.Next() {
		g := &GeneratedArticle{}
		err := rows.Scan(
			&g.ID, &g.Title, &g.Content, &g.Topic, &g.ArticleType, &g.Length,
			&g.Style, &g.SourceCount, &g.GenerationSeconds, &g.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// LogSearch records one search for analytics. Write-only.
func (d *DB) LogSearch(queryText, mode string, resultsCount int) error {
	_, err := d.db.Exec(`
	INSERT INTO search_queries (query_text, mode, results_count, created_at)
	VALUES (?, ?, ?, ?)`,
		queryText, mode, resultsCount, time.Now().UTC(),
	)
	return err
}

// TopQueries returns the most frequent search queries.
func (d *DB) TopQueries(limit int) ([]QueryCount, error) {
	rows, err := d.db.Query(`
	SELECT query_text, COUNT(*) AS n
	FROM search_queries
	GROUP BY query_text
	ORDER BY n DESC, query_text
	LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueryCount
	for rows.Next() {
		var qc QueryCount
		if err := rows.Scan(&qc.QueryText, &qc.Count); err != nil {
			return nil, err
		}
		out = append(out, qc)
	}
	return out, rows.Err()
}

// CountSearches returns the total number of logged searches.
func (d *DB) CountSearches() (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM search_queries").Scan(&count)
	return count, err
}
