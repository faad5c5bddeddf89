package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps SQLite database operations.
type DB struct {
	db *sql.DB
}

// Open opens or creates a SQLite database.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable foreign keys and WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	storage := &DB{db: db}

	if err := storage.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return storage, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// initSchema creates tables if they don't exist.
func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		abstract TEXT NOT NULL DEFAULT '',
		pmc_id TEXT,
		url TEXT NOT NULL,
		authors TEXT NOT NULL DEFAULT '[]',
		keywords TEXT NOT NULL DEFAULT '[]',
		content TEXT NOT NULL DEFAULT '',
		publication_year INTEGER NOT NULL DEFAULT 0,
		views_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_articles_pmc
		ON articles(pmc_id) WHERE pmc_id != '';
	CREATE INDEX IF NOT EXISTS idx_articles_year ON articles(publication_year);
	CREATE INDEX IF NOT EXISTS idx_articles_created ON articles(created_at);

	CREATE TABLE IF NOT EXISTS article_embeddings (
		article_id INTEGER PRIMARY KEY REFERENCES articles(id) ON DELETE CASCADE,
		embedding BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		session_id TEXT PRIMARY KEY,
		messages TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS generated_articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		topic TEXT NOT NULL,
		article_type TEXT NOT NULL,
		length TEXT NOT NULL,
		style TEXT NOT NULL,
		source_count INTEGER NOT NULL,
		generation_seconds REAL NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS search_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_text TEXT NOT NULL,
		mode TEXT NOT NULL,
		results_count INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queries_created ON search_queries(created_at);
	`

	_, err := d.db.Exec(schema)
	return err
}

const articleColumns = `id, title, abstract, pmc_id, url, authors, keywords,
	content, publication_year, views_count, created_at, updated_at`

// InsertArticle inserts a new article and returns its id.
func (d *DB) InsertArticle(a *Article) (int64, error) {
	authors, err := json.Marshal(a.Authors)
	if err != nil {
		return 0, fmt.Errorf("marshal authors: %w", err)
	}
	keywords, err := json.Marshal(a.Keywords)
	if err != nil {
		return 0, fmt.Errorf("marshal keywords: %w", err)
	}

	now := time.Now().UTC()
	res, err := d.db.Exec(`
	INSERT INTO articles (
		title, abstract, pmc_id, url, authors, keywords,
		content, publication_year, views_count, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		a.Title, a.Abstract, a.PMCID, a.URL, string(authors), string(keywords),
		a.Content, a.PublicationYear, now, now,
	)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	a.ID = id
	a.CreatedAt = now
	a.UpdatedAt = now
	return id, nil
}

// GetArticle retrieves an article by id. Returns (nil, nil) when the
// id is unknown.
func (d *DB) GetArticle(id int64) (*Article, error) {
	row := d.db.QueryRow(`SELECT `+articleColumns+` FROM articles WHERE id = ?`, id)
	return scanArticle(row)
}

// GetArticleByPMCID retrieves an article by its PMC identifier.
func (d *DB) GetArticleByPMCID(pmcID string) (*Article, error) {
	row := d.db.QueryRow(`SELECT `+articleColumns+` FROM articles WHERE pmc_id = ?`, pmcID)
	return scanArticle(row)
}

// ListArticles retrieves all articles ordered by insertion.
func (d *DB) ListArticles() ([]*Article, error) {
	rows, err := d.db.Query(`SELECT ` + articleColumns + ` FROM articles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectArticles(rows)
}

// RecentArticles returns the most recently imported articles.
func (d *DB) RecentArticles(limit int) ([]*Article, error) {
	rows, err := d.db.Query(
		`SELECT `+articleColumns+` FROM articles ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectArticles(rows)
}

// SearchLike performs a case-insensitive substring match over title,
// abstract and author fields. A multi-word query matches articles
// containing any of its terms. Ties broken by descending view count.
func (d *DB) SearchLike(query string, limit int) ([]*Article, error) {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var clauses []string
	var args []any
	for _, term := range terms {
		pattern := "%" + term + "%"
		clauses = append(clauses,
			"(title LIKE ? COLLATE NOCASE OR abstract LIKE ? COLLATE NOCASE OR authors LIKE ? COLLATE NOCASE)")
		args = append(args, pattern, pattern, pattern)
	}
	args = append(args, limit)

	rows, err := d.db.Query(`
	SELECT `+articleColumns+` FROM articles
	WHERE `+strings.Join(clauses, " OR ")+`
	ORDER BY views_count DESC, id
	LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectArticles(rows)
}

// CountArticles returns the total number of articles.
func (d *DB) CountArticles() (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM articles").Scan(&count)
	return count, err
}

// SetContent stores the scraped full text for an article.
func (d *DB) SetContent(id int64, content string) error {
	_, err := d.db.Exec(
		"UPDATE articles SET content = ?, updated_at = ? WHERE id = ?",
		content, time.Now().UTC(), id)
	return err
}

// ListWithoutContent returns articles whose full text has not been
// fetched yet.
func (d *DB) ListWithoutContent() ([]*Article, error) {
	rows, err := d.db.Query(`
	SELECT ` + articleColumns + ` FROM articles
	WHERE content = ''
	ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectArticles(rows)
}

// IncrementViews bumps the view counter for an article.
func (d *DB) IncrementViews(id int64) error {
	_, err := d.db.Exec("UPDATE articles SET views_count = views_count + 1 WHERE id = ?", id)
	return err
}

// DeleteAllArticles clears the corpus ahead of a fresh import.
func (d *DB) DeleteAllArticles() error {
	_, err := d.db.Exec("DELETE FROM articles")
	return err
}

// SetEmbedding stores or replaces the vector for an article.
func (d *DB) SetEmbedding(articleID int64, embedding []byte) error {
	now := time.Now().UTC()
	_, err := d.db.Exec(`
	INSERT INTO article_embeddings (article_id, embedding, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(article_id) DO UPDATE SET
		embedding = excluded.embedding,
		updated_at = excluded.updated_at`,
		articleID, embedding, now, now,
	)
	return err
}

// GetEmbedding retrieves the stored vector for an article, nil if none.
func (d *DB) GetEmbedding(articleID int64) ([]byte, error) {
	var blob []byte
	err := d.db.QueryRow(
		"SELECT embedding FROM article_embeddings WHERE article_id = ?", articleID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return blob, err
}

// CountEmbeddings returns the number of stored article vectors.
func (d *DB) CountEmbeddings() (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM article_embeddings").Scan(&count)
	return count, err
}

// EmbeddedArticle pairs an article with its stored vector.
type EmbeddedArticle struct {
	Article   *Article
	Embedding []byte
}

// ListEmbedded returns every article that has a stored vector.
func (d *DB) ListEmbedded() ([]*EmbeddedArticle, error) {
	rows, err := d.db.Query(`
	SELECT a.id, a.title, a.abstract, a.pmc_id, a.url, a.authors, a.keywords,
	       a.content, a.publication_year, a.views_count, a.created_at, a.updated_at,
	       e.embedding
	FROM articles a
	JOIN article_embeddings e ON e.article_id = a.id
	ORDER BY a.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*EmbeddedArticle
	for rows.Next() {
		a := &Article{}
		var authors, keywords string
		var blob []byte
		err := rows.Scan(
			&a.ID, &a.Title, &a.Abstract, &a.PMCID, &a.URL, &authors, &keywords,
			&a.Content, &a.PublicationYear, &a.ViewsCount, &a.CreatedAt, &a.UpdatedAt,
			&blob,
		)
		if err != nil {
			return nil, err
		}
		if err := unmarshalLists(a, authors, keywords); err != nil {
			return nil, err
		}
		out = append(out, &EmbeddedArticle{Article: a, Embedding: blob})
	}
	return out, rows.Err()
}

// ListUnembedded returns articles that do not have a stored vector yet.
func (d *DB) ListUnembedded() ([]*Article, error) {
	rows, err := d.db.Query(`
	SELECT ` + articleColumns + ` FROM articles
	WHERE id NOT IN (SELECT article_id FROM article_embeddings)
	ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectArticles(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (*Article, error) {
	a := &Article{}
	var authors, keywords string
	err := row.Scan(
		&a.ID, &a.Title, &a.Abstract, &a.PMCID, &a.URL, &authors, &keywords,
		&a.Content, &a.PublicationYear, &a.ViewsCount, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalLists(a, authors, keywords); err != nil {
		return nil, err
	}
	return a, nil
}

func collectArticles(rows *sql.Rows) ([]*Article, error) {
	var out []*Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func unmarshalLists(a *Article, authors, keywords string) error {
	if err := json.Unmarshal([]byte(authors), &a.Authors); err != nil {
		return fmt.Errorf("unmarshal authors: %w", err)
	}
	if err := json.Unmarshal([]byte(keywords), &a.Keywords); err != nil {
		return fmt.Errorf("unmarshal keywords: %w", err)
	}
	return nil
}
