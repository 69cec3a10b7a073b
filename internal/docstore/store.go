// Package docstore persists the documents a podcast is generated for.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/studycast/internal/config"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("document not found")

// Document is a user upload with its extracted text and at most one podcast.
type Document struct {
	ID                string
	Name              string
	ExtractedText     string
	Script            string
	ScriptGeneratedAt time.Time
	TrackURI          string
	TrackDuration     time.Duration
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasPodcast reports whether a verified track is attached.
func (d Document) HasPodcast() bool { return d.TrackURI != "" }

// Podcast is what the pipeline writes back onto a document.
type Podcast struct {
	Script      string
	GeneratedAt time.Time
	TrackURI    string
	Duration    time.Duration
}

type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

func Open(ctx context.Context, cfg config.DocumentsConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log.With(slog.String("component", "docstore")), clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    extracted_text TEXT NOT NULL,
    script TEXT NOT NULL DEFAULT '',
    script_generated_at TEXT NOT NULL DEFAULT '',
    track_uri TEXT NOT NULL DEFAULT '',
    track_duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, name, extractedText string) (Document, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Document{}, errors.New("document name must not be empty")
	}
	now := s.clock().UTC()
	doc := Document{
		ID:            uuid.NewString(),
		Name:          name,
		ExtractedText: extractedText,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents(id, name, extracted_text, created_at, updated_at) VALUES(?, ?, ?, ?, ?)`,
		doc.ID, doc.Name, doc.ExtractedText, formatTime(now), formatTime(now))
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

const selectColumns = `SELECT id, name, extracted_text, script, script_generated_at, track_uri, track_duration_ms, created_at, updated_at FROM documents`

func (s *Store) Get(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return doc, err
}

// List returns all documents, newest first.
func (s *Store) List(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Delete removes the document and returns its track URI so the caller can
// release the stored object.
func (s *Store) Delete(ctx context.Context, id string) (string, error) {
	var uri string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT track_uri FROM documents WHERE id = ?`, id).Scan(&uri); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
		return err
	})
	return uri, err
}

// AttachPodcast replaces the document's script and track. The previous
// track URI, if any, is returned.
func (s *Store) AttachPodcast(ctx context.Context, id string, p Podcast) (string, error) {
	return s.swapPodcast(ctx, id, p)
}

// ClearPodcast removes script and track from the document and returns the
// previous track URI.
func (s *Store) ClearPodcast(ctx context.Context, id string) (string, error) {
	return s.swapPodcast(ctx, id, Podcast{})
}

func (s *Store) swapPodcast(ctx context.Context, id string, p Podcast) (string, error) {
	var old string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT track_uri FROM documents WHERE id = ?`, id).Scan(&old); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		generated := ""
		if !p.GeneratedAt.IsZero() {
			generated = formatTime(p.GeneratedAt)
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE documents SET script = ?, script_generated_at = ?, track_uri = ?, track_duration_ms = ?, updated_at = ? WHERE id = ?`,
			p.Script, generated, p.TrackURI, p.Duration.Milliseconds(), formatTime(s.clock()), id)
		return err
	})
	if err != nil {
		return "", err
	}
	if old == p.TrackURI {
		old = ""
	}
	return old, nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (Document, error) {
	var (
		d                           Document
		generated, created, updated string
		durationMS                  int64
	)
	if err := row.Scan(&d.ID, &d.Name, &d.ExtractedText, &d.Script, &generated, &d.TrackURI, &durationMS, &created, &updated); err != nil {
		return Document{}, err
	}
	d.TrackDuration = time.Duration(durationMS) * time.Millisecond
	d.ScriptGeneratedAt = parseTime(generated)
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return d, nil
}

// fixed width so text comparison orders chronologically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
