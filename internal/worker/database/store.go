// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package database is the DatabaseWorker: it owns the system-of-record
// project table, backed by an embedded DuckDB instance the way the teacher's
// internal/database package owns media-server analytics facts
// (SPEC_FULL.md §4.7). No other worker touches this table directly.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"

	"github.com/tomtom215/fleetkeeper/internal/logging"
)

// ErrProjectNotFound is returned by GetByID when no row matches.
var ErrProjectNotFound = errors.New("database: project not found")

// Project is the system-of-record row this worker owns, per SPEC_FULL.md §3.
type Project struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Keyword        string    `json:"keyword"`
	Category       string    `json:"category"`
	Language       string    `json:"language"`
	TweetToken     string    `json:"tweetToken"`
	StartDateCrawl time.Time `json:"start_date_crawl"`
	EndDateCrawl   time.Time `json:"end_date_crawl"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store wraps a DuckDB connection and the projects table's CRUD surface,
// grounded on the teacher's DB struct (internal/database/database.go) and
// its CRUD file shape (internal/database/crud_media_servers.go).
type Store struct {
	conn *sql.DB
}

// Open opens (creating if absent) a DuckDB database file at path and
// ensures the projects table exists.
func Open(path string) (*Store, error) {
	if path != "" && path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("database: create data dir: %w", err)
			}
		}
	}

	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("database: open duckdb: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		keyword TEXT,
		category TEXT,
		language TEXT,
		tweet_token TEXT,
		start_date_crawl TIMESTAMP,
		end_date_crawl TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("database: migrate projects table: %w", err)
	}
	return nil
}

// Close releases the underlying DuckDB handle.
func (s *Store) Close() error {
	return s.conn.Close()
}

// CreateNewData inserts a new project row, assigning an ID and CreatedAt if
// unset, per spec.md §8 scenario (a).
func (s *Store) CreateNewData(ctx context.Context, p Project) (Project, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	const q = `INSERT INTO projects (
		id, title, description, keyword, category, language, tweet_token,
		start_date_crawl, end_date_crawl, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.conn.ExecContext(ctx, q,
		p.ID, p.Title, p.Description, p.Keyword, p.Category, p.Language, p.TweetToken,
		p.StartDateCrawl, p.EndDateCrawl, p.CreatedAt,
	)
	if err != nil {
		logging.Error().Str("projectId", p.ID).Err(err).Msg("database: createNewData failed")
		return Project{}, fmt.Errorf("database: create project: %w", err)
	}
	return p, nil
}

// GetDataByID retrieves a project by ID.
func (s *Store) GetDataByID(ctx context.Context, id string) (Project, error) {
	const q = `SELECT id, title, description, keyword, category, language,
		tweet_token, start_date_crawl, end_date_crawl, created_at
		FROM projects WHERE id = ?`

	var p Project
	row := s.conn.QueryRowContext(ctx, q, id)
	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Keyword, &p.Category, &p.Language,
		&p.TweetToken, &p.StartDateCrawl, &p.EndDateCrawl, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrProjectNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("database: get project %s: %w", id, err)
	}
	return p, nil
}

// UpdateData applies a partial update to an existing project's crawl window
// and keyword — the fields a running crawl is expected to revise.
func (s *Store) UpdateData(ctx context.Context, id string, keyword string, start, end time.Time) (Project, error) {
	const q = `UPDATE projects SET keyword = ?, start_date_crawl = ?, end_date_crawl = ?
		WHERE id = ?`

	res, err := s.conn.ExecContext(ctx, q, keyword, start, end, id)
	if err != nil {
		return Project{}, fmt.Errorf("database: update project %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Project{}, ErrProjectNotFound
	}
	return s.GetDataByID(ctx, id)
}
