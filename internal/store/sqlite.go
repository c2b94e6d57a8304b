// This file implements an SQLite-backed store for submissions and templates.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/nerdycraft/NerpyBot-sub000/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single writer avoids "database is locked" between lanes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AddSubmission(sub models.Submission) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	answers, err := encodeAnswers(sub.Answers)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO submissions (id, form, user_id, scope, answers, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Form, sub.UserID, sub.Scope, answers, sub.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddSubmission failed", "error", err, "form", sub.Form, "user", sub.UserID)
		return fmt.Errorf("failed to insert submission %s: %w", sub.ID, err)
	}
	slog.Debug("SQLiteStore AddSubmission succeeded", "id", sub.ID, "form", sub.Form)
	return nil
}

func (s *SQLiteStore) ListSubmissions(form string) ([]models.Submission, error) {
	query := `SELECT id, form, user_id, scope, answers, created_at FROM submissions`
	var args []any
	if form != "" {
		query += ` WHERE form = ?`
		args = append(args, form)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListSubmissions query failed", "error", err)
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var subs []models.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate submission rows: %w", err)
	}
	slog.Debug("SQLiteStore ListSubmissions succeeded", "form", form, "count", len(subs))
	return subs, nil
}

func (s *SQLiteStore) SaveTemplate(t models.Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO templates (id, scope, name, body, author_id, drafted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (scope, name) DO UPDATE SET
			body = excluded.body,
			author_id = excluded.author_id,
			drafted = excluded.drafted,
			updated_at = excluded.updated_at`,
		t.ID, t.Scope, t.Name, t.Body, t.AuthorID, t.Drafted, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveTemplate failed", "error", err, "name", t.Name)
		return fmt.Errorf("failed to save template %q: %w", t.Name, err)
	}
	slog.Debug("SQLiteStore SaveTemplate succeeded", "scope", t.Scope, "name", t.Name)
	return nil
}

func (s *SQLiteStore) GetTemplate(scope, name string) (*models.Template, error) {
	row := s.db.QueryRow(`SELECT id, scope, name, body, author_id, drafted, created_at, updated_at
		FROM templates WHERE scope = ? AND name = ?`, scope, name)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore GetTemplate not found", "scope", scope, "name", name)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetTemplate failed", "error", err, "name", name)
		return nil, fmt.Errorf("failed to get template %q: %w", name, err)
	}
	return &t, nil
}

func (s *SQLiteStore) ListTemplates(scope string) ([]models.Template, error) {
	rows, err := s.db.Query(`SELECT id, scope, name, body, author_id, drafted, created_at, updated_at
		FROM templates WHERE scope = ? ORDER BY name`, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var out []models.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template failed: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
