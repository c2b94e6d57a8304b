// This file implements a PostgreSQL-backed store for submissions and templates.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/nerdycraft/NerpyBot-sub000/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AddSubmission(sub models.Submission) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	answers, err := encodeAnswers(sub.Answers)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO submissions (id, form, user_id, scope, answers, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		sub.ID, sub.Form, sub.UserID, sub.Scope, answers, sub.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddSubmission failed", "error", err, "form", sub.Form, "user", sub.UserID)
		return fmt.Errorf("failed to insert submission %s: %w", sub.ID, err)
	}
	slog.Debug("PostgresStore AddSubmission succeeded", "id", sub.ID, "form", sub.Form)
	return nil
}

func (s *PostgresStore) ListSubmissions(form string) ([]models.Submission, error) {
	query := `SELECT id, form, user_id, scope, answers, created_at FROM submissions`
	var args []any
	if form != "" {
		query += ` WHERE form = $1`
		args = append(args, form)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore ListSubmissions query failed", "error", err)
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
	slog.Debug("PostgresStore ListSubmissions succeeded", "form", form, "count", len(subs))
	return subs, nil
}

func (s *PostgresStore) SaveTemplate(t models.Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO templates (id, scope, name, body, author_id, drafted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (scope, name) DO UPDATE SET
			body = EXCLUDED.body,
			author_id = EXCLUDED.author_id,
			drafted = EXCLUDED.drafted,
			updated_at = EXCLUDED.updated_at`,
		t.ID, t.Scope, t.Name, t.Body, t.AuthorID, t.Drafted, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveTemplate failed", "error", err, "name", t.Name)
		return fmt.Errorf("failed to save template %q: %w", t.Name, err)
	}
	slog.Debug("PostgresStore SaveTemplate succeeded", "scope", t.Scope, "name", t.Name)
	return nil
}

func (s *PostgresStore) GetTemplate(scope, name string) (*models.Template, error) {
	row := s.db.QueryRow(`SELECT id, scope, name, body, author_id, drafted, created_at, updated_at
		FROM templates WHERE scope = $1 AND name = $2`, scope, name)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore GetTemplate not found", "scope", scope, "name", name)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetTemplate failed", "error", err, "name", name)
		return nil, fmt.Errorf("failed to get template %q: %w", name, err)
	}
	return &t, nil
}

func (s *PostgresStore) ListTemplates(scope string) ([]models.Template, error) {
	rows, err := s.db.Query(`SELECT id, scope, name, body, author_id, drafted, created_at, updated_at
		FROM templates WHERE scope = $1 ORDER BY name`, scope)
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

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
