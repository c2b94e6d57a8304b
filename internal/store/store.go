// Package store provides storage backends for NerpyBot.
//
// It persists completed dialog results (form submissions and message
// templates) and the inbound deduplication log. An in-memory store is used
// when no database DSN is configured; SQLite and PostgreSQL are selected by
// the shape of the DSN.
package store

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerdycraft/NerpyBot-sub000/internal/models"
)

// Store is the persistence surface used by the dialogs and the API.
type Store interface {
	DedupRepo

	// AddSubmission stores a completed form dialog.
	AddSubmission(sub models.Submission) error
	// ListSubmissions returns submissions, newest first. An empty form returns all forms.
	ListSubmissions(form string) ([]models.Submission, error)

	// SaveTemplate creates or replaces the template (scope, name).
	SaveTemplate(t models.Template) error
	// GetTemplate returns the template (scope, name), or nil if it does not exist.
	GetTemplate(scope, name string) (*models.Template, error)
	// ListTemplates returns every template of a scope ordered by name.
	ListTemplates(scope string) ([]models.Template, error)

	Close() error
}

// Opts holds configuration for the database stores.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports "postgres" for PostgreSQL URLs and key/value
// connection strings and "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// New opens the store selected by the DSN in opts. Without a DSN it returns an
// in-memory store.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Info("Store using in-memory backend")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		slog.Info("Store using PostgreSQL backend")
		return NewPostgresStore(opts...)
	}
	slog.Info("Store using SQLite backend", "path", cfg.DSN)
	return NewSQLiteStore(opts...)
}

// InMemoryStore is a simple in-memory store, safe for concurrent use.
type InMemoryStore struct {
	mu          sync.RWMutex
	submissions []models.Submission
	templates   map[string]models.Template
	inbound     map[string]DedupRecord
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		templates: make(map[string]models.Template),
		inbound:   make(map[string]DedupRecord),
	}
}

func templateKey(scope, name string) string {
	return scope + "\x00" + name
}

func (s *InMemoryStore) AddSubmission(sub models.Submission) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions = append(s.submissions, sub)
	return nil
}

func (s *InMemoryStore) ListSubmissions(form string) ([]models.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Submission, 0, len(s.submissions))
	for i := len(s.submissions) - 1; i >= 0; i-- {
		if form == "" || s.submissions[i].Form == form {
			out = append(out, s.submissions[i])
		}
	}
	return out, nil
}

func (s *InMemoryStore) SaveTemplate(t models.Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := templateKey(t.Scope, t.Name)
	if old, ok := s.templates[key]; ok {
		t.ID = old.ID
		t.CreatedAt = old.CreatedAt
	}
	s.templates[key] = t
	return nil
}

func (s *InMemoryStore) GetTemplate(scope, name string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[templateKey(scope, name)]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *InMemoryStore) ListTemplates(scope string) ([]models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Template
	for _, t := range s.templates {
		if t.Scope == scope {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inbound[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[messageID]; ok {
		return false, nil
	}
	s.inbound[messageID] = DedupRecord{MessageID: messageID, UserID: userID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inbound[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.inbound[messageID] = rec
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
