// Package api provides the admin HTTP server for NerpyBot.
//
// It exposes read-only endpoints for the running dialogs, stored form
// submissions and templates, plus the inbound webhook for the Twilio transport.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nerdycraft/NerpyBot-sub000/internal/conversation"
	"github.com/nerdycraft/NerpyBot-sub000/internal/models"
)

// Server timeouts.
const (
	DefaultAddr       = ":8080"
	ReadHeaderTimeout = 5 * time.Second
	ShutdownTimeout   = 10 * time.Second
)

// Records is the read side of the store used by the API.
type Records interface {
	ListSubmissions(form string) ([]models.Submission, error)
	ListTemplates(scope string) ([]models.Template, error)
}

// SignatureValidator checks the X-Twilio-Signature header of a webhook call.
type SignatureValidator interface {
	ValidateSignature(url string, params map[string]string, signature string) bool
}

// Opts holds API server configuration.
type Opts struct {
	Addr          string
	TwilioWebhook http.HandlerFunc
	Validator     SignatureValidator
	PublicURL     string
	DefaultScope  string
}

// Option modifies Opts.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTwilioWebhook mounts handler at POST /twilio/webhook. When validator is
// set, requests must carry a valid signature for publicURL.
func WithTwilioWebhook(handler http.HandlerFunc, validator SignatureValidator, publicURL string) Option {
	return func(o *Opts) {
		o.TwilioWebhook = handler
		o.Validator = validator
		o.PublicURL = publicURL
	}
}

// WithDefaultScope sets the scope GET /templates lists without ?scope=.
func WithDefaultScope(scope string) Option {
	return func(o *Opts) { o.DefaultScope = scope }
}

// Server is the admin HTTP server.
type Server struct {
	dir        *conversation.Directory
	records    Records
	opts       Opts
	started    time.Time
	httpServer *http.Server
}

// NewServer creates a Server. records may be nil, which disables the
// submission and template endpoints.
func NewServer(dir *conversation.Directory, records Records, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{dir: dir, records: records, opts: o, started: time.Now()}
	s.httpServer = &http.Server{
		Addr:              o.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.HandleFunc("/dialogs", s.dialogsHandler)
	mux.HandleFunc("/submissions", s.submissionsHandler)
	mux.HandleFunc("/templates", s.templatesHandler)
	if s.opts.TwilioWebhook != nil {
		mux.HandleFunc("/twilio/webhook", s.twilioWebhookHandler)
	}
	return mux
}

// ListenAndServe runs the server until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", s.opts.Addr)
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		<-serveErr
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		slog.Info("Server stopped")
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
