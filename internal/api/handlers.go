package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/nerdycraft/NerpyBot-sub000/internal/conversation"
	"github.com/nerdycraft/NerpyBot-sub000/internal/models"
)

// DialogInfo describes the dialog a user is in.
type DialogInfo struct {
	User         string    `json:"user"`
	State        string    `json:"state"`
	Mode         string    `json:"mode"`
	Scope        string    `json:"scope,omitempty"`
	Active       bool      `json:"active"`
	Interrupted  string    `json:"interrupted,omitempty"` // state of the paused dialog while the user is asked to resume
	LastActivity time.Time `json:"last_activity"`
}

func allowOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	slog.Warn("Server method not allowed", "method", r.Method, "path", r.URL.Path)
	w.WriteHeader(http.StatusMethodNotAllowed)
	return false
}

// healthHandler reports liveness and the number of users with a dialog.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodGet) {
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"dialogs":   len(s.dir.Users()),
	})
}

// dialogsHandler lists the dialog of every user (GET /dialogs). Each dialog is
// read on its owner's lane.
func (s *Server) dialogsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodGet) {
		return
	}
	users := s.dir.Users()
	infos := make([]DialogInfo, 0, len(users))
	for _, user := range users {
		var info DialogInfo
		var found bool
		err := s.dir.Exec(r.Context(), user, func(ctx context.Context, d conversation.Dialog) error {
			info, found = describe(user, d)
			return nil
		})
		if errors.Is(err, conversation.ErrNoDialog) {
			continue
		}
		if err != nil {
			slog.Error("Server.dialogsHandler: failed to read dialog", "error", err, "user", user)
			writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Failed to read dialogs"))
			return
		}
		if found {
			infos = append(infos, info)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].User < infos[j].User })
	slog.Debug("Server.dialogsHandler: dialogs listed", "count", len(infos))
	writeJSONResponse(w, http.StatusOK, models.Success(infos))
}

func describe(user conversation.UserID, d conversation.Dialog) (DialogInfo, bool) {
	info := DialogInfo{User: string(user)}
	switch v := d.(type) {
	case *conversation.Broker:
		info.State = conversation.StateName(v.Current())
		info.Mode = v.Mode().String()
		info.Scope = v.Scope()
		info.Interrupted = conversation.StateName(v.Interrupted().Current())
	case *conversation.Session:
		info.State = conversation.StateName(v.Current())
		info.Mode = v.Mode().String()
		info.Scope = v.Scope()
	default:
		return info, false
	}
	info.Active = d.Active()
	info.LastActivity = d.LastActivity().UTC()
	return info, true
}

// submissionsHandler returns stored form submissions, newest first
// (GET /submissions?form=).
func (s *Server) submissionsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodGet) {
		return
	}
	if s.records == nil {
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("No store configured"))
		return
	}
	form := r.URL.Query().Get("form")
	subs, err := s.records.ListSubmissions(form)
	if err != nil {
		slog.Error("Server.submissionsHandler: failed to list submissions", "error", err, "form", form)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch submissions"))
		return
	}
	if subs == nil {
		subs = []models.Submission{}
	}
	slog.Debug("Server.submissionsHandler: submissions fetched", "count", len(subs), "form", form)
	writeJSONResponse(w, http.StatusOK, models.Success(subs))
}

// templatesHandler returns the templates of a scope (GET /templates?scope=).
func (s *Server) templatesHandler(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodGet) {
		return
	}
	if s.records == nil {
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("No store configured"))
		return
	}
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = s.opts.DefaultScope
	}
	list, err := s.records.ListTemplates(scope)
	if err != nil {
		slog.Error("Server.templatesHandler: failed to list templates", "error", err, "scope", scope)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch templates"))
		return
	}
	if list == nil {
		list = []models.Template{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(list))
}

// twilioWebhookHandler checks the request signature, if configured, and hands
// the inbound message to the Twilio transport.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if !allowOnly(w, r, http.MethodPost) {
		return
	}
	if s.opts.Validator != nil {
		if err := r.ParseForm(); err != nil {
			slog.Warn("Server.twilioWebhookHandler: failed to parse form", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form body"))
			return
		}
		params := make(map[string]string, len(r.PostForm))
		for key := range r.PostForm {
			params[key] = r.PostForm.Get(key)
		}
		if !s.opts.Validator.ValidateSignature(s.opts.PublicURL, params, r.Header.Get("X-Twilio-Signature")) {
			slog.Warn("Server.twilioWebhookHandler: invalid signature", "remote", r.RemoteAddr)
			writeJSONResponse(w, http.StatusForbidden, models.Error("Invalid signature"))
			return
		}
	}
	s.opts.TwilioWebhook(w, r)
}
