// Package testutil provides common test helpers for NerpyBot tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerdycraft/NerpyBot-sub000/internal/conversation"
	"github.com/nerdycraft/NerpyBot-sub000/internal/models"
	"github.com/nerdycraft/NerpyBot-sub000/internal/store"
)

// Message is one message delivered through a Renderer.
type Message struct {
	ID      string
	To      string
	Body    string
	Options []string
}

// Renderer records prompts and plain messages. It implements
// conversation.Renderer and the SendMessage method of the messaging services.
type Renderer struct {
	mu   sync.Mutex
	seq  int
	sent []Message
}

// NewRenderer creates an empty Renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Deliver records content and returns a fresh message ID.
func (r *Renderer) Deliver(ctx context.Context, to conversation.UserID, content string) (string, error) {
	return r.SendMessage(ctx, string(to), content)
}

// SendMessage records body and returns a fresh message ID.
func (r *Renderer) SendMessage(ctx context.Context, to string, body string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	id := fmt.Sprintf("T%04d", r.seq)
	r.sent = append(r.sent, Message{ID: id, To: to, Body: body})
	return id, nil
}

// AttachOption records symbol on messageID.
func (r *Renderer) AttachOption(ctx context.Context, to conversation.UserID, messageID, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.sent {
		if r.sent[i].ID == messageID {
			r.sent[i].Options = append(r.sent[i].Options, symbol)
			return nil
		}
	}
	return fmt.Errorf("unknown message %s", messageID)
}

// Sent returns every message sent to to.
func (r *Renderer) Sent(to string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.sent {
		if m.To == to {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the latest message sent to to.
func (r *Renderer) Last(to string) Message {
	sent := r.Sent(to)
	if len(sent) == 0 {
		return Message{}
	}
	return sent[len(sent)-1]
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, target, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// CreateFormRequest creates a form-encoded POST request.
func CreateFormRequest(t *testing.T, target string, form map[string]string) *http.Request {
	t.Helper()
	values := url.Values{}
	for k, v := range form {
		values.Set(k, v)
	}
	req, err := http.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// SeedTestData adds sample submissions and templates to the store.
func SeedTestData(t *testing.T, st store.Store) {
	t.Helper()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	submissions := []models.Submission{
		{ID: "s1", Form: "signup", UserID: "4915100000001", Answers: []models.Answer{{Key: "name", Value: "Ada"}}, CreatedAt: base},
		{ID: "s2", Form: "feedback", UserID: "4915100000002", Answers: []models.Answer{{Key: "comment", Value: "More raids"}}, CreatedAt: base.Add(time.Hour)},
		{ID: "s3", Form: "signup", UserID: "4915100000003", Answers: []models.Answer{{Key: "name", Value: "Grace"}}, CreatedAt: base.Add(2 * time.Hour)},
	}
	for _, sub := range submissions {
		if err := st.AddSubmission(sub); err != nil {
			t.Fatalf("failed to add test submission: %v", err)
		}
	}

	templates := []models.Template{
		{ID: "t1", Scope: "default", Name: "welcome", Body: "Welcome aboard!", AuthorID: "4915100000001", CreatedAt: base, UpdatedAt: base},
		{ID: "t2", Scope: "guild-1", Name: "rules", Body: "Be nice.", AuthorID: "4915100000002", CreatedAt: base, UpdatedAt: base},
	}
	for _, tmpl := range templates {
		if err := st.SaveTemplate(tmpl); err != nil {
			t.Fatalf("failed to add test template: %v", err)
		}
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
