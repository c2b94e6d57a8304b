package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nerdycraft/NerpyBot-sub000/internal/conversation"
	"github.com/nerdycraft/NerpyBot-sub000/internal/messaging"
	"github.com/nerdycraft/NerpyBot-sub000/internal/models"
	"github.com/nerdycraft/NerpyBot-sub000/internal/store"
	"github.com/nerdycraft/NerpyBot-sub000/internal/testutil"
	"github.com/nerdycraft/NerpyBot-sub000/internal/twiliowhatsapp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type askState struct{ name string }

func (st askState) String() string { return st.name }

func (st askState) Enter(ctx context.Context, s *conversation.Session) error {
	return s.PromptText(ctx, "question "+st.name, askState{name: st.name + "+"}, nil)
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *conversation.Directory, *store.InMemoryStore) {
	t.Helper()
	dir := conversation.NewDirectory()
	t.Cleanup(dir.Close)
	st := store.NewInMemoryStore()
	testutil.SeedTestData(t, st)
	opts = append([]Option{WithDefaultScope("default")}, opts...)
	return NewServer(dir, st, opts...), dir, st
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthHandler(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/healthz", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "healthz")
	resp := testutil.AssertJSONResponse(t, rr, "healthy")
	if resp["dialogs"] != float64(0) {
		t.Errorf("dialogs = %v, want 0", resp["dialogs"])
	}

	rr = serve(s, testutil.CreateHTTPRequest(t, http.MethodPost, "/healthz", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "healthz POST")
	if rr.Header().Get("Allow") != http.MethodGet {
		t.Errorf("Allow = %q", rr.Header().Get("Allow"))
	}
}

func TestDialogsHandler(t *testing.T) {
	s, dir, _ := newTestServer(t)
	r := testutil.NewRenderer()
	ctx := context.Background()

	if err := dir.Start(ctx, conversation.NewSession(r, "1001", "guild-1", askState{name: "first"})); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := dir.Start(ctx, conversation.NewSession(r, "1002", "", askState{name: "old"})); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := dir.Start(ctx, conversation.NewSession(r, "1002", "", askState{name: "new"})); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rr := serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/dialogs", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "dialogs")

	var resp struct {
		Status string       `json:"status"`
		Result []DialogInfo `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	if len(resp.Result) != 2 {
		t.Fatalf("got %d dialogs, want 2: %+v", len(resp.Result), resp.Result)
	}

	first := resp.Result[0]
	if first.User != "1001" || first.State != "first" || first.Mode != conversation.ModeText.String() || first.Scope != "guild-1" || !first.Active {
		t.Errorf("dialog of 1001 = %+v", first)
	}
	if first.LastActivity.IsZero() || time.Since(first.LastActivity) > time.Minute {
		t.Errorf("last activity = %v", first.LastActivity)
	}

	second := resp.Result[1]
	if second.User != "1002" || second.State != "interruption.ask" || second.Interrupted != "old" {
		t.Errorf("dialog of 1002 = %+v", second)
	}
	if second.Mode != conversation.ModeReaction.String() {
		t.Errorf("broker mode = %q", second.Mode)
	}
}

func TestSubmissionsHandler(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/submissions?form=signup", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "submissions")
	var resp struct {
		Result []models.Submission `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	if len(resp.Result) != 2 || resp.Result[0].ID != "s3" || resp.Result[1].ID != "s1" {
		t.Errorf("signup submissions = %+v", resp.Result)
	}

	rr = serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/submissions", nil))
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	if len(resp.Result) != 3 {
		t.Errorf("got %d submissions, want 3", len(resp.Result))
	}

	rr = serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/submissions?form=none", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "submissions none")
	result := testutil.AssertJSONResponse(t, rr, "ok")["result"]
	if list, ok := result.([]interface{}); !ok || len(list) != 0 {
		t.Errorf("empty result = %#v, want []", result)
	}
}

func TestTemplatesHandler(t *testing.T) {
	s, _, _ := newTestServer(t)
	var resp struct {
		Result []models.Template `json:"result"`
	}

	rr := serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/templates", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "templates")
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	if len(resp.Result) != 1 || resp.Result[0].Name != "welcome" {
		t.Errorf("default scope templates = %+v", resp.Result)
	}

	rr = serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/templates?scope=guild-1", nil))
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	if len(resp.Result) != 1 || resp.Result[0].Name != "rules" {
		t.Errorf("guild-1 templates = %+v", resp.Result)
	}
}

func TestRecordsNotConfigured(t *testing.T) {
	dir := conversation.NewDirectory()
	defer dir.Close()
	s := NewServer(dir, nil)
	for _, path := range []string{"/submissions", "/templates"} {
		rr := serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, path, nil))
		testutil.AssertHTTPStatus(t, http.StatusNotImplemented, rr.Code, path)
		testutil.AssertJSONResponse(t, rr, "error")
	}
	rr := serve(s, testutil.CreateFormRequest(t, "/twilio/webhook", map[string]string{"From": "x"}))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "webhook without transport")
}

type fakeValidator struct {
	valid bool
	got   map[string]string
	url   string
}

func (v *fakeValidator) ValidateSignature(url string, params map[string]string, signature string) bool {
	v.got = params
	v.url = url
	return v.valid && signature != ""
}

func TestTwilioWebhook(t *testing.T) {
	svc := messaging.NewTwilioService(twiliowhatsapp.NewMockClient())
	defer svc.Stop()
	s, _, _ := newTestServer(t, WithTwilioWebhook(svc.TwilioWebhookHandler, nil, ""))

	form := map[string]string{"From": "whatsapp:+4915100000001", "Body": "!help", "MessageSid": "SM1"}
	rr := serve(s, testutil.CreateFormRequest(t, "/twilio/webhook", form))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "webhook")

	select {
	case ev := <-svc.Events():
		if ev.Kind != models.EventText || ev.From != "4915100000001" || ev.Body != "!help" || ev.MessageID != "SM1" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event emitted")
	}

	rr = serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/twilio/webhook", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "webhook GET")

	rr = serve(s, testutil.CreateFormRequest(t, "/twilio/webhook", map[string]string{"From": "whatsapp:+4915100000001"}))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "webhook without body")
}

func TestTwilioWebhookSignature(t *testing.T) {
	svc := messaging.NewTwilioService(twiliowhatsapp.NewMockClient())
	defer svc.Stop()
	v := &fakeValidator{}
	s, _, _ := newTestServer(t, WithTwilioWebhook(svc.TwilioWebhookHandler, v, "https://bot.example.org/twilio/webhook"))

	form := map[string]string{"From": "whatsapp:+4915100000002", "Body": "hi", "MessageSid": "SM2"}
	rr := serve(s, testutil.CreateFormRequest(t, "/twilio/webhook", form))
	testutil.AssertHTTPStatus(t, http.StatusForbidden, rr.Code, "webhook with bad signature")
	if v.url != "https://bot.example.org/twilio/webhook" || v.got["Body"] != "hi" {
		t.Errorf("validator saw url=%q params=%v", v.url, v.got)
	}

	v.valid = true
	req := testutil.CreateFormRequest(t, "/twilio/webhook", form)
	req.Header.Set("X-Twilio-Signature", "sig")
	rr = serve(s, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "webhook with valid signature")

	select {
	case ev := <-svc.Events():
		if ev.MessageID != "SM2" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event emitted")
	}
}

func TestListenAndServeStopsWithContext(t *testing.T) {
	s, _, _ := newTestServer(t, WithAddr("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ListenAndServe returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after cancel")
	}
}

func TestWriteJSONResponseFallback(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, map[string]interface{}{"bad": make(chan int)})
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "unencodable response")
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || resp.Status != "error" {
		t.Errorf("fallback body = %s", rr.Body.String())
	}
}
