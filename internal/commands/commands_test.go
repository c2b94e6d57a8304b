package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/nerdycraft/NerpyBot-sub000/internal/conversation"
	"github.com/nerdycraft/NerpyBot-sub000/internal/models"
	"github.com/nerdycraft/NerpyBot-sub000/internal/store"
	"github.com/nerdycraft/NerpyBot-sub000/internal/wizard"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testForms = `
forms:
  - name: feedback
    title: Feedback
    questions:
      - key: comment
        prompt: What should we improve?
`

type fakeMessenger struct {
	mu      sync.Mutex
	seq     int
	bodies  []string
	sendErr error
}

func (m *fakeMessenger) SendMessage(ctx context.Context, to string, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.seq++
	m.bodies = append(m.bodies, body)
	return fmt.Sprintf("m%d", m.seq), nil
}

func (m *fakeMessenger) Deliver(ctx context.Context, to conversation.UserID, content string) (string, error) {
	return m.SendMessage(ctx, string(to), content)
}

func (m *fakeMessenger) AttachOption(ctx context.Context, to conversation.UserID, messageID, symbol string) error {
	return nil
}

func (m *fakeMessenger) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.bodies) == 0 {
		return ""
	}
	return m.bodies[len(m.bodies)-1]
}

type fixture struct {
	dir *conversation.Directory
	msg *fakeMessenger
	st  *store.InMemoryStore
	h   *Handler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	catalog, err := wizard.ParseCatalog([]byte(testForms))
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	f := &fixture{
		dir: conversation.NewDirectory(),
		msg: &fakeMessenger{},
		st:  store.NewInMemoryStore(),
	}
	t.Cleanup(f.dir.Close)
	opts = append([]Option{WithCatalog(catalog), WithScope("guild-1")}, opts...)
	f.h = NewHandler(f.dir, f.msg, f.st, f.st, opts...)
	return f
}

func (f *fixture) run(t *testing.T, text string) bool {
	t.Helper()
	handled, err := f.h.Handle(context.Background(), "4915100000001", text)
	if err != nil {
		t.Fatalf("Handle(%q): %v", text, err)
	}
	return handled
}

func TestHandleIgnoresPlainText(t *testing.T) {
	f := newFixture(t)
	if f.run(t, "hello there") {
		t.Error("plain text reported as handled")
	}
	if f.msg.last() != "" {
		t.Errorf("plain text produced reply %q", f.msg.last())
	}
}

func TestHelpAndUnknown(t *testing.T) {
	f := newFixture(t)
	if !f.run(t, "!help") {
		t.Fatal("!help not handled")
	}
	for _, want := range []string{"!apply <form>", "!template <name>", "!cancel"} {
		if !strings.Contains(f.msg.last(), want) {
			t.Errorf("help text lacks %q", want)
		}
	}

	if !f.run(t, "!dance") {
		t.Fatal("unknown command not handled")
	}
	if !strings.Contains(f.msg.last(), "Unknown command") {
		t.Errorf("reply = %q", f.msg.last())
	}
}

func TestCustomPrefix(t *testing.T) {
	f := newFixture(t, WithPrefix("/"))
	if f.run(t, "!help") {
		t.Error("old prefix still handled")
	}
	if !f.run(t, "/HELP") {
		t.Fatal("/HELP not handled")
	}
	if !strings.Contains(f.msg.last(), "/forms") {
		t.Errorf("help uses wrong prefix: %q", f.msg.last())
	}
}

func TestFormsAndApply(t *testing.T) {
	f := newFixture(t)
	f.run(t, "!forms")
	if !strings.Contains(f.msg.last(), "feedback - Feedback") {
		t.Errorf("forms reply = %q", f.msg.last())
	}

	f.run(t, "!apply")
	if !strings.HasPrefix(f.msg.last(), "Usage") {
		t.Errorf("apply without form reply = %q", f.msg.last())
	}
	f.run(t, "!apply survey")
	if !strings.Contains(f.msg.last(), "no form called") {
		t.Errorf("apply unknown reply = %q", f.msg.last())
	}

	f.run(t, "!apply Feedback")
	if !strings.Contains(f.msg.last(), "What should we improve?") {
		t.Fatalf("apply did not start the form, last = %q", f.msg.last())
	}
	d := f.dir.Lookup("4915100000001")
	if d == nil || !d.Active() {
		t.Fatal("no active dialog after !apply")
	}
	if s, ok := d.(*conversation.Session); !ok || s.Scope() != "guild-1" {
		t.Errorf("dialog = %#v", d)
	}
}

func TestApplyWithoutCatalog(t *testing.T) {
	st := store.NewInMemoryStore()
	dir := conversation.NewDirectory()
	defer dir.Close()
	msg := &fakeMessenger{}
	h := NewHandler(dir, msg, st, st)
	if _, err := h.Handle(context.Background(), "1", "!apply feedback"); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if msg.last() != "No forms are configured." {
		t.Errorf("reply = %q", msg.last())
	}
}

func TestTemplateCommands(t *testing.T) {
	f := newFixture(t)
	f.run(t, "!templates")
	if !strings.HasPrefix(f.msg.last(), "No templates yet") {
		t.Errorf("empty list reply = %q", f.msg.last())
	}

	f.run(t, "!template")
	if !strings.HasPrefix(f.msg.last(), "Usage") {
		t.Errorf("template without name reply = %q", f.msg.last())
	}

	f.run(t, "!template Welcome")
	if !strings.Contains(f.msg.last(), `"welcome"`) {
		t.Fatalf("template wizard not started, last = %q", f.msg.last())
	}

	for _, name := range []string{"rules", "faq"} {
		if err := f.st.SaveTemplate(models.Template{ID: name, Scope: "guild-1", Name: name, Body: "x", AuthorID: "1"}); err != nil {
			t.Fatalf("SaveTemplate: %v", err)
		}
	}
	if err := f.st.SaveTemplate(models.Template{ID: "o", Scope: "other", Name: "other", Body: "x", AuthorID: "1"}); err != nil {
		t.Fatalf("SaveTemplate: %v", err)
	}
	f.run(t, "!templates")
	if f.msg.last() != "📝 Templates: faq, rules" {
		t.Errorf("list reply = %q", f.msg.last())
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	f.run(t, "!cancel")
	if f.msg.last() != "You have no open dialog." {
		t.Errorf("cancel without dialog reply = %q", f.msg.last())
	}

	f.run(t, "!apply feedback")
	d := f.dir.Lookup("4915100000001")
	f.run(t, "!cancel")
	if f.msg.last() != "🛑 Dialog cancelled." {
		t.Errorf("cancel reply = %q", f.msg.last())
	}
	if d.Active() {
		t.Error("dialog still active after !cancel")
	}

	f.run(t, "!cancel")
	if f.msg.last() != "You have no open dialog." {
		t.Errorf("second cancel reply = %q", f.msg.last())
	}
}

func TestReplyFailureIsDeliveryError(t *testing.T) {
	f := newFixture(t)
	f.msg.sendErr = errors.New("offline")
	_, err := f.h.Handle(context.Background(), "4915100000001", "!help")
	if !errors.Is(err, conversation.ErrDelivery) {
		t.Errorf("error = %v, want ErrDelivery", err)
	}
}
